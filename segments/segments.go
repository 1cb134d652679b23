// Copyright 2025 The staticfile Authors
// This file is part of the staticfile library.
//
// The staticfile library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// The staticfile library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the staticfile library. If not, see <http://www.gnu.org/licenses/>.

// Package segments defines the data segments held in static files and the
// fixed block ranges the files are partitioned by.
package segments

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultBlocksPerFile is the number of blocks covered by a single static
// file unless the provider is configured otherwise.
const DefaultBlocksPerFile uint64 = 500_000

// Segment is a kind of immutable chain history stored in static files.
type Segment uint8

const (
	// Headers holds block headers and their hashes, one row per block.
	Headers Segment = iota
	// Transactions holds signed transactions, one row per transaction.
	Transactions
	// Receipts holds transaction receipts, one row per transaction.
	Receipts
	// BlockMeta holds block body indices, one row per block.
	BlockMeta
)

// All returns every segment kind in ascending order.
func All() []Segment {
	return []Segment{Headers, Transactions, Receipts, BlockMeta}
}

func (s Segment) String() string {
	switch s {
	case Headers:
		return "headers"
	case Transactions:
		return "transactions"
	case Receipts:
		return "receipts"
	case BlockMeta:
		return "blockmeta"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseSegment resolves a segment from its string form.
func ParseSegment(s string) (Segment, bool) {
	switch s {
	case "headers":
		return Headers, true
	case "transactions":
		return Transactions, true
	case "receipts":
		return Receipts, true
	case "blockmeta":
		return BlockMeta, true
	}
	return 0, false
}

// IsBlockBased reports whether rows of the segment are keyed by block number.
func (s Segment) IsBlockBased() bool {
	return s == Headers || s == BlockMeta
}

// IsTxBased reports whether rows of the segment are keyed by transaction
// number.
func (s Segment) IsTxBased() bool {
	return s == Transactions || s == Receipts
}

// Columns returns the number of columns a row of the segment carries.
func (s Segment) Columns() int {
	if s == Headers {
		return 2 // header, hash
	}
	return 1
}

// Stage identifies a sync pipeline stage whose checkpoint covers a segment.
type Stage uint8

const (
	StageHeaders Stage = iota
	StageBodies
	StageExecution
)

func (st Stage) String() string {
	switch st {
	case StageHeaders:
		return "Headers"
	case StageBodies:
		return "Bodies"
	case StageExecution:
		return "Execution"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(st))
	}
}

// Stage returns the pipeline stage whose checkpoint gates writes to the
// segment.
func (s Segment) Stage() Stage {
	switch s {
	case Headers:
		return StageHeaders
	case Transactions, BlockMeta:
		return StageBodies
	default:
		return StageExecution
	}
}

// Range is a closed interval of block or transaction numbers.
type Range struct {
	Start uint64
	End   uint64
}

// NewRange returns the closed interval [start, end].
func NewRange(start, end uint64) Range {
	return Range{Start: start, End: end}
}

// Len returns the number of entries covered by the range.
func (r Range) Len() uint64 {
	return r.End - r.Start + 1
}

// Contains reports whether n falls inside the range.
func (r Range) Contains(n uint64) bool {
	return n >= r.Start && n <= r.End
}

func (r Range) String() string {
	return fmt.Sprintf("%d..=%d", r.Start, r.End)
}

// FindFixedRange returns the fixed, blocksPerFile-aligned block range that
// covers the given block. Ranges tile the number line with no gaps or
// overlaps, so no disk access is ever needed to resolve one.
func FindFixedRange(block, blocksPerFile uint64) Range {
	start := (block / blocksPerFile) * blocksPerFile
	return NewRange(start, start+blocksPerFile-1)
}

// Static file name layout: static_file_<segment>_<start>_<end>, with the
// auxiliary files distinguished purely by extension.
const (
	filenamePrefix = "static_file"

	// ExtOffsets is the extension of the value offsets table file.
	ExtOffsets = "off"
	// ExtIndex is the extension of the per-row checksum index file.
	ExtIndex = "idx"
	// ExtConfig is the extension of the configuration file whose durable
	// presence marks a committed jar.
	ExtConfig = "conf"
)

// Filename returns the data file name for the segment over the given fixed
// block range.
func (s Segment) Filename(r Range) string {
	return fmt.Sprintf("%s_%s_%d_%d", filenamePrefix, s, r.Start, r.End)
}

// ParseFilename parses a static file data name (without extension) back into
// its segment and block range. It returns false for anything that is not a
// well formed static file name.
func ParseFilename(name string) (Segment, Range, bool) {
	parts := strings.Split(name, "_")
	if len(parts) != 5 || parts[0]+"_"+parts[1] != filenamePrefix {
		return 0, Range{}, false
	}
	segment, ok := ParseSegment(parts[2])
	if !ok {
		return 0, Range{}, false
	}
	start, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return 0, Range{}, false
	}
	end, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil || end < start {
		return 0, Range{}, false
	}
	return segment, NewRange(start, end), true
}

// BodyIndices locates a block's transactions inside the transaction-number
// keyed segments.
type BodyIndices struct {
	FirstTxNum uint64
	TxCount    uint64
}

// LastTxNum returns the number of the block's last transaction. Only
// meaningful when TxCount > 0.
func (b BodyIndices) LastTxNum() uint64 {
	if b.TxCount == 0 {
		return b.FirstTxNum
	}
	return b.FirstTxNum + b.TxCount - 1
}

// NextTxNum returns the first transaction number of the next block.
func (b BodyIndices) NextTxNum() uint64 {
	return b.FirstTxNum + b.TxCount
}
