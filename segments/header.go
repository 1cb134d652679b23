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

package segments

// Header describes the slice of chain history a single jar holds. It is
// persisted inside the jar's configuration file and is the source of truth
// the in-memory provider index is rebuilt from.
//
// ExpectedBlockStart is the first block of the jar's fixed range and is set
// at creation; BlockRange and TxRange start out nil and track the data
// actually appended. A nil range means the jar holds no rows of that kind:
// a fresh jar has both unset, and a transactions jar spanning only empty
// blocks has a BlockRange but no TxRange.
type Header struct {
	Seg                Segment
	ExpectedBlockStart uint64
	BlockRange         *Range `rlp:"nil"`
	TxRange            *Range `rlp:"nil"`
}

// NewHeader returns the user header for a fresh jar covering the fixed range
// starting at expectedBlockStart.
func NewHeader(seg Segment, expectedBlockStart uint64) *Header {
	return &Header{Seg: seg, ExpectedBlockStart: expectedBlockStart}
}

// BlockEnd returns the highest block the jar holds data for.
func (h *Header) BlockEnd() (uint64, bool) {
	if h.BlockRange == nil {
		return 0, false
	}
	return h.BlockRange.End, true
}

// TxEnd returns the highest transaction number the jar holds.
func (h *Header) TxEnd() (uint64, bool) {
	if h.TxRange == nil {
		return 0, false
	}
	return h.TxRange.End, true
}

// BlockLen returns the number of blocks tracked by the jar.
func (h *Header) BlockLen() uint64 {
	if h.BlockRange == nil {
		return 0
	}
	return h.BlockRange.Len()
}

// TxLen returns the number of transactions tracked by the jar.
func (h *Header) TxLen() uint64 {
	if h.TxRange == nil {
		return 0
	}
	return h.TxRange.Len()
}

// Rows returns the number of data rows the header accounts for: blocks for
// block-based segments, transactions otherwise.
func (h *Header) Rows() uint64 {
	if h.Seg.IsBlockBased() {
		return h.BlockLen()
	}
	return h.TxLen()
}

// RowOf translates a block or transaction number to the jar-local row index,
// returning false when the number is outside the held range.
func (h *Header) RowOf(number uint64) (uint64, bool) {
	r := h.TxRange
	if h.Seg.IsBlockBased() {
		r = h.BlockRange
	}
	if r == nil || !r.Contains(number) {
		return 0, false
	}
	return number - r.Start, true
}

// IncrementBlock extends the tracked block range by one and returns the new
// highest block number.
func (h *Header) IncrementBlock() uint64 {
	if h.BlockRange == nil {
		h.BlockRange = &Range{Start: h.ExpectedBlockStart, End: h.ExpectedBlockStart}
	} else {
		h.BlockRange.End++
	}
	return h.BlockRange.End
}

// IncrementTx extends the tracked transaction range to include txNum. The
// first transaction appended to a jar seeds the range start.
func (h *Header) IncrementTx(txNum uint64) {
	if h.TxRange == nil {
		h.TxRange = &Range{Start: txNum, End: txNum}
	} else {
		h.TxRange.End++
	}
}

// PruneBlocks removes the last n blocks from the tracked range.
func (h *Header) PruneBlocks(n uint64) {
	if h.BlockRange == nil {
		return
	}
	if n >= h.BlockRange.Len() {
		h.BlockRange = nil
		return
	}
	h.BlockRange.End -= n
}

// PruneTxs removes the last n transactions from the tracked range.
func (h *Header) PruneTxs(n uint64) {
	if h.TxRange == nil {
		return
	}
	if n >= h.TxRange.Len() {
		h.TxRange = nil
		return
	}
	h.TxRange.End -= n
}

// SetBlockEnd pins the highest tracked block, used after pruning
// transaction-keyed segments where the block range cannot be derived from
// the remaining row count.
func (h *Header) SetBlockEnd(block uint64) {
	if h.BlockRange == nil {
		h.BlockRange = &Range{Start: h.ExpectedBlockStart, End: block}
		return
	}
	h.BlockRange.End = block
}

// Copy returns a deep copy of the header.
func (h *Header) Copy() *Header {
	cpy := &Header{Seg: h.Seg, ExpectedBlockStart: h.ExpectedBlockStart}
	if h.BlockRange != nil {
		r := *h.BlockRange
		cpy.BlockRange = &r
	}
	if h.TxRange != nil {
		r := *h.TxRange
		cpy.TxRange = &r
	}
	return cpy
}
