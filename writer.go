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

package staticfile

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/ethfile/staticfile/jar"
	"github.com/ethfile/staticfile/segments"
)

// Writer appends to and prunes from the tail of one segment. There is at
// most one per segment per provider; GetWriter always hands back the same
// instance. Appends become visible to readers only on Commit.
type Writer struct {
	p       *StaticFileProvider
	segment segments.Segment
	log     log.Logger

	mu  sync.Mutex
	jar *jar.Jar
	w   *jar.Writer
}

// GetWriter returns the segment's writer, opening the jar containing block
// when the segment has no files yet. The same writer is returned to every
// caller until the provider closes.
func (p *StaticFileProvider) GetWriter(block uint64, seg segments.Segment) (*Writer, error) {
	if p.access != readWrite {
		return nil, ErrReadOnly
	}
	p.writersMu.Lock()
	defer p.writersMu.Unlock()
	if w, ok := p.writers[seg]; ok {
		return w, nil
	}
	w, err := newSegmentWriter(p, seg, block)
	if err != nil {
		return nil, err
	}
	p.writers[seg] = w
	return w, nil
}

// LatestWriter returns the segment's writer positioned at its current tip.
func (p *StaticFileProvider) LatestWriter(seg segments.Segment) (*Writer, error) {
	block, _ := p.HighestBlock(seg)
	return p.GetWriter(block, seg)
}

// CommitWriters commits every open segment writer.
func (p *StaticFileProvider) CommitWriters() error {
	p.writersMu.Lock()
	defer p.writersMu.Unlock()
	for _, w := range p.writers {
		if err := w.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func newSegmentWriter(p *StaticFileProvider, seg segments.Segment, block uint64) (*Writer, error) {
	// Writers always attach to the tip jar; the block argument only matters
	// for a segment with no files at all.
	openBlock := block
	if highest, ok := p.HighestBlock(seg); ok {
		openBlock = highest
	}
	rng := p.findFixedRange(openBlock)
	path := p.jarPath(seg, rng)

	var j *jar.Jar
	if _, err := os.Stat(path + "." + segments.ExtConfig); err == nil {
		if j, err = jar.Load(path); err != nil {
			return nil, err
		}
	} else if os.IsNotExist(err) {
		j = jar.New(path, p.compression, segments.NewHeader(seg, rng.Start))
	} else {
		return nil, err
	}

	committed := j.Rows()
	ww, err := jar.NewWriter(j)
	if err != nil {
		return nil, err
	}
	w := &Writer{p: p, segment: seg, log: p.log.New("segment", seg), jar: j, w: ww}
	if j.Rows() != committed {
		// Opening healed an interrupted write, shrinking the committed state.
		w.log.Warn("Healed interrupted static file write",
			"range", rng, "dropped", committed-j.Rows())
		if err := p.InitializeIndex(); err != nil {
			ww.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Writer) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Close()
}

// fixedRange returns the block tile the current jar covers.
func (w *Writer) fixedRange() segments.Range {
	return w.p.findFixedRange(w.jar.UserHeader().ExpectedBlockStart)
}

// nextBlock returns the block number the next increment will cover.
func (w *Writer) nextBlock() uint64 {
	head := w.jar.UserHeader()
	if end, ok := head.BlockEnd(); ok {
		return end + 1
	}
	return head.ExpectedBlockStart
}

// incrementBlock advances the current jar's block range by one, sealing the
// jar and opening the next tile when the fixed range is exhausted.
func (w *Writer) incrementBlock() (uint64, error) {
	head := w.jar.UserHeader()
	if end, ok := head.BlockEnd(); ok && end == w.fixedRange().End {
		if err := w.commit(); err != nil {
			return 0, err
		}
		if err := w.openJarAt(end + 1); err != nil {
			return 0, err
		}
		head = w.jar.UserHeader()
	}
	return head.IncrementBlock(), nil
}

// openJarAt swaps the writer onto a fresh jar for the tile containing block.
func (w *Writer) openJarAt(block uint64) error {
	rng := w.p.findFixedRange(block)
	j := jar.New(w.p.jarPath(w.segment, rng), w.p.compression, segments.NewHeader(w.segment, rng.Start))
	ww, err := jar.NewWriter(j)
	if err != nil {
		return err
	}
	w.w.Close()
	w.jar, w.w = j, ww
	w.log.Debug("Opened next static file", "range", rng)
	return nil
}

// IncrementBlock advances a transaction-based segment to the next block,
// which must equal expected. Blocks with no transactions still advance the
// range so block-to-transaction mapping stays dense.
func (w *Writer) IncrementBlock(expected uint64) (uint64, error) {
	if !w.segment.IsTxBased() {
		return 0, fmt.Errorf("%w: block increments on %s", ErrUnsupported, w.segment)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if next := w.nextBlock(); next != expected {
		return 0, fmt.Errorf("append gap on %s: expected block %d, got %d", w.segment, next, expected)
	}
	return w.incrementBlock()
}

// AppendHeader appends a canonical header and its hash. The header's number
// must extend the segment without a gap.
func (w *Writer) AppendHeader(header *types.Header) (uint64, error) {
	if w.segment != segments.Headers {
		return 0, fmt.Errorf("%w: header append on %s", ErrUnsupported, w.segment)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	number := header.Number.Uint64()
	if next := w.nextBlock(); next != number {
		return 0, fmt.Errorf("append gap on %s: expected block %d, got %d", w.segment, next, number)
	}
	raw, err := rlp.EncodeToBytes(header)
	if err != nil {
		return 0, err
	}
	hash := header.Hash()
	if _, err := w.incrementBlock(); err != nil {
		return 0, err
	}
	if err := w.w.AppendRow(raw, hash.Bytes()); err != nil {
		return 0, err
	}
	return number, nil
}

// AppendTransaction appends one transaction under its sequential number,
// which must extend the segment without a gap. The caller advances blocks
// separately through IncrementBlock.
func (w *Writer) AppendTransaction(txNum uint64, tx *types.Transaction) error {
	if w.segment != segments.Transactions {
		return fmt.Errorf("%w: transaction append on %s", ErrUnsupported, w.segment)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return err
	}
	return w.appendTxRow(txNum, raw)
}

// AppendReceipt appends one receipt under its transaction number, which must
// extend the segment without a gap.
func (w *Writer) AppendReceipt(txNum uint64, receipt *types.Receipt) error {
	if w.segment != segments.Receipts {
		return fmt.Errorf("%w: receipt append on %s", ErrUnsupported, w.segment)
	}
	raw, err := rlp.EncodeToBytes((*types.ReceiptForStorage)(receipt))
	if err != nil {
		return err
	}
	return w.appendTxRow(txNum, raw)
}

func (w *Writer) appendTxRow(txNum uint64, raw []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	head := w.jar.UserHeader()
	end, ok := head.TxEnd()
	if !ok {
		// A freshly rotated jar has no transaction range yet; the committed
		// tip of the previous jar still pins the next number.
		end, ok = w.p.lastCommittedTxBelow(w.segment, head.ExpectedBlockStart)
	}
	if ok && txNum != end+1 {
		return fmt.Errorf("append gap on %s: expected tx %d, got %d", w.segment, end+1, txNum)
	}
	if err := w.w.AppendRow(raw); err != nil {
		return err
	}
	head.IncrementTx(txNum)
	return nil
}

// AppendBodyIndices appends the transaction span of a block, which must
// extend the segment without a gap.
func (w *Writer) AppendBodyIndices(block uint64, indices *segments.BodyIndices) error {
	if w.segment != segments.BlockMeta {
		return fmt.Errorf("%w: body indices append on %s", ErrUnsupported, w.segment)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if next := w.nextBlock(); next != block {
		return fmt.Errorf("append gap on %s: expected block %d, got %d", w.segment, next, block)
	}
	raw, err := rlp.EncodeToBytes(indices)
	if err != nil {
		return err
	}
	if _, err := w.incrementBlock(); err != nil {
		return err
	}
	return w.w.AppendRow(raw)
}

// PruneHeaders removes the highest n headers, deleting whole jars when the
// prune crosses tile boundaries.
func (w *Writer) PruneHeaders(n uint64) error {
	if w.segment != segments.Headers {
		return fmt.Errorf("%w: header prune on %s", ErrUnsupported, w.segment)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pruneBlockRows(n)
}

// PruneBodyIndices removes the highest n body index rows.
func (w *Writer) PruneBodyIndices(n uint64) error {
	if w.segment != segments.BlockMeta {
		return fmt.Errorf("%w: body indices prune on %s", ErrUnsupported, w.segment)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pruneBlockRows(n)
}

// PruneTransactions removes the highest n transactions and resets the block
// range end to lastBlock, the highest block remaining fully stored.
func (w *Writer) PruneTransactions(n uint64, lastBlock uint64) error {
	if w.segment != segments.Transactions {
		return fmt.Errorf("%w: transaction prune on %s", ErrUnsupported, w.segment)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pruneTxRows(n, lastBlock)
}

// PruneReceipts removes the highest n receipts and resets the block range end
// to lastBlock.
func (w *Writer) PruneReceipts(n uint64, lastBlock uint64) error {
	if w.segment != segments.Receipts {
		return fmt.Errorf("%w: receipt prune on %s", ErrUnsupported, w.segment)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pruneTxRows(n, lastBlock)
}

func (w *Writer) pruneBlockRows(n uint64) error {
	defer w.p.purgeValueCaches()
	for n > 0 {
		head := w.jar.UserHeader()
		have := head.BlockLen()
		if n >= have {
			if head.ExpectedBlockStart == 0 {
				if err := w.w.Truncate(0); err != nil {
					return err
				}
				head.PruneBlocks(have)
				return nil
			}
			n -= have
			if err := w.deleteCurrentAndOpenPrev(); err != nil {
				return err
			}
			continue
		}
		if err := w.w.Truncate(have - n); err != nil {
			return err
		}
		head.PruneBlocks(n)
		return nil
	}
	return nil
}

func (w *Writer) pruneTxRows(n uint64, lastBlock uint64) error {
	defer w.p.purgeValueCaches()
	for n > 0 {
		head := w.jar.UserHeader()
		have := head.TxLen()
		if n >= have {
			if head.ExpectedBlockStart == 0 {
				if err := w.w.Truncate(0); err != nil {
					return err
				}
				head.PruneTxs(have)
				break
			}
			n -= have
			if err := w.deleteCurrentAndOpenPrev(); err != nil {
				return err
			}
			continue
		}
		if err := w.w.Truncate(have - n); err != nil {
			return err
		}
		head.PruneTxs(n)
		break
	}
	w.jar.UserHeader().SetBlockEnd(lastBlock)
	return nil
}

// deleteCurrentAndOpenPrev drops the writer's whole jar from disk and
// reattaches to the previous tile, which must exist.
func (w *Writer) deleteCurrentAndOpenPrev() error {
	rng := w.fixedRange()
	w.w.Close()
	if err := w.jar.Delete(); err != nil {
		return err
	}
	w.p.jars[w.segment].Del(rng.End)
	w.log.Info("Deleted static file during prune", "range", rng)

	prev := segments.NewRange(rng.Start-w.p.blocksPerFile, rng.Start-1)
	j, err := jar.Load(w.p.jarPath(w.segment, prev))
	if err != nil {
		return err
	}
	ww, err := jar.NewWriter(j)
	if err != nil {
		return err
	}
	w.jar, w.w = j, ww
	return nil
}

// Commit durably persists all pending appends and prunes, then folds the
// jar's new ranges into the provider index, making them visible to readers.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.commit()
}

func (w *Writer) commit() error {
	start := time.Now()
	if err := w.w.Commit(); err != nil {
		return err
	}
	head := w.jar.UserHeader()
	var maxBlock *uint64
	if end, ok := head.BlockEnd(); ok {
		v := end
		maxBlock = &v
	}
	if err := w.p.updateIndex(w.segment, maxBlock); err != nil {
		return err
	}
	commitTimer.UpdateSince(start)
	w.log.Debug("Committed static file", "rows", w.w.Rows(), "range", head.BlockRange)
	return nil
}
