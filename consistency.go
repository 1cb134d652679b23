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
	"github.com/ethfile/staticfile/jar"
	"github.com/ethfile/staticfile/segments"
)

// CheckConsistency reconciles static files with the database after a start
// or crash. Non-destructive repairs run in place: interrupted writes are
// healed and rows committed past the database checkpoint are pruned back to
// it. When the database holds state the static files lost, no repair is
// possible here and the lowest block the caller must unwind to is returned.
//
// Receipts are skipped when receipt pruning is active: a pruned node's
// receipt tip legitimately trails the checkpoint.
func (p *StaticFileProvider) CheckConsistency(db DatabaseReader, hasReceiptPruning bool) (*uint64, error) {
	var unwind *uint64
	update := func(block uint64) {
		if unwind == nil || block < *unwind {
			v := block
			unwind = &v
		}
	}

	for _, seg := range segments.All() {
		if seg == segments.BlockMeta {
			// Body indices are double-written to the database for now, so
			// the database copy is authoritative.
			continue
		}
		if seg == segments.Receipts && hasReceiptPruning {
			continue
		}

		initialHighest, initialOK := p.HighestBlock(seg)
		if p.IsReadOnly() {
			if err := p.CheckSegmentConsistency(seg); err != nil {
				return nil, err
			}
		} else {
			// Opening the writer heals any interrupted write.
			if _, err := p.LatestWriter(seg); err != nil {
				return nil, err
			}
		}
		highestBlock, ok := p.HighestBlock(seg)
		if ok != initialOK || highestBlock != initialHighest {
			p.log.Info("Healing moved a static file tip",
				"segment", seg, "block", highestBlock)
			update(highestBlock)
		}

		highestBlockPtr := optValue(p.HighestBlock(seg))

		// A transaction tip must be covered by a block's body indices. Walk
		// the tip back to the last block fully covered; everything above must
		// be re-synced.
		if highestTx, okTx := p.HighestTx(seg); okTx && seg.IsTxBased() {
			lastBlock := highestBlock
			for {
				indices, found, err := db.BlockBodyIndices(lastBlock)
				if err != nil {
					return nil, err
				}
				if found {
					if indices.LastTxNum() <= highestTx {
						break
					}
				} else {
					// Static files are ahead of the database; the checkpoint
					// comparison below settles it.
					break
				}
				if lastBlock == 0 {
					break
				}
				lastBlock--
				p.log.Info("Transaction tip above block bodies, unwinding",
					"segment", seg, "block", lastBlock)
				v := lastBlock
				highestBlockPtr = &v
				update(lastBlock)
			}
		}

		highestEntry := highestBlockPtr
		if seg.IsTxBased() {
			highestEntry = optValue(p.HighestTx(seg))
		}
		target, err := p.ensureInvariants(db, seg, highestEntry, highestBlockPtr)
		if err != nil {
			return nil, err
		}
		if target != nil {
			update(*target)
		}
	}
	return unwind, nil
}

func optValue(v uint64, ok bool) *uint64 {
	if !ok {
		return nil
	}
	return &v
}

// ensureInvariants compares one segment against its database table and stage
// checkpoint. It returns a non-nil unwind target when the database is ahead
// in a way only a re-sync can fix, and prunes the static file in place when
// it is the one that ran ahead.
func (p *StaticFileProvider) ensureInvariants(db DatabaseReader, seg segments.Segment, highestEntry, highestBlock *uint64) (*uint64, error) {
	dbFirst, haveFirst, err := db.FirstEntry(seg)
	if err != nil {
		return nil, err
	}
	if haveFirst {
		if highestEntry != nil && highestBlock != nil {
			// A gap between the static tip and the first database entry
			// means static file data was lost; unwind so it is re-synced.
			if !(dbFirst <= *highestEntry || *highestEntry+1 == dbFirst) {
				p.log.Warn("Gap between static files and database",
					"segment", seg, "tip", *highestEntry, "first", dbFirst)
				v := *highestBlock
				return &v, nil
			}
		}
		dbLast, haveLast, err := db.LastEntry(seg)
		if err != nil {
			return nil, err
		}
		if haveLast && (highestEntry == nil || dbLast > *highestEntry) {
			// The database continues past the static tip, nothing to do.
			return nil, nil
		}
	}

	var tipEntry, tipBlock uint64
	if highestEntry != nil {
		tipEntry = *highestEntry
	}
	if highestBlock != nil {
		tipBlock = *highestBlock
	}
	checkpoint, err := db.StageCheckpoint(seg.Stage())
	if err != nil {
		return nil, err
	}
	if checkpoint > tipBlock {
		// The stage committed blocks the static file lost.
		p.log.Warn("Stage checkpoint above static file tip",
			"segment", seg, "checkpoint", checkpoint, "tip", tipBlock)
		return &tipBlock, nil
	}
	if checkpoint < tipBlock {
		// The static file committed but the database transaction did not.
		// Prune the extra rows back to the checkpoint.
		p.log.Info("Pruning static file to stage checkpoint",
			"segment", seg, "tip", tipBlock, "checkpoint", checkpoint)
		w, err := p.LatestWriter(seg)
		if err != nil {
			return nil, err
		}
		if seg == segments.Headers {
			if err := w.PruneHeaders(tipBlock - checkpoint); err != nil {
				return nil, err
			}
		} else if indices, found, err := db.BlockBodyIndices(checkpoint); err != nil {
			return nil, err
		} else if found {
			var n uint64
			if last := indices.LastTxNum(); tipEntry > last {
				n = tipEntry - last
			}
			if seg == segments.Receipts {
				if err := w.PruneReceipts(n, checkpoint); err != nil {
					return nil, err
				}
			} else {
				if err := w.PruneTransactions(n, checkpoint); err != nil {
					return nil, err
				}
			}
		}
		if err := w.Commit(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// CheckSegmentConsistency verifies the internal integrity of a segment's tip
// jar without repairing anything. Read-only providers use it where a writer
// would have healed instead.
func (p *StaticFileProvider) CheckSegmentConsistency(seg segments.Segment) error {
	highest, ok := p.HighestBlock(seg)
	if !ok {
		return nil
	}
	j, err := jar.Load(p.jarPath(seg, p.findFixedRange(highest)))
	if err != nil {
		return err
	}
	return jar.NewChecker(j).Check()
}
