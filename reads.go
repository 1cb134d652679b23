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
	"bytes"
	"encoding/binary"
	"os"
	"runtime"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/sync/errgroup"

	"github.com/ethfile/staticfile/jar"
	"github.com/ethfile/staticfile/segments"
)

// Column layout per segment. Headers carry their hash as a second column so
// canonical hash reads never decode a header.
const (
	colData       = 0
	colHeaderHash = 1
)

// txHashChunkSize is the per-goroutine work unit when hashing transaction
// ranges in parallel.
const txHashChunkSize = 100

// NumberedHash pairs a transaction number with its hash.
type NumberedHash struct {
	Number uint64
	Hash   common.Hash
}

func rowCacheKey(seg segments.Segment, col int, number uint64) []byte {
	var key [10]byte
	key[0] = byte(seg)
	key[1] = byte(col)
	binary.BigEndian.PutUint64(key[2:], number)
	return key[:]
}

// getRow returns one raw column value keyed by block or transaction number
// depending on the segment kind. A nil value with nil error means the row is
// not stored here.
func (p *StaticFileProvider) getRow(seg segments.Segment, number uint64, col int) ([]byte, error) {
	defer func(start time.Time) { readRowTimer.UpdateSince(start) }(time.Now())

	var key []byte
	if p.rowCache != nil {
		key = rowCacheKey(seg, col, number)
		if v, ok := p.rowCache.HasGet(nil, key); ok {
			rowCacheHitMeter.Mark(1)
			return v, nil
		}
		rowCacheMissMeter.Mark(1)
	}

	var (
		lj  *loadedJar
		err error
	)
	if seg.IsBlockBased() {
		lj, err = p.jarForBlock(seg, number)
	} else {
		lj, err = p.jarForTx(seg, number)
	}
	if err != nil {
		if IsMissingErr(err) {
			return nil, nil
		}
		return nil, err
	}
	v, ok, err := lj.reader.Cursor().Get(number, col)
	if err != nil || !ok {
		return nil, err
	}
	if p.rowCache != nil {
		p.rowCache.Set(key, v)
	}
	return v, nil
}

// FetchRangeWithPredicate reads rows for the half-open number range
// [start, end), stopping early when pred rejects a value. A row missing from
// the jar the index points at is retried once against a freshly resolved jar,
// covering a concurrent commit moving the boundary; a second miss is a hard
// error since the index claims the row exists.
func FetchRangeWithPredicate[T any](
	p *StaticFileProvider,
	seg segments.Segment,
	start, end uint64,
	get func(cursor *jar.Cursor, number uint64) (T, bool, error),
	pred func(T) bool,
) ([]T, error) {
	if end <= start {
		return nil, nil
	}
	acquire := func(number uint64) (*loadedJar, error) {
		if seg.IsBlockBased() {
			return p.jarForBlock(seg, number)
		}
		return p.jarForTx(seg, number)
	}

	var (
		out    = make([]T, 0, end-start)
		lj     *loadedJar
		cursor *jar.Cursor
		err    error
	)
	for number := start; number < end; number++ {
		retrying := false
		for {
			if cursor == nil {
				if lj, err = acquire(number); err != nil {
					return nil, err
				}
				cursor = lj.reader.Cursor()
			}
			v, ok, err := get(cursor, number)
			if err != nil {
				return nil, err
			}
			if ok {
				if pred != nil && !pred(v) {
					return out, nil
				}
				out = append(out, v)
				break
			}
			if retrying {
				if seg.IsBlockBased() {
					return nil, &MissingBlockError{Segment: seg, Block: number}
				}
				return nil, &MissingTxError{Segment: seg, Tx: number}
			}
			// The row may live in the neighboring jar, or a commit may have
			// republished this one. Resolve again before giving up.
			cursor = nil
			retrying = true
		}
	}
	return out, nil
}

// FindStaticFile walks a segment's jars from newest to oldest, applying fn to
// each until it reports a find. Used for hash-keyed lookups that have no
// number to index by.
func FindStaticFile[T any](
	p *StaticFileProvider,
	seg segments.Segment,
	fn func(lj *loadedJar) (T, bool, error),
) (T, bool, error) {
	var zero T
	highest, ok := p.HighestBlock(seg)
	if !ok {
		return zero, false, nil
	}
	rng := p.findFixedRange(highest)
	for {
		lj, err := p.getOrCreateJar(seg, rng)
		if err != nil {
			return zero, false, err
		}
		v, found, err := fn(lj)
		if err != nil || found {
			return v, found, err
		}
		if rng.Start == 0 {
			return zero, false, nil
		}
		rng = segments.NewRange(rng.Start-p.blocksPerFile, rng.End-p.blocksPerFile)
	}
}

// HeaderByNumber returns the header of a canonical block, nil when the block
// is not stored here.
func (p *StaticFileProvider) HeaderByNumber(number uint64) (*types.Header, error) {
	if cached, ok := p.headerCache.Get(number); ok {
		return cached.(*types.Header), nil
	}
	raw, err := p.getRow(segments.Headers, number, colData)
	if raw == nil || err != nil {
		return nil, err
	}
	header := new(types.Header)
	if err := rlp.DecodeBytes(raw, header); err != nil {
		return nil, err
	}
	p.headerCache.Add(number, header)
	return header, nil
}

// BlockHash returns the canonical hash of a block, the zero hash when the
// block is not stored here.
func (p *StaticFileProvider) BlockHash(number uint64) (common.Hash, error) {
	raw, err := p.getRow(segments.Headers, number, colHeaderHash)
	if raw == nil || err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(raw), nil
}

// SealedHeader returns a block's header together with its stored hash,
// sparing the caller a keccak over the header.
func (p *StaticFileProvider) SealedHeader(number uint64) (*types.Header, common.Hash, error) {
	lj, err := p.jarForBlock(segments.Headers, number)
	if err != nil {
		if IsMissingErr(err) {
			return nil, common.Hash{}, nil
		}
		return nil, common.Hash{}, err
	}
	raw, hash, ok, err := lj.reader.Cursor().GetTwo(number, colData, colHeaderHash)
	if err != nil || !ok {
		return nil, common.Hash{}, err
	}
	header := new(types.Header)
	if err := rlp.DecodeBytes(raw, header); err != nil {
		return nil, common.Hash{}, err
	}
	return header, common.BytesToHash(hash), nil
}

// HashedHeader pairs a header with its stored canonical hash.
type HashedHeader struct {
	Header *types.Header
	Hash   common.Hash
}

// SealedHeadersWhile returns the headers of the half-open block range
// [start, end) together with their stored hashes, stopping early at the
// first header pred rejects.
func (p *StaticFileProvider) SealedHeadersWhile(start, end uint64, pred func(HashedHeader) bool) ([]HashedHeader, error) {
	return FetchRangeWithPredicate(p, segments.Headers, start, end,
		func(cursor *jar.Cursor, number uint64) (HashedHeader, bool, error) {
			raw, hash, ok, err := cursor.GetTwo(number, colData, colHeaderHash)
			if err != nil || !ok {
				return HashedHeader{}, ok, err
			}
			header := new(types.Header)
			if err := rlp.DecodeBytes(raw, header); err != nil {
				return HashedHeader{}, false, err
			}
			return HashedHeader{Header: header, Hash: common.BytesToHash(hash)}, true, nil
		}, pred)
}

// HeaderByHash scans for a header by hash, newest jar first. This is a linear
// walk over stored hashes and is meant as a fallback for the rare non-number
// lookup.
func (p *StaticFileProvider) HeaderByHash(hash common.Hash) (*types.Header, error) {
	header, _, err := FindStaticFile(p, segments.Headers, func(lj *loadedJar) (*types.Header, bool, error) {
		for row := lj.jar.Rows(); row > 0; row-- {
			stored, err := lj.reader.Row(row-1, colHeaderHash)
			if err != nil {
				return nil, false, err
			}
			if !bytes.Equal(stored, hash[:]) {
				continue
			}
			raw, err := lj.reader.Row(row-1, colData)
			if err != nil {
				return nil, false, err
			}
			h := new(types.Header)
			if err := rlp.DecodeBytes(raw, h); err != nil {
				return nil, false, err
			}
			return h, true, nil
		}
		return nil, false, nil
	})
	return header, err
}

// HeadersRange returns the headers of the half-open block range [start, end).
func (p *StaticFileProvider) HeadersRange(start, end uint64) ([]*types.Header, error) {
	return FetchRangeWithPredicate(p, segments.Headers, start, end,
		func(cursor *jar.Cursor, number uint64) (*types.Header, bool, error) {
			raw, ok, err := cursor.Get(number, colData)
			if err != nil || !ok {
				return nil, ok, err
			}
			header := new(types.Header)
			if err := rlp.DecodeBytes(raw, header); err != nil {
				return nil, false, err
			}
			return header, true, nil
		}, nil)
}

// CanonicalHashesRange returns the canonical hashes of the half-open block
// range [start, end).
func (p *StaticFileProvider) CanonicalHashesRange(start, end uint64) ([]common.Hash, error) {
	return FetchRangeWithPredicate(p, segments.Headers, start, end,
		func(cursor *jar.Cursor, number uint64) (common.Hash, bool, error) {
			raw, ok, err := cursor.Get(number, colHeaderHash)
			if err != nil || !ok {
				return common.Hash{}, ok, err
			}
			return common.BytesToHash(raw), true, nil
		}, nil)
}

// TransactionByID returns a transaction by its sequential number, nil when it
// is not stored here.
func (p *StaticFileProvider) TransactionByID(txNum uint64) (*types.Transaction, error) {
	raw, err := p.getRow(segments.Transactions, txNum, colData)
	if raw == nil || err != nil {
		return nil, err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return tx, nil
}

// TransactionID scans for a transaction number by hash, newest jar first.
// Hashes are recomputed from the stored encoding rather than kept in a
// column, so this is a linear fallback like HeaderByHash.
func (p *StaticFileProvider) TransactionID(hash common.Hash) (uint64, bool, error) {
	return FindStaticFile(p, segments.Transactions, func(lj *loadedJar) (uint64, bool, error) {
		head := lj.jar.UserHeader()
		if head.TxRange == nil {
			return 0, false, nil
		}
		for row := lj.jar.Rows(); row > 0; row-- {
			raw, err := lj.reader.Row(row-1, colData)
			if err != nil {
				return 0, false, err
			}
			if crypto.Keccak256Hash(raw) == hash {
				return head.TxRange.Start + row - 1, true, nil
			}
		}
		return 0, false, nil
	})
}

// TransactionByHash returns a transaction by hash, nil when not stored here.
func (p *StaticFileProvider) TransactionByHash(hash common.Hash) (*types.Transaction, error) {
	id, ok, err := p.TransactionID(hash)
	if err != nil || !ok {
		return nil, err
	}
	return p.TransactionByID(id)
}

// TransactionsByRange returns the transactions of the half-open transaction
// number range [start, end).
func (p *StaticFileProvider) TransactionsByRange(start, end uint64) ([]*types.Transaction, error) {
	return FetchRangeWithPredicate(p, segments.Transactions, start, end,
		func(cursor *jar.Cursor, number uint64) (*types.Transaction, bool, error) {
			raw, ok, err := cursor.Get(number, colData)
			if err != nil || !ok {
				return nil, ok, err
			}
			tx := new(types.Transaction)
			if err := tx.UnmarshalBinary(raw); err != nil {
				return nil, false, err
			}
			return tx, true, nil
		}, nil)
}

// TransactionHashesByRange recomputes the hashes of the half-open transaction
// number range [start, end), fanning fixed-size chunks out over all cores.
func (p *StaticFileProvider) TransactionHashesByRange(start, end uint64) ([]NumberedHash, error) {
	if end <= start {
		return nil, nil
	}
	out := make([]NumberedHash, end-start)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for cs := start; cs < end; cs += txHashChunkSize {
		cs := cs
		ce := min(cs+txHashChunkSize, end)
		g.Go(func() error {
			hashes, err := FetchRangeWithPredicate(p, segments.Transactions, cs, ce,
				func(cursor *jar.Cursor, number uint64) (NumberedHash, bool, error) {
					raw, ok, err := cursor.Get(number, colData)
					if err != nil || !ok {
						return NumberedHash{}, ok, err
					}
					return NumberedHash{Number: number, Hash: crypto.Keccak256Hash(raw)}, true, nil
				}, nil)
			if err != nil {
				return err
			}
			copy(out[cs-start:], hashes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Receipt returns the receipt of a transaction number, nil when not stored
// here. Derived fields are not populated.
func (p *StaticFileProvider) Receipt(txNum uint64) (*types.Receipt, error) {
	raw, err := p.getRow(segments.Receipts, txNum, colData)
	if raw == nil || err != nil {
		return nil, err
	}
	stored := new(types.ReceiptForStorage)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return nil, err
	}
	return (*types.Receipt)(stored), nil
}

// ReceiptByHash returns the receipt of a transaction hash, nil when the
// transaction is not stored here.
func (p *StaticFileProvider) ReceiptByHash(hash common.Hash) (*types.Receipt, error) {
	id, ok, err := p.TransactionID(hash)
	if err != nil || !ok {
		return nil, err
	}
	return p.Receipt(id)
}

// ReceiptsByTxRange returns the receipts of the half-open transaction number
// range [start, end).
func (p *StaticFileProvider) ReceiptsByTxRange(start, end uint64) ([]*types.Receipt, error) {
	return FetchRangeWithPredicate(p, segments.Receipts, start, end,
		func(cursor *jar.Cursor, number uint64) (*types.Receipt, bool, error) {
			raw, ok, err := cursor.Get(number, colData)
			if err != nil || !ok {
				return nil, ok, err
			}
			stored := new(types.ReceiptForStorage)
			if err := rlp.DecodeBytes(raw, stored); err != nil {
				return nil, false, err
			}
			return (*types.Receipt)(stored), true, nil
		}, nil)
}

// BlockBodyIndices returns the transaction span of a block, nil when the
// block is not stored here.
func (p *StaticFileProvider) BlockBodyIndices(block uint64) (*segments.BodyIndices, error) {
	raw, err := p.getRow(segments.BlockMeta, block, colData)
	if raw == nil || err != nil {
		return nil, err
	}
	indices := new(segments.BodyIndices)
	if err := rlp.DecodeBytes(raw, indices); err != nil {
		return nil, err
	}
	return indices, nil
}

// BlockBodyIndicesRange returns the transaction spans of the half-open block
// range [start, end).
func (p *StaticFileProvider) BlockBodyIndicesRange(start, end uint64) ([]segments.BodyIndices, error) {
	return FetchRangeWithPredicate(p, segments.BlockMeta, start, end,
		func(cursor *jar.Cursor, number uint64) (segments.BodyIndices, bool, error) {
			raw, ok, err := cursor.Get(number, colData)
			if err != nil || !ok {
				return segments.BodyIndices{}, ok, err
			}
			var indices segments.BodyIndices
			if err := rlp.DecodeBytes(raw, &indices); err != nil {
				return segments.BodyIndices{}, false, err
			}
			return indices, true, nil
		}, nil)
}

// BlockNumber would need a hash-to-number table, which lives in the mutable
// database, not here.
func (p *StaticFileProvider) BlockNumber(hash common.Hash) (uint64, error) {
	return 0, ErrUnsupported
}

// GetWithStaticFileOrDatabase serves a point lookup from static files when
// the number falls below the segment tip, deferring to the database above it.
func GetWithStaticFileOrDatabase[T any](
	p *StaticFileProvider,
	seg segments.Segment,
	number uint64,
	fromStatic func(*StaticFileProvider) (T, bool, error),
	fromDB func() (T, bool, error),
) (T, bool, error) {
	var tip uint64
	var ok bool
	if seg.IsBlockBased() {
		tip, ok = p.HighestBlock(seg)
	} else {
		tip, ok = p.HighestTx(seg)
	}
	if ok && number <= tip {
		return fromStatic(p)
	}
	return fromDB()
}

// GetRangeWithStaticFileOrDatabase splits a half-open range lookup at the
// segment tip: everything at or below it is served from static files, the
// rest from the database.
func GetRangeWithStaticFileOrDatabase[T any](
	p *StaticFileProvider,
	seg segments.Segment,
	start, end uint64,
	fromStatic func(start, end uint64) ([]T, error),
	fromDB func(start, end uint64) ([]T, error),
) ([]T, error) {
	if end <= start {
		return nil, nil
	}
	var tip uint64
	var ok bool
	if seg.IsBlockBased() {
		tip, ok = p.HighestBlock(seg)
	} else {
		tip, ok = p.HighestTx(seg)
	}
	split := start
	if ok && tip+1 > start {
		split = min(tip+1, end)
	}
	var out []T
	if split > start {
		staticPart, err := fromStatic(start, split)
		if err != nil {
			return nil, err
		}
		out = staticPart
	}
	if split < end {
		dbPart, err := fromDB(split, end)
		if err != nil {
			return nil, err
		}
		out = append(out, dbPart...)
	}
	return out, nil
}

// SegmentStats summarizes a segment's on-disk footprint.
type SegmentStats struct {
	Jars       int
	BlockRange *segments.Range
	TxRange    *segments.Range
	Rows       uint64
	Bytes      int64
}

// Stats reports per-segment jar counts, covered ranges, row counts and byte
// sizes from a fresh directory scan.
func (p *StaticFileProvider) Stats() (map[segments.Segment]SegmentStats, error) {
	files, err := iterStaticFiles(p.dir)
	if err != nil {
		return nil, err
	}
	stats := make(map[segments.Segment]SegmentStats, len(files))
	for seg, jars := range files {
		s := SegmentStats{Jars: len(jars)}
		blocks := segments.NewRange(jars[0].blockRange.Start, jars[len(jars)-1].blockRange.End)
		s.BlockRange = &blocks
		for _, jr := range jars {
			if seg.IsTxBased() {
				if jr.txRange != nil {
					s.Rows += jr.txRange.Len()
					if s.TxRange == nil {
						s.TxRange = copyRange(jr.txRange)
					} else {
						s.TxRange.End = jr.txRange.End
					}
				}
			} else {
				s.Rows += jr.blockRange.Len()
			}
			base := p.jarPath(seg, p.findFixedRange(jr.blockRange.Start))
			for _, path := range []string{
				base,
				base + "." + segments.ExtOffsets,
				base + "." + segments.ExtIndex,
				base + "." + segments.ExtConfig,
			} {
				if st, err := os.Stat(path); err == nil {
					s.Bytes += st.Size()
				}
			}
		}
		stats[seg] = s
	}
	return stats, nil
}
