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

package rawdb

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/ethfile/staticfile/ethdb"
	"github.com/ethfile/staticfile/segments"
)

// ReadHeader retrieves the header at the given number, nil if none.
func ReadHeader(db ethdb.KeyValueReader, number uint64) *types.Header {
	data, _ := db.Get(headerKey(number))
	if len(data) == 0 {
		return nil
	}
	header := new(types.Header)
	if err := rlp.DecodeBytes(data, header); err != nil {
		log.Error("Invalid header RLP", "number", number, "err", err)
		return nil
	}
	return header
}

// WriteHeader stores a header keyed by its number.
func WriteHeader(db ethdb.KeyValueWriter, number uint64, header *types.Header) error {
	data, err := rlp.EncodeToBytes(header)
	if err != nil {
		return err
	}
	return db.Put(headerKey(number), data)
}

// ReadTransaction retrieves the transaction at the given transaction number,
// nil if none.
func ReadTransaction(db ethdb.KeyValueReader, number uint64) *types.Transaction {
	data, _ := db.Get(transactionKey(number))
	if len(data) == 0 {
		return nil
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		log.Error("Invalid transaction bytes", "number", number, "err", err)
		return nil
	}
	return tx
}

// WriteTransaction stores a transaction keyed by its global number.
func WriteTransaction(db ethdb.KeyValueWriter, number uint64, tx *types.Transaction) error {
	data, err := tx.MarshalBinary()
	if err != nil {
		return err
	}
	return db.Put(transactionKey(number), data)
}

// ReadReceipt retrieves the receipt at the given transaction number, nil if
// none.
func ReadReceipt(db ethdb.KeyValueReader, number uint64) *types.Receipt {
	data, _ := db.Get(receiptKey(number))
	if len(data) == 0 {
		return nil
	}
	stored := new(types.ReceiptForStorage)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		log.Error("Invalid receipt RLP", "number", number, "err", err)
		return nil
	}
	return (*types.Receipt)(stored)
}

// WriteReceipt stores a receipt keyed by its transaction number.
func WriteReceipt(db ethdb.KeyValueWriter, number uint64, receipt *types.Receipt) error {
	data, err := rlp.EncodeToBytes((*types.ReceiptForStorage)(receipt))
	if err != nil {
		return err
	}
	return db.Put(receiptKey(number), data)
}

// ReadBodyIndices retrieves the body indices of the given block, nil if none.
func ReadBodyIndices(db ethdb.KeyValueReader, block uint64) *segments.BodyIndices {
	data, _ := db.Get(bodyIndicesKey(block))
	if len(data) == 0 {
		return nil
	}
	indices := new(segments.BodyIndices)
	if err := rlp.DecodeBytes(data, indices); err != nil {
		log.Error("Invalid body indices RLP", "block", block, "err", err)
		return nil
	}
	return indices
}

// WriteBodyIndices stores the body indices of the given block.
func WriteBodyIndices(db ethdb.KeyValueWriter, block uint64, indices *segments.BodyIndices) error {
	data, err := rlp.EncodeToBytes(indices)
	if err != nil {
		return err
	}
	return db.Put(bodyIndicesKey(block), data)
}

// ReadStageCheckpoint retrieves the last processed block of a pipeline
// stage, zero if the stage never ran.
func ReadStageCheckpoint(db ethdb.KeyValueReader, stage segments.Stage) uint64 {
	data, _ := db.Get(checkpointKey(stage))
	if len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

// WriteStageCheckpoint stores the last processed block of a pipeline stage.
func WriteStageCheckpoint(db ethdb.KeyValueWriter, stage segments.Stage, block uint64) error {
	return db.Put(checkpointKey(stage), encodeNumber(block))
}

// Reader bundles the database lookups the static file consistency checker
// performs into one view over an ethdb store.
type Reader struct {
	db ethdb.Store
}

// NewReader returns a consistency-check view over the database.
func NewReader(db ethdb.Store) *Reader {
	return &Reader{db: db}
}

// FirstEntry returns the lowest key of the segment's database twin table.
func (r *Reader) FirstEntry(seg segments.Segment) (uint64, bool, error) {
	return r.boundary(seg, false)
}

// LastEntry returns the highest key of the segment's database twin table.
func (r *Reader) LastEntry(seg segments.Segment) (uint64, bool, error) {
	return r.boundary(seg, true)
}

func (r *Reader) boundary(seg segments.Segment, last bool) (uint64, bool, error) {
	prefix := tablePrefix(seg)
	it := r.db.NewIteratorWithPrefix(prefix)
	defer it.Release()

	var ok bool
	if last {
		ok = it.Last()
	} else {
		ok = it.First()
	}
	if !ok {
		return 0, false, it.Error()
	}
	key := it.Key()
	if len(key) != len(prefix)+8 {
		return 0, false, it.Error()
	}
	return binary.BigEndian.Uint64(key[len(prefix):]), true, it.Error()
}

// StageCheckpoint returns the stage's last processed block, zero by default.
func (r *Reader) StageCheckpoint(stage segments.Stage) (uint64, error) {
	return ReadStageCheckpoint(r.db, stage), nil
}

// BlockBodyIndices returns the body indices of the given block.
func (r *Reader) BlockBodyIndices(block uint64) (*segments.BodyIndices, bool, error) {
	indices := ReadBodyIndices(r.db, block)
	if indices == nil {
		return nil, false, nil
	}
	return indices, true, nil
}
