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
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethfile/staticfile/ethdb"
	"github.com/ethfile/staticfile/ethdb/leveldb"
	"github.com/ethfile/staticfile/rawdb"
	"github.com/ethfile/staticfile/segments"
)

func newConsistencyDB(t *testing.T) (ethdb.Store, *rawdb.Reader) {
	t.Helper()
	db, err := leveldb.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, rawdb.NewReader(db)
}

func TestConsistencyInSync(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillHeaders(t, p, 25)
	db, reader := newConsistencyDB(t)

	require.NoError(t, rawdb.WriteStageCheckpoint(db, segments.StageHeaders, 24))

	unwind, err := p.CheckConsistency(reader, false)
	require.NoError(t, err)
	assert.Nil(t, unwind)

	highest, ok := p.HighestBlock(segments.Headers)
	require.True(t, ok)
	assert.Equal(t, uint64(24), highest)
}

func TestConsistencyGapRequiresUnwind(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillHeaders(t, p, 101) // static tip at block 100
	db, reader := newConsistencyDB(t)

	// The database resumes at 150: blocks 101..149 are gone.
	for number := uint64(150); number <= 160; number++ {
		require.NoError(t, rawdb.WriteHeader(db, number, &types.Header{Number: new(big.Int).SetUint64(number)}))
	}
	require.NoError(t, rawdb.WriteStageCheckpoint(db, segments.StageHeaders, 160))

	unwind, err := p.CheckConsistency(reader, false)
	require.NoError(t, err)
	require.NotNil(t, unwind)
	assert.Equal(t, uint64(100), *unwind)
}

func TestConsistencyCheckpointBehindPrunes(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillHeaders(t, p, 201) // static tip at block 200
	db, reader := newConsistencyDB(t)

	// The stage only committed to 150: the static file ran ahead of the
	// database transaction and must be pruned back, not unwound.
	require.NoError(t, rawdb.WriteStageCheckpoint(db, segments.StageHeaders, 150))

	unwind, err := p.CheckConsistency(reader, false)
	require.NoError(t, err)
	assert.Nil(t, unwind)

	highest, ok := p.HighestBlock(segments.Headers)
	require.True(t, ok)
	assert.Equal(t, uint64(150), highest)

	header, err := p.HeaderByNumber(151)
	require.NoError(t, err)
	assert.Nil(t, header)
	header, err = p.HeaderByNumber(150)
	require.NoError(t, err)
	require.NotNil(t, header)
}

func TestConsistencyCheckpointAheadRequiresUnwind(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillHeaders(t, p, 101) // static tip at block 100
	db, reader := newConsistencyDB(t)

	require.NoError(t, rawdb.WriteStageCheckpoint(db, segments.StageHeaders, 180))

	unwind, err := p.CheckConsistency(reader, false)
	require.NoError(t, err)
	require.NotNil(t, unwind)
	assert.Equal(t, uint64(100), *unwind)
}

func TestConsistencyTransactionTipWalkback(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillTransactions(t, p, 5, 2) // blocks 0..4, txs 0..9
	db, reader := newConsistencyDB(t)

	// The database claims block 4 holds five transactions ending at tx 12,
	// but the static file tip is tx 9: block 4 only has part of its
	// transactions on disk. The unwind target is block 3, the last block
	// fully covered, so block 4 gets re-synced whole.
	for block := uint64(0); block < 4; block++ {
		require.NoError(t, rawdb.WriteBodyIndices(db, block, &segments.BodyIndices{
			FirstTxNum: block * 2,
			TxCount:    2,
		}))
	}
	require.NoError(t, rawdb.WriteBodyIndices(db, 4, &segments.BodyIndices{FirstTxNum: 8, TxCount: 5}))
	require.NoError(t, rawdb.WriteStageCheckpoint(db, segments.StageBodies, 4))

	unwind, err := p.CheckConsistency(reader, true)
	require.NoError(t, err)
	require.NotNil(t, unwind)
	assert.Equal(t, uint64(3), *unwind)
}

func TestConsistencyHealsTornWrite(t *testing.T) {
	dir := t.TempDir()
	p, err := ReadWrite(dir, WithBlocksPerFile(testBlocksPerFile))
	require.NoError(t, err)
	fillHeaders(t, p, 8)
	name := segments.Headers.Filename(segments.NewRange(0, 9))
	require.NoError(t, p.Close())

	// Cut into the last committed row, as a crash between the data write and
	// the fsync could.
	path := dir + string(os.PathSeparator) + name
	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, stat.Size()-2))

	db, reader := newConsistencyDB(t)
	require.NoError(t, rawdb.WriteStageCheckpoint(db, segments.StageHeaders, 7))
	_ = db

	reopened := newRW(t, dir)
	unwind, err := reopened.CheckConsistency(reader, false)
	require.NoError(t, err)

	// The torn row is gone; its block is the unwind target so the caller can
	// re-sync it.
	require.NotNil(t, unwind)
	assert.Equal(t, uint64(6), *unwind)

	highest, ok := reopened.HighestBlock(segments.Headers)
	require.True(t, ok)
	assert.Equal(t, uint64(6), highest)
	require.NoError(t, reopened.CheckSegmentConsistency(segments.Headers))
}

func TestConsistencyReadOnlyDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	p, err := ReadWrite(dir, WithBlocksPerFile(testBlocksPerFile))
	require.NoError(t, err)
	fillHeaders(t, p, 8)
	name := segments.Headers.Filename(segments.NewRange(0, 9))
	require.NoError(t, p.Close())

	path := dir + string(os.PathSeparator) + name
	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, stat.Size()-2))

	ro, err := ReadOnly(dir, false, WithBlocksPerFile(testBlocksPerFile))
	require.NoError(t, err)
	defer ro.Close()

	_, reader := newConsistencyDB(t)

	// Read-only providers cannot heal, only report.
	_, err = ro.CheckConsistency(reader, false)
	require.Error(t, err)
}
