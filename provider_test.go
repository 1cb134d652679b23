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
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethfile/staticfile/segments"
)

// Tests tile with tiny ranges so multi-file behavior is cheap to exercise.
const testBlocksPerFile = 10

func newRW(t *testing.T, dir string) *StaticFileProvider {
	t.Helper()
	p, err := ReadWrite(dir, WithBlocksPerFile(testBlocksPerFile))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func makeHeader(number uint64) *types.Header {
	return &types.Header{
		Number: new(big.Int).SetUint64(number),
		Extra:  []byte("static file test"),
	}
}

func makeTx(nonce uint64) *types.Transaction {
	to := common.BytesToAddress([]byte{0xde, 0xad})
	return types.NewTransaction(nonce, to, big.NewInt(1), 21_000, big.NewInt(1), nil)
}

// fillHeaders appends and commits headers for blocks [0, n).
func fillHeaders(t *testing.T, p *StaticFileProvider, n uint64) {
	t.Helper()
	w, err := p.GetWriter(0, segments.Headers)
	require.NoError(t, err)
	for number := uint64(0); number < n; number++ {
		_, err := w.AppendHeader(makeHeader(number))
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit())
}

// fillTransactions appends and commits txsPerBlock transactions for every
// block in [0, blocks), returning the appended transactions by number.
func fillTransactions(t *testing.T, p *StaticFileProvider, blocks, txsPerBlock uint64) []*types.Transaction {
	t.Helper()
	w, err := p.GetWriter(0, segments.Transactions)
	require.NoError(t, err)

	var txs []*types.Transaction
	txNum := uint64(0)
	for block := uint64(0); block < blocks; block++ {
		_, err := w.IncrementBlock(block)
		require.NoError(t, err)
		for i := uint64(0); i < txsPerBlock; i++ {
			tx := makeTx(txNum)
			require.NoError(t, w.AppendTransaction(txNum, tx))
			txs = append(txs, tx)
			txNum++
		}
	}
	require.NoError(t, w.Commit())
	return txs
}

func TestHeadersRoundTrip(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillHeaders(t, p, 25)

	highest, ok := p.HighestBlock(segments.Headers)
	require.True(t, ok)
	assert.Equal(t, uint64(24), highest)

	for _, number := range []uint64{0, 9, 10, 19, 20, 24} {
		header, err := p.HeaderByNumber(number)
		require.NoError(t, err)
		require.NotNil(t, header, "block %d", number)
		assert.Equal(t, number, header.Number.Uint64())

		hash, err := p.BlockHash(number)
		require.NoError(t, err)
		assert.Equal(t, makeHeader(number).Hash(), hash)
	}

	// Above the tip there is nothing at all.
	header, err := p.HeaderByNumber(25)
	require.NoError(t, err)
	assert.Nil(t, header)
	hash, err := p.BlockHash(100)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, hash)
}

func TestHeadersRangeAcrossFiles(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillHeaders(t, p, 35)

	headers, err := p.HeadersRange(5, 32)
	require.NoError(t, err)
	require.Len(t, headers, 27)
	for i, header := range headers {
		assert.Equal(t, uint64(5+i), header.Number.Uint64())
	}

	hashes, err := p.CanonicalHashesRange(0, 35)
	require.NoError(t, err)
	require.Len(t, hashes, 35)
	assert.Equal(t, makeHeader(34).Hash(), hashes[34])

	// A range past the tip fails hard: the index said the rows exist.
	_, err = p.HeadersRange(30, 40)
	require.Error(t, err)
	assert.True(t, IsMissingErr(err))

	// Empty ranges are empty, not errors.
	headers, err = p.HeadersRange(7, 7)
	require.NoError(t, err)
	assert.Empty(t, headers)
}

func TestSealedHeaderAndHashLookup(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillHeaders(t, p, 12)

	header, hash, err := p.SealedHeader(11)
	require.NoError(t, err)
	require.NotNil(t, header)
	assert.Equal(t, header.Hash(), hash)

	found, err := p.HeaderByHash(hash)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, uint64(11), found.Number.Uint64())

	missing, err := p.HeaderByHash(common.HexToHash("0xdeadbeef"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSealedHeadersWhile(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillHeaders(t, p, 12)

	sealed, err := p.SealedHeadersWhile(2, 12, func(h HashedHeader) bool {
		return h.Header.Number.Uint64() < 7
	})
	require.NoError(t, err)
	require.Len(t, sealed, 5)
	for i, s := range sealed {
		assert.Equal(t, uint64(2+i), s.Header.Number.Uint64())
		assert.Equal(t, s.Header.Hash(), s.Hash)
	}
}

func TestTransactionsRoundTrip(t *testing.T) {
	p := newRW(t, t.TempDir())
	txs := fillTransactions(t, p, 15, 2)

	highest, ok := p.HighestTx(segments.Transactions)
	require.True(t, ok)
	assert.Equal(t, uint64(29), highest)
	highestBlock, ok := p.HighestBlock(segments.Transactions)
	require.True(t, ok)
	assert.Equal(t, uint64(14), highestBlock)

	for _, txNum := range []uint64{0, 19, 20, 29} {
		tx, err := p.TransactionByID(txNum)
		require.NoError(t, err)
		require.NotNil(t, tx, "tx %d", txNum)
		assert.Equal(t, txs[txNum].Hash(), tx.Hash())
	}

	got, err := p.TransactionsByRange(18, 23)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, tx := range got {
		assert.Equal(t, txs[18+i].Hash(), tx.Hash())
	}

	// Hash lookups scan, then resolve through the same rows.
	id, ok, err := p.TransactionID(txs[7].Hash())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), id)

	tx, err := p.TransactionByHash(txs[25].Hash())
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, txs[25].Hash(), tx.Hash())

	_, ok, err = p.TransactionID(common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransactionHashesByRange(t *testing.T) {
	p := newRW(t, t.TempDir())
	txs := fillTransactions(t, p, 30, 12) // 360 txs, several hash chunks

	hashes, err := p.TransactionHashesByRange(3, 350)
	require.NoError(t, err)
	require.Len(t, hashes, 347)
	for i, nh := range hashes {
		assert.Equal(t, uint64(3+i), nh.Number)
		assert.Equal(t, txs[3+i].Hash(), nh.Hash)
	}

	empty, err := p.TransactionHashesByRange(10, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReceiptsRoundTrip(t *testing.T) {
	p := newRW(t, t.TempDir())
	w, err := p.GetWriter(0, segments.Receipts)
	require.NoError(t, err)

	for block := uint64(0); block < 5; block++ {
		_, err := w.IncrementBlock(block)
		require.NoError(t, err)
		require.NoError(t, w.AppendReceipt(block, &types.Receipt{
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: 21_000 * (block + 1),
		}))
	}
	require.NoError(t, w.Commit())

	receipt, err := p.Receipt(3)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, uint64(84_000), receipt.CumulativeGasUsed)

	receipts, err := p.ReceiptsByTxRange(1, 4)
	require.NoError(t, err)
	require.Len(t, receipts, 3)

	missing, err := p.Receipt(5)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestBodyIndicesRoundTrip(t *testing.T) {
	p := newRW(t, t.TempDir())
	w, err := p.GetWriter(0, segments.BlockMeta)
	require.NoError(t, err)

	txNum := uint64(0)
	for block := uint64(0); block < 12; block++ {
		count := block % 3
		require.NoError(t, w.AppendBodyIndices(block, &segments.BodyIndices{
			FirstTxNum: txNum,
			TxCount:    count,
		}))
		txNum += count
	}
	require.NoError(t, w.Commit())

	indices, err := p.BlockBodyIndices(5)
	require.NoError(t, err)
	require.NotNil(t, indices)
	assert.Equal(t, uint64(2), indices.TxCount)

	all, err := p.BlockBodyIndicesRange(0, 12)
	require.NoError(t, err)
	require.Len(t, all, 12)
}

func TestAppendGapRejected(t *testing.T) {
	p := newRW(t, t.TempDir())
	w, err := p.GetWriter(0, segments.Headers)
	require.NoError(t, err)

	_, err = w.AppendHeader(makeHeader(0))
	require.NoError(t, err)
	_, err = w.AppendHeader(makeHeader(2))
	require.Error(t, err)

	tw, err := p.GetWriter(0, segments.Transactions)
	require.NoError(t, err)
	_, err = tw.IncrementBlock(0)
	require.NoError(t, err)
	require.NoError(t, tw.AppendTransaction(0, makeTx(0)))
	require.Error(t, tw.AppendTransaction(2, makeTx(2)))
	_, err = tw.IncrementBlock(5)
	require.Error(t, err)
}

func TestAppendGapRejectedAcrossFiles(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillTransactions(t, p, 10, 2) // fills the first file exactly, txs 0..19

	w, err := p.LatestWriter(segments.Transactions)
	require.NoError(t, err)

	// Advancing to block 10 rotates onto a fresh file; the first append
	// there must still continue the numbering of the previous one.
	_, err = w.IncrementBlock(10)
	require.NoError(t, err)
	require.Error(t, w.AppendTransaction(25, makeTx(25)))
	require.NoError(t, w.AppendTransaction(20, makeTx(20)))
	require.NoError(t, w.Commit())

	highest, ok := p.HighestTx(segments.Transactions)
	require.True(t, ok)
	assert.Equal(t, uint64(20), highest)
}

func TestWriterRegistry(t *testing.T) {
	p := newRW(t, t.TempDir())

	w1, err := p.GetWriter(0, segments.Headers)
	require.NoError(t, err)
	w2, err := p.GetWriter(123, segments.Headers)
	require.NoError(t, err)
	assert.Same(t, w1, w2)

	other, err := p.LatestWriter(segments.Receipts)
	require.NoError(t, err)
	assert.NotSame(t, w1, other)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	rw := newRW(t, dir)
	fillHeaders(t, rw, 5)
	require.NoError(t, rw.Close())

	ro, err := ReadOnly(dir, false, WithBlocksPerFile(testBlocksPerFile))
	require.NoError(t, err)
	defer ro.Close()

	_, err = ro.GetWriter(0, segments.Headers)
	require.ErrorIs(t, err, ErrReadOnly)
	require.ErrorIs(t, ro.DeleteTransactionsBelow(10), ErrReadOnly)
	require.ErrorIs(t, ro.DeleteJar(segments.Headers, 0), ErrReadOnly)

	header, err := ro.HeaderByNumber(4)
	require.NoError(t, err)
	require.NotNil(t, header)
}

func TestDirectoryLock(t *testing.T) {
	dir := t.TempDir()
	p := newRW(t, dir)
	_ = p

	_, err := ReadWrite(dir, WithBlocksPerFile(testBlocksPerFile))
	require.Error(t, err)
}

func TestRestartRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p, err := ReadWrite(dir, WithBlocksPerFile(testBlocksPerFile))
	require.NoError(t, err)
	fillHeaders(t, p, 25)
	txs := fillTransactions(t, p, 25, 1)
	require.NoError(t, p.Close())

	reopened := newRW(t, dir)
	highest, ok := reopened.HighestBlock(segments.Headers)
	require.True(t, ok)
	assert.Equal(t, uint64(24), highest)
	highestTx, ok := reopened.HighestTx(segments.Transactions)
	require.True(t, ok)
	assert.Equal(t, uint64(24), highestTx)

	header, err := reopened.HeaderByNumber(13)
	require.NoError(t, err)
	require.NotNil(t, header)
	tx, err := reopened.TransactionByID(13)
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, txs[13].Hash(), tx.Hash())
}

func TestInitializeIndexIdempotent(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillHeaders(t, p, 25)
	fillTransactions(t, p, 25, 2)

	before := p.Highest()
	require.NoError(t, p.InitializeIndex())
	require.NoError(t, p.InitializeIndex())
	assert.Equal(t, before, p.Highest())

	header, err := p.HeaderByNumber(24)
	require.NoError(t, err)
	require.NotNil(t, header)
}

func TestInitializeIndexDropsStaleValues(t *testing.T) {
	dir := t.TempDir()
	rw := newRW(t, dir)
	fillHeaders(t, rw, 10)

	ro, err := ReadOnly(dir, false, WithBlocksPerFile(testBlocksPerFile))
	require.NoError(t, err)
	defer ro.Close()

	// Warm the read-only provider's caches with the original block 4.
	before, err := ro.HeaderByNumber(4)
	require.NoError(t, err)
	require.NotNil(t, before)

	// The writing process reorgs: blocks 4..9 are pruned and a different
	// block 4 is committed in their place.
	w, err := rw.GetWriter(0, segments.Headers)
	require.NoError(t, err)
	require.NoError(t, w.PruneHeaders(6))
	reorged := makeHeader(4)
	reorged.Extra = []byte("replacement")
	_, err = w.AppendHeader(reorged)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	require.NoError(t, ro.InitializeIndex())

	after, err := ro.HeaderByNumber(4)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, reorged.Hash(), after.Hash())
	assert.NotEqual(t, before.Hash(), after.Hash())

	hash, err := ro.BlockHash(4)
	require.NoError(t, err)
	assert.Equal(t, reorged.Hash(), hash)
}

func TestDeleteTransactionsBelow(t *testing.T) {
	p := newRW(t, t.TempDir())
	txs := fillTransactions(t, p, 30, 1) // one tx per block, tx number == block

	require.NoError(t, p.DeleteTransactionsBelow(15))

	// Whole files only: the jar overlapping block 15 stays.
	assert.Equal(t, uint64(10), p.EarliestHistoryHeight())

	expired, err := p.TransactionByID(5)
	require.NoError(t, err)
	assert.Nil(t, expired)

	kept, err := p.TransactionByID(12)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, txs[12].Hash(), kept.Hash())

	// The tip is untouched.
	highest, ok := p.HighestTx(segments.Transactions)
	require.True(t, ok)
	assert.Equal(t, uint64(29), highest)

	// Expiring below an already expired point is a no-op.
	require.NoError(t, p.DeleteTransactionsBelow(3))
	assert.Equal(t, uint64(10), p.EarliestHistoryHeight())
}

func TestGetWithStaticFileOrDatabase(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillHeaders(t, p, 10)

	fromStatic := func(p *StaticFileProvider) (uint64, bool, error) { return 1, true, nil }
	fromDB := func() (uint64, bool, error) { return 2, true, nil }

	src, _, err := GetWithStaticFileOrDatabase(p, segments.Headers, 5, fromStatic, fromDB)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), src)

	src, _, err = GetWithStaticFileOrDatabase(p, segments.Headers, 15, fromStatic, fromDB)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), src)
}

func TestGetRangeWithStaticFileOrDatabase(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillHeaders(t, p, 10) // static tip at block 9

	ranges := func(tag string) func(start, end uint64) ([]string, error) {
		return func(start, end uint64) ([]string, error) {
			var out []string
			for n := start; n < end; n++ {
				out = append(out, tag)
			}
			return out, nil
		}
	}
	out, err := GetRangeWithStaticFileOrDatabase(p, segments.Headers, 5, 15, ranges("static"), ranges("db"))
	require.NoError(t, err)
	require.Len(t, out, 10)
	assert.Equal(t, "static", out[0])
	assert.Equal(t, "static", out[4]) // block 9
	assert.Equal(t, "db", out[5])     // block 10
	assert.Equal(t, "db", out[9])
}

func TestStats(t *testing.T) {
	p := newRW(t, t.TempDir())
	fillHeaders(t, p, 25)
	fillTransactions(t, p, 25, 2)

	stats, err := p.Stats()
	require.NoError(t, err)

	hs, ok := stats[segments.Headers]
	require.True(t, ok)
	assert.Equal(t, 3, hs.Jars)
	assert.Equal(t, uint64(25), hs.Rows)
	require.NotNil(t, hs.BlockRange)
	assert.Equal(t, segments.NewRange(0, 24), *hs.BlockRange)

	ts, ok := stats[segments.Transactions]
	require.True(t, ok)
	assert.Equal(t, uint64(50), ts.Rows)
	require.NotNil(t, ts.TxRange)
	assert.Equal(t, segments.NewRange(0, 49), *ts.TxRange)
	assert.Greater(t, ts.Bytes, int64(0))
}

func TestWatcherPicksUpCommits(t *testing.T) {
	dir := t.TempDir()
	rw := newRW(t, dir)
	fillHeaders(t, rw, 5)

	ro, err := ReadOnly(dir, true, WithBlocksPerFile(testBlocksPerFile))
	require.NoError(t, err)
	defer ro.Close()

	highest, ok := ro.HighestBlock(segments.Headers)
	require.True(t, ok)
	require.Equal(t, uint64(4), highest)

	// Another 10 blocks from the writing process.
	w, err := rw.GetWriter(0, segments.Headers)
	require.NoError(t, err)
	for number := uint64(5); number < 15; number++ {
		_, err := w.AppendHeader(makeHeader(number))
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit())

	require.Eventually(t, func() bool {
		highest, ok := ro.HighestBlock(segments.Headers)
		return ok && highest == 14
	}, 5*time.Second, 10*time.Millisecond)

	header, err := ro.HeaderByNumber(14)
	require.NoError(t, err)
	require.NotNil(t, header)
}
