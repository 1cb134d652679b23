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

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFixedRange(t *testing.T) {
	tests := []struct {
		block         uint64
		blocksPerFile uint64
		want          Range
	}{
		{0, 500_000, Range{0, 499_999}},
		{499_999, 500_000, Range{0, 499_999}},
		{500_000, 500_000, Range{500_000, 999_999}},
		{1_250_000, 500_000, Range{1_000_000, 1_499_999}},
		{0, 10, Range{0, 9}},
		{10, 10, Range{10, 19}},
		{99, 10, Range{90, 99}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FindFixedRange(tt.block, tt.blocksPerFile), "block %d / %d", tt.block, tt.blocksPerFile)
	}
}

// Fixed ranges must tile the block number line: every block belongs to
// exactly one aligned range of the configured width.
func TestFixedRangeTiling(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("range contains its block and is aligned", prop.ForAll(
		func(block uint64, width uint64) bool {
			rng := FindFixedRange(block, width)
			return rng.Contains(block) &&
				rng.Start%width == 0 &&
				rng.Len() == width
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(1, 1_000_000),
	))
	properties.Property("neighboring blocks share or adjoin ranges", prop.ForAll(
		func(block uint64, width uint64) bool {
			cur := FindFixedRange(block, width)
			next := FindFixedRange(block+1, width)
			if cur == next {
				return block+1 <= cur.End
			}
			return block == cur.End && next.Start == block+1
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(1, 1_000_000),
	))
	properties.TestingRun(t)
}

func TestFilenameRoundTrip(t *testing.T) {
	for _, seg := range All() {
		rng := FindFixedRange(1_234_567, DefaultBlocksPerFile)
		name := seg.Filename(rng)

		gotSeg, gotRange, ok := ParseFilename(name)
		require.True(t, ok, name)
		assert.Equal(t, seg, gotSeg)
		assert.Equal(t, rng, gotRange)
	}
}

func TestParseFilenameRejectsGarbage(t *testing.T) {
	for _, name := range []string{
		"",
		"static_file",
		"static_file_headers",
		"static_file_headers_0",
		"static_file_headers_10_5",      // end below start
		"static_file_state_0_499999",    // unknown segment
		"staticfile_headers_0_499999",   // wrong prefix
		"static_file_headers_0_499999_", // trailing part
		"static_file_headers_x_499999",
	} {
		_, _, ok := ParseFilename(name)
		assert.False(t, ok, name)
	}
}

func TestSegmentKinds(t *testing.T) {
	assert.True(t, Headers.IsBlockBased())
	assert.True(t, BlockMeta.IsBlockBased())
	assert.True(t, Transactions.IsTxBased())
	assert.True(t, Receipts.IsTxBased())

	assert.Equal(t, 2, Headers.Columns())
	assert.Equal(t, 1, Transactions.Columns())

	assert.Equal(t, StageHeaders, Headers.Stage())
	assert.Equal(t, StageBodies, Transactions.Stage())
	assert.Equal(t, StageBodies, BlockMeta.Stage())
	assert.Equal(t, StageExecution, Receipts.Stage())
}

func TestSegmentStringRoundTrip(t *testing.T) {
	for _, seg := range All() {
		parsed, ok := ParseSegment(seg.String())
		require.True(t, ok)
		assert.Equal(t, seg, parsed)
	}
	_, ok := ParseSegment("bodies")
	assert.False(t, ok)
}

func TestBodyIndices(t *testing.T) {
	b := BodyIndices{FirstTxNum: 10, TxCount: 5}
	assert.Equal(t, uint64(14), b.LastTxNum())
	assert.Equal(t, uint64(15), b.NextTxNum())

	empty := BodyIndices{FirstTxNum: 10}
	assert.Equal(t, uint64(10), empty.LastTxNum())
	assert.Equal(t, uint64(10), empty.NextTxNum())
}
