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

import "github.com/ethfile/staticfile/segments"

// DatabaseReader is the view of the mutable key-value store that the
// consistency checker needs. rawdb.Reader satisfies it.
type DatabaseReader interface {
	// FirstEntry returns the lowest block or transaction number stored in
	// the database table backing the segment, if any.
	FirstEntry(seg segments.Segment) (uint64, bool, error)

	// LastEntry returns the highest block or transaction number stored in
	// the database table backing the segment, if any.
	LastEntry(seg segments.Segment) (uint64, bool, error)

	// StageCheckpoint returns the last block fully processed by the sync
	// stage, zero when the stage never ran.
	StageCheckpoint(stage segments.Stage) (uint64, error)

	// BlockBodyIndices returns the transaction span of a block.
	BlockBodyIndices(block uint64) (*segments.BodyIndices, bool, error)
}
