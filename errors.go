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
	"errors"
	"fmt"

	"github.com/ethfile/staticfile/segments"
)

var (
	// ErrReadOnly is returned when a writer is requested from a read-only
	// provider.
	ErrReadOnly = errors.New("static files opened read-only")

	// ErrUnsupported is returned by lookups this storage layer structurally
	// cannot answer. Hitting it is a caller bug, not a runtime fault.
	ErrUnsupported = errors.New("unsupported static file operation")
)

// MissingBlockError reports that a block number is outside every on-disk
// range of a segment. It is distinct from corruption: the row simply is not
// here, and most read paths convert it to a plain not-found result.
type MissingBlockError struct {
	Segment segments.Segment
	Block   uint64
}

func (e *MissingBlockError) Error() string {
	return fmt.Sprintf("no static file block: segment=%s number=%d", e.Segment, e.Block)
}

// MissingTxError reports that a transaction number is outside every on-disk
// range of a segment.
type MissingTxError struct {
	Segment segments.Segment
	Tx      uint64
}

func (e *MissingTxError) Error() string {
	return fmt.Sprintf("no static file transaction: segment=%s number=%d", e.Segment, e.Tx)
}

// IsMissingErr reports whether err is a not-found error rather than a real
// fault.
func IsMissingErr(err error) bool {
	var mb *MissingBlockError
	var mt *MissingTxError
	return errors.As(err, &mb) || errors.As(err, &mt)
}
