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

package jar

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Reader provides random access to a jar's committed rows. All reads go
// through pread-style ReadAt calls, so a single Reader is safe for
// concurrent use by any number of cursors.
type Reader struct {
	jar     *Jar
	data    *os.File
	offsets *os.File
}

// Open opens the jar's data and offsets files for reading.
func (j *Jar) Open() (*Reader, error) {
	data, err := os.Open(j.DataPath())
	if err != nil {
		return nil, err
	}
	offsets, err := os.Open(j.OffsetsPath())
	if err != nil {
		data.Close()
		return nil, err
	}
	return &Reader{jar: j, data: data, offsets: offsets}, nil
}

// Jar returns the descriptor the reader was opened from.
func (r *Reader) Jar() *Jar { return r.jar }

// Close releases the underlying file handles.
func (r *Reader) Close() error {
	err := r.data.Close()
	if cerr := r.offsets.Close(); err == nil {
		err = cerr
	}
	return err
}

// offsetAt returns the i-th entry of the offsets table.
func (r *Reader) offsetAt(i uint64) (uint64, error) {
	var buf [offsetWidth]byte
	if _, err := r.offsets.ReadAt(buf[:], int64(offsetsHeadSize+i*offsetWidth)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// value reads and decompresses the idx-th stored value.
func (r *Reader) value(idx uint64) ([]byte, error) {
	if idx >= r.jar.values() {
		return nil, fmt.Errorf("%w: value %d out of %d", ErrCorrupted, idx, r.jar.values())
	}
	var bounds [2 * offsetWidth]byte
	if _, err := r.offsets.ReadAt(bounds[:], int64(offsetsHeadSize+idx*offsetWidth)); err != nil {
		return nil, err
	}
	start := binary.LittleEndian.Uint64(bounds[:offsetWidth])
	end := binary.LittleEndian.Uint64(bounds[offsetWidth:])
	if end < start {
		return nil, fmt.Errorf("%w: non-monotonic offsets at value %d", ErrCorrupted, idx)
	}
	buf := make([]byte, end-start)
	if _, err := r.data.ReadAt(buf, int64(start)); err != nil {
		return nil, err
	}
	return decompress(r.jar.compression, buf)
}

// Row returns one column of the given jar-local row.
func (r *Reader) Row(row uint64, col int) ([]byte, error) {
	return r.value(row*uint64(r.jar.columns) + uint64(col))
}

// Cursor returns a cursor resolving block or transaction numbers against the
// jar's segment header.
func (r *Reader) Cursor() *Cursor {
	return &Cursor{r: r}
}

// Cursor resolves row lookups keyed by block or transaction number. Lookups
// outside the jar's covered range report a miss rather than an error: the
// caller decides whether the neighboring jar holds the row or the row does
// not exist at all.
type Cursor struct {
	r *Reader
}

// Get returns one column of the row keyed by number.
func (c *Cursor) Get(number uint64, col int) ([]byte, bool, error) {
	row, ok := c.r.jar.header.RowOf(number)
	if !ok || row >= c.r.jar.rows {
		return nil, false, nil
	}
	v, err := c.r.Row(row, col)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// GetTwo returns two columns of the row keyed by number.
func (c *Cursor) GetTwo(number uint64, colA, colB int) ([]byte, []byte, bool, error) {
	row, ok := c.r.jar.header.RowOf(number)
	if !ok || row >= c.r.jar.rows {
		return nil, nil, false, nil
	}
	a, err := c.r.Row(row, colA)
	if err != nil {
		return nil, nil, false, err
	}
	b, err := c.r.Row(row, colB)
	if err != nil {
		return nil, nil, false, err
	}
	return a, b, true, nil
}
