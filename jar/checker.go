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

	"github.com/cespare/xxhash/v2"
)

// Checker validates a jar's file set against its committed configuration
// without mutating anything. Repair is the writer's job: opening a Writer
// heals the same faults the checker reports.
type Checker struct {
	jar *Jar
}

// NewChecker returns a read-only consistency checker for the jar.
func NewChecker(j *Jar) *Checker {
	return &Checker{jar: j}
}

// Check verifies that the offsets table, row index and data file agree
// exactly with the committed configuration: correct sizes, a data file
// ending where the terminal offset says, and an intact checksum on the last
// row. Any deviation means an append or prune was interrupted before commit
// and is reported as corruption.
func (c *Checker) Check() error {
	j := c.jar
	cols := uint64(j.columns)

	offSize, err := fileSize(j.OffsetsPath())
	if err != nil {
		return err
	}
	dataSize, err := fileSize(j.DataPath())
	if err != nil {
		return err
	}
	idxSize, err := fileSize(j.IndexPath())
	if err != nil {
		return err
	}

	wantOff := int64(offsetsHeadSize + (j.rows*cols+1)*offsetWidth)
	if offSize != wantOff {
		return fmt.Errorf("%w: offsets table is %d bytes, config implies %d", ErrCorrupted, offSize, wantOff)
	}
	if wantIdx := int64(j.rows * checksumSize); idxSize != wantIdx {
		return fmt.Errorf("%w: row index is %d bytes, config implies %d", ErrCorrupted, idxSize, wantIdx)
	}

	r, err := j.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	end, err := r.offsetAt(j.rows * cols)
	if err != nil {
		return err
	}
	if uint64(dataSize) != end {
		return fmt.Errorf("%w: data file is %d bytes, terminal offset is %d", ErrCorrupted, dataSize, end)
	}
	if j.rows > 0 {
		ok, err := rowChecksumOK(r, c.jar, j.rows-1)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: checksum mismatch on row %d", ErrCorrupted, j.rows-1)
		}
	}
	return nil
}

// ensureConsistency brings the writer's file set back to the largest
// self-consistent row count not exceeding the committed configuration. Tail
// rows from an interrupted append are truncated away; if committed rows
// turn out to be missing (interrupted prune), the configuration itself is
// rewritten to match and the provider-level consistency check will surface
// the height regression.
func ensureConsistency(j *Jar, w *Writer) (bool, error) {
	cols := uint64(j.columns)

	offStat, err := w.offsets.Stat()
	if err != nil {
		return false, err
	}
	dataStat, err := w.data.Stat()
	if err != nil {
		return false, err
	}
	idxStat, err := w.index.Stat()
	if err != nil {
		return false, err
	}

	entries := (uint64(offStat.Size()) - offsetsHeadSize) / offsetWidth
	if entries == 0 {
		return false, fmt.Errorf("%w: offsets table has no terminal entry", ErrCorrupted)
	}
	rows := minU64(j.rows, (entries-1)/cols)
	rows = minU64(rows, uint64(idxStat.Size())/checksumSize)

	// Walk back until the terminal offset fits the data file and the last
	// row's checksum holds. In practice this loop runs at most once past a
	// torn append.
	dataSize := uint64(dataStat.Size())
	var end uint64
	for {
		end, err = w.offsetAt(rows * cols)
		if err != nil {
			return false, err
		}
		if rows == 0 {
			if end != 0 {
				return false, fmt.Errorf("%w: nonzero base offset %d", ErrCorrupted, end)
			}
			break
		}
		if end <= dataSize {
			ok, cerr := writerRowChecksumOK(w, rows-1)
			if cerr != nil {
				return false, cerr
			}
			if ok {
				break
			}
		}
		rows--
	}

	healed := false
	if want := int64(offsetsHeadSize + (rows*cols+1)*offsetWidth); offStat.Size() != want {
		if err := w.offsets.Truncate(want); err != nil {
			return false, err
		}
		healed = true
	}
	if uint64(dataStat.Size()) != end {
		if err := w.data.Truncate(int64(end)); err != nil {
			return false, err
		}
		healed = true
	}
	if want := int64(rows * checksumSize); idxStat.Size() != want {
		if err := w.index.Truncate(want); err != nil {
			return false, err
		}
		healed = true
	}
	w.rows = rows
	w.dataLen = end

	if rows < j.rows {
		// Committed rows are gone: shrink the configuration to the data we
		// actually have.
		delta := j.rows - rows
		j.rows = rows
		if j.header.Seg.IsBlockBased() {
			j.header.PruneBlocks(delta)
		} else {
			j.header.PruneTxs(delta)
		}
		if err := j.writeConfig(); err != nil {
			return false, err
		}
		healed = true
	}
	return healed, nil
}

// rowChecksumOK verifies one row's stored bytes against the row index using
// a Reader.
func rowChecksumOK(r *Reader, j *Jar, row uint64) (bool, error) {
	cols := uint64(j.columns)
	start, err := r.offsetAt(row * cols)
	if err != nil {
		return false, err
	}
	end, err := r.offsetAt((row + 1) * cols)
	if err != nil {
		return false, err
	}
	if end < start {
		return false, nil
	}
	buf := make([]byte, end-start)
	if _, err := r.data.ReadAt(buf, int64(start)); err != nil {
		return false, err
	}
	idx, err := os.Open(j.IndexPath())
	if err != nil {
		return false, err
	}
	defer idx.Close()
	var sum [checksumSize]byte
	if _, err := idx.ReadAt(sum[:], int64(row*checksumSize)); err != nil {
		return false, err
	}
	return xxhash.Sum64(buf) == binary.LittleEndian.Uint64(sum[:]), nil
}

// writerRowChecksumOK is rowChecksumOK over the writer's open handles.
func writerRowChecksumOK(w *Writer, row uint64) (bool, error) {
	cols := uint64(w.jar.columns)
	start, err := w.offsetAt(row * cols)
	if err != nil {
		return false, err
	}
	end, err := w.offsetAt((row + 1) * cols)
	if err != nil {
		return false, err
	}
	if end < start {
		return false, nil
	}
	buf := make([]byte, end-start)
	if _, err := w.data.ReadAt(buf, int64(start)); err != nil {
		return false, err
	}
	var sum [checksumSize]byte
	if _, err := w.index.ReadAt(sum[:], int64(row*checksumSize)); err != nil {
		return false, err
	}
	return xxhash.Sum64(buf) == binary.LittleEndian.Uint64(sum[:]), nil
}

func fileSize(path string) (int64, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return stat.Size(), nil
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
