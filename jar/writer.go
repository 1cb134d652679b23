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

// Writer appends rows to the tail of a jar. Appends and truncations take
// effect on the data files immediately but remain uncommitted, and invisible
// to readers of the jar descriptor, until Commit durably replaces the
// configuration file.
//
// A Writer must not be shared between goroutines; the provider layer
// guarantees a single writer per segment.
type Writer struct {
	jar     *Jar
	data    *os.File
	offsets *os.File
	index   *os.File

	rows    uint64 // pending row count, may differ from jar.rows until commit
	dataLen uint64 // pending logical end of the data file
}

// NewWriter opens a jar for appending, creating its file set if needed. Any
// tail left behind by an interrupted append or prune is healed first, so the
// writer always starts from a self-consistent state.
func NewWriter(j *Jar) (*Writer, error) {
	data, err := os.OpenFile(j.DataPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	offsets, err := os.OpenFile(j.OffsetsPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		data.Close()
		return nil, err
	}
	index, err := os.OpenFile(j.IndexPath(), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		data.Close()
		offsets.Close()
		return nil, err
	}
	w := &Writer{jar: j, data: data, offsets: offsets, index: index}

	stat, err := offsets.Stat()
	if err != nil {
		w.Close()
		return nil, err
	}
	if stat.Size() == 0 {
		// Fresh offsets table: width marker plus the zero terminal entry.
		head := make([]byte, offsetsHeadSize+offsetWidth)
		head[0] = offsetWidth
		if _, err := offsets.WriteAt(head, 0); err != nil {
			w.Close()
			return nil, err
		}
	}

	if _, err := ensureConsistency(j, w); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// Rows returns the pending row count, including uncommitted appends.
func (w *Writer) Rows() uint64 { return w.rows }

// AppendRow compresses and appends one row. The column count must match the
// jar's layout.
func (w *Writer) AppendRow(cols ...[]byte) error {
	if len(cols) != w.jar.columns {
		return fmt.Errorf("append of %d columns to a %d-column jar", len(cols), w.jar.columns)
	}
	var (
		digest  = xxhash.New()
		offBuf  = make([]byte, 0, len(cols)*offsetWidth)
		end     = w.dataLen
		entry   [offsetWidth]byte
		written int
	)
	for _, col := range cols {
		blob, err := compress(w.jar.compression, col)
		if err != nil {
			return err
		}
		if _, err := w.data.WriteAt(blob, int64(end)); err != nil {
			return err
		}
		digest.Write(blob)
		end += uint64(len(blob))
		written += len(blob)
		binary.LittleEndian.PutUint64(entry[:], end)
		offBuf = append(offBuf, entry[:]...)
	}
	// New offset entries extend the table past the current terminal entry.
	values := w.rows * uint64(w.jar.columns)
	if _, err := w.offsets.WriteAt(offBuf, int64(offsetsHeadSize+(values+1)*offsetWidth)); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(entry[:], digest.Sum64())
	if _, err := w.index.WriteAt(entry[:], int64(w.rows*checksumSize)); err != nil {
		return err
	}
	w.dataLen = end
	w.rows++
	return nil
}

// Truncate discards all rows past the given count from the data files. Like
// appends, the truncation is committed only by the next Commit.
func (w *Writer) Truncate(rows uint64) error {
	if rows > w.rows {
		return fmt.Errorf("truncate to %d rows, have %d", rows, w.rows)
	}
	values := rows * uint64(w.jar.columns)
	end, err := w.offsetAt(values)
	if err != nil {
		return err
	}
	if err := w.data.Truncate(int64(end)); err != nil {
		return err
	}
	if err := w.offsets.Truncate(int64(offsetsHeadSize + (values+1)*offsetWidth)); err != nil {
		return err
	}
	if err := w.index.Truncate(int64(rows * checksumSize)); err != nil {
		return err
	}
	w.rows = rows
	w.dataLen = end
	return nil
}

// Commit makes all pending appends and truncations durable. Data, offsets
// and index are synced first; only then is the configuration file replaced,
// so a crash can never commit metadata pointing past durable data.
func (w *Writer) Commit() error {
	if err := w.data.Sync(); err != nil {
		return err
	}
	if err := w.offsets.Sync(); err != nil {
		return err
	}
	if err := w.index.Sync(); err != nil {
		return err
	}
	w.jar.rows = w.rows
	return w.jar.writeConfig()
}

// Close releases the writer's file handles without committing.
func (w *Writer) Close() error {
	err := w.data.Close()
	if cerr := w.offsets.Close(); err == nil {
		err = cerr
	}
	if cerr := w.index.Close(); err == nil {
		err = cerr
	}
	return err
}

func (w *Writer) offsetAt(i uint64) (uint64, error) {
	var buf [offsetWidth]byte
	if _, err := w.offsets.ReadAt(buf[:], int64(offsetsHeadSize+i*offsetWidth)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
