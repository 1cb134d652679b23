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

// Package jar implements the immutable columnar container one static file
// segment range is stored in.
//
// A jar is a set of four files sharing a base name:
//
//	<name>       the data file: concatenated, individually compressed values
//	<name>.off   the offsets table: byte offsets of every value in the data
//	             file, fixed-width, with one terminal entry
//	<name>.idx   the row index: one xxhash64 checksum per row
//	<name>.conf  the configuration file: segment ranges, row count, codec
//
// The configuration file doubles as the commit marker. Data, offsets and
// index are synced before the configuration is atomically replaced, so a
// crash at any point leaves a jar whose committed configuration never points
// past durable data; any uncommitted tail is truncated away on next open.
package jar

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/ethfile/staticfile/segments"
)

// Format constants. Offsets are stored little-endian with the width recorded
// in the offsets file's leading byte, leaving room to shrink entries later
// without a config change.
const (
	currentVersion = 1

	offsetWidth     = 8
	offsetsHeadSize = 1
	checksumSize    = 8
)

// ErrCorrupted reports an internal inconsistency of a jar's file set that the
// checker could not explain as an interrupted append.
var ErrCorrupted = errors.New("static file jar is corrupted")

// Jar is the in-memory descriptor of one on-disk segment file set. It mirrors
// the committed configuration file; pending appends by a Writer are invisible
// until the next Commit updates it.
type Jar struct {
	path        string // data file path, other paths derive from it
	version     uint64
	columns     int
	compression Compression
	rows        uint64
	header      *segments.Header
}

// jarConfig is the wire form of the configuration file, an RLP payload
// followed by its xxhash64.
type jarConfig struct {
	Version     uint64
	Columns     uint64
	Compression uint64
	Rows        uint64
	Head        *segments.Header
}

// New describes a jar that does not exist on disk yet. It becomes durable on
// the first Writer commit.
func New(path string, compression Compression, head *segments.Header) *Jar {
	return &Jar{
		path:        path,
		version:     currentVersion,
		columns:     head.Seg.Columns(),
		compression: compression,
		header:      head,
	}
}

// Load reads a jar's committed configuration from disk. It does not read any
// column data.
func Load(path string) (*Jar, error) {
	data, err := os.ReadFile(path + "." + segments.ExtConfig)
	if err != nil {
		return nil, err
	}
	if len(data) < checksumSize {
		return nil, fmt.Errorf("%w: config file too short", ErrCorrupted)
	}
	payload, sum := data[:len(data)-checksumSize], data[len(data)-checksumSize:]
	if xxhash.Sum64(payload) != binary.LittleEndian.Uint64(sum) {
		return nil, fmt.Errorf("%w: config checksum mismatch", ErrCorrupted)
	}
	var cfg jarConfig
	if err := rlp.DecodeBytes(payload, &cfg); err != nil {
		return nil, fmt.Errorf("%w: undecodable config: %v", ErrCorrupted, err)
	}
	if cfg.Head == nil {
		return nil, fmt.Errorf("%w: config missing segment header", ErrCorrupted)
	}
	return &Jar{
		path:        path,
		version:     cfg.Version,
		columns:     int(cfg.Columns),
		compression: Compression(cfg.Compression),
		rows:        cfg.Rows,
		header:      cfg.Head,
	}, nil
}

// Rows returns the committed row count.
func (j *Jar) Rows() uint64 { return j.rows }

// Columns returns the number of columns per row.
func (j *Jar) Columns() int { return j.columns }

// Compression returns the jar's value codec.
func (j *Jar) Compression() Compression { return j.compression }

// UserHeader returns the segment header describing the held ranges. The
// returned value is shared with the jar's writer; readers must not mutate it.
func (j *Jar) UserHeader() *segments.Header { return j.header }

// Segment returns the segment kind the jar belongs to.
func (j *Jar) Segment() segments.Segment { return j.header.Seg }

// DataPath returns the path of the data file.
func (j *Jar) DataPath() string { return j.path }

// OffsetsPath returns the path of the offsets table file.
func (j *Jar) OffsetsPath() string { return j.path + "." + segments.ExtOffsets }

// IndexPath returns the path of the row checksum index file.
func (j *Jar) IndexPath() string { return j.path + "." + segments.ExtIndex }

// ConfigPath returns the path of the configuration file.
func (j *Jar) ConfigPath() string { return j.path + "." + segments.ExtConfig }

// values returns the committed value count across all columns.
func (j *Jar) values() uint64 { return j.rows * uint64(j.columns) }

// Delete removes the jar's whole file set from disk.
func (j *Jar) Delete() error {
	for _, path := range []string{j.ConfigPath(), j.IndexPath(), j.OffsetsPath(), j.DataPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// writeConfig atomically replaces the configuration file and makes it
// durable. Callers must have synced the data files first: this write is the
// second phase of the commit.
func (j *Jar) writeConfig() error {
	payload, err := rlp.EncodeToBytes(&jarConfig{
		Version:     j.version,
		Columns:     uint64(j.columns),
		Compression: uint64(j.compression),
		Rows:        j.rows,
		Head:        j.header,
	})
	if err != nil {
		return err
	}
	var sum [checksumSize]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(payload))

	tmp := j.ConfigPath() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err = f.Write(append(payload, sum[:]...)); err != nil {
		f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp, j.ConfigPath()); err != nil {
		return err
	}
	return syncDir(filepath.Dir(j.ConfigPath()))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	err = d.Sync()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}
