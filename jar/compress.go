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
	"fmt"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the per-value codec of a jar's data file. The choice
// is recorded in the configuration file and fixed for the jar's lifetime.
type Compression uint8

const (
	// NoCompression stores values verbatim.
	NoCompression Compression = iota
	// Snappy favors decode speed, the default for hot segments.
	Snappy
	// Zstd favors size, suited to receipts and other cold data.
	Zstd
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
)

func zstdInit() {
	// EncodeAll/DecodeAll are stateless on these handles, so a single pair
	// is shared by all jars.
	zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDec, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
}

func compress(c Compression, src []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return src, nil
	case Snappy:
		return snappy.Encode(nil, src), nil
	case Zstd:
		zstdOnce.Do(zstdInit)
		return zstdEnc.EncodeAll(src, nil), nil
	default:
		return nil, fmt.Errorf("unknown compression %d", uint8(c))
	}
}

func decompress(c Compression, src []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return src, nil
	case Snappy:
		return snappy.Decode(nil, src)
	case Zstd:
		zstdOnce.Do(zstdInit)
		return zstdDec.DecodeAll(src, nil)
	default:
		return nil, fmt.Errorf("unknown compression %d", uint8(c))
	}
}
