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

// Package rawdb contains the low level accessors for the key-value database
// the static file layer checks itself against.
package rawdb

import (
	"encoding/binary"

	"github.com/ethfile/staticfile/segments"
)

// Key layout: single byte table prefix followed by the big-endian block or
// transaction number, so iteration order matches numeric order.
var (
	headerPrefix      = []byte("h") // headerPrefix + num -> header RLP
	transactionPrefix = []byte("t") // transactionPrefix + num -> tx bytes
	receiptPrefix     = []byte("r") // receiptPrefix + num -> receipt RLP
	bodyIndicesPrefix = []byte("b") // bodyIndicesPrefix + num -> indices RLP
	checkpointPrefix  = []byte("c") // checkpointPrefix + stage -> block num
)

// encodeNumber encodes a number as big endian uint64.
func encodeNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

// tablePrefix returns the table holding the database twin of a segment.
func tablePrefix(seg segments.Segment) []byte {
	switch seg {
	case segments.Headers:
		return headerPrefix
	case segments.Transactions:
		return transactionPrefix
	case segments.Receipts:
		return receiptPrefix
	default:
		return bodyIndicesPrefix
	}
}

func headerKey(number uint64) []byte {
	return append(headerPrefix, encodeNumber(number)...)
}

func transactionKey(number uint64) []byte {
	return append(transactionPrefix, encodeNumber(number)...)
}

func receiptKey(number uint64) []byte {
	return append(receiptPrefix, encodeNumber(number)...)
}

func bodyIndicesKey(number uint64) []byte {
	return append(bodyIndicesPrefix, encodeNumber(number)...)
}

func checkpointKey(stage segments.Stage) []byte {
	return append(checkpointPrefix, []byte(stage.String())...)
}
