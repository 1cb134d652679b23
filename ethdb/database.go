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

// Package ethdb defines the key-value database boundary the static file
// layer reconciles itself against. The static file provider only ever reads
// from it; writes happen in the sync pipeline, outside this module.
package ethdb

// KeyValueReader wraps the Has and Get method of a backing data store.
type KeyValueReader interface {
	// Has retrieves if a key is present in the key-value data store.
	Has(key []byte) (bool, error)

	// Get retrieves the given key if it's present in the key-value data store.
	Get(key []byte) ([]byte, error)
}

// KeyValueWriter wraps the Put method of a backing data store.
type KeyValueWriter interface {
	// Put inserts the given value into the key-value data store.
	Put(key []byte, value []byte) error

	// Delete removes the key from the key-value data store.
	Delete(key []byte) error
}

// Iterator walks a sorted slice of the key space. Key and Value are only
// valid until the next move; callers that retain them must copy.
type Iterator interface {
	// First moves the iterator to the first key of its range.
	First() bool

	// Last moves the iterator to the last key of its range.
	Last() bool

	// Next moves the iterator forward one key.
	Next() bool

	// Key returns the key of the current entry.
	Key() []byte

	// Value returns the value of the current entry.
	Value() []byte

	// Release frees the iterator's resources.
	Release()

	// Error returns any accumulated iteration error.
	Error() error
}

// Iteratee wraps the NewIteratorWithPrefix method of a backing data store.
type Iteratee interface {
	// NewIteratorWithPrefix creates an iterator over the subset of keys
	// starting with the given prefix, in ascending key order.
	NewIteratorWithPrefix(prefix []byte) Iterator
}

// Store is the composite interface the static file layer consumes.
type Store interface {
	KeyValueReader
	KeyValueWriter
	Iteratee

	// Close releases the underlying database handle.
	Close() error
}
