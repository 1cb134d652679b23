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

// Package staticfile manages a directory of immutable, append-only segment
// files holding historical chain data that no longer changes: headers,
// transactions, receipts and block body indices. Each segment is tiled into
// fixed-size block ranges, one jar of files per range, and the provider keeps
// an in-memory index from block and transaction numbers to the jar holding
// them.
package staticfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/cornelk/hashmap"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/tsdb/fileutil"
	"github.com/rjeczalik/notify"

	"github.com/ethfile/staticfile/jar"
	"github.com/ethfile/staticfile/segments"
)

// accessMode selects between the single mutating provider and any number of
// read-only ones.
type accessMode uint8

const (
	readOnly accessMode = iota
	readWrite
)

const (
	// lockFile guards the directory against concurrent writers, including
	// other processes.
	lockFile = "LOCK"

	// defaultRowCacheBytes sizes the raw row cache shared by all segments.
	defaultRowCacheBytes = 32 * 1024 * 1024

	// headerCacheEntries bounds the decoded header cache.
	headerCacheEntries = 4096
)

// Option configures a provider at construction time.
type Option func(*StaticFileProvider)

// WithBlocksPerFile overrides the fixed block range each jar covers. All
// providers and writers of one directory must agree on it.
func WithBlocksPerFile(n uint64) Option {
	return func(p *StaticFileProvider) {
		if n > 0 {
			p.blocksPerFile = n
		}
	}
}

// WithCompression selects the codec used for newly created jars. Existing
// jars keep the codec recorded in their configuration.
func WithCompression(c jar.Compression) Option {
	return func(p *StaticFileProvider) { p.compression = c }
}

// WithRowCacheBytes sizes the raw row cache. Zero disables it.
func WithRowCacheBytes(n int) Option {
	return func(p *StaticFileProvider) { p.rowCacheBytes = n }
}

// loadedJar pairs a committed jar descriptor with an open reader over its
// data files. Both are immutable once published into the jar cache; a newer
// commit replaces the whole pair.
type loadedJar struct {
	jar    *jar.Jar
	reader *jar.Reader
}

// StaticFileProvider is the entry point to a static file directory. It is
// safe for concurrent use; all mutation funnels through one writer per
// segment.
type StaticFileProvider struct {
	dir           string
	access        accessMode
	blocksPerFile uint64
	compression   jar.Compression
	rowCacheBytes int

	// jars caches open readers per segment, keyed by the inclusive end of
	// the jar's fixed block range.
	jars map[segments.Segment]*hashmap.Map[uint64, *loadedJar]

	// indexMu guards the number-to-jar index below.
	indexMu  sync.RWMutex
	minBlock map[segments.Segment]segments.Range
	maxBlock map[segments.Segment]uint64
	txIndex  map[segments.Segment]*txRangeIndex

	// earliestHistory is the first block whose transaction history is still
	// on disk. It trails expiry and is kept consistent with the index.
	earliestHistory atomic.Uint64

	writersMu sync.Mutex
	writers   map[segments.Segment]*Writer

	rowCache    *fastcache.Cache
	headerCache *lru.Cache

	flock fileutil.Releaser

	watchMu     sync.Mutex
	watchEvents chan notify.EventInfo
	watchQuit   chan struct{}
	watchDone   chan struct{}

	log log.Logger
}

// ReadOnly opens an existing static file directory without taking the
// directory lock. When watch is set, a background goroutine re-reads the
// index whenever another process commits or deletes a jar.
func ReadOnly(dir string, watch bool, opts ...Option) (*StaticFileProvider, error) {
	p, err := newProvider(dir, readOnly, opts...)
	if err != nil {
		return nil, err
	}
	if watch {
		if err := p.watchDirectory(); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// ReadWrite opens a static file directory for mutation, creating it if
// needed and taking an exclusive directory lock.
func ReadWrite(dir string, opts ...Option) (*StaticFileProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return newProvider(dir, readWrite, opts...)
}

func newProvider(dir string, access accessMode, opts ...Option) (*StaticFileProvider, error) {
	p := &StaticFileProvider{
		dir:           dir,
		access:        access,
		blocksPerFile: segments.DefaultBlocksPerFile,
		compression:   jar.Snappy,
		rowCacheBytes: defaultRowCacheBytes,
		jars:          make(map[segments.Segment]*hashmap.Map[uint64, *loadedJar]),
		minBlock:      make(map[segments.Segment]segments.Range),
		maxBlock:      make(map[segments.Segment]uint64),
		txIndex:       make(map[segments.Segment]*txRangeIndex),
		writers:       make(map[segments.Segment]*Writer),
		log:           log.New("database", dir),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, seg := range segments.All() {
		p.jars[seg] = hashmap.New[uint64, *loadedJar]()
	}
	if p.rowCacheBytes > 0 {
		p.rowCache = fastcache.New(p.rowCacheBytes)
	}
	cache, err := lru.New(headerCacheEntries)
	if err != nil {
		return nil, err
	}
	p.headerCache = cache

	if access == readWrite {
		flock, _, err := fileutil.Flock(filepath.Join(dir, lockFile))
		if err != nil {
			return nil, fmt.Errorf("static file directory already in use: %w", err)
		}
		p.flock = flock
	}
	if err := p.InitializeIndex(); err != nil {
		if p.flock != nil {
			p.flock.Release()
		}
		return nil, err
	}
	return p, nil
}

// IsReadOnly reports whether the provider was opened without write access.
func (p *StaticFileProvider) IsReadOnly() bool { return p.access == readOnly }

// Dir returns the managed directory.
func (p *StaticFileProvider) Dir() string { return p.dir }

// BlocksPerFile returns the fixed block range width of this directory.
func (p *StaticFileProvider) BlocksPerFile() uint64 { return p.blocksPerFile }

// Close stops the watcher, closes every cached reader and open writer, and
// releases the directory lock.
func (p *StaticFileProvider) Close() error {
	p.stopWatcher()

	p.writersMu.Lock()
	var err error
	for seg, w := range p.writers {
		if cerr := w.close(); err == nil {
			err = cerr
		}
		delete(p.writers, seg)
	}
	p.writersMu.Unlock()

	for _, m := range p.jars {
		m.Range(func(end uint64, lj *loadedJar) bool {
			if cerr := lj.reader.Close(); err == nil {
				err = cerr
			}
			m.Del(end)
			return true
		})
	}
	if p.flock != nil {
		if cerr := p.flock.Release(); err == nil {
			err = cerr
		}
		p.flock = nil
	}
	return err
}

// findFixedRange returns the fixed block range tile containing block.
func (p *StaticFileProvider) findFixedRange(block uint64) segments.Range {
	return segments.FindFixedRange(block, p.blocksPerFile)
}

// jarPath returns the data file path of the jar tiling the given range.
func (p *StaticFileProvider) jarPath(seg segments.Segment, rng segments.Range) string {
	return filepath.Join(p.dir, seg.Filename(rng))
}

// getOrCreateJar returns the cached reader for a fixed range, loading the
// committed jar from disk on a miss. Concurrent loaders race benignly; the
// loser's reader is closed.
func (p *StaticFileProvider) getOrCreateJar(seg segments.Segment, rng segments.Range) (*loadedJar, error) {
	m := p.jars[seg]
	if lj, ok := m.Get(rng.End); ok {
		jarHitMeter.Mark(1)
		return lj, nil
	}
	jarMissMeter.Mark(1)

	j, err := jar.Load(p.jarPath(seg, rng))
	if err != nil {
		return nil, err
	}
	reader, err := j.Open()
	if err != nil {
		return nil, err
	}
	lj := &loadedJar{jar: j, reader: reader}
	if actual, loaded := m.GetOrInsert(rng.End, lj); loaded {
		reader.Close()
		return actual, nil
	}
	return lj, nil
}

// jarForBlock resolves the jar holding a block, or a MissingBlockError when
// the segment's on-disk ranges do not reach it.
func (p *StaticFileProvider) jarForBlock(seg segments.Segment, block uint64) (*loadedJar, error) {
	p.indexMu.RLock()
	max, ok := p.maxBlock[seg]
	p.indexMu.RUnlock()
	if !ok || block > max {
		return nil, &MissingBlockError{Segment: seg, Block: block}
	}
	return p.getOrCreateJar(seg, p.findFixedRange(block))
}

// jarForTx resolves the jar holding a transaction number by walking the
// ordered transaction index backwards, newest range first.
func (p *StaticFileProvider) jarForTx(seg segments.Segment, tx uint64) (*loadedJar, error) {
	p.indexMu.RLock()
	var blockRange segments.Range
	found := false
	if idx := p.txIndex[seg]; idx != nil {
		blockRange, found = idx.findRange(tx)
	}
	p.indexMu.RUnlock()
	if !found {
		return nil, &MissingTxError{Segment: seg, Tx: tx}
	}
	return p.getOrCreateJar(seg, p.findFixedRange(blockRange.End))
}

// HighestBlock returns the highest block committed to a segment.
func (p *StaticFileProvider) HighestBlock(seg segments.Segment) (uint64, bool) {
	p.indexMu.RLock()
	defer p.indexMu.RUnlock()
	max, ok := p.maxBlock[seg]
	return max, ok
}

// HighestTx returns the highest transaction number committed to a segment.
func (p *StaticFileProvider) HighestTx(seg segments.Segment) (uint64, bool) {
	p.indexMu.RLock()
	defer p.indexMu.RUnlock()
	if idx := p.txIndex[seg]; idx != nil {
		if end, _, ok := idx.last(); ok {
			return end, true
		}
	}
	return 0, false
}

// lastCommittedTxBelow returns the committed transaction tip among jars whose
// block range lies entirely below blockStart. Entries at or above blockStart
// may be stale copies of the jar currently being rewritten and are ignored.
func (p *StaticFileProvider) lastCommittedTxBelow(seg segments.Segment, blockStart uint64) (uint64, bool) {
	p.indexMu.RLock()
	defer p.indexMu.RUnlock()
	idx := p.txIndex[seg]
	if idx == nil {
		return 0, false
	}
	end, blocks, ok := idx.last()
	if !ok || blocks.End >= blockStart {
		return 0, false
	}
	return end, true
}

// LowestRange returns the block range of the oldest jar of a segment. After
// history expiry the start may be greater than zero.
func (p *StaticFileProvider) LowestRange(seg segments.Segment) (segments.Range, bool) {
	p.indexMu.RLock()
	defer p.indexMu.RUnlock()
	rng, ok := p.minBlock[seg]
	return rng, ok
}

// HighestStaticFiles is a snapshot of per-segment tips, used by sync code to
// decide where database tables take over.
type HighestStaticFiles struct {
	Headers      *uint64
	Transactions *uint64
	Receipts     *uint64
	BlockMeta    *uint64
}

// Highest returns the tip snapshot across all segments.
func (p *StaticFileProvider) Highest() HighestStaticFiles {
	p.indexMu.RLock()
	defer p.indexMu.RUnlock()
	get := func(seg segments.Segment) *uint64 {
		if max, ok := p.maxBlock[seg]; ok {
			v := max
			return &v
		}
		return nil
	}
	return HighestStaticFiles{
		Headers:      get(segments.Headers),
		Transactions: get(segments.Transactions),
		Receipts:     get(segments.Receipts),
		BlockMeta:    get(segments.BlockMeta),
	}
}

// EarliestHistoryHeight returns the first block whose transaction history has
// not been expired, zero when nothing was ever expired.
func (p *StaticFileProvider) EarliestHistoryHeight() uint64 {
	return p.earliestHistory.Load()
}

// DeleteJar removes the whole jar containing block from a segment and
// rebuilds the index. The caller must ensure no reader needs the range.
func (p *StaticFileProvider) DeleteJar(seg segments.Segment, block uint64) error {
	if p.access != readWrite {
		return ErrReadOnly
	}
	rng := p.findFixedRange(block)

	var j *jar.Jar
	if lj, ok := p.jars[seg].Get(rng.End); ok {
		p.jars[seg].Del(rng.End)
		j = lj.jar
	} else {
		loaded, err := jar.Load(p.jarPath(seg, rng))
		if err != nil {
			return err
		}
		j = loaded
	}
	if err := j.Delete(); err != nil {
		return err
	}
	p.log.Info("Deleted static file jar", "segment", seg, "range", rng)
	return p.InitializeIndex()
}

// DeleteTransactionsBelow expires transaction history strictly below the
// given block by deleting whole jars from the transactions segment. Jars
// overlapping the boundary are kept.
func (p *StaticFileProvider) DeleteTransactionsBelow(block uint64) error {
	if p.access != readWrite {
		return ErrReadOnly
	}
	if block == 0 {
		return nil
	}
	for {
		rng, ok := p.LowestRange(segments.Transactions)
		if !ok || rng.End >= block {
			return nil
		}
		if err := p.DeleteJar(segments.Transactions, rng.End); err != nil {
			return err
		}
	}
}

// purgeValueCaches drops all decoded and raw row caches. Called whenever rows
// are removed so stale values cannot be served.
func (p *StaticFileProvider) purgeValueCaches() {
	if p.rowCache != nil {
		p.rowCache.Reset()
	}
	p.headerCache.Purge()
}

// dropJarReaders forgets cached readers of one segment whose fixed range end
// is strictly above keepEnd. Evicted readers are not closed eagerly: a
// concurrent cursor may still be mid-read, and the file handles are reclaimed
// once the last reference drops.
func (p *StaticFileProvider) dropJarReaders(seg segments.Segment, keepEnd uint64) {
	m := p.jars[seg]
	m.Range(func(end uint64, _ *loadedJar) bool {
		if end > keepEnd {
			m.Del(end)
		}
		return true
	})
}

// dropAllJarReaders forgets every cached reader of one segment.
func (p *StaticFileProvider) dropAllJarReaders(seg segments.Segment) {
	m := p.jars[seg]
	m.Range(func(end uint64, _ *loadedJar) bool {
		m.Del(end)
		return true
	})
}
