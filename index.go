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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethfile/staticfile/jar"
	"github.com/ethfile/staticfile/segments"
)

// txRangeIndex maps the highest transaction number of each jar to the block
// range the jar covers, ordered by transaction number. Lookups walk the
// ordered keys backwards: recent ranges are queried far more often than old
// ones.
type txRangeIndex struct {
	ends   []uint64 // ascending
	ranges map[uint64]segments.Range
}

func newTxRangeIndex() *txRangeIndex {
	return &txRangeIndex{ranges: make(map[uint64]segments.Range)}
}

func (t *txRangeIndex) insert(txEnd uint64, blocks segments.Range) {
	if _, ok := t.ranges[txEnd]; !ok {
		i := sort.Search(len(t.ends), func(i int) bool { return t.ends[i] >= txEnd })
		t.ends = append(t.ends, 0)
		copy(t.ends[i+1:], t.ends[i:])
		t.ends[i] = txEnd
	}
	t.ranges[txEnd] = blocks
}

// retain drops every entry whose block range fails the predicate.
func (t *txRangeIndex) retain(keep func(segments.Range) bool) {
	kept := t.ends[:0]
	for _, end := range t.ends {
		if keep(t.ranges[end]) {
			kept = append(kept, end)
		} else {
			delete(t.ranges, end)
		}
	}
	t.ends = kept
}

func (t *txRangeIndex) len() int { return len(t.ends) }

func (t *txRangeIndex) last() (uint64, segments.Range, bool) {
	if len(t.ends) == 0 {
		return 0, segments.Range{}, false
	}
	end := t.ends[len(t.ends)-1]
	return end, t.ranges[end], true
}

// findRange returns the block range of the jar holding tx. Walks newest to
// oldest; the first entry whose end covers tx wins, and an older entry
// already covering tx ends the walk early.
func (t *txRangeIndex) findRange(tx uint64) (segments.Range, bool) {
	for i := len(t.ends) - 1; i >= 0; i-- {
		end := t.ends[i]
		if tx > end {
			return segments.Range{}, false
		}
		if i == 0 || t.ends[i-1] < tx {
			return t.ranges[end], true
		}
	}
	return segments.Range{}, false
}

// jarRanges describes one on-disk jar as seen by the directory scan.
type jarRanges struct {
	blockRange segments.Range
	txRange    *segments.Range
}

// iterStaticFiles scans a directory for committed jars and returns their
// ranges per segment, ordered by block range. Jars whose committed block
// range is empty hold no rows and are skipped.
func iterStaticFiles(dir string) (map[segments.Segment][]jarRanges, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[segments.Segment][]jarRanges{}, nil
		}
		return nil, err
	}
	files := make(map[segments.Segment][]jarRanges)
	for _, entry := range entries {
		name := entry.Name()
		suffix := "." + segments.ExtConfig
		if entry.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		stem := strings.TrimSuffix(name, suffix)
		seg, _, ok := segments.ParseFilename(stem)
		if !ok {
			continue
		}
		j, err := jar.Load(filepath.Join(dir, stem))
		if err != nil {
			return nil, err
		}
		head := j.UserHeader()
		if head.BlockRange == nil {
			continue
		}
		files[seg] = append(files[seg], jarRanges{
			blockRange: *head.BlockRange,
			txRange:    copyRange(head.TxRange),
		})
	}
	for seg := range files {
		jars := files[seg]
		sort.Slice(jars, func(i, k int) bool {
			return jars[i].blockRange.Start < jars[k].blockRange.Start
		})
		files[seg] = jars
	}
	return files, nil
}

func copyRange(r *segments.Range) *segments.Range {
	if r == nil {
		return nil
	}
	v := *r
	return &v
}

// InitializeIndex rebuilds the whole in-memory index from the directory
// contents and drops every cached reader. Safe to call at any time; readers
// racing the rebuild see either the old or the new index, both internally
// consistent.
func (p *StaticFileProvider) InitializeIndex() error {
	defer func(start time.Time) { reindexTimer.UpdateSince(start) }(time.Now())

	files, err := iterStaticFiles(p.dir)
	if err != nil {
		return err
	}

	p.indexMu.Lock()
	defer p.indexMu.Unlock()

	for seg := range p.minBlock {
		delete(p.minBlock, seg)
	}
	for seg := range p.maxBlock {
		delete(p.maxBlock, seg)
	}
	for seg := range p.txIndex {
		delete(p.txIndex, seg)
	}

	for seg, jars := range files {
		p.minBlock[seg] = jars[0].blockRange
		p.maxBlock[seg] = jars[len(jars)-1].blockRange.End
		if !seg.IsTxBased() {
			continue
		}
		idx := newTxRangeIndex()
		for _, jr := range jars {
			if jr.txRange != nil {
				idx.insert(jr.txRange.End, jr.blockRange)
			}
		}
		if idx.len() > 0 {
			p.txIndex[seg] = idx
		}
	}

	if rng, ok := p.minBlock[segments.Transactions]; ok {
		p.earliestHistory.Store(rng.Start)
	} else {
		p.earliestHistory.Store(0)
	}

	for _, seg := range segments.All() {
		p.dropAllJarReaders(seg)
	}
	// An external prune or reorg may have replaced rows under numbers the
	// caches already hold.
	p.purgeValueCaches()
	p.log.Debug("Rebuilt static file index", "segments", len(files))
	return nil
}

// updateIndex folds one committed jar into the index after a writer commit.
// A nil maxBlock removes the segment entirely, mirroring a commit that left
// the segment empty.
func (p *StaticFileProvider) updateIndex(seg segments.Segment, maxBlock *uint64) error {
	p.indexMu.Lock()
	defer p.indexMu.Unlock()

	if maxBlock == nil {
		delete(p.maxBlock, seg)
		delete(p.minBlock, seg)
		delete(p.txIndex, seg)
		p.dropAllJarReaders(seg)
		return nil
	}

	p.maxBlock[seg] = *maxBlock
	rng := p.findFixedRange(*maxBlock)

	j, err := jar.Load(p.jarPath(seg, rng))
	if err != nil {
		return err
	}
	head := j.UserHeader()

	if seg.IsTxBased() {
		idx := p.txIndex[seg]
		if idx == nil {
			idx = newTxRangeIndex()
			p.txIndex[seg] = idx
		}
		// The committed jar supersedes any entry of the same fixed range
		// left by an earlier commit or prune.
		idx.retain(func(blocks segments.Range) bool { return blocks.Start < rng.Start })
		if head.TxRange != nil && head.BlockRange != nil {
			idx.insert(head.TxRange.End, *head.BlockRange)
		}
		if idx.len() == 0 {
			delete(p.txIndex, seg)
		}
	}
	if head.BlockRange != nil {
		if min, ok := p.minBlock[seg]; !ok || head.BlockRange.Start <= min.Start {
			p.minBlock[seg] = *head.BlockRange
		}
	}

	reader, err := j.Open()
	if err != nil {
		return err
	}
	p.jars[seg].Set(rng.End, &loadedJar{jar: j, reader: reader})
	p.dropJarReaders(seg, rng.End)
	return nil
}
