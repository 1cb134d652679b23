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
	"strings"
	"time"

	"github.com/rjeczalik/notify"

	"github.com/ethfile/staticfile/segments"
)

// watchDirectory starts a goroutine rebuilding the index whenever another
// process commits, prunes or deletes a jar. Only configuration files matter:
// they are the commit markers, everything else changes before them.
func (p *StaticFileProvider) watchDirectory() error {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	if p.watchEvents != nil {
		return nil
	}
	events := make(chan notify.EventInfo, 64)
	if err := notify.Watch(p.dir, events, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}
	p.watchEvents = events
	p.watchQuit = make(chan struct{})
	p.watchDone = make(chan struct{})
	go p.watchLoop(events, p.watchQuit, p.watchDone)
	return nil
}

func (p *StaticFileProvider) stopWatcher() {
	p.watchMu.Lock()
	defer p.watchMu.Unlock()
	if p.watchEvents == nil {
		return
	}
	notify.Stop(p.watchEvents)
	close(p.watchQuit)
	<-p.watchDone
	p.watchEvents = nil
	p.watchQuit = nil
	p.watchDone = nil
}

func (p *StaticFileProvider) watchLoop(events chan notify.EventInfo, quit chan struct{}, done chan struct{}) {
	defer close(done)

	// Editors and the writer's own rename dance can fire several events for
	// one commit; the modification time filters the echoes out.
	seen := make(map[string]time.Time)
	for {
		select {
		case <-quit:
			return
		case ev := <-events:
			watchEventMeter.Mark(1)
			name := filepath.Base(ev.Path())
			suffix := "." + segments.ExtConfig
			if !strings.HasSuffix(name, suffix) {
				continue
			}
			if _, _, ok := segments.ParseFilename(strings.TrimSuffix(name, suffix)); !ok {
				continue
			}
			if ev.Event()&(notify.Remove|notify.Rename) != 0 {
				delete(seen, ev.Path())
			} else {
				stat, err := os.Stat(ev.Path())
				if err != nil {
					continue
				}
				if prev, ok := seen[ev.Path()]; ok && prev.Equal(stat.ModTime()) {
					continue
				}
				seen[ev.Path()] = stat.ModTime()
			}
			if err := p.InitializeIndex(); err != nil {
				p.log.Warn("Static file re-index failed", "file", name, "err", err)
			}
		}
	}
}
