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
	"fmt"

	"github.com/ethereum/go-ethereum/metrics"
)

var (
	jarHitMeter  = metrics.NewRegisteredMeter("staticfile/jar/hit", nil)
	jarMissMeter = metrics.NewRegisteredMeter("staticfile/jar/miss", nil)

	rowCacheHitMeter  = metrics.NewRegisteredMeter("staticfile/rowcache/hit", nil)
	rowCacheMissMeter = metrics.NewRegisteredMeter("staticfile/rowcache/miss", nil)

	readRowTimer    = metrics.NewRegisteredTimer("staticfile/read/row", nil)
	commitTimer     = metrics.NewRegisteredTimer("staticfile/write/commit", nil)
	reindexTimer    = metrics.NewRegisteredTimer("staticfile/index/rebuild", nil)
	watchEventMeter = metrics.NewRegisteredMeter("staticfile/watch/events", nil)
)

// ReportMetrics publishes per-segment row counts and on-disk byte sizes as
// gauges. Intended to be called periodically from a stats loop.
func (p *StaticFileProvider) ReportMetrics() error {
	stats, err := p.Stats()
	if err != nil {
		return err
	}
	for seg, s := range stats {
		metrics.GetOrRegisterGauge(fmt.Sprintf("staticfile/%s/rows", seg), nil).Update(int64(s.Rows))
		metrics.GetOrRegisterGauge(fmt.Sprintf("staticfile/%s/bytes", seg), nil).Update(s.Bytes)
	}
	return nil
}
