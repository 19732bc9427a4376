// SPDX-License-Identifier: MIT

package admission

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Processing writes one scratch artifact per candidate plus the final
// encode, so an upload can transiently occupy several times its size.
const diskOverheadFactor = 3

var reservedGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "audiolevel",
	Name:      "disk_reserved_bytes",
	Help:      "Bytes reserved for in-flight uploads",
})

// DiskGate admits uploads only when the filesystem can hold the upload,
// its processing overhead, every other in-flight upload's overhead, and a
// configured floor of free space. Reservations bridge the gap between the
// free-space check and the job's terminal state.
type DiskGate struct {
	dir     string
	minFree int64

	mu       sync.Mutex
	reserved int64
}

// NewDiskGate gates admissions against the filesystem holding dir.
func NewDiskGate(dir string, minFree int64) *DiskGate {
	return &DiskGate{dir: dir, minFree: minFree}
}

// Reserve claims space for an upload of the given size. The returned
// release must be called exactly once, when the job reaches a terminal
// state or admission aborts. A false return means insufficient storage.
func (g *DiskGate) Reserve(size int64) (release func(), ok bool, err error) {
	avail, err := availableBytes(g.dir)
	if err != nil {
		return nil, false, err
	}
	need := size * diskOverheadFactor

	g.mu.Lock()
	defer g.mu.Unlock()
	if avail-g.reserved-need < g.minFree {
		return nil, false, nil
	}
	g.reserved += need
	reservedGauge.Set(float64(g.reserved))

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.reserved -= need
			reservedGauge.Set(float64(g.reserved))
			g.mu.Unlock()
		})
	}, true, nil
}

// Reserved reports the bytes currently held by in-flight uploads.
func (g *DiskGate) Reserved() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reserved
}
