// Package transfer moves recording bytes: streaming downloads from signed source URLs and
// resumable chunked uploads to the destination host.
package transfer

import "sync"

// Progress is a byte-level transfer report. Total is zero when the size is unknown.
type Progress struct {
	Bytes int64
	Total int64
}

// Fraction returns the completed share in [0,1], or -1 when Total is unknown.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return -1
	}
	f := float64(p.Bytes) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// ProgressFunc receives progress reports. Reports never regress but may repeat.
type ProgressFunc func(Progress)

// monotonic drops reports that would move the byte count backwards, which happens when a
// resumed upload restarts from an offset below the last reported one.
type monotonic struct {
	mu   sync.Mutex
	fn   ProgressFunc
	last int64
}

func newMonotonic(fn ProgressFunc) *monotonic {
	return &monotonic{fn: fn}
}

func (m *monotonic) report(bytes, total int64) {
	if m == nil || m.fn == nil {
		return
	}
	m.mu.Lock()
	if bytes < m.last {
		m.mu.Unlock()
		return
	}
	m.last = bytes
	m.mu.Unlock()
	m.fn(Progress{Bytes: bytes, Total: total})
}
