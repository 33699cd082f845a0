package fees

import (
	"math"
	"time"
)

// Window keeps (timestamp, p50) samples inside a sliding interval. It is
// owned by the fee runner goroutine and is not safe for concurrent use.
type Window struct {
	span   time.Duration
	points []sample
}

type sample struct {
	ts  time.Time
	p50 int64
}

func NewWindow(span time.Duration) *Window {
	return &Window{span: span}
}

// Add appends one sample and prunes everything older than the window.
func (w *Window) Add(ts time.Time, p50 int64) {
	w.points = append(w.points, sample{ts: ts, p50: p50})

	cutoff := ts.Add(-w.span)
	kept := w.points[:0]
	for _, pt := range w.points {
		if !pt.ts.Before(cutoff) {
			kept = append(kept, pt)
		}
	}
	w.points = kept
}

// Stats summarizes the samples currently inside the window. An empty
// window reports zeros.
type Stats struct {
	Avg int64 `json:"avg"`
	Min int64 `json:"min"`
	Max int64 `json:"max"`
	N   int   `json:"n"`
}

func (w *Window) Stats() Stats {
	if len(w.points) == 0 {
		return Stats{}
	}

	var sum int64
	s := Stats{Min: w.points[0].p50, Max: w.points[0].p50, N: len(w.points)}
	for _, pt := range w.points {
		sum += pt.p50
		if pt.p50 < s.Min {
			s.Min = pt.p50
		}
		if pt.p50 > s.Max {
			s.Max = pt.p50
		}
	}
	s.Avg = int64(math.Round(float64(sum) / float64(len(w.points))))
	return s
}
