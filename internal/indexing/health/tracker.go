package health

import (
	"sync"
	"time"
)

// Status thresholds. A stream degrades after missing a few expected
// beats and goes critical when it has been silent for much longer or
// keeps failing consecutively.
const (
	degradedMissedBeats = 3
	criticalMissedBeats = 10
	criticalErrorStreak = 5
)

// Tracker aggregates liveness beats from the watch streams. Runners
// feed it through Stream handles; the HTTP server reads Report.
type Tracker struct {
	mu      sync.Mutex
	streams map[string]*streamState
	now     func() time.Time
}

type streamState struct {
	interval time.Duration
	lastOK   time.Time
	height   int64
	errs     int
	lastErr  string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		streams: make(map[string]*streamState),
		now:     time.Now,
	}
}

// Stream registers a stream with its expected beat interval and
// returns the handle its runner feeds. Registering the same name twice
// returns a handle to the same state.
func (t *Tracker) Stream(name string, interval time.Duration) *Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[name]
	if !ok {
		s = &streamState{interval: interval}
		t.streams[name] = s
	}
	return &Stream{tracker: t, state: s}
}

// Stream feeds one stream's cycle outcomes to the tracker. A nil
// *Stream discards everything, so runners can hold one unconditionally.
type Stream struct {
	tracker *Tracker
	state   *streamState
}

// Beat records a successful cycle. A non-positive height leaves the
// last known height in place (fee cycles have none).
func (s *Stream) Beat(height int64) {
	if s == nil {
		return
	}
	s.tracker.mu.Lock()
	defer s.tracker.mu.Unlock()
	s.state.lastOK = s.tracker.now()
	if height > 0 {
		s.state.height = height
	}
	s.state.errs = 0
	s.state.lastErr = ""
}

// Fail records a failed cycle.
func (s *Stream) Fail(err error) {
	if s == nil || err == nil {
		return
	}
	s.tracker.mu.Lock()
	defer s.tracker.mu.Unlock()
	s.state.errs++
	s.state.lastErr = err.Error()
}

// Report builds the current liveness report.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()

	rep := Report{
		Status:  StatusHealthy,
		Streams: make(map[string]StreamHealth, len(t.streams)),
	}
	for name, s := range t.streams {
		sh := StreamHealth{
			Status:            StatusHealthy,
			Height:            s.height,
			ConsecutiveErrors: s.errs,
			LastError:         s.lastErr,
		}
		if !s.lastOK.IsZero() {
			age := t.now().Sub(s.lastOK)
			sh.LastSuccess = s.lastOK.UTC().Format(time.RFC3339)
			sh.AgeSecs = int64(age / time.Second)
			switch {
			case age >= time.Duration(criticalMissedBeats)*s.interval:
				sh.Status = StatusCritical
			case age >= time.Duration(degradedMissedBeats)*s.interval:
				sh.Status = StatusDegraded
			}
		}
		switch {
		case s.errs >= criticalErrorStreak:
			sh.Status = StatusCritical
		case s.errs > 0:
			sh.Status = worst(sh.Status, StatusDegraded)
		}

		rep.Streams[name] = sh
		rep.Status = worst(rep.Status, sh.Status)
	}
	return rep
}
