// Package progress models the loading overlay: item counts, percentage,
// status text and the last error of a terrain load.
package progress

import (
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/geoterrain/internal/loader"
	"github.com/Faultbox/geoterrain/internal/logger"
)

// Phase is the coarse state of a load.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseBuilding Phase = "building"
	PhaseDone     Phase = "done"
	PhaseFailed   Phase = "failed"
)

// State is a snapshot of the overlay.
type State struct {
	Phase       Phase         `json:"phase"`
	StatusMsg   string        `json:"status"`
	ErrorMsg    string        `json:"error,omitempty"`
	Progress    float64       `json:"progress"` // 0.0 to 1.0
	ItemsLoaded int           `json:"itemsLoaded"`
	ItemsTotal  int           `json:"itemsTotal"`
	CurrentURL  string        `json:"url,omitempty"`
	IsComplete  bool          `json:"complete"`
	Elapsed     time.Duration `json:"elapsedNs"`
}

// Tracker turns Manager events into overlay state and fans snapshots out to
// observers. It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	state     State
	startTime time.Time
	observers map[int]func(State)
	nextID    int
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		state:     State{Phase: PhaseIdle, StatusMsg: "Waiting..."},
		observers: make(map[int]func(State)),
	}
}

// Attach subscribes the tracker to m and returns the unsubscribe function.
func (t *Tracker) Attach(m *loader.Manager) func() {
	return m.Subscribe(t.handle)
}

// Observe registers fn to receive every new snapshot and returns a function
// that removes it. Observers run on the goroutine that caused the change.
func (t *Tracker) Observe(fn func(State)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	if !t.startTime.IsZero() && !s.IsComplete {
		s.Elapsed = time.Since(t.startTime)
	}
	return s
}

// Finish marks the load complete, failed if err is non-nil.
func (t *Tracker) Finish(err error) {
	t.update(func(s *State) {
		s.IsComplete = true
		s.Elapsed = time.Since(t.startTime)
		if err != nil {
			s.Phase = PhaseFailed
			s.ErrorMsg = err.Error()
			s.StatusMsg = "Load failed"
			return
		}
		s.Phase = PhaseDone
		s.Progress = 1
		s.StatusMsg = "Terrain ready"
	})
}

func (t *Tracker) handle(ev loader.Event) {
	t.update(func(s *State) {
		s.ItemsLoaded, s.ItemsTotal = ev.Loaded, ev.Total
		if ev.Total > 0 {
			s.Progress = float64(ev.Loaded) / float64(ev.Total)
		}

		switch ev.Kind {
		case loader.EventStart:
			if t.startTime.IsZero() {
				t.startTime = time.Now()
			}
			s.Phase = PhaseFetching
		case loader.EventItemStart:
			s.Phase = PhaseFetching
			s.CurrentURL = ev.URL
			s.StatusMsg = fmt.Sprintf("Loading %s", path.Base(ev.URL))
		case loader.EventProgress:
			s.StatusMsg = fmt.Sprintf("Loaded %d of %d", ev.Loaded, ev.Total)
		case loader.EventError:
			s.ErrorMsg = ev.Err.Error()
			logger.Debug("load item failed", zap.String("url", ev.URL), zap.Error(ev.Err))
		case loader.EventLoad:
			s.Phase = PhaseBuilding
			s.StatusMsg = "Building terrain..."
		}
	})
}

func (t *Tracker) update(fn func(*State)) {
	t.mu.Lock()
	fn(&t.state)
	snap := t.state
	observers := make([]func(State), 0, len(t.observers))
	for _, o := range t.observers {
		observers = append(observers, o)
	}
	t.mu.Unlock()

	for _, o := range observers {
		o(snap)
	}
}
