package progress

import (
	"errors"
	"testing"

	"github.com/Faultbox/geoterrain/internal/loader"
)

func TestTrackerFollowsManager(t *testing.T) {
	m := loader.NewManager()
	tr := NewTracker()
	detach := tr.Attach(m)
	defer detach()

	var seen []State
	tr.Observe(func(s State) { seen = append(seen, s) })

	m.ItemStart("data/dem.tif")
	s := tr.Snapshot()
	if s.Phase != PhaseFetching || s.ItemsTotal != 1 || s.StatusMsg != "Loading dem.tif" {
		t.Errorf("unexpected state after start: %+v", s)
	}

	m.ItemStart("data/ortho.tif")
	m.ItemEnd("data/dem.tif")
	s = tr.Snapshot()
	if s.Progress != 0.5 || s.ItemsLoaded != 1 || s.ItemsTotal != 2 {
		t.Errorf("expected half progress, got %+v", s)
	}

	m.ItemError("data/ortho.tif", errors.New("404 Not Found"))
	m.ItemEnd("data/ortho.tif")
	s = tr.Snapshot()
	if s.ErrorMsg != "404 Not Found" {
		t.Errorf("expected last error recorded, got %q", s.ErrorMsg)
	}
	if s.Phase != PhaseBuilding || s.Progress != 1 {
		t.Errorf("expected building phase at full progress, got %+v", s)
	}
	if s.IsComplete {
		t.Error("tracker should not complete before Finish")
	}

	if len(seen) == 0 {
		t.Error("observer received no snapshots")
	}
}

func TestTrackerFinish(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		phase Phase
	}{
		{"success", nil, PhaseDone},
		{"failure", errors.New("no UTM zone"), PhaseFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			var last State
			unobserve := tr.Observe(func(s State) { last = s })

			tr.Finish(tt.err)
			if !last.IsComplete || last.Phase != tt.phase {
				t.Errorf("unexpected final state %+v", last)
			}
			if tt.err != nil && last.ErrorMsg != tt.err.Error() {
				t.Errorf("expected error %q, got %q", tt.err, last.ErrorMsg)
			}

			unobserve()
			tr.Finish(nil)
			if last.Phase != tt.phase {
				t.Error("removed observer still notified")
			}
		})
	}
}

func TestNewTrackerIdle(t *testing.T) {
	s := NewTracker().Snapshot()
	if s.Phase != PhaseIdle || s.Progress != 0 || s.IsComplete {
		t.Errorf("unexpected initial state %+v", s)
	}
}
