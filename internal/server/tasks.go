package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/geoterrain/internal/geo"
	"github.com/Faultbox/geoterrain/internal/loader"
	"github.com/Faultbox/geoterrain/internal/logger"
	"github.com/Faultbox/geoterrain/internal/progress"
	"github.com/Faultbox/geoterrain/internal/viewer"
)

// TaskStatus is the lifecycle state of a load task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// LoadRequest is the body of POST /terrains. Omitted fields take the
// server defaults; ZScale and ZOffset may be set to 0 explicitly.
type LoadRequest struct {
	DEM                string   `json:"dem" binding:"required"`
	Orthophoto         string   `json:"orthophoto"`
	OrthophotoOptional bool     `json:"orthophotoOptional"`
	ZScale             *float64 `json:"zScale,omitempty"`
	ZOffset            *float64 `json:"zOffset,omitempty"`
	MaxSamples         int      `json:"maxSamples"`
}

// Task is one terrain load and, once it completes, the loaded terrain.
type Task struct {
	ID        string
	Request   LoadRequest
	CreatedAt time.Time
	Tracker   *progress.Tracker

	mu        sync.RWMutex
	status    TaskStatus
	startedAt *time.Time
	endedAt   *time.Time
	err       error
	result    *loader.Result
	viewer    *viewer.Viewer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// TaskInfo is the JSON view of a task.
type TaskInfo struct {
	ID        string         `json:"id"`
	Status    TaskStatus     `json:"status"`
	Request   LoadRequest    `json:"request"`
	CreatedAt time.Time      `json:"createdAt"`
	StartedAt *time.Time     `json:"startedAt,omitempty"`
	EndedAt   *time.Time     `json:"endedAt,omitempty"`
	Error     string         `json:"error,omitempty"`
	Progress  progress.State `json:"progress"`
	Terrain   *TerrainInfo   `json:"terrain,omitempty"`
}

// TerrainInfo summarizes a loaded terrain.
type TerrainInfo struct {
	Name      string     `json:"name"`
	Width     int        `json:"width"`
	Height    int        `json:"height"`
	UTMZone   string     `json:"utmZone"`
	Origin    [3]float64 `json:"origin"`
	Vertices  int        `json:"vertices"`
	Triangles int        `json:"triangles"`
	MinHeight float64    `json:"minHeight"`
	MaxHeight float64    `json:"maxHeight"`
	Textured  bool       `json:"textured"`
}

// Done is closed when the task finishes for any reason.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel stops the load if it is still running.
func (t *Task) Cancel() { t.cancel() }

// Status returns the current status.
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Result returns the load result and the viewer holding it, or nil before
// the task completes.
func (t *Task) Result() (*loader.Result, *viewer.Viewer) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result, t.viewer
}

// Info returns a snapshot for JSON responses.
func (t *Task) Info() TaskInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info := TaskInfo{
		ID:        t.ID,
		Status:    t.status,
		Request:   t.Request,
		CreatedAt: t.CreatedAt,
		StartedAt: t.startedAt,
		EndedAt:   t.endedAt,
		Progress:  t.Tracker.Snapshot(),
	}
	if t.err != nil {
		info.Error = t.err.Error()
	}
	if res := t.result; res != nil {
		ter := res.Terrain
		lo, hi := ter.Sampler.Range()
		p := ter.Object.Position
		info.Terrain = &TerrainInfo{
			Name:      ter.Object.Name,
			Width:     ter.Reference.Width,
			Height:    ter.Reference.Height,
			UTMZone:   ter.Reference.Zone.String(),
			Origin:    [3]float64{p.X, p.Y, p.Z},
			Vertices:  len(ter.Mesh.Vertices),
			Triangles: ter.Mesh.TriangleCount(),
			MinHeight: lo,
			MaxHeight: hi,
			Textured:  res.Texture != nil,
		}
	}
	return info
}

func (t *Task) setStatus(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = status
	now := time.Now()
	switch status {
	case TaskStatusRunning:
		t.startedAt = &now
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		t.endedAt = &now
	}
}

// TaskManager runs load tasks with a cap on concurrent loads and forgets
// finished tasks after a TTL.
type TaskManager struct {
	mu    sync.RWMutex
	tasks map[string]*Task

	sem      chan struct{}
	ttl      time.Duration
	defaults loader.Options
	fetcher  loader.Fetcher
	conv     geo.UTMConverter
}

// NewTaskManager creates a manager. maxLoads <= 0 means one load at a time.
func NewTaskManager(maxLoads int, ttl time.Duration, defaults loader.Options, fetcher loader.Fetcher, conv geo.UTMConverter) *TaskManager {
	if maxLoads <= 0 {
		maxLoads = 1
	}
	return &TaskManager{
		tasks:    make(map[string]*Task),
		sem:      make(chan struct{}, maxLoads),
		ttl:      ttl,
		defaults: defaults,
		fetcher:  fetcher,
		conv:     conv,
	}
}

// Start registers a task for req and begins loading in the background.
func (tm *TaskManager) Start(req LoadRequest) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{
		ID:        uuid.New().String(),
		Request:   req,
		CreatedAt: time.Now(),
		Tracker:   progress.NewTracker(),
		status:    TaskStatusPending,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	tm.mu.Lock()
	tm.tasks[task.ID] = task
	tm.mu.Unlock()

	go tm.run(task)
	return task
}

// Get returns the task with id.
func (tm *TaskManager) Get(id string) (*Task, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	task, ok := tm.tasks[id]
	return task, ok
}

// List returns all tasks, oldest first.
func (tm *TaskManager) List() []*Task {
	tm.mu.RLock()
	out := make([]*Task, 0, len(tm.tasks))
	for _, t := range tm.tasks {
		out = append(out, t)
	}
	tm.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Remove cancels and forgets a task.
func (tm *TaskManager) Remove(id string) bool {
	tm.mu.Lock()
	task, ok := tm.tasks[id]
	delete(tm.tasks, id)
	tm.mu.Unlock()
	if ok {
		task.Cancel()
	}
	return ok
}

// Sweep forgets tasks that ended more than the TTL before now and returns
// how many were removed.
func (tm *TaskManager) Sweep(now time.Time) int {
	if tm.ttl <= 0 {
		return 0
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	n := 0
	for id, task := range tm.tasks {
		task.mu.RLock()
		ended := task.endedAt
		task.mu.RUnlock()
		if ended != nil && now.Sub(*ended) > tm.ttl {
			delete(tm.tasks, id)
			n++
		}
	}
	return n
}

// CancelAll cancels every task.
func (tm *TaskManager) CancelAll() {
	for _, t := range tm.List() {
		t.Cancel()
	}
}

func (tm *TaskManager) options(req LoadRequest) loader.Options {
	opts := tm.defaults
	opts.OrthophotoPath = req.Orthophoto
	opts.OrthophotoOptional = opts.OrthophotoOptional || req.OrthophotoOptional
	if req.ZScale != nil {
		opts.ZScale = *req.ZScale
	}
	if req.ZOffset != nil {
		opts.ZOffset = *req.ZOffset
	}
	if req.MaxSamples > 0 {
		opts.MaxSamplesPerDimension = req.MaxSamples
	}
	return opts
}

func (tm *TaskManager) run(task *Task) {
	defer close(task.done)

	select {
	case tm.sem <- struct{}{}:
		defer func() { <-tm.sem }()
	case <-task.ctx.Done():
		task.Tracker.Finish(task.ctx.Err())
		task.setStatus(TaskStatusCancelled)
		return
	}

	task.setStatus(TaskStatusRunning)

	// A manager per task keeps progress events apart
	mgr := loader.NewManager()
	unsubscribe := task.Tracker.Attach(mgr)
	defer unsubscribe()
	l := loader.New(mgr, tm.fetcher)

	res, err := l.LoadTerrain(task.ctx, task.Request.DEM, tm.options(task.Request))
	if err != nil {
		task.mu.Lock()
		task.err = err
		task.mu.Unlock()
		task.Tracker.Finish(err)
		if task.ctx.Err() != nil {
			task.setStatus(TaskStatusCancelled)
		} else {
			task.setStatus(TaskStatusFailed)
		}
		logger.Warn("terrain task failed", zap.String("id", task.ID), zap.Error(err))
		return
	}

	v := viewer.New(viewer.Config{Converter: tm.conv})
	v.SetTerrain(res.Terrain)

	task.mu.Lock()
	task.result = res
	task.viewer = v
	task.mu.Unlock()
	task.Tracker.Finish(nil)
	task.setStatus(TaskStatusCompleted)
	logger.Info("terrain task completed", zap.String("id", task.ID), zap.String("dem", task.Request.DEM))
}
