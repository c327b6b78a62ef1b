package loader

import "sync"

// EventKind identifies a Manager notification.
type EventKind int

const (
	// EventStart fires when the first item of a batch starts.
	EventStart EventKind = iota
	// EventItemStart fires for every item that starts.
	EventItemStart
	// EventProgress fires when an item ends, successfully or not.
	EventProgress
	// EventError fires when an item fails, before its EventProgress.
	EventError
	// EventLoad fires when every started item has ended.
	EventLoad
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventItemStart:
		return "item_start"
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	case EventLoad:
		return "load"
	}
	return "unknown"
}

// Event is a Manager notification.
type Event struct {
	Kind   EventKind
	URL    string
	Loaded int
	Total  int
	Err    error
}

// Listener receives Manager events. Listeners run synchronously on the
// goroutine that reported the item and must not call back into the Manager.
type Listener func(Event)

// Manager counts fetches as they start and end and notifies listeners.
// It is safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	loading   bool
	loaded    int
	total     int
	nextID    int
	listeners map[int]Listener
	modifier  func(string) string
}

// NewManager creates an idle manager.
func NewManager() *Manager {
	return &Manager{listeners: make(map[int]Listener)}
}

// Subscribe registers l and returns a function that removes it.
func (m *Manager) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// SetURLModifier installs a function applied by ResolveURL.
func (m *Manager) SetURLModifier(fn func(string) string) {
	m.mu.Lock()
	m.modifier = fn
	m.mu.Unlock()
}

// ResolveURL returns url after the URL modifier, if any.
func (m *Manager) ResolveURL(url string) string {
	m.mu.Lock()
	fn := m.modifier
	m.mu.Unlock()
	if fn != nil {
		return fn(url)
	}
	return url
}

// ItemStart records that url started loading.
func (m *Manager) ItemStart(url string) {
	m.mu.Lock()
	m.total++
	var events []Event
	if !m.loading {
		events = append(events, Event{Kind: EventStart, URL: url, Loaded: m.loaded, Total: m.total})
	}
	m.loading = true
	events = append(events, Event{Kind: EventItemStart, URL: url, Loaded: m.loaded, Total: m.total})
	m.mu.Unlock()

	m.emit(events...)
}

// ItemEnd records that url finished, successfully or not.
func (m *Manager) ItemEnd(url string) {
	m.mu.Lock()
	m.loaded++
	events := []Event{{Kind: EventProgress, URL: url, Loaded: m.loaded, Total: m.total}}
	if m.loaded == m.total {
		m.loading = false
		events = append(events, Event{Kind: EventLoad, URL: url, Loaded: m.loaded, Total: m.total})
	}
	m.mu.Unlock()

	m.emit(events...)
}

// ItemError reports that url failed. ItemEnd must still be called.
func (m *Manager) ItemError(url string, err error) {
	m.mu.Lock()
	ev := Event{Kind: EventError, URL: url, Loaded: m.loaded, Total: m.total, Err: err}
	m.mu.Unlock()

	m.emit(ev)
}

// Progress returns the ended and started item counts.
func (m *Manager) Progress() (loaded, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded, m.total
}

// Loading reports whether any started item has not ended.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

func (m *Manager) emit(events ...Event) {
	m.mu.Lock()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}
