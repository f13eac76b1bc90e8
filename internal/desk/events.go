package desk

import (
	"context"
	"sync"
	"time"
)

// EventKind names a desk change.
type EventKind string

const (
	EventWindowOpened  EventKind = "window-opened"
	EventWindowClosed  EventKind = "window-closed"
	EventWindowChanged EventKind = "window-changed"
	EventWindowData    EventKind = "window-data"
	EventDeskArranged  EventKind = "desk-arranged"
	EventDeskCleared   EventKind = "desk-cleared"
)

// Event is published after every accepted desk mutation.
type Event struct {
	UserID    string    `json:"-"`
	Kind      EventKind `json:"event"`
	WindowIDs []string  `json:"windowIds,omitempty"`
	ActiveID  string    `json:"activeId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher fans events out to per-user subscribers. Slow subscribers miss events
// rather than blocking publishers.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]chan Event
	nextID      int64
	bufferSize  int
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]chan Event),
		bufferSize:  16,
	}
}

// Subscribe registers a stream for userID that is removed when ctx ends or cleanup is called.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string) (<-chan Event, func()) {
	if userID == "" {
		stream := make(chan Event)
		close(stream)
		return stream, func() {}
	}
	stream := make(chan Event, d.bufferSize)

	d.mu.Lock()
	d.nextID++
	subscriberID := d.nextID
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]chan Event)
	}
	d.subscribers[userID][subscriberID] = stream
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			if subscribers := d.subscribers[userID]; subscribers != nil {
				delete(subscribers, subscriberID)
				if len(subscribers) == 0 {
					delete(d.subscribers, userID)
				}
			}
			d.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

// Publish delivers event to every subscriber of event.UserID.
func (d *Dispatcher) Publish(event Event) {
	if event.UserID == "" || event.Kind == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, stream := range d.subscribers[event.UserID] {
		select {
		case stream <- event:
		default:
		}
	}
}

// SubscriberCount reports how many streams are open for userID.
func (d *Dispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}
