package devproxy

import (
	"net/url"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/transport"
	"github.com/google/uuid"
)

const defaultLogCapacity = 100

// Entry describes one proxied exchange.
type Entry struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	Backend       string    `json:"backend"`
	Target        string    `json:"target"`
	Status        int       `json:"status"`
	DurationMs    int64     `json:"durationMs"`
	RequestBytes  int64     `json:"requestBytes"`
	ResponseBytes int64     `json:"responseBytes"`
	Error         string    `json:"error,omitempty"`
}

// TrafficLog keeps the newest entries up to a fixed capacity.
type TrafficLog struct {
	mu       sync.Mutex
	entries  []Entry
	next     int
	full     bool
	capacity int
	clock    func() time.Time
}

// NewTrafficLog allocates a log holding at most capacity entries.
func NewTrafficLog(capacity int, clock func() time.Time) *TrafficLog {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	if clock == nil {
		clock = time.Now
	}
	return &TrafficLog{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		clock:    clock,
	}
}

// Capacity returns the maximum number of retained entries.
func (l *TrafficLog) Capacity() int {
	return l.capacity
}

// Record stores entry, evicting the oldest one when the log is full.
func (l *TrafficLog) Record(entry Entry) Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
	return entry
}

// Entries returns the retained entries, newest first.
func (l *TrafficLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.next
	if l.full {
		count = l.capacity
	}
	result := make([]Entry, 0, count)
	for offset := 1; offset <= count; offset++ {
		index := (l.next - offset + l.capacity) % l.capacity
		result = append(result, l.entries[index])
	}
	return result
}

// Clear drops every entry and reports how many were removed.
func (l *TrafficLog) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := l.next
	if l.full {
		removed = l.capacity
	}
	l.entries = make([]Entry, l.capacity)
	l.next = 0
	l.full = false
	return removed
}

// ObserveExchange records a proxied round trip.
func (l *TrafficLog) ObserveExchange(exchange transport.Exchange) {
	entry := Entry{
		Method:        exchange.Method,
		Backend:       exchange.Backend,
		Status:        exchange.Status,
		DurationMs:    exchange.Duration.Milliseconds(),
		RequestBytes:  exchange.RequestBytes,
		ResponseBytes: exchange.ResponseBytes,
	}
	if parsed, err := url.Parse(exchange.URL); err == nil {
		entry.Path = parsed.RequestURI()
		entry.Target = parsed.Scheme + "://" + parsed.Host
	} else {
		entry.Path = exchange.URL
	}
	if exchange.Err != nil {
		entry.Error = exchange.Err.Error()
	}
	l.Record(entry)
}
