package desk

import (
	"errors"
	"fmt"
	"strings"
)

// WindowType enumerates the panels the desk can host.
type WindowType string

const (
	WindowTypeTable     WindowType = "table"
	WindowTypeSchema    WindowType = "schema"
	WindowTypeRecord    WindowType = "record"
	WindowTypeDashboard WindowType = "dashboard"
	WindowTypeDebug     WindowType = "debug"
)

const maxIdentifierLength = 190

var (
	// ErrWindowNotFound indicates that no window with the requested id is registered.
	ErrWindowNotFound = errors.New("desk: window not found")
	// ErrStaleFetch indicates that a newer fetch was started for the window before this one completed.
	ErrStaleFetch = errors.New("desk: stale fetch result")
	// ErrInvalidWindowType indicates an unknown window type.
	ErrInvalidWindowType = errors.New("desk: invalid window type")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("desk: invalid user id")
	// ErrInvalidWindowID indicates that a window identifier exceeds storage bounds.
	ErrInvalidWindowID = errors.New("desk: invalid window id")
	// ErrDuplicateWindowID indicates that the requested window id is already registered.
	ErrDuplicateWindowID = errors.New("desk: duplicate window id")
	// ErrInvalidViewport indicates a viewport too small to hold a single window.
	ErrInvalidViewport = errors.New("desk: invalid viewport")
)

// ParseWindowType validates raw input and returns a WindowType.
func ParseWindowType(raw string) (WindowType, error) {
	switch WindowType(strings.ToLower(strings.TrimSpace(raw))) {
	case WindowTypeTable:
		return WindowTypeTable, nil
	case WindowTypeSchema:
		return WindowTypeSchema, nil
	case WindowTypeRecord:
		return WindowTypeRecord, nil
	case WindowTypeDashboard:
		return WindowTypeDashboard, nil
	case WindowTypeDebug:
		return WindowTypeDebug, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidWindowType, raw)
	}
}

func (t WindowType) defaultSize() Size {
	switch t {
	case WindowTypeTable:
		return Size{Width: 900, Height: 600}
	case WindowTypeSchema:
		return Size{Width: 700, Height: 500}
	case WindowTypeRecord:
		return Size{Width: 600, Height: 500}
	case WindowTypeDashboard:
		return Size{Width: 1000, Height: 650}
	case WindowTypeDebug:
		return Size{Width: 800, Height: 500}
	default:
		return fallbackRestoreSize
	}
}

// UserID represents a validated desk owner identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// TableRef points a window at an upstream table, and optionally one record in it.
type TableRef struct {
	Backend  string `json:"backend"`
	Name     string `json:"name"`
	RecordID string `json:"recordId,omitempty"`
}

// Window is one floating panel on the desk.
type Window struct {
	ID               string     `json:"id"`
	Type             WindowType `json:"type"`
	Title            string     `json:"title"`
	Table            *TableRef  `json:"table,omitempty"`
	Data             any        `json:"data,omitempty"`
	Position         Point      `json:"position"`
	Size             Size       `json:"size"`
	Container        Size       `json:"container"`
	IsMinimized      bool       `json:"isMinimized"`
	IsMaximized      bool       `json:"isMaximized"`
	ZIndex           int64      `json:"zIndex"`
	OriginalPosition *Point     `json:"originalPosition,omitempty"`
	OriginalSize     *Size      `json:"originalSize,omitempty"`

	fetchSeq uint64
}

func (w *Window) clone() Window {
	copied := *w
	if w.Table != nil {
		table := *w.Table
		copied.Table = &table
	}
	if w.OriginalPosition != nil {
		position := *w.OriginalPosition
		copied.OriginalPosition = &position
	}
	if w.OriginalSize != nil {
		size := *w.OriginalSize
		copied.OriginalSize = &size
	}
	return copied
}

// OpenConfig describes a window to open. Zero values pick defaults.
type OpenConfig struct {
	ID       string
	Type     WindowType
	Title    string
	Table    *TableRef
	Data     any
	Position *Point
	Size     *Size
}

// Snapshot is a read-only copy of a desk suitable for rendering.
type Snapshot struct {
	Windows      []Window `json:"windows"`
	ActiveID     string   `json:"activeId,omitempty"`
	Container    Size     `json:"container"`
	Viewport     Size     `json:"viewport"`
	SidebarWidth int      `json:"sidebarWidth"`
}

// Window looks a window up by id.
func (s Snapshot) Window(id string) (Window, bool) {
	for _, window := range s.Windows {
		if window.ID == id {
			return window, true
		}
	}
	return Window{}, false
}
