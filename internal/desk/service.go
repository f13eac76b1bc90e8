package desk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var noOpLogger = zap.NewNop()

// ServiceError carries a dotted error code for API responses.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opOpen          = "desk.open"
	opClose         = "desk.close"
	opActivate      = "desk.activate"
	opMove          = "desk.move"
	opResize        = "desk.resize"
	opMinimize      = "desk.minimize"
	opMaximize      = "desk.maximize"
	opRestore       = "desk.restore"
	opCascade       = "desk.cascade_all"
	opTile          = "desk.tile_all"
	opCloseAll      = "desk.close_all"
	opSidebar       = "desk.set_sidebar_width"
	opViewport      = "desk.set_viewport"
	opSnapshot      = "desk.snapshot"
	opBeginFetch    = "desk.begin_fetch"
	opCompleteFetch = "desk.complete_fetch"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// LayoutStore persists desk layouts.
type LayoutStore interface {
	Save(ctx context.Context, userID UserID, layout Layout) error
	Load(ctx context.Context, userID UserID) (Layout, bool, error)
}

// ServiceConfig describes the dependencies of the desk service. Store and Dispatcher are optional.
type ServiceConfig struct {
	Geometry   Geometry
	Store      LayoutStore
	Dispatcher *Dispatcher
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service keeps one desk per user and serialises every mutation of that desk.
type Service struct {
	geometry   Geometry
	store      LayoutStore
	dispatcher *Dispatcher
	clock      func() time.Time
	ids        IDProvider
	logger     *zap.Logger

	mu    sync.Mutex
	desks map[UserID]*deskEntry
}

type deskEntry struct {
	mu     sync.Mutex
	desk   *Desk
	loaded bool
}

type change struct {
	kind      EventKind
	windowIDs []string
	persist   bool
}

// NewService constructs a desk service.
func NewService(cfg ServiceConfig) (*Service, error) {
	container := cfg.Geometry.Container()
	if container.Width <= 0 || container.Height <= 0 {
		return nil, fmt.Errorf("desk: geometry leaves no room for windows")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		geometry:   cfg.Geometry,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		clock:      clock,
		ids:        ids,
		logger:     logger,
		desks:      make(map[UserID]*deskEntry),
	}, nil
}

// Dispatcher exposes the event dispatcher, which may be nil.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Snapshot returns the current desk of userID.
func (s *Service) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	return s.mutate(ctx, opSnapshot, userID, func(*Desk) (change, error) {
		return change{}, nil
	})
}

// Visible returns the rendered windows of userID, bottom-most first.
func (s *Service) Visible(ctx context.Context, userID string) ([]Window, error) {
	var visible []Window
	_, err := s.mutate(ctx, opSnapshot, userID, func(d *Desk) (change, error) {
		visible = d.Visible()
		return change{}, nil
	})
	return visible, err
}

// Open registers a new window for userID.
func (s *Service) Open(ctx context.Context, userID string, cfg OpenConfig) (Window, Snapshot, error) {
	var opened Window
	snapshot, err := s.mutate(ctx, opOpen, userID, func(d *Desk) (change, error) {
		window, err := d.Open(cfg)
		if err != nil {
			reason := "open_failed"
			switch {
			case errors.Is(err, ErrInvalidWindowType), errors.Is(err, ErrInvalidWindowID):
				reason = "invalid_window"
			case errors.Is(err, ErrDuplicateWindowID):
				reason = "duplicate_window"
			}
			return change{}, newServiceError(opOpen, reason, err)
		}
		opened = window
		return change{kind: EventWindowOpened, windowIDs: []string{window.ID}, persist: true}, nil
	})
	return opened, snapshot, err
}

// Close removes a window.
func (s *Service) Close(ctx context.Context, userID, windowID string) (Snapshot, error) {
	return s.windowOp(ctx, opClose, userID, windowID, EventWindowClosed, (*Desk).Close)
}

// Activate raises a window.
func (s *Service) Activate(ctx context.Context, userID, windowID string) (Snapshot, error) {
	return s.windowOp(ctx, opActivate, userID, windowID, EventWindowChanged, (*Desk).Activate)
}

// Minimize hides a window.
func (s *Service) Minimize(ctx context.Context, userID, windowID string) (Snapshot, error) {
	return s.windowOp(ctx, opMinimize, userID, windowID, EventWindowChanged, (*Desk).Minimize)
}

// Maximize toggles a window's maximized state.
func (s *Service) Maximize(ctx context.Context, userID, windowID string) (Snapshot, error) {
	return s.windowOp(ctx, opMaximize, userID, windowID, EventWindowChanged, (*Desk).Maximize)
}

// Restore shows a minimized window again.
func (s *Service) Restore(ctx context.Context, userID, windowID string) (Snapshot, error) {
	return s.windowOp(ctx, opRestore, userID, windowID, EventWindowChanged, (*Desk).Restore)
}

// Move repositions a window.
func (s *Service) Move(ctx context.Context, userID, windowID string, position Point) (Snapshot, error) {
	return s.windowOp(ctx, opMove, userID, windowID, EventWindowChanged, func(d *Desk, id string) bool {
		return d.Move(id, position)
	})
}

// Resize changes a window's size.
func (s *Service) Resize(ctx context.Context, userID, windowID string, size Size) (Snapshot, error) {
	return s.windowOp(ctx, opResize, userID, windowID, EventWindowChanged, func(d *Desk, id string) bool {
		return d.Resize(id, size)
	})
}

// CascadeAll arranges every window diagonally.
func (s *Service) CascadeAll(ctx context.Context, userID string) (Snapshot, error) {
	return s.deskOp(ctx, opCascade, userID, EventDeskArranged, (*Desk).CascadeAll)
}

// TileAll arranges every window in a grid.
func (s *Service) TileAll(ctx context.Context, userID string) (Snapshot, error) {
	return s.deskOp(ctx, opTile, userID, EventDeskArranged, (*Desk).TileAll)
}

// CloseAll removes every window.
func (s *Service) CloseAll(ctx context.Context, userID string) (Snapshot, error) {
	return s.deskOp(ctx, opCloseAll, userID, EventDeskCleared, (*Desk).CloseAll)
}

// SetSidebarWidth updates the width reserved for the sidebar.
func (s *Service) SetSidebarWidth(ctx context.Context, userID string, width int) (Snapshot, error) {
	return s.deskOp(ctx, opSidebar, userID, EventDeskArranged, func(d *Desk) {
		d.SetSidebarWidth(width)
	})
}

// SetViewport records the browser viewport size.
func (s *Service) SetViewport(ctx context.Context, userID string, viewport Size) (Snapshot, error) {
	if viewport.Width <= MinWindowWidth || viewport.Height <= s.geometry.ChromeHeight {
		return Snapshot{}, newServiceError(opViewport, "invalid_viewport", fmt.Errorf("%w: %dx%d", ErrInvalidViewport, viewport.Width, viewport.Height))
	}
	return s.deskOp(ctx, opViewport, userID, EventDeskArranged, func(d *Desk) {
		d.SetViewport(viewport)
	})
}

// BeginFetch starts a data fetch for a window and returns the window and its fetch token.
func (s *Service) BeginFetch(ctx context.Context, userID, windowID string) (Window, uint64, error) {
	var (
		window Window
		seq    uint64
	)
	_, err := s.mutate(ctx, opBeginFetch, userID, func(d *Desk) (change, error) {
		token, ok := d.BeginFetch(windowID)
		if !ok {
			return change{}, newServiceError(opBeginFetch, "window_not_found", ErrWindowNotFound)
		}
		seq = token
		window, _ = d.Snapshot().Window(windowID)
		return change{}, nil
	})
	return window, seq, err
}

// CompleteFetch stores the result of the fetch identified by seq unless a newer fetch superseded it.
func (s *Service) CompleteFetch(ctx context.Context, userID, windowID string, seq uint64, data any) (Snapshot, error) {
	return s.mutate(ctx, opCompleteFetch, userID, func(d *Desk) (change, error) {
		if err := d.CompleteFetch(windowID, seq, data); err != nil {
			reason := "window_not_found"
			if errors.Is(err, ErrStaleFetch) {
				reason = "stale_fetch"
			}
			return change{}, newServiceError(opCompleteFetch, reason, err)
		}
		return change{kind: EventWindowData, windowIDs: []string{windowID}}, nil
	})
}

func (s *Service) windowOp(ctx context.Context, operation, userID, windowID string, kind EventKind, apply func(*Desk, string) bool) (Snapshot, error) {
	return s.mutate(ctx, operation, userID, func(d *Desk) (change, error) {
		if !apply(d, windowID) {
			return change{}, newServiceError(operation, "window_not_found", ErrWindowNotFound)
		}
		return change{kind: kind, windowIDs: []string{windowID}, persist: true}, nil
	})
}

func (s *Service) deskOp(ctx context.Context, operation, userID string, kind EventKind, apply func(*Desk)) (Snapshot, error) {
	return s.mutate(ctx, operation, userID, func(d *Desk) (change, error) {
		apply(d)
		return change{kind: kind, persist: true}, nil
	})
}

func (s *Service) mutate(ctx context.Context, operation, rawUserID string, apply func(*Desk) (change, error)) (Snapshot, error) {
	userID, err := NewUserID(rawUserID)
	if err != nil {
		return Snapshot{}, newServiceError(operation, "invalid_user_id", err)
	}

	entry := s.entry(userID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.loaded {
		entry.desk = s.load(ctx, userID)
		entry.loaded = true
	}

	result, err := apply(entry.desk)
	if err != nil {
		s.logger.Info("desk operation rejected",
			zap.String("operation", operation),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return Snapshot{}, err
	}
	if result.persist {
		s.persist(ctx, userID, entry.desk.Layout())
	}
	snapshot := entry.desk.Snapshot()
	if result.kind != "" && s.dispatcher != nil {
		s.dispatcher.Publish(Event{
			UserID:    userID.String(),
			Kind:      result.kind,
			WindowIDs: result.windowIDs,
			ActiveID:  snapshot.ActiveID,
			Timestamp: s.clock().UTC(),
		})
	}
	return snapshot, nil
}

func (s *Service) entry(userID UserID) *deskEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.desks[userID]
	if !ok {
		entry = &deskEntry{}
		s.desks[userID] = entry
	}
	return entry
}

func (s *Service) load(ctx context.Context, userID UserID) *Desk {
	if s.store == nil {
		return NewDesk(s.geometry, s.clock, s.ids)
	}
	layout, found, err := s.store.Load(ctx, userID)
	if err != nil {
		s.logger.Warn("desk layout load failed", zap.String("user_id", userID.String()), zap.Error(err))
		return NewDesk(s.geometry, s.clock, s.ids)
	}
	if !found {
		return NewDesk(s.geometry, s.clock, s.ids)
	}
	return RestoreDesk(layout, s.geometry, s.clock, s.ids)
}

func (s *Service) persist(ctx context.Context, userID UserID, layout Layout) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, userID, layout); err != nil {
		s.logger.Warn("desk layout save failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
}
