package desk

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"
)

type sequenceProvider struct {
	next int
}

func (p *sequenceProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%d", p.next), nil
}

type failingProvider struct{}

func (failingProvider) NewID() (string, error) {
	return "", errors.New("entropy exhausted")
}

// testGeometry yields a 1200x800 container.
func testGeometry() Geometry {
	return Geometry{
		Viewport:     Size{Width: 1450, Height: 912},
		SidebarWidth: 250,
		ChromeHeight: 112,
	}
}

func newTestDesk(t *testing.T) *Desk {
	t.Helper()
	now := time.Unix(1700000000, 0)
	return NewDesk(testGeometry(), func() time.Time { return now }, &sequenceProvider{})
}

func mustOpen(t *testing.T, d *Desk, cfg OpenConfig) Window {
	t.Helper()
	window, err := d.Open(cfg)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	return window
}

func TestOpenAssignsIdentifierAndCascadePosition(t *testing.T) {
	d := newTestDesk(t)

	first := mustOpen(t, d, OpenConfig{Type: WindowTypeTable, Title: "users"})
	second := mustOpen(t, d, OpenConfig{Type: WindowTypeSchema, Title: "users schema"})

	if first.ID != "win-1" || second.ID != "win-2" {
		t.Fatalf("unexpected generated ids %q %q", first.ID, second.ID)
	}
	if first.Position != (Point{X: 50, Y: 50}) {
		t.Fatalf("unexpected first position %+v", first.Position)
	}
	if second.Position != (Point{X: 80, Y: 80}) {
		t.Fatalf("unexpected second position %+v", second.Position)
	}
	if first.Size != (Size{Width: 900, Height: 600}) || second.Size != (Size{Width: 700, Height: 500}) {
		t.Fatalf("unexpected default sizes %+v %+v", first.Size, second.Size)
	}
	if d.ActiveID() != second.ID {
		t.Fatalf("expected newest window to be active, got %q", d.ActiveID())
	}
	if second.ZIndex <= first.ZIndex {
		t.Fatalf("expected z order to increase, got %d then %d", first.ZIndex, second.ZIndex)
	}
}

func TestOpenCascadeCounterWrapsAfterTen(t *testing.T) {
	d := newTestDesk(t)
	var last Window
	for i := 0; i < 11; i++ {
		last = mustOpen(t, d, OpenConfig{Type: WindowTypeRecord})
	}
	if last.Position != (Point{X: 50, Y: 50}) {
		t.Fatalf("expected eleventh window to wrap to the origin, got %+v", last.Position)
	}
}

func TestOpenHonoursExplicitGeometryAndID(t *testing.T) {
	d := newTestDesk(t)
	window := mustOpen(t, d, OpenConfig{
		ID:       "custom",
		Type:     WindowTypeDebug,
		Position: &Point{X: 5, Y: 6},
		Size:     &Size{Width: 300, Height: 200},
		Table:    &TableRef{Backend: "myusta", Name: "users"},
	})
	if window.ID != "custom" || window.Position != (Point{X: 5, Y: 6}) || window.Size != (Size{Width: 300, Height: 200}) {
		t.Fatalf("explicit config not honoured: %+v", window)
	}
	if window.Table == nil || window.Table.Name != "users" {
		t.Fatalf("expected table reference, got %+v", window.Table)
	}
}

func TestOpenRejectsDuplicateID(t *testing.T) {
	d := newTestDesk(t)
	mustOpen(t, d, OpenConfig{ID: "dup", Type: WindowTypeTable})
	if _, err := d.Open(OpenConfig{ID: "dup", Type: WindowTypeSchema}); !errors.Is(err, ErrDuplicateWindowID) {
		t.Fatalf("expected duplicate window id, got %v", err)
	}
	mustOpen(t, d, OpenConfig{ID: "later", Type: WindowTypeTable})

	if d.Len() != 2 {
		t.Fatalf("expected rejected open to leave two windows, got %d", d.Len())
	}
	if !d.Close("dup") || d.find("dup") != nil {
		t.Fatalf("expected closing dup to remove it entirely")
	}
}

func TestOpenClampsExplicitGeometry(t *testing.T) {
	d := newTestDesk(t)
	window := mustOpen(t, d, OpenConfig{
		Type:     WindowTypeTable,
		Position: &Point{X: -5000, Y: 99999},
		Size:     &Size{Width: 1, Height: -7},
	})
	if window.Size != (Size{Width: MinWindowWidth, Height: MinWindowHeight}) {
		t.Fatalf("expected minimum size, got %+v", window.Size)
	}
	if window.Position != (Point{X: 0, Y: 800 - MinWindowHeight}) {
		t.Fatalf("expected position inside the container, got %+v", window.Position)
	}

	huge := mustOpen(t, d, OpenConfig{Type: WindowTypeTable, Size: &Size{Width: 5000, Height: 5000}})
	if huge.Size != (Size{Width: 1200, Height: 800}) || huge.Position != (Point{}) {
		t.Fatalf("expected window bounded by the container, got %+v at %+v", huge.Size, huge.Position)
	}

	if !d.Move(window.ID, Point{X: -5000, Y: 99999}) {
		t.Fatalf("expected move to succeed")
	}
	moved := d.find(window.ID)
	if moved.Position.Y+moved.Size.Height > 800 || moved.Position.X < 0 {
		t.Fatalf("window left the container after move: %+v %+v", moved.Position, moved.Size)
	}
}

func TestOpenRejectsUnknownTypeAndIDFailures(t *testing.T) {
	d := newTestDesk(t)
	if _, err := d.Open(OpenConfig{Type: "spreadsheet"}); !errors.Is(err, ErrInvalidWindowType) {
		t.Fatalf("expected invalid window type, got %v", err)
	}

	failing := NewDesk(testGeometry(), nil, failingProvider{})
	if _, err := failing.Open(OpenConfig{}); err == nil {
		t.Fatalf("expected id provider failure to surface")
	}
	if failing.Len() != 0 {
		t.Fatalf("expected failed open to leave the desk empty")
	}
}

func TestCloseActiveFallsBackToLastRemaining(t *testing.T) {
	d := newTestDesk(t)
	a := mustOpen(t, d, OpenConfig{Title: "A"})
	b := mustOpen(t, d, OpenConfig{Title: "B"})

	if !d.Close(a.ID) {
		t.Fatalf("expected close to find window A")
	}
	if d.ActiveID() != b.ID {
		t.Fatalf("expected B to be active after closing A, got %q", d.ActiveID())
	}

	c := mustOpen(t, d, OpenConfig{Title: "C"})
	if !d.Close(c.ID) {
		t.Fatalf("expected close to find window C")
	}
	if d.ActiveID() != b.ID {
		t.Fatalf("expected activation to fall to B, got %q", d.ActiveID())
	}

	d.Close(b.ID)
	if d.ActiveID() != "" {
		t.Fatalf("expected no active window on an empty desk, got %q", d.ActiveID())
	}
}

func TestCloseInactiveKeepsActivation(t *testing.T) {
	d := newTestDesk(t)
	a := mustOpen(t, d, OpenConfig{Title: "A"})
	b := mustOpen(t, d, OpenConfig{Title: "B"})
	c := mustOpen(t, d, OpenConfig{Title: "C"})
	d.Activate(a.ID)

	d.Close(b.ID)
	if d.ActiveID() != a.ID {
		t.Fatalf("expected A to stay active, got %q", d.ActiveID())
	}
	if d.Len() != 2 || d.Snapshot().Windows[1].ID != c.ID {
		t.Fatalf("unexpected registry after close: %+v", d.Snapshot().Windows)
	}
}

func TestRandomOpenCloseSequencesKeepActiveOnMostRecent(t *testing.T) {
	random := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		d := newTestDesk(t)
		var opened []string
		for step := 0; step < 30; step++ {
			if len(opened) == 0 || random.Intn(3) > 0 {
				window := mustOpen(t, d, OpenConfig{})
				opened = append(opened, window.ID)
				continue
			}
			index := random.Intn(len(opened))
			d.Close(opened[index])
			opened = append(opened[:index], opened[index+1:]...)

			want := ""
			if len(opened) > 0 {
				want = opened[len(opened)-1]
			}
			if d.ActiveID() != want {
				t.Fatalf("round %d step %d: active %q, want %q", round, step, d.ActiveID(), want)
			}
		}
	}
}

func TestCloseUnknownIsNoOp(t *testing.T) {
	d := newTestDesk(t)
	a := mustOpen(t, d, OpenConfig{})
	if d.Close("missing") {
		t.Fatalf("expected unknown id to report false")
	}
	if d.Len() != 1 || d.ActiveID() != a.ID {
		t.Fatalf("unexpected state after no-op close")
	}
	for name, op := range map[string]func(string) bool{
		"activate": d.Activate,
		"minimize": d.Minimize,
		"maximize": d.Maximize,
		"restore":  d.Restore,
	} {
		if op("missing") {
			t.Fatalf("%s: expected unknown id to report false", name)
		}
	}
}

func TestActivateRaisesAboveEveryOtherWindow(t *testing.T) {
	d := newTestDesk(t)
	a := mustOpen(t, d, OpenConfig{})
	mustOpen(t, d, OpenConfig{})
	mustOpen(t, d, OpenConfig{})

	if !d.Activate(a.ID) {
		t.Fatalf("expected activate to succeed")
	}
	snapshot := d.Snapshot()
	activated, _ := snapshot.Window(a.ID)
	for _, window := range snapshot.Windows {
		if window.ID != a.ID && window.ZIndex >= activated.ZIndex {
			t.Fatalf("window %s z %d not below activated z %d", window.ID, window.ZIndex, activated.ZIndex)
		}
	}
	if d.ActiveID() != a.ID {
		t.Fatalf("expected %s to be active", a.ID)
	}

	before := activated.ZIndex
	d.Activate(a.ID)
	again, _ := d.Snapshot().Window(a.ID)
	if again.ZIndex != before {
		t.Fatalf("expected activating the active window to be a no-op")
	}
}

func TestActivateUsesClockWhenAhead(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := NewDesk(testGeometry(), func() time.Time { return now }, &sequenceProvider{})
	a := mustOpen(t, d, OpenConfig{})
	mustOpen(t, d, OpenConfig{})

	now = now.Add(time.Hour)
	d.Activate(a.ID)
	window, _ := d.Snapshot().Window(a.ID)
	if window.ZIndex != now.UnixMilli() {
		t.Fatalf("expected z stamp from clock, got %d", window.ZIndex)
	}
}

func TestMaximizeThenToggleRestoresGeometry(t *testing.T) {
	d := newTestDesk(t)
	window := mustOpen(t, d, OpenConfig{
		Position: &Point{X: 123, Y: 77},
		Size:     &Size{Width: 640, Height: 480},
	})

	d.Maximize(window.ID)
	maximized, _ := d.Snapshot().Window(window.ID)
	if !maximized.IsMaximized || maximized.Position != (Point{}) || maximized.Size != (Size{Width: 1200, Height: 800}) {
		t.Fatalf("unexpected maximized window %+v", maximized)
	}
	if maximized.OriginalPosition == nil || *maximized.OriginalPosition != (Point{X: 123, Y: 77}) {
		t.Fatalf("expected original position to be saved, got %+v", maximized.OriginalPosition)
	}

	d.Maximize(window.ID)
	restored, _ := d.Snapshot().Window(window.ID)
	if restored.IsMaximized {
		t.Fatalf("expected maximized flag to clear")
	}
	if restored.Position != (Point{X: 123, Y: 77}) || restored.Size != (Size{Width: 640, Height: 480}) {
		t.Fatalf("expected exact pre-maximize geometry, got %+v %+v", restored.Position, restored.Size)
	}
	if restored.OriginalPosition != nil || restored.OriginalSize != nil {
		t.Fatalf("expected saved geometry to be cleared")
	}
}

func TestMaximizeToggleWithoutSavedGeometryUsesFallback(t *testing.T) {
	restored := RestoreDesk(Layout{
		Windows: []Window{{ID: "w", Type: WindowTypeTable, IsMaximized: true, Size: Size{Width: 1200, Height: 800}}},
	}, testGeometry(), nil, nil)

	restored.Maximize("w")
	window, _ := restored.Snapshot().Window("w")
	if window.Position != fallbackRestorePosition || window.Size != fallbackRestoreSize {
		t.Fatalf("expected fallback geometry, got %+v %+v", window.Position, window.Size)
	}
}

func TestMinimizeExcludesFromVisibleUntilRestored(t *testing.T) {
	d := newTestDesk(t)
	a := mustOpen(t, d, OpenConfig{})
	b := mustOpen(t, d, OpenConfig{})
	d.Maximize(a.ID)

	d.Minimize(a.ID)
	window, _ := d.Snapshot().Window(a.ID)
	if !window.IsMinimized || window.IsMaximized {
		t.Fatalf("expected minimized and not maximized, got %+v", window)
	}
	visible := d.Visible()
	if len(visible) != 1 || visible[0].ID != b.ID {
		t.Fatalf("expected only B to be visible, got %+v", visible)
	}

	d.Restore(a.ID)
	if len(d.Visible()) != 2 {
		t.Fatalf("expected restored window to be visible")
	}
}

func TestVisibleOrdersByZIndex(t *testing.T) {
	d := newTestDesk(t)
	a := mustOpen(t, d, OpenConfig{})
	b := mustOpen(t, d, OpenConfig{})
	d.Activate(a.ID)

	visible := d.Visible()
	if visible[0].ID != b.ID || visible[1].ID != a.ID {
		t.Fatalf("expected activated window last, got %s then %s", visible[0].ID, visible[1].ID)
	}
}

func TestMoveAndResizeClampToContainer(t *testing.T) {
	d := newTestDesk(t)
	window := mustOpen(t, d, OpenConfig{Size: &Size{Width: 400, Height: 300}})

	d.Move(window.ID, Point{X: -40, Y: 5000})
	moved, _ := d.Snapshot().Window(window.ID)
	if moved.Position != (Point{X: 0, Y: 500}) {
		t.Fatalf("unexpected clamped position %+v", moved.Position)
	}

	d.Resize(window.ID, Size{Width: 5000, Height: 10})
	resized, _ := d.Snapshot().Window(window.ID)
	if resized.Size != (Size{Width: 1200, Height: MinWindowHeight}) {
		t.Fatalf("unexpected clamped size %+v", resized.Size)
	}

	d.Resize(window.ID, Size{Width: 500, Height: 300})
	d.Move(window.ID, Point{X: 100, Y: 100})
	inside, _ := d.Snapshot().Window(window.ID)
	if inside.Position != (Point{X: 100, Y: 100}) || inside.Size != (Size{Width: 500, Height: 300}) {
		t.Fatalf("expected in-bounds values untouched, got %+v %+v", inside.Position, inside.Size)
	}
}

func TestCascadeAllAssignsDiagonalPositions(t *testing.T) {
	d := newTestDesk(t)
	for i := 0; i < 4; i++ {
		mustOpen(t, d, OpenConfig{Position: &Point{X: 400, Y: 10}})
	}
	ids := d.Snapshot().Windows
	d.Minimize(ids[1].ID)
	d.Maximize(ids[2].ID)

	d.CascadeAll()
	for index, window := range d.Snapshot().Windows {
		want := Point{X: 50 + 30*index, Y: 50 + 30*index}
		if window.Position != want {
			t.Fatalf("window %d: position %+v, want %+v", index, window.Position, want)
		}
		if window.IsMinimized || window.IsMaximized {
			t.Fatalf("window %d: expected flags cleared", index)
		}
	}
	if third, _ := d.Snapshot().Window(ids[2].ID); third.Size != ids[2].Size {
		t.Fatalf("expected maximized window to regain its size, got %+v", third.Size)
	}
}

func TestTileAllFourWindowsInTwoByTwoGrid(t *testing.T) {
	d := newTestDesk(t)
	for i := 0; i < 4; i++ {
		mustOpen(t, d, OpenConfig{})
	}
	d.TileAll()

	want := []Point{{0, 0}, {600, 0}, {0, 400}, {600, 400}}
	for index, window := range d.Snapshot().Windows {
		if window.Position != want[index] {
			t.Fatalf("window %d: position %+v, want %+v", index, window.Position, want[index])
		}
		if window.Size != (Size{Width: 590, Height: 390}) {
			t.Fatalf("window %d: unexpected size %+v", index, window.Size)
		}
	}
}

func TestTileAllCellsDoNotOverlap(t *testing.T) {
	for n := 1; n <= 5; n++ {
		d := newTestDesk(t)
		for i := 0; i < n; i++ {
			mustOpen(t, d, OpenConfig{})
		}
		d.Minimize(d.Snapshot().Windows[0].ID)
		d.TileAll()

		windows := d.Snapshot().Windows
		cols, rows := tileGrid(n)
		container := d.Container()
		for i := range windows {
			a := windows[i]
			if a.IsMinimized || a.IsMaximized {
				t.Fatalf("n=%d: expected flags cleared", n)
			}
			if a.Position.X+a.Size.Width > container.Width || a.Position.Y+a.Size.Height > container.Height {
				t.Fatalf("n=%d: window %d leaves the container", n, i)
			}
			if a.Size.Width != container.Width/cols-tileGap || a.Size.Height != container.Height/rows-tileGap {
				t.Fatalf("n=%d: unexpected cell size %+v", n, a.Size)
			}
			for j := i + 1; j < len(windows); j++ {
				b := windows[j]
				overlapX := a.Position.X < b.Position.X+b.Size.Width && b.Position.X < a.Position.X+a.Size.Width
				overlapY := a.Position.Y < b.Position.Y+b.Size.Height && b.Position.Y < a.Position.Y+a.Size.Height
				if overlapX && overlapY {
					t.Fatalf("n=%d: windows %d and %d overlap", n, i, j)
				}
			}
		}
	}
}

func TestTileGridShape(t *testing.T) {
	testCases := []struct{ n, cols, rows int }{
		{1, 1, 1}, {2, 2, 1}, {3, 2, 2}, {4, 2, 2}, {5, 3, 2}, {10, 4, 3},
	}
	for _, testCase := range testCases {
		cols, rows := tileGrid(testCase.n)
		if cols != testCase.cols || rows != testCase.rows {
			t.Fatalf("n=%d: got %dx%d, want %dx%d", testCase.n, cols, rows, testCase.cols, testCase.rows)
		}
	}
}

func TestCloseAllEmptiesDesk(t *testing.T) {
	d := newTestDesk(t)
	mustOpen(t, d, OpenConfig{})
	mustOpen(t, d, OpenConfig{})
	d.CloseAll()
	if d.Len() != 0 || d.ActiveID() != "" {
		t.Fatalf("expected empty desk, got %d windows active %q", d.Len(), d.ActiveID())
	}
}

func TestSetSidebarWidthRefreshesContainerOnly(t *testing.T) {
	d := newTestDesk(t)
	plain := mustOpen(t, d, OpenConfig{})
	maximized := mustOpen(t, d, OpenConfig{})
	d.Maximize(maximized.ID)

	d.SetSidebarWidth(450)
	if d.Container() != (Size{Width: 1000, Height: 800}) {
		t.Fatalf("unexpected container %+v", d.Container())
	}
	snapshot := d.Snapshot()
	first, _ := snapshot.Window(plain.ID)
	if first.Position != plain.Position || first.Size != plain.Size {
		t.Fatalf("expected plain window geometry untouched")
	}
	if first.Container != d.Container() {
		t.Fatalf("expected container field refreshed, got %+v", first.Container)
	}
	second, _ := snapshot.Window(maximized.ID)
	if second.Size != d.Container() {
		t.Fatalf("expected maximized window to follow the container, got %+v", second.Size)
	}

	d.SetSidebarWidth(-10)
	if d.Snapshot().SidebarWidth != 0 {
		t.Fatalf("expected negative sidebar width to clamp to zero")
	}
}

func TestFetchGuardDropsStaleResults(t *testing.T) {
	d := newTestDesk(t)
	window := mustOpen(t, d, OpenConfig{})

	first, _ := d.BeginFetch(window.ID)
	second, _ := d.BeginFetch(window.ID)

	if err := d.CompleteFetch(window.ID, second, "page-2"); err != nil {
		t.Fatalf("unexpected error for latest fetch: %v", err)
	}
	if err := d.CompleteFetch(window.ID, first, "page-1"); !errors.Is(err, ErrStaleFetch) {
		t.Fatalf("expected stale fetch error, got %v", err)
	}
	stored, _ := d.Snapshot().Window(window.ID)
	if stored.Data != "page-2" {
		t.Fatalf("expected newest data to survive, got %v", stored.Data)
	}
	if _, ok := d.BeginFetch("missing"); ok {
		t.Fatalf("expected unknown window to be rejected")
	}
	if err := d.CompleteFetch("missing", 1, nil); !errors.Is(err, ErrWindowNotFound) {
		t.Fatalf("expected window not found, got %v", err)
	}
}

func TestLayoutRoundTripDropsData(t *testing.T) {
	d := newTestDesk(t)
	a := mustOpen(t, d, OpenConfig{Data: map[string]any{"rows": 3}, Table: &TableRef{Backend: "chat", Name: "messages"}})
	b := mustOpen(t, d, OpenConfig{})
	d.Maximize(b.ID)
	d.Activate(a.ID)

	restored := RestoreDesk(d.Layout(), Geometry{Viewport: Size{Width: 1, Height: 1}, ChromeHeight: 112}, nil, &sequenceProvider{next: 10})
	if restored.ActiveID() != a.ID {
		t.Fatalf("expected active id to survive, got %q", restored.ActiveID())
	}
	if restored.Container() != d.Container() {
		t.Fatalf("expected persisted viewport to win, got %+v", restored.Container())
	}
	window, _ := restored.Snapshot().Window(a.ID)
	if window.Data != nil {
		t.Fatalf("expected data to be dropped from the layout")
	}
	if window.Table == nil || window.Table.Name != "messages" {
		t.Fatalf("expected table reference to survive")
	}
	next := mustOpen(t, restored, OpenConfig{})
	if next.Position != (Point{X: 110, Y: 110}) {
		t.Fatalf("expected cascade counter to survive, got %+v", next.Position)
	}
}
