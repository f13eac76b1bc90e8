package desk

import (
	"fmt"
	"sort"
	"time"
)

// Desk is the window registry of a single user. It is not safe for concurrent use;
// Service serialises access per user.
type Desk struct {
	windows        []*Window
	activeID       string
	geometry       Geometry
	cascadeCounter int
	clock          func() time.Time
	ids            IDProvider
}

// NewDesk constructs an empty desk laid out against geometry.
func NewDesk(geometry Geometry, clock func() time.Time, ids IDProvider) *Desk {
	if clock == nil {
		clock = time.Now
	}
	if ids == nil {
		ids = NewUUIDProvider()
	}
	return &Desk{
		geometry: geometry.withSidebar(geometry.SidebarWidth),
		clock:    clock,
		ids:      ids,
	}
}

// ActiveID returns the id of the active window, or "" when none is active.
func (d *Desk) ActiveID() string {
	return d.activeID
}

// Container returns the area currently available to windows.
func (d *Desk) Container() Size {
	return d.geometry.Container()
}

// Len returns the number of registered windows, minimized ones included.
func (d *Desk) Len() int {
	return len(d.windows)
}

// Open registers a new window and activates it.
func (d *Desk) Open(cfg OpenConfig) (Window, error) {
	windowType := cfg.Type
	if windowType == "" {
		windowType = WindowTypeTable
	}
	if _, err := ParseWindowType(string(windowType)); err != nil {
		return Window{}, err
	}

	identifier := cfg.ID
	if identifier == "" {
		generated, err := d.ids.NewID()
		if err != nil {
			return Window{}, err
		}
		identifier = "win-" + generated
	}
	if len(identifier) > maxIdentifierLength {
		return Window{}, ErrInvalidWindowID
	}
	if d.find(identifier) != nil {
		return Window{}, fmt.Errorf("%w: %s", ErrDuplicateWindowID, identifier)
	}

	container := d.Container()
	position := cascadePosition(d.cascadeCounter % cascadeCycle)
	d.cascadeCounter++
	size := windowType.defaultSize()
	if cfg.Size != nil {
		size = clampSize(*cfg.Size, Point{}, container)
	}
	if cfg.Position != nil {
		position = *cfg.Position
	}
	if cfg.Position != nil || cfg.Size != nil {
		position = clampPosition(position, size, container)
	}

	window := &Window{
		ID:        identifier,
		Type:      windowType,
		Title:     cfg.Title,
		Data:      cfg.Data,
		Position:  position,
		Size:      size,
		Container: container,
		ZIndex:    d.nextZ(),
	}
	if cfg.Table != nil {
		table := *cfg.Table
		window.Table = &table
	}
	d.windows = append(d.windows, window)
	d.activeID = identifier
	return window.clone(), nil
}

// Close removes a window. When it was active, activation falls to the last remaining window.
func (d *Desk) Close(id string) bool {
	index := d.indexOf(id)
	if index < 0 {
		return false
	}
	d.windows = append(d.windows[:index], d.windows[index+1:]...)
	if d.activeID == id {
		d.activeID = ""
		if len(d.windows) > 0 {
			d.activeID = d.windows[len(d.windows)-1].ID
		}
	}
	return true
}

// Activate raises a window above every other window.
func (d *Desk) Activate(id string) bool {
	window := d.find(id)
	if window == nil {
		return false
	}
	if d.activeID == id {
		return true
	}
	window.ZIndex = d.nextZ()
	d.activeID = id
	return true
}

// Move repositions a window, keeping it inside the container.
func (d *Desk) Move(id string, position Point) bool {
	window := d.find(id)
	if window == nil {
		return false
	}
	window.Position = clampPosition(position, window.Size, d.Container())
	return true
}

// Resize changes a window's size, bounded by the minimum size and the container edge.
func (d *Desk) Resize(id string, size Size) bool {
	window := d.find(id)
	if window == nil {
		return false
	}
	window.Size = clampSize(size, window.Position, d.Container())
	return true
}

// Minimize hides a window until it is restored.
func (d *Desk) Minimize(id string) bool {
	window := d.find(id)
	if window == nil {
		return false
	}
	window.IsMinimized = true
	window.IsMaximized = false
	return true
}

// Maximize toggles a window between filling the container and its saved geometry.
func (d *Desk) Maximize(id string) bool {
	window := d.find(id)
	if window == nil {
		return false
	}
	if window.IsMaximized {
		window.Position = fallbackRestorePosition
		if window.OriginalPosition != nil {
			window.Position = *window.OriginalPosition
		}
		window.Size = fallbackRestoreSize
		if window.OriginalSize != nil {
			window.Size = *window.OriginalSize
		}
		window.OriginalPosition = nil
		window.OriginalSize = nil
		window.IsMaximized = false
		return true
	}

	position := window.Position
	size := window.Size
	window.OriginalPosition = &position
	window.OriginalSize = &size
	window.Position = Point{}
	window.Size = d.Container()
	window.Container = d.Container()
	window.IsMaximized = true
	window.IsMinimized = false
	return true
}

// Restore brings a minimized window back.
func (d *Desk) Restore(id string) bool {
	window := d.find(id)
	if window == nil {
		return false
	}
	window.IsMinimized = false
	return true
}

// CascadeAll stacks every window diagonally in registry order.
func (d *Desk) CascadeAll() {
	for index, window := range d.windows {
		window.unflag()
		window.Position = cascadePosition(index)
	}
}

// TileAll partitions the container into a near-square grid, one cell per window.
func (d *Desk) TileAll() {
	cols, rows := tileGrid(len(d.windows))
	container := d.Container()
	for index, window := range d.windows {
		window.unflag()
		window.Position, window.Size = tileCell(index, cols, rows, container)
		window.Container = container
	}
}

// CloseAll empties the desk.
func (d *Desk) CloseAll() {
	d.windows = nil
	d.activeID = ""
}

// SetSidebarWidth changes the width reserved for the sidebar. Positioned windows keep their
// geometry; only container fields and maximized windows follow the new container.
func (d *Desk) SetSidebarWidth(width int) {
	d.geometry = d.geometry.withSidebar(width)
	d.refreshContainer()
}

// SetViewport records a new browser viewport size.
func (d *Desk) SetViewport(viewport Size) {
	d.geometry.Viewport = viewport
	d.geometry = d.geometry.withSidebar(d.geometry.SidebarWidth)
	d.refreshContainer()
}

// BeginFetch starts a data fetch for a window and returns its sequence token.
func (d *Desk) BeginFetch(id string) (uint64, bool) {
	window := d.find(id)
	if window == nil {
		return 0, false
	}
	window.fetchSeq++
	return window.fetchSeq, true
}

// CompleteFetch stores fetched data when seq is still the latest fetch for the window.
func (d *Desk) CompleteFetch(id string, seq uint64, data any) error {
	window := d.find(id)
	if window == nil {
		return ErrWindowNotFound
	}
	if seq != window.fetchSeq {
		return ErrStaleFetch
	}
	window.Data = data
	return nil
}

// Visible returns the windows that are rendered, bottom-most first.
func (d *Desk) Visible() []Window {
	visible := make([]Window, 0, len(d.windows))
	for _, window := range d.windows {
		if !window.IsMinimized {
			visible = append(visible, window.clone())
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].ZIndex < visible[j].ZIndex
	})
	return visible
}

// Snapshot copies the desk state in registry order.
func (d *Desk) Snapshot() Snapshot {
	windows := make([]Window, 0, len(d.windows))
	for _, window := range d.windows {
		windows = append(windows, window.clone())
	}
	return Snapshot{
		Windows:      windows,
		ActiveID:     d.activeID,
		Container:    d.Container(),
		Viewport:     d.geometry.Viewport,
		SidebarWidth: d.geometry.SidebarWidth,
	}
}

func (d *Desk) refreshContainer() {
	container := d.Container()
	for _, window := range d.windows {
		window.Container = container
		if window.IsMaximized {
			window.Size = container
		}
	}
}

// nextZ returns a stamp strictly greater than every registered window's.
func (d *Desk) nextZ() int64 {
	stamp := d.clock().UnixMilli()
	for _, window := range d.windows {
		if window.ZIndex >= stamp {
			stamp = window.ZIndex + 1
		}
	}
	return stamp
}

func (d *Desk) find(id string) *Window {
	if index := d.indexOf(id); index >= 0 {
		return d.windows[index]
	}
	return nil
}

func (d *Desk) indexOf(id string) int {
	for index, window := range d.windows {
		if window.ID == id {
			return index
		}
	}
	return -1
}

func (w *Window) unflag() {
	if w.IsMaximized && w.OriginalSize != nil {
		w.Size = *w.OriginalSize
	}
	w.IsMinimized = false
	w.IsMaximized = false
	w.OriginalPosition = nil
	w.OriginalSize = nil
}
