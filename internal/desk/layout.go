package desk

import "time"

// Layout is the persisted shape of a desk: geometry and flags only, never fetched data.
type Layout struct {
	Windows        []Window
	ActiveID       string
	Viewport       Size
	SidebarWidth   int
	CascadeCounter int
}

// Layout captures the persistable part of the desk.
func (d *Desk) Layout() Layout {
	windows := make([]Window, 0, len(d.windows))
	for _, window := range d.windows {
		stripped := window.clone()
		stripped.Data = nil
		stripped.fetchSeq = 0
		windows = append(windows, stripped)
	}
	return Layout{
		Windows:        windows,
		ActiveID:       d.activeID,
		Viewport:       d.geometry.Viewport,
		SidebarWidth:   d.geometry.SidebarWidth,
		CascadeCounter: d.cascadeCounter,
	}
}

// RestoreDesk rebuilds a desk from a persisted layout. Chrome height always comes from
// the supplied geometry; viewport and sidebar come from the layout when it carries them.
func RestoreDesk(layout Layout, geometry Geometry, clock func() time.Time, ids IDProvider) *Desk {
	if layout.Viewport.Width > 0 && layout.Viewport.Height > 0 {
		geometry.Viewport = layout.Viewport
		geometry.SidebarWidth = layout.SidebarWidth
	}
	restored := NewDesk(geometry, clock, ids)
	restored.cascadeCounter = layout.CascadeCounter
	for index := range layout.Windows {
		window := layout.Windows[index].clone()
		window.Data = nil
		restored.windows = append(restored.windows, &window)
	}
	if restored.find(layout.ActiveID) != nil {
		restored.activeID = layout.ActiveID
	}
	restored.refreshContainer()
	return restored
}
