package desk

import "math"

const (
	// MinWindowWidth is the narrowest a window may be resized to.
	MinWindowWidth = 200
	// MinWindowHeight is the shortest a window may be resized to.
	MinWindowHeight = 150

	cascadeOrigin = 50
	cascadeStep   = 30
	cascadeCycle  = 10
	tileGap       = 10
)

var (
	fallbackRestorePosition = Point{X: 50, Y: 50}
	fallbackRestoreSize     = Size{Width: 800, Height: 600}
)

// Point is a window position relative to the container's top-left corner.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Geometry describes the browser viewport and the fixed chrome around the desk area.
type Geometry struct {
	Viewport     Size
	SidebarWidth int
	// ChromeHeight is the fixed header plus taskbar height.
	ChromeHeight int
}

// Container returns the area available to windows.
func (g Geometry) Container() Size {
	return Size{
		Width:  max(g.Viewport.Width-g.SidebarWidth, 0),
		Height: max(g.Viewport.Height-g.ChromeHeight, 0),
	}
}

func (g Geometry) withSidebar(width int) Geometry {
	upper := max(g.Viewport.Width-MinWindowWidth, 0)
	g.SidebarWidth = min(max(width, 0), upper)
	return g
}

func clampPosition(position Point, size Size, container Size) Point {
	return Point{
		X: clampInt(position.X, 0, container.Width-size.Width),
		Y: clampInt(position.Y, 0, container.Height-size.Height),
	}
}

func clampSize(size Size, position Point, container Size) Size {
	return Size{
		Width:  clampInt(size.Width, MinWindowWidth, container.Width-position.X),
		Height: clampInt(size.Height, MinWindowHeight, container.Height-position.Y),
	}
}

// clampInt bounds value to [lower, upper]; when upper < lower the lower bound wins.
func clampInt(value, lower, upper int) int {
	if value > upper {
		value = upper
	}
	if value < lower {
		value = lower
	}
	return value
}

func cascadePosition(index int) Point {
	offset := cascadeOrigin + cascadeStep*index
	return Point{X: offset, Y: offset}
}

// tileGrid returns the column and row count for n windows.
func tileGrid(n int) (int, int) {
	if n <= 0 {
		return 0, 0
	}
	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := int(math.Ceil(float64(n) / float64(cols)))
	return cols, rows
}

func tileCell(index, cols, rows int, container Size) (Point, Size) {
	cellWidth := container.Width / cols
	cellHeight := container.Height / rows
	col := index % cols
	row := index / cols
	return Point{X: col * cellWidth, Y: row * cellHeight},
		Size{Width: max(cellWidth-tileGap, 0), Height: max(cellHeight-tileGap, 0)}
}
