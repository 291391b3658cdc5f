package ascii

import (
	"math"

	"github.com/genricoloni/asciivid/internal/domain"
)

// Mapper turns enhanced brightness planes into character grids.
// It holds no state and is safe for concurrent use.
type Mapper struct{}

// NewMapper creates a new brightness-to-character mapper
func NewMapper() *Mapper {
	return &Mapper{}
}

// Map produces a cols x rows grid. Each cell takes the mean brightness of the
// source region it covers, so the grid size never depends on the frame size.
func (m *Mapper) Map(frame domain.EnhancedFrame, style Style, cols, rows int) domain.AsciiGrid {
	grid := domain.AsciiGrid{
		Seq:   frame.Seq,
		Epoch: frame.Epoch,
		Cols:  cols,
		Rows:  rows,
	}
	if cols <= 0 || rows <= 0 {
		return grid
	}

	grid.Cells = make([][]rune, rows)
	for y := 0; y < rows; y++ {
		row := make([]rune, cols)
		for x := 0; x < cols; x++ {
			row[x] = CharFor(cellBrightness(frame, x, y, cols, rows), style)
		}
		grid.Cells[y] = row
	}
	return grid
}

// CharFor selects the table entry for a brightness in [0,1].
// Out of range and NaN values are clamped.
func CharFor(b float64, style Style) rune {
	n := style.Len()
	if n == 0 {
		return ' '
	}
	return style.Charset[Index(b, n)]
}

// Index returns floor(b*(n-1)) clamped to [0, n-1]
func Index(b float64, n int) int {
	if n <= 1 || math.IsNaN(b) {
		return 0
	}
	idx := int(math.Floor(b * float64(n-1)))
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// cellBrightness averages the source pixels covered by cell (cx, cy).
// When the source is smaller than the grid, the nearest pixel is used.
func cellBrightness(f domain.EnhancedFrame, cx, cy, cols, rows int) float64 {
	if f.Width <= 0 || f.Height <= 0 || len(f.Luma) < f.Width*f.Height {
		return 0
	}

	x0 := cx * f.Width / cols
	x1 := (cx + 1) * f.Width / cols
	y0 := cy * f.Height / rows
	y1 := (cy + 1) * f.Height / rows
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	if x1 > f.Width {
		x0, x1 = f.Width-1, f.Width
	}
	if y1 > f.Height {
		y0, y1 = f.Height-1, f.Height
	}

	var sum float64
	for y := y0; y < y1; y++ {
		row := f.Luma[y*f.Width : (y+1)*f.Width]
		for x := x0; x < x1; x++ {
			sum += float64(row[x])
		}
	}
	return sum / float64((x1-x0)*(y1-y0))
}
