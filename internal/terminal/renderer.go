// Package terminal draws grids on an ANSI terminal and reads control keys.
package terminal

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/genricoloni/asciivid/internal/domain"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

const (
	escClear      = "\x1b[2J\x1b[H"
	escHome       = "\x1b[H"
	escClearLine  = "\x1b[K"
	escClearBelow = "\x1b[J"
	escHideCursor = "\x1b[?25l"
	escShowCursor = "\x1b[?25h"
	escAltScreen  = "\x1b[?1049h"
	escMainScreen = "\x1b[?1049l"
	escReset      = "\x1b[0m"
)

// SizeFunc reports the terminal size in character cells
type SizeFunc func() (cols, rows int, err error)

// Renderer writes grids to the terminal. The first frame clears the screen;
// later frames redraw in place from the home position to avoid flicker.
type Renderer struct {
	logger *zap.Logger
	out    io.Writer
	size   SizeFunc

	mu      sync.Mutex
	buf     bytes.Buffer
	started bool
	closed  bool
}

// NewRenderer creates a renderer on stdout
func NewRenderer(logger *zap.Logger) *Renderer {
	fd := int(os.Stdout.Fd())
	return NewRendererTo(logger, os.Stdout, func() (int, int, error) {
		return termSize(fd)
	})
}

// NewRendererTo creates a renderer writing to out, sized by size
func NewRendererTo(logger *zap.Logger, out io.Writer, size SizeFunc) *Renderer {
	return &Renderer{logger: logger, out: out, size: size}
}

// CheckTTY fails with domain.ErrNotTerminal when stdout is not a terminal
func CheckTTY() error {
	fd := os.Stdout.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return fmt.Errorf("stdout: %w", domain.ErrNotTerminal)
	}
	return nil
}

// Render draws one frame with a single write
func (r *Renderer) Render(frame domain.RenderFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.buf.Reset()
	if !r.started {
		r.buf.WriteString(escAltScreen)
		r.buf.WriteString(escHideCursor)
		r.buf.WriteString(escClear)
		r.started = true
	} else {
		r.buf.WriteString(escHome)
	}

	for i, row := range frame.Grid.Cells {
		if i > 0 {
			r.buf.WriteString("\r\n")
		}
		r.buf.WriteString(string(row))
		r.buf.WriteString(escClearLine)
	}

	if frame.Status != nil {
		r.buf.WriteString("\r\n")
		r.buf.WriteString(FormatStatus(*frame.Status))
		r.buf.WriteString(escClearLine)
	}
	r.buf.WriteString(escClearBelow)

	if _, err := r.out.Write(r.buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", frame.Grid.Seq, err)
	}
	return nil
}

// Size returns the current terminal size
func (r *Renderer) Size() (int, int, error) {
	return r.size()
}

// Close restores the cursor and the main screen
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	if !r.started {
		return nil
	}

	r.logger.Debug("Restoring terminal screen")
	if _, err := io.WriteString(r.out, escReset+escShowCursor+escMainScreen); err != nil {
		return fmt.Errorf("failed to restore terminal: %w", err)
	}
	return nil
}

// FormatStatus renders the status line shown under the grid
func FormatStatus(s domain.StatusLine) string {
	icon := "■"
	switch s.State {
	case domain.StatePlaying:
		icon = "▶"
	case domain.StatePaused:
		icon = "⏸"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s", icon, s.State)
	if s.IsImage {
		b.WriteString(" | image")
	} else {
		fmt.Fprintf(&b, " | %s/%s | %.1fx", formatClock(s.Position), formatClock(s.Duration), s.Speed)
	}
	fmt.Fprintf(&b, " | %s", s.Quality)
	if p := s.Performance; p != nil {
		fmt.Fprintf(&b, " | %.1f fps | cpu %.0f%% | mem %.0f%% | dropped %d",
			p.FPS, p.CPUPercent, p.MemoryPercent, p.DroppedFrames)
	}
	b.WriteString(" | space pause, +/- speed, r restart, q quit")
	return b.String()
}

func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
