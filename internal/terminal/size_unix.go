//go:build unix

package terminal

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// termSize asks the tty driver for the window size of fd
func termSize(fd int) (cols, rows int, err error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get window size: %w", err)
	}
	return int(ws.Col), int(ws.Row), nil
}
