//go:build !unix

package terminal

import (
	"fmt"

	"golang.org/x/term"
)

func termSize(fd int) (cols, rows int, err error) {
	cols, rows, err = term.GetSize(fd)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get window size: %w", err)
	}
	return cols, rows, nil
}
