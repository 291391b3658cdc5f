// Package source provides the frame sources: FFmpeg-decoded video files and
// still images.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/genricoloni/asciivid/internal/domain"
	"go.uber.org/zap"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImage reports whether path names a still image by its extension
func IsImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// Open picks the frame source for path. Missing or unreadable files fail
// with an error wrapping domain.ErrSource.
func Open(logger *zap.Logger, path string, maxDecodeWidth int) (domain.FrameSource, error) {
	if path == "" {
		return nil, fmt.Errorf("no media path given: %w", domain.ErrSource)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access %s: %w: %w", path, domain.ErrSource, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory: %w", path, domain.ErrSource)
	}

	if IsImage(path) {
		src, err := NewImageSource(logger, path)
		if err != nil {
			return nil, err
		}
		return src, nil
	}

	src, err := NewVideoSource(logger, path, maxDecodeWidth)
	if err != nil {
		return nil, err
	}
	return src, nil
}
