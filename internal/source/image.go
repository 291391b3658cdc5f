package source

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/genricoloni/asciivid/internal/domain"
	"go.uber.org/zap"

	_ "golang.org/x/image/bmp"  // BMP format support
	_ "golang.org/x/image/tiff" // TIFF format support
	_ "golang.org/x/image/webp" // WebP format support
)

// ImageSource serves a still picture as a one-frame stream
type ImageSource struct {
	logger *zap.Logger
	img    *image.NRGBA
	info   domain.MediaInfo

	mu     sync.Mutex
	served bool
}

// NewImageSource decodes the picture at path, honouring EXIF orientation
func NewImageSource(logger *zap.Logger, path string) (*ImageSource, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w: %w", path, domain.ErrSource, err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d: %w", b.Dx(), b.Dy(), domain.ErrSource)
	}

	logger.Info("Image source opened",
		zap.String("path", path),
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()))

	return &ImageSource{
		logger: logger,
		img:    imaging.Clone(img),
		info: domain.MediaInfo{
			Path:       path,
			Width:      b.Dx(),
			Height:     b.Dy(),
			FrameCount: 1,
			IsImage:    true,
		},
	}, nil
}

// Next returns the picture once, then io.EOF until Reset
func (s *ImageSource) Next(ctx context.Context) (domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return domain.Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return domain.Frame{}, io.EOF
	}
	s.served = true

	// Every consumer owns its frame, so the pixels are copied
	pix := make([]byte, len(s.img.Pix))
	copy(pix, s.img.Pix)

	return domain.Frame{
		Width:        s.info.Width,
		Height:       s.info.Height,
		Channels:     4,
		Pix:          pix,
		NativeWidth:  s.info.Width,
		NativeHeight: s.info.Height,
	}, nil
}

// Reset makes the picture available again
func (s *ImageSource) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.served = false
	return nil
}

// Info describes the picture
func (s *ImageSource) Info() domain.MediaInfo {
	return s.info
}

// Close is a no-op; the decoded picture is garbage collected
func (s *ImageSource) Close() error {
	return nil
}
