package source

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/genricoloni/asciivid/internal/domain"
	"go.uber.org/zap"
)

// createTestPNG writes a w x h PNG filled with c and returns its path
func createTestPNG(t *testing.T, w, h int, c color.NRGBA) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	path := filepath.Join(t.TempDir(), "frame.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create test image: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return path
}

func TestImageSource(t *testing.T) {
	path := createTestPNG(t, 32, 16, color.NRGBA{R: 200, G: 10, B: 10, A: 255})

	src, err := Open(zap.NewNop(), path, 0)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	info := src.Info()
	if !info.IsImage || info.Width != 32 || info.Height != 16 || info.FrameCount != 1 {
		t.Errorf("unexpected media info: %+v", info)
	}

	ctx := context.Background()
	frame, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if frame.Width != 32 || frame.Height != 16 || frame.Channels != 4 || len(frame.Pix) != 32*16*4 {
		t.Errorf("unexpected frame geometry %dx%dx%d (%d bytes)", frame.Width, frame.Height, frame.Channels, len(frame.Pix))
	}
	if frame.Pix[0] != 200 {
		t.Errorf("expected red channel 200, got %d", frame.Pix[0])
	}

	if _, err := src.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after the single frame, got %v", err)
	}

	if err := src.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if _, err := src.Next(ctx); err != nil {
		t.Errorf("expected frame again after Reset, got %v", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(corrupt, []byte("not-an-image"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	tests := []struct {
		name string
		path string
	}{
		{name: "Error - empty path", path: ""},
		{name: "Error - missing file", path: filepath.Join(dir, "missing.mp4")},
		{name: "Error - directory", path: dir},
		{name: "Error - corrupt image", path: corrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := Open(zap.NewNop(), tt.path, 0)
			if !errors.Is(err, domain.ErrSource) {
				t.Errorf("expected ErrSource, got %v", err)
			}
			if src != nil {
				t.Errorf("expected nil source on error")
			}
		})
	}
}

func TestIsImage(t *testing.T) {
	tests := map[string]bool{
		"a.PNG":        true,
		"b.jpeg":       true,
		"c.webp":       true,
		"clip.mp4":     false,
		"movie.mkv":    false,
		"no_extension": false,
	}
	for path, want := range tests {
		if got := IsImage(path); got != want {
			t.Errorf("IsImage(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestImageSource_CanceledContext(t *testing.T) {
	src, err := NewImageSource(zap.NewNop(), createTestPNG(t, 4, 4, color.NRGBA{A: 255}))
	if err != nil {
		t.Fatalf("NewImageSource failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := src.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
