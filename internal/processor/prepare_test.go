package processor

import (
	"errors"
	"image/color"
	"testing"

	"github.com/genricoloni/asciivid/internal/domain"
)

func TestPrepare(t *testing.T) {
	tests := []struct {
		name         string
		frame        domain.Frame
		cols, rows   int
		expectedErr  error
		validateFunc func(t *testing.T, out domain.Frame)
	}{
		{
			name:  "Success - 1080p into 80x24",
			frame: createTestFrame(1920, 1080, color.NRGBA{R: 255, G: 255, B: 255, A: 255}),
			cols:  80,
			rows:  24,
			validateFunc: func(t *testing.T, out domain.Frame) {
				if out.Width != 80 || out.Height != 24 {
					t.Errorf("expected 80x24 canvas, got %dx%d", out.Width, out.Height)
				}
				if out.NativeWidth != 1920 || out.NativeHeight != 1080 {
					t.Errorf("expected native 1920x1080, got %dx%d", out.NativeWidth, out.NativeHeight)
				}
				if out.Channels != 4 || len(out.Pix) != 80*24*4 {
					t.Errorf("expected NRGBA canvas, got %d channels, %d bytes", out.Channels, len(out.Pix))
				}
			},
		},
		{
			name:  "Success - square source is letterboxed",
			frame: createTestFrame(100, 100, color.NRGBA{R: 255, G: 255, B: 255, A: 255}),
			cols:  80,
			rows:  24,
			validateFunc: func(t *testing.T, out domain.Frame) {
				img := out.Image()
				if c := img.NRGBAAt(0, 0); c.R != 0 {
					t.Errorf("expected black border at (0,0), got %v", c)
				}
				if c := img.NRGBAAt(79, 12); c.R != 0 {
					t.Errorf("expected black border at (79,12), got %v", c)
				}
				if c := img.NRGBAAt(40, 12); c.R != 255 {
					t.Errorf("expected white picture at centre, got %v", c)
				}
			},
		},
		{
			name:  "Edge Case - tiny source",
			frame: createTestFrame(1, 1, color.NRGBA{R: 10, G: 10, B: 10, A: 255}),
			cols:  10,
			rows:  5,
			validateFunc: func(t *testing.T, out domain.Frame) {
				if out.Width != 10 || out.Height != 5 {
					t.Errorf("expected 10x5, got %dx%d", out.Width, out.Height)
				}
			},
		},
		{
			name:        "Error - empty frame",
			frame:       domain.Frame{Width: 0, Height: 10, Channels: 3},
			cols:        10,
			rows:        5,
			expectedErr: domain.ErrDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Prepare(tt.frame, tt.cols, tt.rows)
			if tt.expectedErr != nil {
				if !errors.Is(err, tt.expectedErr) {
					t.Fatalf("expected %v, got %v", tt.expectedErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Seq != tt.frame.Seq || out.Epoch != tt.frame.Epoch {
				t.Errorf("sequence metadata not preserved")
			}
			if tt.validateFunc != nil {
				tt.validateFunc(t, out)
			}
		})
	}

	if _, err := Prepare(createTestFrame(4, 4, color.NRGBA{}), 0, 3); err == nil {
		t.Error("expected error for empty canvas")
	}
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		name         string
		fw, fh, c, r int
		wantW, wantH int
	}{
		{name: "square in wide terminal", fw: 100, fh: 100, c: 80, r: 24, wantW: 48, wantH: 24},
		{name: "wide source", fw: 400, fh: 100, c: 80, r: 24, wantW: 80, wantH: 10},
		{name: "tall source", fw: 100, fh: 400, c: 80, r: 24, wantW: 12, wantH: 24},
		{name: "degenerate stays visible", fw: 10000, fh: 1, c: 80, r: 24, wantW: 80, wantH: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := FitSize(tt.fw, tt.fh, tt.c, tt.r)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("FitSize = %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}
		})
	}
}
