package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/genricoloni/asciivid/internal/domain"
	"go.uber.org/zap"
)

// DefaultMaxDecodeWidth caps the width frames are scaled to right after
// decoding. The terminal canvas is far smaller, so larger frames only cost memory.
const DefaultMaxDecodeWidth = 960

// avTimeBase is FFmpeg's AV_TIME_BASE: container durations are in microseconds
const avTimeBase = 1_000_000

// VideoSource decodes the first video stream of a media file with FFmpeg
// and converts every frame to RGB24.
type VideoSource struct {
	logger   *zap.Logger
	path     string
	maxWidth int

	mu        sync.Mutex
	formatCtx *astiav.FormatContext
	stream    *astiav.Stream
	codecCtx  *astiav.CodecContext
	swsCtx    *astiav.SoftwareScaleContext
	packet    *astiav.Packet
	frame     *astiav.Frame
	rgbFrame  *astiav.Frame
	timeBase  astiav.Rational
	dstWidth  int
	dstHeight int
	draining  bool
	closed    bool

	info domain.MediaInfo
}

// NewVideoSource opens path and prepares its video decoder
func NewVideoSource(logger *zap.Logger, path string, maxWidth int) (*VideoSource, error) {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxDecodeWidth
	}
	v := &VideoSource{logger: logger, path: path, maxWidth: maxWidth}
	if err := v.open(); err != nil {
		return nil, err
	}

	logger.Info("Video source opened",
		zap.String("path", path),
		zap.Int("width", v.info.Width),
		zap.Int("height", v.info.Height),
		zap.Float64("fps", v.info.FPS),
		zap.Int64("frames", v.info.FrameCount))
	return v, nil
}

func (v *VideoSource) open() error {
	// 1. Demuxer
	v.formatCtx = astiav.AllocFormatContext()
	if v.formatCtx == nil {
		return fmt.Errorf("failed to allocate format context: %w", domain.ErrSource)
	}
	if err := v.formatCtx.OpenInput(v.path, nil, nil); err != nil {
		v.formatCtx.Free()
		v.formatCtx = nil
		return fmt.Errorf("failed to open %s: %w: %w", v.path, domain.ErrSource, err)
	}
	if err := v.formatCtx.FindStreamInfo(nil); err != nil {
		v.release()
		return fmt.Errorf("failed to find stream info: %w: %w", domain.ErrSource, err)
	}

	for _, stream := range v.formatCtx.Streams() {
		if stream.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			v.stream = stream
			break
		}
	}
	if v.stream == nil {
		v.release()
		return fmt.Errorf("no video stream in %s: %w", v.path, domain.ErrSource)
	}
	v.timeBase = v.stream.TimeBase()

	// 2. Decoder
	params := v.stream.CodecParameters()
	codec := astiav.FindDecoder(params.CodecID())
	if codec == nil {
		v.release()
		return fmt.Errorf("video codec not found: %s: %w", params.CodecID(), domain.ErrSource)
	}
	if v.codecCtx = astiav.AllocCodecContext(codec); v.codecCtx == nil {
		v.release()
		return fmt.Errorf("failed to allocate codec context: %w", domain.ErrSource)
	}
	if err := params.ToCodecContext(v.codecCtx); err != nil {
		v.release()
		return fmt.Errorf("failed to copy codec params: %w: %w", domain.ErrSource, err)
	}
	if err := v.codecCtx.Open(codec, nil); err != nil {
		v.release()
		return fmt.Errorf("failed to open codec: %w: %w", domain.ErrSource, err)
	}

	v.packet = astiav.AllocPacket()
	v.frame = astiav.AllocFrame()
	v.rgbFrame = astiav.AllocFrame()
	v.draining = false

	// 3. Output size: native, capped at maxWidth
	srcW, srcH := params.Width(), params.Height()
	if srcW <= 0 || srcH <= 0 {
		v.release()
		return fmt.Errorf("invalid video size %dx%d: %w", srcW, srcH, domain.ErrSource)
	}
	v.dstWidth, v.dstHeight = srcW, srcH
	if srcW > v.maxWidth {
		v.dstWidth = v.maxWidth
		v.dstHeight = max(srcH*v.maxWidth/srcW, 1)
	}

	fps := 0.0
	if rate := v.stream.AvgFrameRate(); rate.Den() != 0 {
		fps = float64(rate.Num()) / float64(rate.Den())
	}
	frames := v.stream.NbFrames()
	if frames <= 0 && fps > 0 && v.formatCtx.Duration() > 0 {
		frames = int64(float64(v.formatCtx.Duration()) / avTimeBase * fps)
	}

	v.info = domain.MediaInfo{
		Path:       v.path,
		Width:      srcW,
		Height:     srcH,
		FPS:        fps,
		FrameCount: frames,
	}
	return nil
}

// Next decodes the next frame. It returns io.EOF once the stream is exhausted
// and an error wrapping domain.ErrDecode for a frame that could not be decoded.
func (v *VideoSource) Next(ctx context.Context) (domain.Frame, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return domain.Frame{}, io.EOF
	}
	if v.codecCtx == nil {
		return domain.Frame{}, fmt.Errorf("video source not open: %w", domain.ErrSource)
	}

	for {
		if err := ctx.Err(); err != nil {
			return domain.Frame{}, err
		}

		// 1. Drain a frame the decoder already has
		err := v.codecCtx.ReceiveFrame(v.frame)
		if err == nil {
			return v.convert()
		}
		if errors.Is(err, astiav.ErrEof) {
			return domain.Frame{}, io.EOF
		}
		if !errors.Is(err, astiav.ErrEagain) {
			return domain.Frame{}, fmt.Errorf("failed to receive frame: %w: %w", domain.ErrDecode, err)
		}
		if v.draining {
			return domain.Frame{}, io.EOF
		}

		// 2. Feed the decoder the next video packet
		if err := v.formatCtx.ReadFrame(v.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				v.draining = true
				if err := v.codecCtx.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
					return domain.Frame{}, fmt.Errorf("failed to flush decoder: %w: %w", domain.ErrDecode, err)
				}
				continue
			}
			return domain.Frame{}, fmt.Errorf("failed to read packet: %w: %w", domain.ErrDecode, err)
		}

		if v.packet.StreamIndex() != v.stream.Index() {
			v.packet.Unref()
			continue
		}
		err = v.codecCtx.SendPacket(v.packet)
		v.packet.Unref()
		if err != nil && !errors.Is(err, astiav.ErrEagain) {
			return domain.Frame{}, fmt.Errorf("failed to send packet: %w: %w", domain.ErrDecode, err)
		}
	}
}

// convert scales the decoded frame to RGB24 and copies it out
func (v *VideoSource) convert() (domain.Frame, error) {
	defer v.frame.Unref()

	if v.swsCtx == nil {
		var err error
		v.swsCtx, err = astiav.CreateSoftwareScaleContext(
			v.frame.Width(), v.frame.Height(), v.frame.PixelFormat(),
			v.dstWidth, v.dstHeight, astiav.PixelFormatRgb24,
			astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
		)
		if err != nil {
			return domain.Frame{}, fmt.Errorf("failed to create sws context: %w: %w", domain.ErrDecode, err)
		}
		v.rgbFrame.SetWidth(v.dstWidth)
		v.rgbFrame.SetHeight(v.dstHeight)
		v.rgbFrame.SetPixelFormat(astiav.PixelFormatRgb24)
		if err := v.rgbFrame.AllocBuffer(1); err != nil {
			return domain.Frame{}, fmt.Errorf("failed to allocate RGB buffer: %w", err)
		}
	}

	if err := v.swsCtx.ScaleFrame(v.frame, v.rgbFrame); err != nil {
		return domain.Frame{}, fmt.Errorf("failed to scale frame: %w: %w", domain.ErrDecode, err)
	}
	data, err := v.rgbFrame.Data().Bytes(1)
	if err != nil {
		return domain.Frame{}, fmt.Errorf("failed to read RGB bytes: %w: %w", domain.ErrDecode, err)
	}

	// The RGB frame is reused, so the pixels are copied
	pix := make([]byte, len(data))
	copy(pix, data)

	pts := v.frame.Pts()
	ts := time.Duration(float64(pts) * float64(v.timeBase.Num()) / float64(v.timeBase.Den()) * float64(time.Second))

	return domain.Frame{
		Timestamp:    ts,
		Width:        v.dstWidth,
		Height:       v.dstHeight,
		Channels:     3,
		Pix:          pix,
		NativeWidth:  v.info.Width,
		NativeHeight: v.info.Height,
	}, nil
}

// Reset rewinds to the first frame by reopening the file
func (v *VideoSource) Reset() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("video source closed: %w", domain.ErrSource)
	}
	v.release()
	if err := v.open(); err != nil {
		return fmt.Errorf("failed to reopen %s: %w", v.path, err)
	}
	v.logger.Debug("Video source rewound", zap.String("path", v.path))
	return nil
}

// Info describes the opened media
func (v *VideoSource) Info() domain.MediaInfo {
	return v.info
}

// Close releases every FFmpeg resource
func (v *VideoSource) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true
	v.release()
	return nil
}

// release frees FFmpeg state; caller holds the lock or owns v exclusively
func (v *VideoSource) release() {
	if v.swsCtx != nil {
		v.swsCtx.Free()
		v.swsCtx = nil
	}
	if v.rgbFrame != nil {
		v.rgbFrame.Free()
		v.rgbFrame = nil
	}
	if v.frame != nil {
		v.frame.Free()
		v.frame = nil
	}
	if v.packet != nil {
		v.packet.Free()
		v.packet = nil
	}
	if v.codecCtx != nil {
		v.codecCtx.Free()
		v.codecCtx = nil
	}
	if v.formatCtx != nil {
		v.formatCtx.CloseInput()
		v.formatCtx.Free()
		v.formatCtx = nil
	}
	v.stream = nil
}
