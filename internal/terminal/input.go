package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/genricoloni/asciivid/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// keyBindings maps single key presses to control events
var keyBindings = map[byte]domain.ControlEvent{
	' ':  domain.EventTogglePause,
	'q':  domain.EventQuit,
	'Q':  domain.EventQuit,
	0x03: domain.EventQuit, // Ctrl-C in raw mode
	'+':  domain.EventSpeedUp,
	'=':  domain.EventSpeedUp,
	'-':  domain.EventSpeedDown,
	'_':  domain.EventSpeedDown,
	'r':  domain.EventRestart,
	'R':  domain.EventRestart,
	'f':  domain.EventToggleUI,
	'F':  domain.EventToggleUI,
	'p':  domain.EventTogglePerformance,
	'P':  domain.EventTogglePerformance,
}

// KeyFor returns the event bound to key, or EventNone
func KeyFor(key byte) domain.ControlEvent {
	if ev, ok := keyBindings[key]; ok {
		return ev
	}
	return domain.EventNone
}

// KeyboardInput reads control keys from a terminal in raw mode
type KeyboardInput struct {
	logger *zap.Logger
	in     io.Reader
	fd     int // -1 when in is not a terminal
	events chan domain.ControlEvent

	mu       sync.Mutex
	oldState *term.State
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewKeyboardInput reads from stdin
func NewKeyboardInput(logger *zap.Logger) *KeyboardInput {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fd = -1
	}
	return NewKeyboardInputFrom(logger, os.Stdin, fd)
}

// NewKeyboardInputFrom reads from in. Raw mode is only entered when fd >= 0.
func NewKeyboardInputFrom(logger *zap.Logger, in io.Reader, fd int) *KeyboardInput {
	return &KeyboardInput{
		logger: logger,
		in:     in,
		fd:     fd,
		events: make(chan domain.ControlEvent, 16),
	}
}

// Start switches the terminal to raw mode and begins reading keys
func (k *KeyboardInput) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.done != nil {
		return nil
	}

	if k.fd >= 0 {
		oldState, err := term.MakeRaw(k.fd)
		if err != nil {
			return fmt.Errorf("failed to enter raw mode: %w", err)
		}
		k.oldState = oldState
	}

	ctx, k.cancel = context.WithCancel(ctx)
	k.done = make(chan struct{})
	go k.readLoop(ctx)

	k.logger.Info("Keyboard input started", zap.Bool("raw", k.oldState != nil))
	return nil
}

// Events returns the channel of decoded key presses
func (k *KeyboardInput) Events() <-chan domain.ControlEvent {
	return k.events
}

// Stop restores the terminal mode. A read already in progress returns with
// the next key press or when the process exits.
func (k *KeyboardInput) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.cancel != nil {
		k.cancel()
		k.cancel = nil
	}
	if k.oldState != nil {
		if err := term.Restore(k.fd, k.oldState); err != nil {
			return fmt.Errorf("failed to restore terminal mode: %w", err)
		}
		k.oldState = nil
	}
	return nil
}

func (k *KeyboardInput) readLoop(ctx context.Context) {
	defer close(k.done)
	buf := make([]byte, 16)

	for {
		n, err := k.in.Read(buf)
		for _, b := range buf[:n] {
			ev := KeyFor(b)
			if ev == domain.EventNone {
				continue
			}
			select {
			case k.events <- ev:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				k.logger.Warn("Keyboard read failed", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
