//go:build !linux

package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/genricoloni/asciivid/internal/domain"
	"go.uber.org/zap"
)

// Dialer opens a D-Bus connection
type Dialer func() (DBusClient, error)

// ScreenLockWatcher stub for non-Linux platforms
type ScreenLockWatcher struct {
	logger *zap.Logger
	events chan domain.ControlEvent
	once   sync.Once
}

// NewScreenLockWatcher creates a stub watcher that never emits events
func NewScreenLockWatcher(logger *zap.Logger) *ScreenLockWatcher {
	return NewScreenLockWatcherWith(logger, NewStdDBusClient)
}

// NewScreenLockWatcherWith ignores dial on non-Linux platforms
func NewScreenLockWatcherWith(logger *zap.Logger, _ Dialer) *ScreenLockWatcher {
	return &ScreenLockWatcher{logger: logger, events: make(chan domain.ControlEvent)}
}

// Start returns an error indicating screen lock watching is not supported on this platform
func (w *ScreenLockWatcher) Start(ctx context.Context) error {
	return fmt.Errorf("screen lock watching is only supported on Linux systems")
}

// Events returns a channel that is closed by Stop
func (w *ScreenLockWatcher) Events() <-chan domain.ControlEvent {
	return w.events
}

// Stop closes the events channel
func (w *ScreenLockWatcher) Stop() error {
	w.once.Do(func() { close(w.events) })
	return nil
}
