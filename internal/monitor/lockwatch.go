//go:build linux

package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/asciivid/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// Screen saver interfaces that broadcast ActiveChanged(bool)
var screenSaverInterfaces = []string{
	"org.freedesktop.ScreenSaver",
	"org.gnome.ScreenSaver",
}

// Dialer opens a D-Bus connection
type Dialer func() (DBusClient, error)

// ScreenLockWatcher pauses playback while the session is locked. It listens
// for ActiveChanged signals and emits EventPause on lock and EventResume on
// unlock.
type ScreenLockWatcher struct {
	logger *zap.Logger
	dial   Dialer
	events chan domain.ControlEvent

	mu              sync.Mutex
	running         bool
	cancel          context.CancelFunc
	conn            DBusClient
	signals         chan *dbus.Signal
	locked          bool
	lastDropWarning time.Time
	wg              sync.WaitGroup
	stopOnce        sync.Once
}

// NewScreenLockWatcher creates a watcher on the session bus
func NewScreenLockWatcher(logger *zap.Logger) *ScreenLockWatcher {
	return NewScreenLockWatcherWith(logger, NewStdDBusClient)
}

// NewScreenLockWatcherWith creates a watcher that connects through dial
func NewScreenLockWatcherWith(logger *zap.Logger, dial Dialer) *ScreenLockWatcher {
	return &ScreenLockWatcher{
		logger: logger,
		dial:   dial,
		events: make(chan domain.ControlEvent, 4),
	}
}

// Start connects to the session bus and begins listening. It returns once
// the match rules are installed.
func (w *ScreenLockWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	conn, err := w.dial()
	if err != nil {
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	for _, iface := range screenSaverInterfaces {
		if err := conn.AddMatchSignal(
			dbus.WithMatchInterface(iface),
			dbus.WithMatchMember("ActiveChanged"),
		); err != nil {
			if cerr := conn.Close(); cerr != nil {
				w.logger.Warn("Failed to close D-Bus connection", zap.Error(cerr))
			}
			return fmt.Errorf("failed to add match signal for %s: %w", iface, err)
		}
	}

	w.conn = conn
	w.signals = make(chan *dbus.Signal, 10)
	conn.Signal(w.signals)

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.watchSignals(watchCtx)

	w.logger.Info("Screen lock watcher started")
	return nil
}

// Stop disconnects from the bus and closes the events channel
func (w *ScreenLockWatcher) Stop() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.running = false
	w.mu.Unlock()

	// Wait for the signal goroutine before closing the channel it sends on
	w.wg.Wait()

	var err error
	w.stopOnce.Do(func() {
		close(w.events)

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.conn != nil {
			w.conn.RemoveSignal(w.signals)
			if cerr := w.conn.Close(); cerr != nil {
				err = fmt.Errorf("failed to close D-Bus connection: %w", cerr)
			}
			w.conn = nil
		}
		w.logger.Info("Screen lock watcher stopped")
	})
	return err
}

// Events returns lock transitions as pause and resume events
func (w *ScreenLockWatcher) Events() <-chan domain.ControlEvent {
	return w.events
}

func (w *ScreenLockWatcher) watchSignals(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-w.signals:
			if !ok {
				return
			}
			if sig == nil {
				continue
			}
			w.handleSignal(sig)
		}
	}
}

// handleSignal translates one ActiveChanged signal. Repeated signals with
// the same value are collapsed.
func (w *ScreenLockWatcher) handleSignal(sig *dbus.Signal) {
	if !isActiveChanged(sig.Name) || len(sig.Body) < 1 {
		return
	}

	active, ok := sig.Body[0].(bool)
	if !ok {
		w.logger.Debug("Unexpected ActiveChanged payload",
			zap.String("type", fmt.Sprintf("%T", sig.Body[0])))
		return
	}

	w.mu.Lock()
	if active == w.locked {
		w.mu.Unlock()
		return
	}
	w.locked = active
	w.mu.Unlock()

	ev := domain.EventResume
	if active {
		ev = domain.EventPause
	}

	select {
	case w.events <- ev:
		w.logger.Info("Screen lock changed", zap.Bool("locked", active), zap.String("sender", sig.Sender))
	default:
		w.logChannelFullWarning()
	}
}

func isActiveChanged(name string) bool {
	for _, iface := range screenSaverInterfaces {
		if name == iface+".ActiveChanged" {
			return true
		}
	}
	return false
}

// logChannelFullWarning logs at most once every 5 seconds
func (w *ScreenLockWatcher) logChannelFullWarning() {
	w.mu.Lock()
	defer w.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()
	if now.Sub(w.lastDropWarning) >= warningInterval {
		w.logger.Warn("Events channel full, dropping screen lock event")
		w.lastDropWarning = now
	}
}
