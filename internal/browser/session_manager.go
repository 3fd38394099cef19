package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gtalk/internal/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Driver is the page-level capability a query drives. Implementations are not
// required to be safe for concurrent use; the session manager hands one driver to
// one caller at a time.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	// WaitForSelector reports whether any selector matched before timeout. A timeout
	// is (false, nil); errors are reserved for driver failures and cancellation.
	WaitForSelector(ctx context.Context, selectors []string, timeout time.Duration) (bool, error)
	Close() error
}

// Launcher starts a fully configured browser and returns its driver.
type Launcher interface {
	Launch(ctx context.Context) (Driver, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context) (Driver, error)

func (f LauncherFunc) Launch(ctx context.Context) (Driver, error) { return f(ctx) }

// Stage marks session start-up progress for status display.
type Stage int

const (
	StageLaunching Stage = iota
	StageWarmingUp
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StageLaunching:
		return "launching"
	case StageWarmingUp:
		return "warming_up"
	case StageReady:
		return "ready"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Session describes the one live browser instance owned by a manager.
type Session struct {
	ID        string
	CreatedAt time.Time
	Driver    Driver
}

// SessionInitError means no browser could be started. It is fatal to the process.
type SessionInitError struct {
	Err error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("failed to initialize browser: %v (make sure Chrome or Chromium is installed and on PATH, or set browser.bin)", e.Err)
}

func (e *SessionInitError) Unwrap() error { return e.Err }

// SessionManager owns the browser lifecycle: launch, warm-up, invalidation after a
// crash, and orderly shutdown.
type SessionManager struct {
	cfg      config.BrowserConfig
	launcher Launcher
	logger   *zap.Logger
	onStage  func(Stage)

	mu      sync.Mutex
	session *Session
}

func NewSessionManager(cfg config.BrowserConfig, launcher Launcher, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		cfg:      cfg,
		launcher: launcher,
		logger:   logger.Named("browser"),
		onStage:  func(Stage) {},
	}
}

// OnStage registers a callback for start-up progress.
func (m *SessionManager) OnStage(fn func(Stage)) {
	if fn == nil {
		fn = func(Stage) {}
	}
	m.mu.Lock()
	m.onStage = fn
	m.mu.Unlock()
}

// EnsureSession returns the live session, launching and warming up a new browser
// when there is none. Launch and warm-up failures are returned as *SessionInitError;
// cancellation is returned as the context error.
func (m *SessionManager) EnsureSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return m.session, nil
	}

	m.onStage(StageLaunching)
	drv, err := m.launcher.Launch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &SessionInitError{Err: err}
	}

	if warmup := m.cfg.WarmupURL; warmup != "" {
		m.onStage(StageWarmingUp)
		if err := drv.Navigate(ctx, warmup); err != nil {
			_ = drv.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &SessionInitError{Err: fmt.Errorf("warm-up navigation: %w", err)}
		}
		if err := sleepContext(ctx, m.cfg.GetWarmupDelay()); err != nil {
			_ = drv.Close()
			return nil, err
		}
	}

	m.session = &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Driver:    drv,
	}
	m.logger.Info("browser session ready", zap.String("session_id", m.session.ID))
	m.onStage(StageReady)
	return m.session, nil
}

// Invalidate drops the current session without closing it. Use it when the browser
// process is already gone; the next EnsureSession launches a fresh one.
func (m *SessionManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.logger.Warn("dropping unreachable browser session", zap.String("session_id", m.session.ID))
	}
	m.session = nil
}

// IsConnected returns whether a session is currently held.
func (m *SessionManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// Close shuts the browser down. Errors are logged, never returned, and a second call is a no-op.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return
	}
	if err := m.session.Driver.Close(); err != nil {
		m.logger.Debug("browser close failed", zap.String("session_id", m.session.ID), zap.Error(err))
	}
	m.logger.Info("browser shutdown complete", zap.String("session_id", m.session.ID))
	m.session = nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
