// File: pkg/browser/manager.go

// Package browser manages the Chrome process lifecycle and exposes portal
// sessions with a consistent fingerprint, stealth instrumentation, and
// human-like input.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/config"
	"github.com/xkilldash9x/visaflow-cli/internal/observability"
)

const closeTimeout = 10 * time.Second

// Manager creates and tracks sessions. Each session owns its browser process
// so per-country profile directories stay isolated.
type Manager struct {
	logger *zap.Logger
	cfg    *config.Config
	sink   *observability.ScreenshotSink
	rng    *rand.Rand
	rngMu  sync.Mutex

	wg sync.WaitGroup
}

// NewManager builds a manager. No browser is launched until NewSession.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger.Named("browser"),
		cfg:    cfg,
		sink:   observability.NewScreenshotSink(cfg.Browser.DebugDir, logger),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSession launches a browser with a freshly drawn fingerprint and the
// country's profile directory, applies stealth, and verifies responsiveness.
func (m *Manager) NewSession(ctx context.Context, country string) (*Session, error) {
	m.rngMu.Lock()
	fp := NewFingerprint(m.rng)
	m.rngMu.Unlock()

	profileDir, err := prepareProfileDir(m.cfg.Browser.ProfileDir, country, m.logger)
	if err != nil {
		return nil, err
	}

	opts := DefaultAllocatorOptions(m.cfg.Browser, fp, profileDir)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	s, err := newSession(allocCtx, allocCancel, m.cfg, fp, country, m.sink, m.logger)
	if err != nil {
		allocCancel()
		return nil, fmt.Errorf("browser: starting session for %s: %w", country, err)
	}

	m.wg.Add(1)
	s.onClose = m.wg.Done

	m.logger.Info("Browser session started",
		zap.String("country", country),
		zap.String("session_id", s.ID()),
		zap.String("fingerprint_os", fp.OS))
	return s, nil
}

// Shutdown waits for open sessions to close, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All browser sessions closed")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded with sessions still open", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
