// File: pkg/browser/session.go

package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/config"
	"github.com/xkilldash9x/visaflow-cli/internal/humanoid"
	"github.com/xkilldash9x/visaflow-cli/internal/observability"
	"github.com/xkilldash9x/visaflow-cli/pkg/browser/stealth"
)

// Session is one isolated browser running one country's flow. It owns the
// whole process tree: tab context, browser context, and allocator.
type Session struct {
	id          string
	country     string
	logger      *zap.Logger
	cfg         *config.Config
	fingerprint Fingerprint

	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	human *humanoid.Humanoid
	sink  *observability.ScreenshotSink

	onClose   func()
	closeOnce sync.Once
	mu        sync.Mutex
}

func newSession(
	allocCtx context.Context,
	allocCancel context.CancelFunc,
	cfg *config.Config,
	fp Fingerprint,
	country string,
	sink *observability.ScreenshotSink,
	logger *zap.Logger,
) (*Session, error) {
	id := uuid.New().String()
	l := logger.With(zap.String("session_id", id[:8]), zap.String("country", country))

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:            id,
		country:       country,
		logger:        l,
		cfg:           cfg,
		fingerprint:   fp,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		sink:          sink,
	}

	// Stealth must land before the first navigation; this also forces the
	// browser process to start, surfacing launch failures here.
	startCtx, cancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(startCtx, stealth.Apply(fp.Persona(), l)); err != nil {
		browserCancel()
		return nil, fmt.Errorf("applying stealth: %w", err)
	}

	s.human = humanoid.New(humanoid.DefaultConfig(), l.Named("humanoid"), &cdpExecutor{session: s, logger: l})
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Human returns the human-like input controller bound to this session.
func (s *Session) Human() humanoid.Controller { return s.human }

// RunActions executes chromedp actions against the session tab, bounded by
// the caller's context as well as the session's own lifetime.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	if err := s.browserCtx.Err(); err != nil {
		return fmt.Errorf("session closed: %w", err)
	}

	// chromedp.Run only honors the context it is given; bridge the caller's
	// cancellation into the session context.
	opCtx, cancel := context.WithCancel(s.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(opCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads the URL, waits for the body, and idles briefly the way a
// person does while a page settles.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.Browser.NavigationTimeout)
	defer cancel()

	s.logger.Info("Navigating", zap.String("url", url))
	err := s.RunActions(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}

	return s.human.Pause(ctx, 1500*time.Millisecond, 3500*time.Millisecond)
}

// CurrentURL returns the tab's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.RunActions(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return url, nil
}

// BodyText returns the visible text of the page body, lowercased for
// pattern scanning.
func (s *Session) BodyText(ctx context.Context) (string, error) {
	var text string
	err := s.RunActions(ctx, chromedp.Evaluate(
		`document.body ? document.body.innerText : ''`, &text))
	if err != nil {
		return "", fmt.Errorf("reading body text: %w", err)
	}
	return strings.ToLower(text), nil
}

// Evaluate runs a JS expression and unmarshals the result into res. Pass nil
// res to discard the value.
func (s *Session) Evaluate(ctx context.Context, expression string, res interface{}) error {
	action := chromedp.Evaluate(expression, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	})
	return s.RunActions(ctx, action)
}

// HasCookie reports whether a cookie with the given name exists in the
// session, on any domain.
func (s *Session) HasCookie(ctx context.Context, name string) (bool, error) {
	var found bool
	err := s.RunActions(ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		cookies, err := storage.GetCookies().Do(cctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			if c.Name == name {
				found = true
				return nil
			}
		}
		return nil
	}))
	if err != nil {
		return false, fmt.Errorf("reading cookies: %w", err)
	}
	return found, nil
}

// Screenshot captures the full page and hands it to the debug sink. Capture
// failures are logged, never fatal, matching the sink's contract.
func (s *Session) Screenshot(ctx context.Context, name string) string {
	var buf []byte
	if err := s.RunActions(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		s.logger.Warn("Screenshot capture failed", zap.String("name", name), zap.Error(err))
		return ""
	}
	return s.sink.Save(name, buf)
}

// Close tears the session down in order: page, browser context, then the
// allocator (browser process). Idempotent.
func (s *Session) Close(ctx context.Context) error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing session")

		pageCtx, cancel := context.WithTimeout(ctx, closeTimeout)
		defer cancel()
		if err := s.RunActions(pageCtx, chromedp.ActionFunc(func(cctx context.Context) error {
			return page.Close().Do(cctx)
		})); err != nil && ctx.Err() == nil {
			s.logger.Warn("Page close failed, continuing teardown", zap.Error(err))
			closeErr = err
		}

		s.browserCancel()
		s.allocCancel()

		if s.onClose != nil {
			s.onClose()
		}
		s.logger.Info("Session closed")
	})
	return closeErr
}
