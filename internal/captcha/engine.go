// File: internal/captcha/engine.go

package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/config"
	"github.com/xkilldash9x/visaflow-cli/internal/humanoid"
)

var (
	// ErrSiteKeyNotFound is terminal: without a site key the solving service
	// cannot be used.
	ErrSiteKeyNotFound = errors.New("captcha: no data-sitekey found on page")

	// ErrAPIKeyMissing means the solving service was needed but no API key is
	// configured.
	ErrAPIKeyMissing = errors.New("captcha: solver api key not configured")
)

// Page is the browser surface the engine drives. *browser.Session satisfies it.
type Page interface {
	Evaluate(ctx context.Context, expression string, res interface{}) error
	CurrentURL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, name string) string
	Human() humanoid.Controller
}

const (
	maxBypassAttempts = 3
	// A real Turnstile response token is a long opaque string; anything this
	// short is a placeholder.
	minTokenLength = 10
)

// Engine resolves page challenges: detection, Turnstile widget bypass, and
// solving-service escalation with token injection.
type Engine struct {
	logger *zap.Logger
	solver *SolverClient
	apiKey string
}

func NewEngine(cfg config.SolverConfig, logger *zap.Logger) *Engine {
	e := &Engine{logger: logger, apiKey: cfg.APIKey}
	if cfg.APIKey != "" {
		e.solver = NewSolverClient(cfg, logger.Named("solver"))
	} else {
		logger.Warn("No solver api key configured; only the direct widget bypass will be attempted")
	}
	return e
}

// Detect determines the challenge family on the current page. A type known
// from the country table wins; otherwise ordered DOM scans decide.
func (e *Engine) Detect(ctx context.Context, page Page, knownType string) Challenge {
	if ch := ChallengeFromString(knownType); ch != ChallengeNone {
		e.logger.Info("Challenge type known from country table", zap.String("challenge", string(ch)))
		return ch
	}

	scans := []struct {
		challenge Challenge
		selectors []string
	}{
		{ChallengeTurnstile, turnstileIframeSelectors},
		{ChallengeRecaptcha, recaptchaSelectors},
		{ChallengeHCaptcha, hcaptchaSelectors},
	}
	for _, scan := range scans {
		if sel, n := selectorCount(ctx, page, scan.selectors); n > 0 {
			e.logger.Info("Challenge detected on page",
				zap.String("challenge", string(scan.challenge)), zap.String("selector", sel))
			return scan.challenge
		}
	}

	e.logger.Debug("No challenge detected on page")
	return ChallengeNone
}

// SiteKey extracts the data-sitekey for the detected challenge:
// type-specific selectors first, then a generic scan.
func (e *Engine) SiteKey(ctx context.Context, page Page, challenge Challenge) (string, error) {
	selectors := append([]string{}, siteKeySelectors[challenge]...)
	selectors = append(selectors, "[data-sitekey]")

	if key := firstAttr(ctx, page, selectors, "data-sitekey"); key != "" {
		e.logger.Info("Site key extracted",
			zap.String("challenge", string(challenge)), zap.String("site_key_prefix", prefix(key, 16)))
		return key, nil
	}

	page.Screenshot(ctx, "captcha_sitekey_not_found")
	return "", ErrSiteKeyNotFound
}

// widgetPoint locates the click target for a Turnstile iframe matched by
// iframeSel. When the frame document is reachable (COOP relaxed) the inner
// checkbox position is used; cross-origin frames fall back to the verify
// checkbox's fixed position near the widget's left edge.
type widgetPoint struct {
	Found bool    `json:"found"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

var checkboxSelectors = []string{
	"input[type='checkbox']",
	"#challenge-stage input",
	"label.cb-lb",
	".mark",
	"[role='checkbox']",
}

func (e *Engine) turnstileClickPoint(ctx context.Context, page Page, iframeSel string) (widgetPoint, error) {
	cbList, _ := json.Marshal(checkboxSelectors)
	expr := fmt.Sprintf(`(function(sel, cbSelectors) {
		const frame = document.querySelector(sel);
		if (!frame) return {found: false};
		const rect = frame.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) return {found: false};

		try {
			const doc = frame.contentDocument;
			if (doc) {
				for (const cb of cbSelectors) {
					const el = doc.querySelector(cb);
					if (el) {
						const inner = el.getBoundingClientRect();
						return {
							found: true,
							x: rect.left + inner.left + inner.width / 2,
							y: rect.top + inner.top + inner.height / 2
						};
					}
				}
			}
		} catch (err) { /* cross-origin */ }

		return {found: true, x: rect.left + 28, y: rect.top + rect.height / 2};
	})(%s, %s)`, jsString(iframeSel), string(cbList))

	var pt widgetPoint
	if err := page.Evaluate(ctx, expr, &pt); err != nil {
		return widgetPoint{}, err
	}
	return pt, nil
}

// BypassTurnstile tries to satisfy the widget the way a person does: click
// the verify checkbox and wait for the response token to appear. Returns true
// once the token is present; false after all attempts, which is a signal to
// escalate, not an error.
func (e *Engine) BypassTurnstile(ctx context.Context, page Page) bool {
	for attempt := 1; attempt <= maxBypassAttempts; attempt++ {
		e.logger.Info("Turnstile bypass attempt",
			zap.Int("attempt", attempt), zap.Int("max_attempts", maxBypassAttempts))

		for _, iframeSel := range turnstileIframeSelectors {
			pt, err := e.turnstileClickPoint(ctx, page, iframeSel)
			if err != nil || !pt.Found {
				continue
			}

			if err := page.Human().ClickAt(ctx, pt.X, pt.Y); err != nil {
				e.logger.Debug("Widget click failed",
					zap.String("iframe", iframeSel), zap.Error(err))
				continue
			}

			if err := page.Human().Pause(ctx, 2*time.Second, 4*time.Second); err != nil {
				return false
			}
			if token := e.turnstileToken(ctx, page); len(token) > minTokenLength {
				e.logger.Info("Turnstile bypass succeeded", zap.Int("token_length", len(token)))
				page.Screenshot(ctx, "turnstile_bypass_ok")
				return true
			}
			e.logger.Debug("Widget clicked but no token yet", zap.String("iframe", iframeSel))
		}

		if attempt < maxBypassAttempts {
			if err := page.Human().Pause(ctx, 2*time.Second, 4*time.Second); err != nil {
				return false
			}
		}
	}

	e.logger.Warn("Turnstile bypass exhausted all attempts")
	page.Screenshot(ctx, "turnstile_bypass_failed")
	return false
}

// turnstileToken reads the hidden response field's value, "" when absent.
func (e *Engine) turnstileToken(ctx context.Context, page Page) string {
	var token string
	expr := `(document.querySelector("input[name='cf-turnstile-response']") || {value: ''}).value || ''`
	if err := page.Evaluate(ctx, expr, &token); err != nil {
		return ""
	}
	return token
}

// TurnstileStatus reports the widget's observable state. The registration
// flow logs this while waiting for the submit control to enable.
type TurnstileStatus struct {
	WidgetPresent bool
	IframePresent bool
	TokenLength   int
}

func (e *Engine) TurnstileStatus(ctx context.Context, page Page) TurnstileStatus {
	st := TurnstileStatus{TokenLength: len(e.turnstileToken(ctx, page))}

	var widget int
	if err := page.Evaluate(ctx,
		`document.querySelectorAll("#cf-turnstile, .cf-turnstile, [data-turnstile-callback]").length`,
		&widget); err == nil {
		st.WidgetPresent = widget > 0
	}
	if _, n := selectorCount(ctx, page, turnstileIframeSelectors); n > 0 {
		st.IframePresent = true
	}
	return st
}

// InjectToken writes a solved token into the page's response field(s) and
// fires the type's completion callback when one is registered. Injection
// failures are logged and reported as false; they are never fatal because
// the flow can still observe the form's own validation.
func (e *Engine) InjectToken(ctx context.Context, page Page, challenge Challenge, token string) bool {
	var expr string
	tok := jsString(token)

	switch challenge {
	case ChallengeTurnstile:
		expr = fmt.Sprintf(`(function(token) {
			const inputs = document.querySelectorAll('input[name*="turnstile"]');
			for (const input of inputs) input.value = token;
			if (window.turnstileCallback) window.turnstileCallback(token);
			return inputs.length > 0;
		})(%s)`, tok)
	case ChallengeRecaptcha:
		expr = fmt.Sprintf(`(function(token) {
			const textarea = document.getElementById('g-recaptcha-response');
			if (textarea) {
				textarea.style.display = 'block';
				textarea.value = token;
				textarea.style.display = 'none';
			}
			if (typeof ___grecaptcha_cfg !== 'undefined') {
				Object.keys(___grecaptcha_cfg.clients).forEach(function(key) {
					const client = ___grecaptcha_cfg.clients[key];
					if (client && client.K && client.K.callback) client.K.callback(token);
				});
			}
			return textarea !== null;
		})(%s)`, tok)
	case ChallengeHCaptcha:
		expr = fmt.Sprintf(`(function(token) {
			const fields = document.querySelectorAll(
				'[name="h-captcha-response"], [name="g-recaptcha-response"]');
			for (const f of fields) f.value = token;
			if (window.hcaptcha) window.hcaptcha.execute();
			return fields.length > 0;
		})(%s)`, tok)
	default:
		e.logger.Warn("Token injection unsupported for challenge", zap.String("challenge", string(challenge)))
		return false
	}

	var ok bool
	if err := page.Evaluate(ctx, expr, &ok); err != nil {
		e.logger.Warn("Token injection script failed",
			zap.String("challenge", string(challenge)), zap.Error(err))
		page.Screenshot(ctx, "token_injection_error")
		return false
	}
	if !ok {
		e.logger.Warn("Token injection found no response field",
			zap.String("challenge", string(challenge)))
	}
	return ok
}

// Solve runs the whole pipeline: detect, bypass Turnstile directly when
// possible, otherwise extract the site key and escalate to the solving
// service, then inject the token. False means the challenge stands; an error
// is reserved for configuration problems.
func (e *Engine) Solve(ctx context.Context, page Page, knownType string) (bool, error) {
	challenge := e.Detect(ctx, page, knownType)
	if challenge == ChallengeNone {
		return true, nil
	}
	page.Screenshot(ctx, "captcha_detected_"+string(challenge))

	if challenge == ChallengeTurnstile {
		if e.BypassTurnstile(ctx, page) {
			return true, nil
		}
		e.logger.Info("Escalating Turnstile to solving service")
	}

	if e.solver == nil {
		return false, ErrAPIKeyMissing
	}

	siteKey, err := e.SiteKey(ctx, page, challenge)
	if err != nil {
		e.logger.Warn("Cannot use solving service without a site key", zap.Error(err))
		return false, nil
	}

	pageURL, err := page.CurrentURL(ctx)
	if err != nil {
		return false, fmt.Errorf("captcha: reading page url: %w", err)
	}

	token, err := e.solver.SolveToken(ctx, pageURL, siteKey, challenge)
	if err != nil {
		e.logger.Warn("Solving service failed", zap.Error(err))
		page.Screenshot(ctx, "capsolver_failed")
		return false, nil
	}

	if !e.InjectToken(ctx, page, challenge, token) {
		page.Screenshot(ctx, "captcha_injection_failed")
		return false, nil
	}

	if err := page.Human().Pause(ctx, time.Second, 2*time.Second); err != nil {
		return false, err
	}
	return true, nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
