// File: internal/flow/fill.go

package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/registry"
)

// resolveSelector returns the first selector candidate matching an element
// on the page. The primary selector short-circuits without probing the
// fallbacks.
func resolveSelector(ctx context.Context, s Session, entry registry.SelectorEntry) (string, error) {
	for _, sel := range entry.Candidates() {
		var found bool
		expr := fmt.Sprintf("!!document.querySelector(%s)", jsString(sel))
		if err := s.Evaluate(ctx, expr, &found); err != nil {
			return "", fmt.Errorf("flow: probing selector %q: %w", sel, err)
		}
		if found {
			return sel, nil
		}
	}
	return "", fmt.Errorf("flow: no selector matched (%s)", entry.Hint)
}

// resolveField looks the field up in the selector table and resolves it
// against the live page.
func resolveField(ctx context.Context, s Session, table registry.SelectorTable, page, field string) (string, error) {
	entry, err := table.Field(page, field)
	if err != nil {
		return "", err
	}
	return resolveSelector(ctx, s, entry)
}

// fillField resolves a field and types into it with human cadence.
func fillField(ctx context.Context, s Session, table registry.SelectorTable, page, field, text string, logger *zap.Logger) error {
	sel, err := resolveField(ctx, s, table, page, field)
	if err != nil {
		return fmt.Errorf("flow: locating %s field: %w", field, err)
	}

	scrollIntoView(ctx, s, sel)
	if err := s.Human().Type(ctx, sel, text, nil); err != nil {
		return fmt.Errorf("flow: typing into %s field: %w", field, err)
	}
	logger.Debug("Field filled", zap.String("field", field), zap.String("selector", sel))
	return s.Human().Pause(ctx, 500*time.Millisecond, 1500*time.Millisecond)
}

// scrollIntoView centers the element in the viewport. Failures are
// tolerated; the subsequent interaction reports the real problem.
func scrollIntoView(ctx context.Context, s Session, selector string) {
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (el) el.scrollIntoView({ behavior: 'smooth', block: 'center' });
	})()`, jsString(selector))
	_ = s.Evaluate(ctx, expr, nil)
	_ = s.Human().Pause(ctx, 300*time.Millisecond, 600*time.Millisecond)
}

// bodyContainsAny scans the page body for the first matching pattern,
// case-insensitively. Returns the matched pattern or "".
func bodyContainsAny(ctx context.Context, s Session, patterns []string) (string, error) {
	text, err := s.BodyText(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range patterns {
		if strings.Contains(text, strings.ToLower(p)) {
			return p, nil
		}
	}
	return "", nil
}

// The consent-platform overlay intercepts every click until dismissed.
// Removing the node outright beats clicking through its dialog; the accept
// button is only a fallback for markup variants without the standard ids.
const consentRemoveScript = `(() => {
	const sdk = document.getElementById('onetrust-consent-sdk');
	if (sdk) { sdk.remove(); return true; }
	const overlay = document.querySelector('.onetrust-pc-dark-filter');
	if (overlay) { overlay.remove(); return true; }
	return false;
})()`

var consentAcceptSelectors = []string{
	"button#onetrust-accept-btn-handler",
	"button.onetrust-accept-btn-handler",
	"button[aria-label='Accept All Cookies']",
}

// dismissCookieConsent clears the cookie-consent overlay if present. Never
// fatal: a page without the overlay is the common case.
func dismissCookieConsent(ctx context.Context, s Session, logger *zap.Logger) {
	var removed bool
	if err := s.Evaluate(ctx, consentRemoveScript, &removed); err == nil {
		if removed {
			logger.Debug("Cookie consent overlay removed")
		}
		_ = s.Human().Pause(ctx, 500*time.Millisecond, time.Second)
		return
	}

	for _, sel := range consentAcceptSelectors {
		var visible bool
		expr := fmt.Sprintf(`(() => {
			const el = document.querySelector(%s);
			return !!el && el.offsetParent !== null;
		})()`, jsString(sel))
		if err := s.Evaluate(ctx, expr, &visible); err != nil || !visible {
			continue
		}
		if err := s.Human().Click(ctx, sel, nil); err == nil {
			logger.Debug("Cookie consent accepted", zap.String("selector", sel))
			_ = s.Human().Pause(ctx, time.Second, 2*time.Second)
			return
		}
	}
	logger.Debug("No cookie consent overlay found")
}

// dialCodeOptionLabels are tried in order against the open dropdown's
// option texts.
var dialCodeOptionLabels = []string{"+90", "Turkey", "90"}

// selectDialCode opens the phone dial-code dropdown and picks the Turkish
// code. Best effort: a missing dropdown or option is logged, not fatal,
// because some country forms pre-select it.
func selectDialCode(ctx context.Context, s Session, table registry.SelectorTable, logger *zap.Logger) {
	sel, err := resolveField(ctx, s, table, "register", "dial_code")
	if err != nil {
		logger.Debug("No dial code dropdown on page", zap.Error(err))
		return
	}

	scrollIntoView(ctx, s, sel)
	if err := s.Human().Click(ctx, sel, nil); err != nil {
		logger.Warn("Opening dial code dropdown failed", zap.Error(err))
		return
	}
	_ = s.Human().Pause(ctx, time.Second, 2*time.Second)

	labels, _ := json.Marshal(dialCodeOptionLabels)
	expr := fmt.Sprintf(`(() => {
		const labels = %s;
		const options = document.querySelectorAll('mat-option');
		for (const label of labels) {
			for (const opt of options) {
				if ((opt.textContent || '').includes(label)) {
					opt.click();
					return label;
				}
			}
		}
		return '';
	})()`, labels)

	var picked string
	if err := s.Evaluate(ctx, expr, &picked); err != nil || picked == "" {
		logger.Warn("Dial code option not found, closing dropdown", zap.Error(err))
		_ = s.Evaluate(ctx, `document.body.dispatchEvent(new KeyboardEvent('keydown', { key: 'Escape', bubbles: true }))`, nil)
		return
	}

	logger.Debug("Dial code selected", zap.String("option", picked))
	_ = s.Human().Pause(ctx, 500*time.Millisecond, time.Second)
}

// enterOTP types a verification code into the code field and confirms it.
// The code field lives on the login page's selector section for both flows.
func enterOTP(ctx context.Context, s Session, table registry.SelectorTable, code string, logger *zap.Logger) error {
	sel, err := resolveField(ctx, s, table, "login", "otp_field")
	if err != nil {
		s.Screenshot(ctx, "otp_field_missing")
		return fmt.Errorf("flow: locating code entry field: %w", err)
	}

	scrollIntoView(ctx, s, sel)
	if err := s.Human().Type(ctx, sel, code, nil); err != nil {
		return fmt.Errorf("flow: entering verification code: %w", err)
	}
	_ = s.Human().Pause(ctx, 500*time.Millisecond, time.Second)
	logger.Info("Verification code entered")
	s.Screenshot(ctx, "otp_entered")

	submitSel, err := resolveField(ctx, s, table, "login", "submit_button")
	if err != nil {
		logger.Warn("No submit control after code entry; manual confirmation may be needed", zap.Error(err))
		return nil
	}
	_ = s.Human().Pause(ctx, 300*time.Millisecond, 800*time.Millisecond)
	if err := s.Human().Click(ctx, submitSel, nil); err != nil {
		logger.Warn("Confirming the code failed", zap.Error(err))
		return nil
	}
	_ = s.Human().Pause(ctx, 3*time.Second, 5*time.Second)
	s.Screenshot(ctx, "otp_submitted")
	return nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
