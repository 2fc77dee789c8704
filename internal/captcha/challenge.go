// File: internal/captcha/challenge.go

// Package captcha detects and resolves the anti-bot challenges the portal
// places in front of its forms: Cloudflare Turnstile (direct widget bypass
// first, solving service second), reCAPTCHA and hCaptcha (solving service
// only).
package captcha

import (
	"context"
	"fmt"
)

// Challenge identifies the CAPTCHA family present on a page.
type Challenge string

const (
	ChallengeNone      Challenge = ""
	ChallengeTurnstile Challenge = "turnstile"
	ChallengeRecaptcha Challenge = "recaptcha"
	ChallengeHCaptcha  Challenge = "hcaptcha"
)

// ChallengeFromString maps a configured captcha type to the closed Challenge
// set. Unknown strings map to ChallengeNone so a typo in the country table
// degrades to DOM detection instead of a bogus solve attempt.
func ChallengeFromString(s string) Challenge {
	switch Challenge(s) {
	case ChallengeTurnstile, ChallengeRecaptcha, ChallengeHCaptcha:
		return Challenge(s)
	default:
		return ChallengeNone
	}
}

var turnstileIframeSelectors = []string{
	"iframe[src*='challenges.cloudflare.com']",
	"iframe[src*='turnstile']",
	"iframe[title*='Cloudflare']",
	"#cf-turnstile iframe",
	".cf-turnstile iframe",
	"[data-turnstile-callback] iframe",
}

var recaptchaSelectors = []string{
	"iframe[src*='google.com/recaptcha']",
	"iframe[src*='recaptcha']",
	".g-recaptcha",
	"[data-sitekey][class*='recaptcha']",
}

var hcaptchaSelectors = []string{
	"iframe[src*='hcaptcha.com']",
	".h-captcha",
	"[data-sitekey][class*='hcaptcha']",
}

var siteKeySelectors = map[Challenge][]string{
	ChallengeTurnstile: {
		"#cf-turnstile[data-sitekey]",
		".cf-turnstile[data-sitekey]",
		"[data-turnstile-callback][data-sitekey]",
		"div[data-sitekey]",
	},
	ChallengeRecaptcha: {
		".g-recaptcha[data-sitekey]",
		"[data-sitekey][class*='recaptcha']",
		"div[data-sitekey]",
	},
	ChallengeHCaptcha: {
		".h-captcha[data-sitekey]",
		"[data-sitekey][class*='hcaptcha']",
		"div[data-sitekey]",
	},
}

// selectorCount returns how many elements match any of the given selectors.
// Selector errors (invalid CSS, detached document) count as zero.
func selectorCount(ctx context.Context, page Page, selectors []string) (string, int) {
	for _, sel := range selectors {
		var n int
		expr := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(sel))
		if err := page.Evaluate(ctx, expr, &n); err != nil {
			continue
		}
		if n > 0 {
			return sel, n
		}
	}
	return "", 0
}

// firstAttr returns the named attribute of the first element matching any of
// the selectors, or "".
func firstAttr(ctx context.Context, page Page, selectors []string, attr string) string {
	for _, sel := range selectors {
		var val string
		expr := fmt.Sprintf(
			`(document.querySelector(%s) || {getAttribute: () => ''}).getAttribute(%s) || ''`,
			jsString(sel), jsString(attr))
		if err := page.Evaluate(ctx, expr, &val); err != nil {
			continue
		}
		if val != "" {
			return val
		}
	}
	return ""
}
