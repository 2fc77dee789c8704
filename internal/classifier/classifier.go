// File: internal/classifier/classifier.go

package classifier

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Mode controls whether low-confidence fallbacks participate.
type Mode int

const (
	// DefinitiveOnly restricts the cascade to authoritative signals. Used
	// right after submit, before the page has had time to re-render.
	DefinitiveOnly Mode = iota
	// Full enables every step including the form-still-visible fallback.
	Full
)

// Classifier turns a submission snapshot into an Outcome.
type Classifier struct {
	keywords Keywords
	logger   *zap.Logger
}

func New(keywords Keywords, logger *zap.Logger) *Classifier {
	return &Classifier{keywords: keywords, logger: logger}
}

// Classify runs the signal-priority cascade over a fixed snapshot. The same
// snapshot always yields the same outcome. sourcePage is the originating
// page's path segment ("register", "login") for the URL-change heuristic.
func (c *Classifier) Classify(snap Snapshot, mode Mode, sourcePage string) Outcome {
	// 1. A transient notification is authoritative: classify by its text and
	// stop. Unknown notifications count as failures; false negatives are
	// safer than false positives here.
	if snap.Notification != "" {
		text := strings.ToLower(snap.Notification)
		if k := matchKeyword(text, c.keywords.Success); k != "" {
			return succeeded("notification: "+snap.Notification, snap)
		}
		if k := matchKeyword(text, c.keywords.DuplicateAccount); k != "" {
			return failed(CategoryDuplicateAccount, snap.Notification, snap)
		}
		if k := matchKeyword(text, c.keywords.PasswordPolicy); k != "" {
			return failed(CategoryPasswordPolicy, snap.Notification, snap)
		}
		if k := matchKeyword(text, c.keywords.FormValidation); k != "" {
			return failed(CategoryFormValidation, snap.Notification, snap)
		}
		return failed(CategoryUnknownNotification, snap.Notification, snap)
	}

	// 2. Inline field errors are authoritative.
	if len(snap.InlineErrors) > 0 {
		return failed(CategoryFormValidation, strings.Join(snap.InlineErrors, "; "), snap)
	}

	// 3. Validation phrases can render as page content instead of a
	// notification.
	body := strings.ToLower(snap.BodySnippet)
	if k := matchKeyword(body, c.keywords.FormValidation); k != "" {
		return failed(CategoryFormValidation, "body contains: "+k, snap)
	}

	// 4. Dialogs classify success only; a dialog without a success phrase
	// does not decide anything.
	if snap.Dialog != "" {
		if k := matchKeyword(strings.ToLower(snap.Dialog), c.keywords.Success); k != "" {
			return succeeded("dialog: "+truncateText(snap.Dialog, 200), snap)
		}
	}

	// 5. Same success-only check over alert/toast elements.
	if len(snap.Alerts) > 0 {
		joined := strings.Join(snap.Alerts, "; ")
		if k := matchKeyword(strings.ToLower(joined), c.keywords.Success); k != "" {
			return succeeded("alert: "+truncateText(joined, 200), snap)
		}
	}

	// 6. Navigation away from the source page suggests success. Low
	// confidence, so evaluated only after every textual signal.
	if sourcePage != "" && !strings.Contains(strings.ToLower(snap.URL), strings.ToLower(sourcePage)) {
		return succeeded("url changed: "+snap.URL, snap)
	}

	// 7. Success phrasing anywhere in the body snapshot.
	if k := matchKeyword(body, c.keywords.Success); k != "" {
		return succeeded("body contains: "+k, snap)
	}

	// 8. Form still visible. Skipped in definitive-only mode because the
	// page may simply not have re-rendered yet.
	if mode == Full && snap.SourceFormVisible {
		return failed(CategoryFormValidation,
			"form still visible; submit likely never reached the application's validation layer", snap)
	}

	// 9. Nothing decided.
	return ambiguous(snap)
}

// ClassifyPage captures a snapshot and classifies it, taking the mandatory
// screenshot when the verdict is ambiguous.
func (c *Classifier) ClassifyPage(ctx context.Context, page Page, mode Mode, sourcePage string) (Outcome, error) {
	snap, err := CaptureSnapshot(ctx, page)
	if err != nil {
		return Outcome{}, err
	}

	outcome := c.Classify(snap, mode, sourcePage)
	c.logger.Info("Submission classified",
		zap.String("status", string(outcome.Status)),
		zap.String("category", string(outcome.Category)),
		zap.String("message", truncateText(outcome.Message, 200)))

	if outcome.Status == StatusAmbiguous {
		page.Screenshot(ctx, "submission_ambiguous")
	}
	return outcome, nil
}

// BodyHash fingerprints the page's full visible text. Used before submission
// so the second analysis phase can wait for the SPA to actually re-render.
func BodyHash(ctx context.Context, page Page) (string, error) {
	text, err := page.BodyText(ctx)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:]), nil
}

// WaitForContentChange polls the body fingerprint about once a second until
// it differs from prev or the window closes. Returns whether it changed.
func WaitForContentChange(ctx context.Context, page Page, prev string, window time.Duration) bool {
	deadline := time.Now().Add(window)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			h, err := BodyHash(ctx, page)
			if err != nil {
				continue
			}
			if h != prev {
				return true
			}
		}
	}
	return false
}

func contains(haystack, needle string) bool {
	return strings.Contains(haystack, strings.ToLower(needle))
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
