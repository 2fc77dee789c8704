// File: internal/flow/flow.go

// Package flow drives the portal end to end. Registration and Login
// orchestrate a browser session through challenge handling, form filling,
// a single classified submission, and mailbox verification.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/captcha"
	"github.com/xkilldash9x/visaflow-cli/internal/config"
	"github.com/xkilldash9x/visaflow-cli/internal/humanoid"
	"github.com/xkilldash9x/visaflow-cli/internal/mailotp"
	"github.com/xkilldash9x/visaflow-cli/pkg/browser"
)

// ErrConfiguration marks failures detected before any session resource is
// acquired: unknown or inactive countries, missing credentials.
var ErrConfiguration = errors.New("flow: configuration error")

const closeTimeout = 15 * time.Second

// ApplicationError is a rejection by the portal's own application layer,
// classified into a category the caller can act on. These are never retried
// within a run.
type ApplicationError struct {
	Category string
	Message  string
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("flow: application rejected the request (%s): %s", e.Category, e.Message)
}

// Session is the browser surface the flows drive. *browser.Session
// satisfies it, and it in turn satisfies the captcha and classifier page
// interfaces.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Evaluate(ctx context.Context, expression string, res interface{}) error
	// BodyText returns the page's visible text already lowercased; the
	// error, OTP-prompt and success scans match lowercased patterns
	// against it without folding again.
	BodyText(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) (string, error)
	HasCookie(ctx context.Context, name string) (bool, error)
	Screenshot(ctx context.Context, name string) string
	Human() humanoid.Controller
	Close(ctx context.Context) error
}

// SessionFactory hands out isolated browser sessions per country.
type SessionFactory interface {
	NewSession(ctx context.Context, country string) (Session, error)
}

// Sessions adapts browser.Manager to SessionFactory.
type Sessions struct {
	Manager *browser.Manager
}

func (s Sessions) NewSession(ctx context.Context, country string) (Session, error) {
	return s.Manager.NewSession(ctx, country)
}

// Challenges is the access-challenge surface the flows consume;
// *captcha.Engine satisfies it.
type Challenges interface {
	Solve(ctx context.Context, page captcha.Page, knownType string) (bool, error)
	TurnstileStatus(ctx context.Context, page captcha.Page) captcha.TurnstileStatus
}

// Verifier delivers the verification mail; *mailotp.Reader satisfies it.
type Verifier interface {
	Connect(ctx context.Context) error
	Close() error
	WaitForVerification(ctx context.Context, perAttempt time.Duration, maxAttempts int) (*mailotp.Result, error)
}

// cleanupSession closes the session on its own deadline so teardown still
// runs when the flow's context is already dead.
func cleanupSession(s Session, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		logger.Warn("Session cleanup reported an error", zap.Error(err))
	}
}

// missingCredentials names the credential fields a flow needs but does not
// have. Checked before any session is acquired.
func missingCredentials(creds config.CredentialsConfig, needMobile bool) []string {
	var missing []string
	if creds.Email == "" {
		missing = append(missing, "credentials.email")
	}
	if creds.Password == "" {
		missing = append(missing, "credentials.password")
	}
	if needMobile && creds.MobileNumber == "" {
		missing = append(missing, "credentials.mobile_number")
	}
	return missing
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
