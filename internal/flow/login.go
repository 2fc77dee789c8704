// File: internal/flow/login.go

package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/config"
	"github.com/xkilldash9x/visaflow-cli/internal/mailotp"
	"github.com/xkilldash9x/visaflow-cli/internal/registry"
)

// Login error categories, matched case-insensitively against page body text
// after submission. First list with a hit wins and aborts the flow.
var (
	invalidCredentialPatterns = []string{
		"invalid credentials",
		"invalid email or password",
		"incorrect password",
		"wrong password",
		"email or password is incorrect",
		"login failed",
		"authentication failed",
		"hatali giris",
		"gecersiz kimlik",
	}
	accountLockedPatterns = []string{
		"account locked",
		"account has been locked",
		"too many attempts",
		"temporarily locked",
		"account suspended",
		"hesap kilitlendi",
		"hesap askiya alindi",
	}
	accountNotFoundPatterns = []string{
		"account not found",
		"no account found",
		"email not registered",
		"user not found",
		"hesap bulunamadi",
		"kayitli degil",
	}
)

// otpPromptPatterns indicate the portal asked for a one-time code after the
// credentials were accepted.
var otpPromptPatterns = []string{
	"one-time password",
	"one time password",
	"verification code",
	"enter the code",
	"enter otp",
	"otp sent",
	"code sent",
	"check your email",
	"sent to your email",
	"dogrulama kodu",
	"tek kullanimlik",
}

// Success heuristics, checked best effort: URL fragments first, then body
// phrasing. Inconclusive is logged, never fatal.
var (
	loginSuccessURLHints = []string{
		"/dashboard",
		"/account",
		"/booking",
		"/applications",
		"/appointment",
	}
	loginSuccessBodyHints = []string{
		"dashboard",
		"welcome",
		"my account",
		"my applications",
		"book appointment",
		"new booking",
		"application centre",
		"hesabim",
		"randevu",
		"basvuru",
	}
)

// Login drives the sign-in flow for one country.
type Login struct {
	cfg         *config.Config
	registry    *registry.Registry
	sessions    SessionFactory
	challenges  Challenges
	newVerifier func() Verifier
	logger      *zap.Logger
}

func NewLogin(cfg *config.Config, reg *registry.Registry, sessions SessionFactory, challenges Challenges, logger *zap.Logger) *Login {
	return &Login{
		cfg:        cfg,
		registry:   reg,
		sessions:   sessions,
		challenges: challenges,
		newVerifier: func() Verifier {
			return mailotp.NewReader(cfg.Mailbox, logger)
		},
		logger: logger.Named("login"),
	}
}

// Run executes the full login flow. Session cleanup is guaranteed
// regardless of which step failed.
func (f *Login) Run(ctx context.Context, country string) error {
	desc, err := f.registry.Resolve(country)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if missing := missingCredentials(f.cfg.Credentials, false); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}

	logger := f.logger.With(
		zap.String("run_id", uuid.New().String()[:8]),
		zap.String("country", country))
	logger.Info("Login flow starting", zap.String("country_name", desc.NameEN))

	session, err := f.sessions.NewSession(ctx, country)
	if err != nil {
		return fmt.Errorf("flow: acquiring session: %w", err)
	}
	defer cleanupSession(session, logger)

	url, err := f.registry.BuildURL(country, "login")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := session.Navigate(ctx, url); err != nil {
		return fmt.Errorf("flow: loading login page: %w", err)
	}
	session.Screenshot(ctx, "login_page_loaded")

	if ok, err := session.HasCookie(ctx, "cf_clearance"); err == nil && ok {
		logger.Debug("Clearance cookie already present")
	}

	solved, err := f.challenges.Solve(ctx, session, desc.CaptchaType)
	if err != nil {
		return err
	}
	if !solved {
		logger.Warn("Access challenge unsolved; submission may be rejected")
	}

	table := f.registry.Selectors(country)
	creds := f.cfg.Credentials

	logger.Info("Filling login form")
	if err := fillField(ctx, session, table, "login", "email", creds.Email, logger); err != nil {
		return err
	}
	if err := fillField(ctx, session, table, "login", "password", creds.Password, logger); err != nil {
		return err
	}
	session.Screenshot(ctx, "login_form_filled")

	if err := f.submit(ctx, session, table, logger); err != nil {
		return err
	}

	if err := f.scanForErrors(ctx, session, logger); err != nil {
		return err
	}

	f.handleOTPIfNeeded(ctx, session, table, desc, logger)

	_ = session.Human().Pause(ctx, 2*time.Second, 4*time.Second)
	if f.verified(ctx, session, logger) {
		logger.Info("Login verified")
	} else {
		logger.Warn("No login success indicator found; page state uncertain")
		session.Screenshot(ctx, "login_verification_uncertain")
	}

	session.Screenshot(ctx, "login_completed")
	logger.Info("Login flow finished")
	return nil
}

func (f *Login) submit(ctx context.Context, s Session, table registry.SelectorTable, logger *zap.Logger) error {
	sel, err := resolveField(ctx, s, table, "login", "submit_button")
	if err != nil {
		return fmt.Errorf("flow: locating submit control: %w", err)
	}
	_ = s.Human().Pause(ctx, 500*time.Millisecond, time.Second)
	if err := s.Human().Click(ctx, sel, nil); err != nil {
		return fmt.Errorf("flow: clicking submit: %w", err)
	}
	logger.Info("Login form submitted")

	_ = s.Human().Pause(ctx, 3*time.Second, 5*time.Second)
	s.Screenshot(ctx, "login_after_submit")
	return nil
}

// scanForErrors checks the page for the known rejection categories and
// raises the first match as an ApplicationError.
func (f *Login) scanForErrors(ctx context.Context, s Session, logger *zap.Logger) error {
	scans := []struct {
		patterns []string
		category string
		advice   string
	}{
		{invalidCredentialPatterns, "invalid_credentials", "check the configured email and password"},
		{accountLockedPatterns, "account_locked", "wait before trying again"},
		{accountNotFoundPatterns, "account_not_found", "the account may need to be registered first"},
	}

	for _, scan := range scans {
		hit, err := bodyContainsAny(ctx, s, scan.patterns)
		if err != nil {
			logger.Warn("Error scan failed", zap.Error(err))
			return nil
		}
		if hit != "" {
			logger.Warn("Login rejected",
				zap.String("category", scan.category), zap.String("matched", hit))
			s.Screenshot(ctx, "login_"+scan.category)
			return &ApplicationError{
				Category: scan.category,
				Message:  fmt.Sprintf("%q: %s", hit, scan.advice),
			}
		}
	}
	return nil
}

// handleOTPIfNeeded runs code verification when the country flags it or the
// page dynamically asks for one. Verification failures are logged, not
// fatal: the operator can still complete the step manually.
func (f *Login) handleOTPIfNeeded(ctx context.Context, s Session, table registry.SelectorTable, desc registry.Descriptor, logger *zap.Logger) {
	needed := desc.OTPRequired
	if !needed {
		_ = s.Human().Pause(ctx, 2*time.Second, 4*time.Second)
		if hit, err := bodyContainsAny(ctx, s, otpPromptPatterns); err == nil && hit != "" {
			logger.Info("Page asked for a one-time code", zap.String("matched", hit))
			needed = true
		}
	}
	if !needed {
		logger.Debug("No code verification required")
		return
	}

	if err := f.handleOTP(ctx, s, table, logger); err != nil {
		logger.Warn("Code verification incomplete", zap.Error(err))
		s.Screenshot(ctx, "login_otp_incomplete")
	}
}

func (f *Login) handleOTP(ctx context.Context, s Session, table registry.SelectorTable, logger *zap.Logger) error {
	logger.Info("Waiting for the one-time code email")

	v := f.newVerifier()
	if err := v.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = v.Close() }()

	res, err := v.WaitForVerification(ctx, f.cfg.Flow.OTPWaitPerAttempt, f.cfg.Flow.OTPMaxAttempts)
	if err != nil {
		return err
	}

	if res.Code != "" {
		return enterOTP(ctx, s, table, res.Code, logger)
	}
	if res.Link != "" {
		// Uncommon for login, but honor a verification link when that is
		// what arrived.
		logger.Info("Visiting verification link", zap.String("subject", res.Subject))
		if err := s.Navigate(ctx, res.Link); err != nil {
			return fmt.Errorf("flow: visiting verification link: %w", err)
		}
		_ = s.Human().Pause(ctx, 3*time.Second, 5*time.Second)
		s.Screenshot(ctx, "login_verify_link_visited")
		return nil
	}
	return errors.New("flow: verification mail carried neither code nor link")
}

// verified applies the success heuristics: URL fragments first, then body
// phrasing.
func (f *Login) verified(ctx context.Context, s Session, logger *zap.Logger) bool {
	if url, err := s.CurrentURL(ctx); err == nil {
		lowered := strings.ToLower(url)
		for _, hint := range loginSuccessURLHints {
			if strings.Contains(lowered, hint) {
				logger.Debug("Success URL fragment", zap.String("hint", hint), zap.String("url", url))
				return true
			}
		}
	}
	if hit, err := bodyContainsAny(ctx, s, loginSuccessBodyHints); err == nil && hit != "" {
		logger.Debug("Success body phrase", zap.String("hint", hit))
		return true
	}
	return false
}
