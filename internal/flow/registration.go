// File: internal/flow/registration.go

package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/classifier"
	"github.com/xkilldash9x/visaflow-cli/internal/config"
	"github.com/xkilldash9x/visaflow-cli/internal/mailotp"
	"github.com/xkilldash9x/visaflow-cli/internal/registry"
)

// Registration drives the account registration flow for one country.
type Registration struct {
	cfg        *config.Config
	registry   *registry.Registry
	sessions   SessionFactory
	challenges Challenges
	classify   *classifier.Classifier
	// successHints mark page content that asks the user to verify their
	// address, used to infer verification when the country flag is off.
	successHints []string
	newVerifier  func() Verifier
	logger       *zap.Logger
}

func NewRegistration(cfg *config.Config, reg *registry.Registry, sessions SessionFactory, challenges Challenges, logger *zap.Logger) *Registration {
	l := logger.Named("register")
	return &Registration{
		cfg:          cfg,
		registry:     reg,
		sessions:     sessions,
		challenges:   challenges,
		classify:     classifier.New(classifier.DefaultKeywords(), l),
		successHints: classifier.DefaultKeywords().Success,
		newVerifier: func() Verifier {
			return mailotp.NewReader(cfg.Mailbox, logger)
		},
		logger: l,
	}
}

// Run executes the full registration flow. Session cleanup is guaranteed
// regardless of which step failed.
func (f *Registration) Run(ctx context.Context, country string) error {
	desc, err := f.registry.Resolve(country)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if missing := missingCredentials(f.cfg.Credentials, true); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}

	logger := f.logger.With(
		zap.String("run_id", uuid.New().String()[:8]),
		zap.String("country", country))
	logger.Info("Registration flow starting", zap.String("country_name", desc.NameEN))

	session, err := f.sessions.NewSession(ctx, country)
	if err != nil {
		return fmt.Errorf("flow: acquiring session: %w", err)
	}
	defer cleanupSession(session, logger)

	url, err := f.registry.BuildURL(country, "register")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := session.Navigate(ctx, url); err != nil {
		return fmt.Errorf("flow: loading registration page: %w", err)
	}
	session.Screenshot(ctx, "register_page_loaded")

	if ok, err := session.HasCookie(ctx, "cf_clearance"); err == nil && ok {
		logger.Debug("Clearance cookie already present")
	}

	solved, err := f.challenges.Solve(ctx, session, desc.CaptchaType)
	if err != nil {
		return err
	}
	if !solved {
		logger.Warn("Access challenge unsolved; continuing, the form's own validation will surface the outcome")
	}

	dismissCookieConsent(ctx, session, logger)

	table := f.registry.Selectors(country)
	if err := f.fillForm(ctx, session, table, logger); err != nil {
		return err
	}

	outcome, err := f.submit(ctx, session, table, logger)
	if err != nil {
		return err
	}

	switch outcome.Status {
	case classifier.StatusFailed:
		session.Screenshot(ctx, "register_error_detected")
		return &ApplicationError{Category: string(outcome.Category), Message: outcome.Message}
	case classifier.StatusAmbiguous:
		logger.Warn("Submission outcome ambiguous; proceeding cautiously",
			zap.String("message", outcome.Message))
	default:
		logger.Info("Registration accepted", zap.String("message", outcome.Message))
	}

	if f.verificationNeeded(ctx, session, desc, logger) {
		if err := f.verifyEmail(ctx, session, table, logger); err != nil {
			logger.Warn("Email verification incomplete", zap.Error(err))
		}
	} else {
		logger.Info("No email verification required")
	}

	session.Screenshot(ctx, "register_completed")
	logger.Info("Registration flow finished")
	return nil
}

// fillForm fills the registration form in its fixed order: email, password,
// confirmation, phone, then scroll, consent checkboxes, and the wait for
// the submit control to enable.
func (f *Registration) fillForm(ctx context.Context, s Session, table registry.SelectorTable, logger *zap.Logger) error {
	creds := f.cfg.Credentials
	logger.Info("Filling registration form")

	if err := fillField(ctx, s, table, "register", "email", creds.Email, logger); err != nil {
		return err
	}
	if err := fillField(ctx, s, table, "register", "password", creds.Password, logger); err != nil {
		return err
	}
	if err := fillField(ctx, s, table, "register", "password_confirm", creds.Password, logger); err != nil {
		return err
	}

	selectDialCode(ctx, s, table, logger)
	if err := fillField(ctx, s, table, "register", "mobile_number", creds.MobileNumber, logger); err != nil {
		return err
	}

	if sel, err := resolveField(ctx, s, table, "register", "submit_button"); err == nil {
		scrollIntoView(ctx, s, sel)
	}
	_ = s.Human().Pause(ctx, time.Second, 2*time.Second)
	s.Screenshot(ctx, "scrolled_to_bottom")

	allActivated := true
	for i := 0; i < consentCheckboxCount; i++ {
		if !activateCheckbox(ctx, s, i, logger) {
			allActivated = false
		}
		_ = s.Human().Pause(ctx, 500*time.Millisecond, time.Second)
	}
	if !allActivated {
		logger.Warn("Not every consent checkbox activated")
		s.Screenshot(ctx, "checkboxes_incomplete")
	}

	if !formValid(ctx, s) {
		logger.Warn("Form invalid after checkbox activation; forcing consent state")
		forceSetConsentControls(ctx, s, logger)
		_ = s.Human().Pause(ctx, 500*time.Millisecond, time.Second)
	}

	_ = s.Human().Pause(ctx, 2*time.Second, 3*time.Second)
	st := f.challenges.TurnstileStatus(ctx, s)
	logger.Info("Challenge widget status",
		zap.Bool("widget", st.WidgetPresent),
		zap.Bool("iframe", st.IframePresent),
		zap.Int("token_len", st.TokenLength))
	s.Screenshot(ctx, "before_submit_wait")

	if !f.waitSubmitEnabled(ctx, s, table, logger) {
		logger.Warn("Submit control never enabled; attempting submission anyway")
	}
	s.Screenshot(ctx, "form_filled")
	return nil
}

func submitEnabled(ctx context.Context, s Session, selector string) bool {
	var enabled bool
	expr := fmt.Sprintf(`(() => {
		const btn = document.querySelector(%s);
		return !!btn && !btn.disabled;
	})()`, jsString(selector))
	_ = s.Evaluate(ctx, expr, &enabled)
	return enabled
}

// waitSubmitEnabled polls until the submit control enables, with a bounded
// ceiling. The challenge widget usually gates the control, so its status is
// logged periodically while waiting.
func (f *Registration) waitSubmitEnabled(ctx context.Context, s Session, table registry.SelectorTable, logger *zap.Logger) bool {
	sel, err := resolveField(ctx, s, table, "register", "submit_button")
	if err != nil {
		logger.Warn("Submit control not found", zap.Error(err))
		return false
	}
	if submitEnabled(ctx, s, sel) {
		return true
	}

	st := f.challenges.TurnstileStatus(ctx, s)
	if st.WidgetPresent || st.IframePresent {
		logger.Info("Waiting for the access challenge to release the submit control",
			zap.Duration("ceiling", f.cfg.Flow.SubmitEnableTimeout))
	} else {
		logger.Info("Waiting for the submit control to enable",
			zap.Duration("ceiling", f.cfg.Flow.SubmitEnableTimeout))
	}
	s.Screenshot(ctx, "waiting_submit_enable")

	start := time.Now()
	lastLog := start
	for time.Since(start) < f.cfg.Flow.SubmitEnableTimeout {
		if submitEnabled(ctx, s, sel) {
			logger.Info("Submit control enabled", zap.Duration("after", time.Since(start).Round(time.Second)))
			s.Screenshot(ctx, "submit_enabled")
			return true
		}
		if time.Since(lastLog) >= 15*time.Second {
			st := f.challenges.TurnstileStatus(ctx, s)
			logger.Info("Still waiting for submit control",
				zap.Duration("remaining", (f.cfg.Flow.SubmitEnableTimeout - time.Since(start)).Round(time.Second)),
				zap.Int("token_len", st.TokenLength))
			lastLog = time.Now()
		}
		if err := sleepCtx(ctx, f.cfg.Flow.SubmitPollInterval); err != nil {
			return false
		}
	}

	logger.Warn("Submit control did not enable before the deadline")
	s.Screenshot(ctx, "submit_wait_timeout")
	return false
}

// submit clicks the submit control exactly once and classifies the outcome
// in two phases. The challenge token is single-use: a second click consumes
// an invalidated token and produces a misleading validation error, so there
// is no submission retry under any circumstances.
func (f *Registration) submit(ctx context.Context, s Session, table registry.SelectorTable, logger *zap.Logger) (classifier.Outcome, error) {
	sel, err := resolveField(ctx, s, table, "register", "submit_button")
	if err != nil {
		return classifier.Outcome{}, fmt.Errorf("flow: locating submit control: %w", err)
	}
	scrollIntoView(ctx, s, sel)
	_ = s.Human().Pause(ctx, 500*time.Millisecond, time.Second)

	if !submitEnabled(ctx, s, sel) {
		if !f.waitSubmitEnabled(ctx, s, table, logger) {
			s.Screenshot(ctx, "submit_still_disabled")
			return classifier.Outcome{}, errors.New("flow: submit control never enabled, challenge likely unsolved")
		}
	}

	if st := f.challenges.TurnstileStatus(ctx, s); st.TokenLength == 0 {
		logger.Warn("Submitting with an empty challenge token; the control is enabled regardless")
	}
	s.Screenshot(ctx, "before_submit")

	logger.Info("Submitting form")
	clickExpr := fmt.Sprintf("document.querySelector(%s).click()", jsString(sel))
	if err := s.Evaluate(ctx, clickExpr, nil); err != nil {
		logger.Warn("Page-level click failed, falling back to simulated input", zap.Error(err))
		if err := s.Human().Click(ctx, sel, nil); err != nil {
			return classifier.Outcome{}, fmt.Errorf("flow: clicking submit: %w", err)
		}
	}

	// Give the application a moment to process the round trip before the
	// first, definitive-signals-only look.
	_ = s.Human().Pause(ctx, 5*time.Second, 7*time.Second)
	outcome, err := f.classify.ClassifyPage(ctx, s, classifier.DefinitiveOnly, "register")
	if err != nil {
		return classifier.Outcome{}, fmt.Errorf("flow: classifying submission: %w", err)
	}
	s.Screenshot(ctx, "after_submit_first")
	if outcome.Status != classifier.StatusAmbiguous {
		return outcome, nil
	}

	// Nothing definitive yet: wait for the page to re-render, then run the
	// full cascade including the form-still-visible fallback.
	if hash, err := classifier.BodyHash(ctx, s); err == nil {
		if classifier.WaitForContentChange(ctx, s, hash, f.cfg.Flow.ContentChangeWindow) {
			logger.Debug("Page content changed after submission")
			_ = s.Human().Pause(ctx, 2*time.Second, 3*time.Second)
		}
	}

	outcome, err = f.classify.ClassifyPage(ctx, s, classifier.Full, "register")
	if err != nil {
		return classifier.Outcome{}, fmt.Errorf("flow: classifying submission: %w", err)
	}
	s.Screenshot(ctx, "after_submit_final")
	return outcome, nil
}

// verificationNeeded decides whether to run the mailbox verification step:
// the country flag wins, otherwise the page content is scanned for
// verification phrasing.
func (f *Registration) verificationNeeded(ctx context.Context, s Session, desc registry.Descriptor, logger *zap.Logger) bool {
	if desc.OTPRequired {
		return true
	}
	if hint, err := bodyContainsAny(ctx, s, f.successHints); err == nil && hint != "" {
		logger.Debug("Page content hints at verification", zap.String("hint", hint))
		return true
	}
	return false
}

// verifyEmail retrieves the verification mail and acts on it: a link is
// visited, a code is entered into the form.
func (f *Registration) verifyEmail(ctx context.Context, s Session, table registry.SelectorTable, logger *zap.Logger) error {
	logger.Info("Waiting for the verification email")

	v := f.newVerifier()
	if err := v.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = v.Close() }()

	res, err := v.WaitForVerification(ctx, f.cfg.Flow.OTPWaitPerAttempt, f.cfg.Flow.OTPMaxAttempts)
	if err != nil {
		return err
	}

	if res.Link != "" {
		logger.Info("Visiting verification link", zap.String("subject", res.Subject))
		if err := s.Navigate(ctx, res.Link); err != nil {
			return fmt.Errorf("flow: visiting verification link: %w", err)
		}
		_ = s.Human().Pause(ctx, 3*time.Second, 5*time.Second)
		s.Screenshot(ctx, "verify_link_visited")
		return nil
	}
	if res.Code != "" {
		return enterOTP(ctx, s, table, res.Code, logger)
	}
	return errors.New("flow: verification mail carried neither code nor link")
}
