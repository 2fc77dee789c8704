// File: internal/flow/flow_test.go

package flow

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/captcha"
	"github.com/xkilldash9x/visaflow-cli/internal/classifier"
	"github.com/xkilldash9x/visaflow-cli/internal/config"
	"github.com/xkilldash9x/visaflow-cli/internal/humanoid"
	"github.com/xkilldash9x/visaflow-cli/internal/mailotp"
	"github.com/xkilldash9x/visaflow-cli/internal/registry"
)

// --- stub humanoid controller ---

type stubHuman struct {
	clicked   []string
	clickedAt [][2]float64
	typed     map[string]string
}

func newStubHuman() *stubHuman {
	return &stubHuman{typed: map[string]string{}}
}

func (h *stubHuman) MoveTo(ctx context.Context, selector string, opts *humanoid.InteractionOptions) error {
	return nil
}

func (h *stubHuman) Click(ctx context.Context, selector string, opts *humanoid.InteractionOptions) error {
	h.clicked = append(h.clicked, selector)
	return nil
}

func (h *stubHuman) ClickAt(ctx context.Context, x, y float64) error {
	h.clickedAt = append(h.clickedAt, [2]float64{x, y})
	return nil
}

func (h *stubHuman) Type(ctx context.Context, selector, text string, opts *humanoid.InteractionOptions) error {
	h.typed[selector] = text
	return nil
}

func (h *stubHuman) CognitivePause(ctx context.Context, meanMs, stdDevMs float64) error { return nil }

func (h *stubHuman) Pause(ctx context.Context, min, max time.Duration) error { return nil }

// --- stub session ---

// stubSession scripts the browser surface. Evaluate dispatches on the shape
// of the expression the flow helpers emit.
type stubSession struct {
	human *stubHuman
	eval  func(ctx context.Context, expr string, res interface{}) error

	url              string
	body             string
	snapshot         func() classifier.Snapshot
	missingSelectors map[string]bool
	submitEnabled    bool
	checkboxState    checkboxState
	formValidState   bool
	dialPick         string
	onSubmitClick    func()

	navs         []string
	shots        []string
	probes       []string
	submitClicks int
	closed       bool
}

func newStubSession() *stubSession {
	return &stubSession{
		human:            newStubHuman(),
		url:              "https://visa.vfsglobal.com/tur/en/nld/register",
		snapshot:         func() classifier.Snapshot { return classifier.Snapshot{URL: "changed"} },
		missingSelectors: map[string]bool{},
		submitEnabled:    true,
		checkboxState:    checkboxState{Found: true, Checked: true, NgValid: true},
		formValidState:   true,
		dialPick:         "+90",
	}
}

func (s *stubSession) Navigate(ctx context.Context, url string) error {
	s.navs = append(s.navs, url)
	s.url = url
	return nil
}

func (s *stubSession) BodyText(ctx context.Context) (string, error) {
	return strings.ToLower(s.body), nil
}

func (s *stubSession) CurrentURL(ctx context.Context) (string, error) { return s.url, nil }

func (s *stubSession) HasCookie(ctx context.Context, name string) (bool, error) { return false, nil }

func (s *stubSession) Screenshot(ctx context.Context, name string) string {
	s.shots = append(s.shots, name)
	return name + ".png"
}

func (s *stubSession) Human() humanoid.Controller { return s.human }

func (s *stubSession) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

func setRes(t *testing.T, res, value interface{}) {
	t.Helper()
	if res == nil {
		return
	}
	raw, err := json.Marshal(value)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, res))
}

func (s *stubSession) bindT(t *testing.T) func(context.Context, string, interface{}) error {
	return func(ctx context.Context, expr string, res interface{}) error {
		switch v := res.(type) {
		case *classifier.Snapshot:
			*v = s.snapshot()
			return nil
		case *checkboxState:
			*v = s.checkboxState
			return nil
		}

		switch {
		case strings.HasPrefix(expr, "!!document.querySelector("):
			sel := selectorFromProbe(expr)
			s.probes = append(s.probes, sel)
			setRes(t, res, !s.missingSelectors[sel])
		case strings.Contains(expr, "pointerdown"):
			setRes(t, res, true)
		case strings.Contains(expr, "toggled"):
			setRes(t, res, map[string]bool{"ok": true})
		case strings.Contains(expr, "innerSel"):
			setRes(t, res, map[string]float64{"x": 120, "y": 240})
		case strings.Contains(expr, "!btn.disabled"):
			setRes(t, res, s.submitEnabled)
		case strings.Contains(expr, ").click()"):
			s.submitClicks++
			if s.onSubmitClick != nil {
				s.onSubmitClick()
			}
		case strings.Contains(expr, "mat-option"):
			setRes(t, res, s.dialPick)
		case strings.Contains(expr, "onetrust"):
			setRes(t, res, false)
		case strings.Contains(expr, "offsetParent"):
			setRes(t, res, false)
		case strings.Contains(expr, "ng-valid"):
			setRes(t, res, s.formValidState)
		}
		return nil
	}
}

// Evaluate is replaced per test via eval; the default handles every
// expression the flows emit.
func (s *stubSession) Evaluate(ctx context.Context, expr string, res interface{}) error {
	if s.eval == nil {
		panic("stubSession used without harness: call newHarness")
	}
	return s.eval(ctx, expr, res)
}

// selectorFromProbe unwraps `!!document.querySelector("...")`.
func selectorFromProbe(expr string) string {
	raw := strings.TrimSuffix(strings.TrimPrefix(expr, "!!document.querySelector("), ")")
	var sel string
	if err := json.Unmarshal([]byte(raw), &sel); err != nil {
		return raw
	}
	return sel
}

// --- stub collaborators ---

type stubFactory struct {
	session *stubSession
	err     error
	calls   int
}

func (f *stubFactory) NewSession(ctx context.Context, country string) (Session, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type stubChallenges struct {
	solved   bool
	solveErr error
	status   captcha.TurnstileStatus
}

func (c *stubChallenges) Solve(ctx context.Context, page captcha.Page, knownType string) (bool, error) {
	return c.solved, c.solveErr
}

func (c *stubChallenges) TurnstileStatus(ctx context.Context, page captcha.Page) captcha.TurnstileStatus {
	return c.status
}

type stubVerifier struct {
	connectErr error
	result     *mailotp.Result
	waitErr    error
	closed     bool
}

func (v *stubVerifier) Connect(ctx context.Context) error { return v.connectErr }

func (v *stubVerifier) Close() error {
	v.closed = true
	return nil
}

func (v *stubVerifier) WaitForVerification(ctx context.Context, perAttempt time.Duration, maxAttempts int) (*mailotp.Result, error) {
	return v.result, v.waitErr
}

// --- harness ---

type harness struct {
	cfg        *config.Config
	registry   *registry.Registry
	session    *stubSession
	factory    *stubFactory
	challenges *stubChallenges
	verifier   *stubVerifier
}

func writeCountries(t *testing.T, dir string) {
	t.Helper()
	body := map[string]any{
		"_meta": map[string]any{
			"url_template": "https://visa.vfsglobal.com/{origin}/{language}/{country_code}/{page}",
		},
		"countries": map[string]any{
			"aut": map[string]any{
				"name_en": "Austria", "provider": "vfs", "active": true,
				"captcha_type": "turnstile", "otp_required": true,
			},
			"nld": map[string]any{
				"name_en": "Netherlands", "provider": "vfs", "active": true,
				"captcha_type": "turnstile",
			},
			"nor": map[string]any{
				"name_en": "Norway", "provider": "vfs", "active": false,
			},
		},
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "countries.json"), raw, 0o644))
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.Registry.Dir = t.TempDir()
	cfg.Credentials = config.CredentialsConfig{
		Email:        "applicant@example.com",
		Password:     "Str0ng!Passw0rd",
		MobileNumber: "5551234567",
	}
	cfg.Flow.SubmitEnableTimeout = 100 * time.Millisecond
	cfg.Flow.SubmitPollInterval = 10 * time.Millisecond
	cfg.Flow.ContentChangeWindow = 50 * time.Millisecond
	cfg.Flow.OTPWaitPerAttempt = 10 * time.Millisecond
	cfg.Flow.OTPMaxAttempts = 1
	writeCountries(t, cfg.Registry.Dir)

	reg, err := registry.New(cfg.Registry, zap.NewNop())
	require.NoError(t, err)

	session := newStubSession()
	session.eval = session.bindT(t)

	return &harness{
		cfg:        cfg,
		registry:   reg,
		session:    session,
		factory:    &stubFactory{session: session},
		challenges: &stubChallenges{solved: true},
		verifier:   &stubVerifier{result: &mailotp.Result{}},
	}
}

func (h *harness) registration(t *testing.T) *Registration {
	t.Helper()
	f := NewRegistration(h.cfg, h.registry, h.factory, h.challenges, zap.NewNop())
	f.newVerifier = func() Verifier { return h.verifier }
	return f
}

func (h *harness) login(t *testing.T) *Login {
	t.Helper()
	f := NewLogin(h.cfg, h.registry, h.factory, h.challenges, zap.NewNop())
	f.newVerifier = func() Verifier { return h.verifier }
	return f
}

// --- registration tests ---

func TestRegistrationConfigurationErrors(t *testing.T) {
	t.Run("UnknownCountry", func(t *testing.T) {
		h := newHarness(t)
		err := h.registration(t).Run(context.Background(), "xyz")
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.ErrorIs(t, err, registry.ErrUnknownCountry)
		assert.Zero(t, h.factory.calls, "no session may be acquired on a configuration error")
	})

	t.Run("InactiveCountry", func(t *testing.T) {
		h := newHarness(t)
		err := h.registration(t).Run(context.Background(), "nor")
		assert.ErrorIs(t, err, ErrConfiguration)
		assert.Zero(t, h.factory.calls)
	})

	t.Run("MissingCredentials", func(t *testing.T) {
		h := newHarness(t)
		h.cfg.Credentials.Password = ""
		h.cfg.Credentials.MobileNumber = ""
		err := h.registration(t).Run(context.Background(), "nld")
		require.ErrorIs(t, err, ErrConfiguration)
		assert.Contains(t, err.Error(), "credentials.password")
		assert.Contains(t, err.Error(), "credentials.mobile_number")
		assert.Zero(t, h.factory.calls)
	})
}

func TestRegistrationHappyPath(t *testing.T) {
	h := newHarness(t)
	h.session.body = "Almost done! Please verify your email to activate your account."
	h.session.snapshot = func() classifier.Snapshot {
		return classifier.Snapshot{
			URL:          h.session.url,
			Notification: "Please verify your email",
		}
	}
	h.verifier.result = &mailotp.Result{
		Link:    "https://visa.vfsglobal.com/verify?token=abc",
		Subject: "Verify your account",
	}

	err := h.registration(t).Run(context.Background(), "nld")
	require.NoError(t, err)

	// Form fields typed with the configured credentials.
	assert.Equal(t, "applicant@example.com", h.session.human.typed["input[id='email']"])
	assert.Equal(t, "Str0ng!Passw0rd", h.session.human.typed["input[id='password']"])
	assert.Equal(t, "Str0ng!Passw0rd", h.session.human.typed["input[id='confirmPassword']"])
	assert.Equal(t, "5551234567", h.session.human.typed["input[id='mobileNumber']"])

	// One submission, never more.
	assert.Equal(t, 1, h.session.submitClicks)

	// The success notification mentions verification, so the mail step ran
	// and the link was visited.
	assert.Contains(t, h.session.navs, "https://visa.vfsglobal.com/verify?token=abc")
	assert.True(t, h.verifier.closed)

	assert.Contains(t, h.session.shots, "register_completed")
	assert.True(t, h.session.closed, "session cleanup must run on success too")
}

func TestRegistrationClassifiedFailure(t *testing.T) {
	h := newHarness(t)
	h.session.snapshot = func() classifier.Snapshot {
		return classifier.Snapshot{
			URL:          h.session.url,
			Notification: "This email is already in use",
		}
	}

	err := h.registration(t).Run(context.Background(), "nld")

	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, string(classifier.CategoryDuplicateAccount), appErr.Category)
	assert.Equal(t, 1, h.session.submitClicks)
	assert.True(t, h.session.closed, "session cleanup must run on failure")
}

func TestRegistrationTwoPhaseClassification(t *testing.T) {
	// No definitive signal right after submit; the full pass then fails on
	// the form-still-visible fallback. The submission is never retried.
	h := newHarness(t)
	h.session.snapshot = func() classifier.Snapshot {
		return classifier.Snapshot{URL: h.session.url, SourceFormVisible: true}
	}

	err := h.registration(t).Run(context.Background(), "nld")

	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, string(classifier.CategoryFormValidation), appErr.Category)
	assert.Equal(t, 1, h.session.submitClicks, "single-use token: no submission retry")
	assert.Contains(t, h.session.shots, "submission_ambiguous", "first pass was ambiguous")
}

func TestRegistrationChallengeUnsolvedContinues(t *testing.T) {
	h := newHarness(t)
	h.challenges.solved = false
	h.session.snapshot = func() classifier.Snapshot {
		return classifier.Snapshot{URL: "https://visa.vfsglobal.com/tur/en/nld/dashboard"}
	}

	// Policy: an unsolved challenge does not abort; the form's own
	// validation decides.
	err := h.registration(t).Run(context.Background(), "nld")
	require.NoError(t, err)
	assert.Equal(t, 1, h.session.submitClicks)
}

func TestRegistrationSolverConfigurationError(t *testing.T) {
	h := newHarness(t)
	h.challenges.solveErr = captcha.ErrAPIKeyMissing

	err := h.registration(t).Run(context.Background(), "nld")
	assert.ErrorIs(t, err, captcha.ErrAPIKeyMissing)
	assert.True(t, h.session.closed)
	assert.Zero(t, h.session.submitClicks)
}

func TestRegistrationOTPCodeEntry(t *testing.T) {
	// Austria flags verification as required; a code (not a link) arrives.
	h := newHarness(t)
	h.session.snapshot = func() classifier.Snapshot {
		return classifier.Snapshot{URL: h.session.url, Notification: "account created"}
	}
	h.verifier.result = &mailotp.Result{Code: "482913"}

	err := h.registration(t).Run(context.Background(), "aut")
	require.NoError(t, err)
	assert.Equal(t, "482913", h.session.human.typed["input[id='otp']"])
	assert.Contains(t, h.session.shots, "otp_entered")
}

func TestRegistrationVerifierConnectionFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.session.snapshot = func() classifier.Snapshot {
		return classifier.Snapshot{URL: h.session.url, Notification: "account created"}
	}
	h.verifier.connectErr = mailotp.ErrConnection

	err := h.registration(t).Run(context.Background(), "aut")
	assert.NoError(t, err, "mailbox trouble is logged, the flow still finishes")
	assert.Contains(t, h.session.shots, "register_completed")
}

// --- login tests ---

func TestLoginConfigurationErrors(t *testing.T) {
	h := newHarness(t)
	h.cfg.Credentials.Email = ""
	err := h.login(t).Run(context.Background(), "nld")
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "credentials.email")
	assert.Zero(t, h.factory.calls)
}

func TestLoginMobileNumberNotRequired(t *testing.T) {
	h := newHarness(t)
	h.cfg.Credentials.MobileNumber = ""
	h.session.url = "https://visa.vfsglobal.com/tur/en/nld/dashboard"

	err := h.login(t).Run(context.Background(), "nld")
	assert.NoError(t, err)
}

func TestLoginHappyPath(t *testing.T) {
	h := newHarness(t)
	h.session.body = "Welcome back! My Applications"
	h.session.url = "https://visa.vfsglobal.com/tur/en/nld/dashboard"

	err := h.login(t).Run(context.Background(), "nld")
	require.NoError(t, err)

	assert.Equal(t, "applicant@example.com", h.session.human.typed["input[id='email']"])
	assert.Equal(t, "Str0ng!Passw0rd", h.session.human.typed["input[id='password']"])
	assert.Contains(t, h.session.human.clicked, "button[type='submit']")
	assert.Contains(t, h.session.shots, "login_completed")
	assert.NotContains(t, h.session.shots, "login_verification_uncertain")
	assert.True(t, h.session.closed)
}

func TestLoginErrorScans(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		category string
	}{
		{"InvalidCredentials", "Invalid email or password entered", "invalid_credentials"},
		{"AccountLocked", "Your account has been locked after too many attempts", "account_locked"},
		{"AccountNotFound", "No account found for this address", "account_not_found"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.session.body = tc.body

			err := h.login(t).Run(context.Background(), "nld")

			var appErr *ApplicationError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tc.category, appErr.Category)
			assert.Contains(t, h.session.shots, "login_"+tc.category)
			assert.True(t, h.session.closed)
		})
	}
}

func TestLoginDynamicOTPPrompt(t *testing.T) {
	// Netherlands does not flag OTP, but the page asks for a code after
	// submission.
	h := newHarness(t)
	h.session.body = "Please enter the code sent to your email"
	h.verifier.result = &mailotp.Result{Code: "7341"}

	err := h.login(t).Run(context.Background(), "nld")
	require.NoError(t, err)
	assert.Equal(t, "7341", h.session.human.typed["input[id='otp']"])
	assert.True(t, h.verifier.closed)
}

func TestLoginOTPTimeoutIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.verifier.result = nil
	h.verifier.waitErr = mailotp.ErrTimeout

	err := h.login(t).Run(context.Background(), "aut")
	assert.NoError(t, err)
	assert.Contains(t, h.session.shots, "login_otp_incomplete")
}

func TestLoginUncertainOutcomeIsLoggedNotFatal(t *testing.T) {
	h := newHarness(t)
	h.session.body = "some unrelated page content"

	err := h.login(t).Run(context.Background(), "nld")
	require.NoError(t, err)
	assert.Contains(t, h.session.shots, "login_verification_uncertain")
}

func TestLoginSessionAcquisitionFailure(t *testing.T) {
	h := newHarness(t)
	h.factory.err = errors.New("browser launch failed")

	err := h.login(t).Run(context.Background(), "nld")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquiring session")
}

func TestResolveSelectorTiers(t *testing.T) {
	entry := registry.SelectorEntry{
		Primary:   "input[id='email']",
		Fallback1: "input[name='email']",
		Fallback2: "input[type='email']",
		Hint:      "Email input on registration form",
	}

	t.Run("PrimaryShortCircuits", func(t *testing.T) {
		h := newHarness(t)

		sel, err := resolveSelector(context.Background(), h.session, entry)
		require.NoError(t, err)
		assert.Equal(t, "input[id='email']", sel)
		assert.Equal(t, []string{"input[id='email']"}, h.session.probes,
			"fallback tiers probed despite the primary matching")
	})

	t.Run("FallbackOrderWhenPrimaryMissing", func(t *testing.T) {
		h := newHarness(t)
		h.session.missingSelectors["input[id='email']"] = true

		sel, err := resolveSelector(context.Background(), h.session, entry)
		require.NoError(t, err)
		assert.Equal(t, "input[name='email']", sel)
		assert.Equal(t, []string{"input[id='email']", "input[name='email']"}, h.session.probes)
	})

	t.Run("NoTierMatches", func(t *testing.T) {
		h := newHarness(t)
		for _, sel := range entry.Candidates() {
			h.session.missingSelectors[sel] = true
		}

		_, err := resolveSelector(context.Background(), h.session, entry)
		require.Error(t, err)
		assert.Contains(t, err.Error(), entry.Hint)
		assert.Equal(t, entry.Candidates(), h.session.probes)
	})
}
