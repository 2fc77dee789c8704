// File: internal/registry/registry_test.go

package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/config"
)

func writeCountries(t *testing.T, dir string, body map[string]any) {
	t.Helper()
	raw, err := json.MarshalIndent(body, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "countries.json"), raw, 0o644))
}

func testCountries() map[string]any {
	return map[string]any{
		"_meta": map[string]any{
			"url_template":     "https://visa.vfsglobal.com/{origin}/{language}/{country_code}/{page}",
			"default_origin":   "tur",
			"default_language": "en",
		},
		"countries": map[string]any{
			"aut": map[string]any{
				"name_en": "Austria", "provider": "vfs", "active": true,
				"mvp": true, "captcha_type": "turnstile", "otp_required": true,
			},
			"hrv": map[string]any{
				"name_en": "Croatia", "provider": "vfs", "active": true,
				"mvp": true, "captcha_type": "turnstile", "otp_required": true,
			},
			"nld": map[string]any{
				"name_en": "Netherlands", "provider": "vfs", "active": true,
			},
			"nor": map[string]any{
				"name_en": "Norway", "provider": "vfs", "active": false,
				"notes": "Registration temporarily closed",
			},
			"deu": map[string]any{
				"name_en": "Germany", "provider": "idata", "active": true,
			},
		},
	}
}

func newTestRegistry(t *testing.T, cfg config.RegistryConfig) *Registry {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
		writeCountries(t, cfg.Dir, testCountries())
	}
	r, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestResolve(t *testing.T) {
	r := newTestRegistry(t, config.RegistryConfig{})

	t.Run("active vfs country", func(t *testing.T) {
		d, err := r.Resolve("aut")
		require.NoError(t, err)
		assert.Equal(t, "Austria", d.NameEN)
		assert.Equal(t, "turnstile", d.CaptchaType)
		assert.True(t, d.OTPRequired)
	})

	t.Run("normalizes case and whitespace", func(t *testing.T) {
		d, err := r.Resolve("  AUT ")
		require.NoError(t, err)
		assert.Equal(t, "aut", d.Code)
	})

	t.Run("unknown country", func(t *testing.T) {
		_, err := r.Resolve("xyz")
		assert.ErrorIs(t, err, ErrUnknownCountry)
		assert.Contains(t, err.Error(), "aut") // error lists valid codes
	})

	t.Run("non-vfs provider", func(t *testing.T) {
		_, err := r.Resolve("deu")
		assert.ErrorIs(t, err, ErrUnsupportedProvider)
		assert.Contains(t, err.Error(), "idata")
	})

	t.Run("inactive country", func(t *testing.T) {
		_, err := r.Resolve("nor")
		assert.ErrorIs(t, err, ErrInactiveCountry)
		assert.Contains(t, err.Error(), "temporarily closed")
	})

	t.Run("resolve is read-only", func(t *testing.T) {
		// Repeated calls observe identical state.
		first, err := r.Resolve("hrv")
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			again, err := r.Resolve("hrv")
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})
}

func TestBuildURL(t *testing.T) {
	r := newTestRegistry(t, config.RegistryConfig{})

	t.Run("composes template", func(t *testing.T) {
		url, err := r.BuildURL("aut", "register")
		require.NoError(t, err)
		assert.Equal(t, "https://visa.vfsglobal.com/tur/en/aut/register", url)
	})

	t.Run("lowercases inputs", func(t *testing.T) {
		url, err := r.BuildURL("HRV", "LOGIN")
		require.NoError(t, err)
		assert.Equal(t, "https://visa.vfsglobal.com/tur/en/hrv/login", url)
	})

	t.Run("rejects invalid country before composing", func(t *testing.T) {
		_, err := r.BuildURL("nor", "register")
		assert.ErrorIs(t, err, ErrInactiveCountry)
	})

	t.Run("config overrides origin and language", func(t *testing.T) {
		dir := t.TempDir()
		writeCountries(t, dir, testCountries())
		r2 := newTestRegistry(t, config.RegistryConfig{Dir: dir, Origin: "aze", Language: "tr"})

		url, err := r2.BuildURL("aut", "register")
		require.NoError(t, err)
		assert.Equal(t, "https://visa.vfsglobal.com/aze/tr/aut/register", url)
	})
}

func TestCountryLists(t *testing.T) {
	r := newTestRegistry(t, config.RegistryConfig{})

	// Sorted, active, vfs-only; "deu" (idata) and "nor" (inactive) excluded.
	assert.Equal(t, []string{"aut", "hrv", "nld"}, r.ActiveCountries())
	assert.Equal(t, []string{"aut", "hrv"}, r.MVPCountries())
}

func TestSelectors(t *testing.T) {
	dir := t.TempDir()
	writeCountries(t, dir, testCountries())
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "selectors"), 0o755))
	r := newTestRegistry(t, config.RegistryConfig{Dir: dir})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		table := r.Selectors("hrv")
		entry, err := table.Field("register", "email")
		require.NoError(t, err)
		assert.Equal(t, "input[id='email']", entry.Primary)
	})

	t.Run("meta-only file falls back to defaults", func(t *testing.T) {
		path := filepath.Join(dir, "selectors", "vfs_aut.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"_meta":{"country":"aut"}}`), 0o644))

		table := r.Selectors("aut")
		entry, err := table.Field("login", "otp_field")
		require.NoError(t, err)
		assert.Equal(t, "input[id='otp']", entry.Primary)
	})

	t.Run("country file overrides defaults", func(t *testing.T) {
		body := `{
			"_meta": {"country": "nld"},
			"register": {
				"email": {"primary": "input#mat-input-3", "fallback_1": "input[formcontrolname='email']"}
			}
		}`
		path := filepath.Join(dir, "selectors", "vfs_nld.json")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

		table := r.Selectors("nld")
		entry, err := table.Field("register", "email")
		require.NoError(t, err)
		assert.Equal(t, "input#mat-input-3", entry.Primary)
		assert.Equal(t, []string{"input#mat-input-3", "input[formcontrolname='email']"}, entry.Candidates())
	})

	t.Run("malformed file falls back to defaults", func(t *testing.T) {
		path := filepath.Join(dir, "selectors", "vfs_hrv.json")
		require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

		table := r.Selectors("hrv")
		_, err := table.Field("register", "terms_checkbox")
		assert.NoError(t, err)
	})

	t.Run("missing field is a named error", func(t *testing.T) {
		table := r.Selectors("hrv")
		_, err := table.Field("register", "no_such_field")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no_such_field")
	})
}
