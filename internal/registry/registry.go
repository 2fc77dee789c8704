// File: internal/registry/registry.go

// Package registry loads the static per-country configuration: which
// countries are serviceable, how to compose their portal URLs, and which
// CSS selector table to use for each form page.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/visaflow-cli/internal/config"
)

// The only portal provider this system drives. Descriptors carrying any other
// provider tag are present in the table for inventory purposes but unusable.
const supportedProvider = "vfs"

var (
	ErrUnknownCountry      = errors.New("registry: unknown country code")
	ErrUnsupportedProvider = errors.New("registry: country is not served by the supported provider")
	ErrInactiveCountry     = errors.New("registry: country is not active")
)

// Descriptor is one country's static configuration. Immutable after load.
type Descriptor struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	NameEN      string `json:"name_en"`
	Provider    string `json:"provider"`
	Active      bool   `json:"active"`
	Priority    int    `json:"priority"`
	MVP         bool   `json:"mvp"`
	CaptchaType string `json:"captcha_type"`
	OTPRequired bool   `json:"otp_required"`
	Notes       string `json:"notes"`
}

// countriesFile mirrors the on-disk countries.json layout.
type countriesFile struct {
	Meta struct {
		URLTemplate     string `json:"url_template"`
		DefaultOrigin   string `json:"default_origin"`
		DefaultLanguage string `json:"default_language"`
	} `json:"_meta"`
	Countries map[string]Descriptor `json:"countries"`
}

// Registry resolves country descriptors, composes portal URLs and loads
// selector tables. Built once at startup; safe for concurrent reads.
type Registry struct {
	cfg       config.RegistryConfig
	logger    *zap.Logger
	countries map[string]Descriptor
	template  string
	origin    string
	language  string
}

// New reads <cfg.Dir>/countries.json and builds the registry. Origin and
// language resolve in priority order: explicit config value, file metadata,
// built-in default.
func New(cfg config.RegistryConfig, logger *zap.Logger) (*Registry, error) {
	path := filepath.Join(cfg.Dir, "countries.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: reading %s: %w", path, err)
	}

	var file countriesFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("registry: parsing %s: %w", path, err)
	}

	r := &Registry{
		cfg:       cfg,
		logger:    logger.Named("registry"),
		countries: make(map[string]Descriptor, len(file.Countries)),
		template:  file.Meta.URLTemplate,
		origin:    firstNonEmpty(cfg.Origin, file.Meta.DefaultOrigin, "tur"),
		language:  firstNonEmpty(cfg.Language, file.Meta.DefaultLanguage, "en"),
	}
	if r.template == "" {
		r.template = "https://visa.vfsglobal.com/{origin}/{language}/{country_code}/{page}"
	}

	for code, d := range file.Countries {
		code = strings.ToLower(strings.TrimSpace(code))
		d.Code = code
		r.countries[code] = d
	}

	r.logger.Info("Country registry loaded",
		zap.Int("countries", len(r.countries)),
		zap.String("origin", r.origin),
		zap.String("language", r.language))
	return r, nil
}

// Resolve returns the descriptor for an active, supported country.
func (r *Registry) Resolve(code string) (Descriptor, error) {
	code = strings.ToLower(strings.TrimSpace(code))

	d, ok := r.countries[code]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q (valid: %s)",
			ErrUnknownCountry, code, strings.Join(r.allCodes(), ", "))
	}
	if d.Provider != supportedProvider {
		return Descriptor{}, fmt.Errorf("%w: %s (%s) uses provider %q",
			ErrUnsupportedProvider, d.NameEN, code, d.Provider)
	}
	if !d.Active {
		return Descriptor{}, fmt.Errorf("%w: %s (%s): %s",
			ErrInactiveCountry, d.NameEN, code, firstNonEmpty(d.Notes, "no notes"))
	}
	return d, nil
}

// BuildURL composes the portal URL for a country page, e.g.
// https://visa.vfsglobal.com/tur/en/aut/register. The country is validated
// first, so an inactive or unknown country fails here too.
func (r *Registry) BuildURL(code, page string) (string, error) {
	if _, err := r.Resolve(code); err != nil {
		return "", err
	}

	replacer := strings.NewReplacer(
		"{origin}", r.origin,
		"{language}", r.language,
		"{country_code}", strings.ToLower(strings.TrimSpace(code)),
		"{page}", strings.ToLower(strings.TrimSpace(page)),
	)
	return replacer.Replace(r.template), nil
}

// ActiveCountries returns the sorted codes of all active, supported countries.
func (r *Registry) ActiveCountries() []string {
	var codes []string
	for code, d := range r.countries {
		if d.Active && d.Provider == supportedProvider {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

// MVPCountries returns the sorted codes of active countries flagged as MVP
// candidates.
func (r *Registry) MVPCountries() []string {
	var codes []string
	for code, d := range r.countries {
		if d.MVP && d.Active && d.Provider == supportedProvider {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}

func (r *Registry) allCodes() []string {
	codes := make([]string, 0, len(r.countries))
	for code := range r.countries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
