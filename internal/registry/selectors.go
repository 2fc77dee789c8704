// File: internal/registry/selectors.go

package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// SelectorEntry is a 3-tier CSS selector for one form field. Callers try
// Primary first and walk down the fallbacks. Hint is a human-readable
// description of the element, kept for debugging and log output.
type SelectorEntry struct {
	Primary   string `json:"primary"`
	Fallback1 string `json:"fallback_1"`
	Fallback2 string `json:"fallback_2"`
	Hint      string `json:"ai_hint"`
}

// Candidates returns the non-empty selectors in trial order.
func (e SelectorEntry) Candidates() []string {
	var out []string
	for _, s := range []string{e.Primary, e.Fallback1, e.Fallback2} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SelectorTable maps page name -> field name -> selector entry.
type SelectorTable map[string]map[string]SelectorEntry

// Field returns the entry for a page/field pair, or an error naming what is
// missing so callers can fail with a useful message.
func (t SelectorTable) Field(page, field string) (SelectorEntry, error) {
	fields, ok := t[page]
	if !ok {
		return SelectorEntry{}, fmt.Errorf("registry: no selectors for page %q", page)
	}
	e, ok := fields[field]
	if !ok {
		return SelectorEntry{}, fmt.Errorf("registry: no selector for field %q on page %q", field, page)
	}
	return e, nil
}

// defaultSelectors is the generic VFS selector template, used whenever a
// country has no selector file or the file carries no page sections. The
// selectors target the stock VFS Angular registration and login forms;
// per-country files override them after live reconnaissance.
var defaultSelectors = SelectorTable{
	"register": {
		"first_name": {
			Primary:   "input[id='firstName']",
			Fallback1: "input[name='firstName']",
			Fallback2: "input[data-testid='firstName']",
			Hint:      "First name text input on registration form",
		},
		"last_name": {
			Primary:   "input[id='lastName']",
			Fallback1: "input[name='lastName']",
			Fallback2: "input[data-testid='lastName']",
			Hint:      "Last name text input on registration form",
		},
		"email": {
			Primary:   "input[id='email']",
			Fallback1: "input[name='email']",
			Fallback2: "input[type='email']",
			Hint:      "Email address input on registration form",
		},
		"password": {
			Primary:   "input[id='password']",
			Fallback1: "input[name='password']",
			Fallback2: "input[type='password']:first-of-type",
			Hint:      "Password input on registration form",
		},
		"password_confirm": {
			Primary:   "input[id='confirmPassword']",
			Fallback1: "input[name='confirmPassword']",
			Fallback2: "input[type='password']:last-of-type",
			Hint:      "Password confirmation input on registration form",
		},
		"mobile_number": {
			Primary:   "input[id='mobileNumber']",
			Fallback1: "input[name='mobileNumber']",
			Fallback2: "input[type='tel']",
			Hint:      "Mobile phone number input on registration form",
		},
		"dial_code": {
			Primary:   "mat-select[formcontrolname='dialcode']",
			Fallback1: "mat-select[name='dialcode']",
			Fallback2: "select[name='dialcode']",
			Hint:      "Phone country dial code dropdown on registration form",
		},
		"terms_checkbox": {
			Primary:   "input[id='termsAndConditions']",
			Fallback1: "input[name='termsAndConditions']",
			Fallback2: "input[type='checkbox']",
			Hint:      "Terms and conditions checkbox on registration form",
		},
		"submit_button": {
			Primary:   "button[type='submit']",
			Fallback1: "button.btn-primary",
			Fallback2: "button.mat-raised-button",
			Hint:      "Submit/Register button on registration form",
		},
	},
	"login": {
		"email": {
			Primary:   "input[id='email']",
			Fallback1: "input[name='email']",
			Fallback2: "input[type='email']",
			Hint:      "Email address input on login form",
		},
		"password": {
			Primary:   "input[id='password']",
			Fallback1: "input[name='password']",
			Fallback2: "input[type='password']",
			Hint:      "Password input on login form",
		},
		"submit_button": {
			Primary:   "button[type='submit']",
			Fallback1: "button.btn-primary",
			Fallback2: "button.mat-raised-button",
			Hint:      "Sign In/Login button on login form",
		},
		"otp_field": {
			Primary:   "input[id='otp']",
			Fallback1: "input[name='otp']",
			Fallback2: "input[placeholder*='OTP']",
			Hint:      "OTP/verification code input field",
		},
	},
}

// selectorsFile mirrors an on-disk per-country selector file. The _meta
// section is ignored; only page sections count as content.
type selectorsFile map[string]json.RawMessage

// Selectors returns the selector table for a country. A per-country file at
// <dir>/selectors/vfs_<code>.json takes precedence; a missing, unreadable or
// metadata-only file falls back to the built-in default table. Fallback is
// never an error, only a log line.
func (r *Registry) Selectors(code string) SelectorTable {
	path := filepath.Join(r.cfg.Dir, "selectors", fmt.Sprintf("vfs_%s.json", code))

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("Selector file unreadable, using defaults",
				zap.String("path", path), zap.Error(err))
		}
		return defaultSelectors
	}

	var file selectorsFile
	if err := json.Unmarshal(raw, &file); err != nil {
		r.logger.Warn("Selector file malformed, using defaults",
			zap.String("path", path), zap.Error(err))
		return defaultSelectors
	}

	table := make(SelectorTable)
	for page, section := range file {
		if page == "_meta" {
			continue
		}
		var fields map[string]SelectorEntry
		if err := json.Unmarshal(section, &fields); err != nil {
			r.logger.Warn("Selector page section malformed, using defaults",
				zap.String("path", path), zap.String("page", page), zap.Error(err))
			return defaultSelectors
		}
		table[page] = fields
	}

	if len(table) == 0 {
		r.logger.Debug("Selector file carries no page sections, using defaults",
			zap.String("path", path))
		return defaultSelectors
	}

	r.logger.Debug("Loaded country selector overrides",
		zap.String("country", code), zap.Int("pages", len(table)))
	return table
}
