// File: pkg/browser/stealth/stealth.go

// Package stealth applies the CDP overrides and init script that align every
// fingerprintable surface with the session persona before page scripts run.
package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

//go:embed evasions.js
var evasionsScript string

// ScreenProperties defines the spoofed display.
type ScreenProperties struct {
	Width       int64 `json:"width"`
	Height      int64 `json:"height"`
	AvailWidth  int64 `json:"availWidth,omitempty"`
	AvailHeight int64 `json:"availHeight,omitempty"`
	ColorDepth  int   `json:"colorDepth,omitempty"`
	PixelDepth  int   `json:"pixelDepth,omitempty"`
}

// ClientHints configures User-Agent Client Hints (Sec-CH-UA). These must
// agree with the classic UserAgent string or the mismatch itself is a signal.
type ClientHints struct {
	Brands          []*emulation.UserAgentBrandVersion `json:"brands"`
	FullVersionList []*emulation.UserAgentBrandVersion `json:"fullVersionList,omitempty"`
	Mobile          bool                               `json:"mobile"`
	Platform        string                             `json:"platform"`
	PlatformVersion string                             `json:"platformVersion"`
	Architecture    string                             `json:"architecture,omitempty"`
	Bitness         string                             `json:"bitness,omitempty"`
}

// Persona is the complete spoofed identity consumed by Apply and by the
// injected evasion script.
type Persona struct {
	UserAgent string   `json:"userAgent"`
	Platform  string   `json:"platform"` // navigator.platform, e.g. Win32
	Languages []string `json:"languages"`

	TimezoneID string `json:"timezoneId,omitempty"`
	Locale     string `json:"locale,omitempty"`

	WebGLVendor         string           `json:"webGLVendor,omitempty"`
	WebGLRenderer       string           `json:"webGLRenderer,omitempty"`
	HardwareConcurrency int              `json:"hardwareConcurrency,omitempty"`
	DeviceMemory        int              `json:"deviceMemory,omitempty"`
	Screen              ScreenProperties `json:"screen"`

	ClientHintsData *ClientHints `json:"clientHintsData,omitempty"`
}

// Apply returns the stealth task sequence. Must run before first navigation
// so the init script covers every document in the session.
func Apply(persona Persona, logger *zap.Logger) chromedp.Action {
	l := logger.Named("stealth")
	return chromedp.Tasks{
		network.Enable(),
		setExtraHTTPHeaders(persona, l),

		setUserAgentAndClientHints(persona, l),
		setDeviceMetrics(persona, l),
		setEnvironmentOverrides(persona, l),

		injectEvasionScript(persona, l),

		page.SetWebLifecycleState(page.WebLifecycleStateActive),

		chromedp.ActionFunc(func(ctx context.Context) error {
			l.Debug("Stealth persona applied", zap.String("platform", persona.Platform))
			return nil
		}),
	}
}

// injectEvasionScript registers the JS environment patches for every new document.
func injectEvasionScript(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		personaJSON, err := json.Marshal(persona)
		if err != nil {
			return fmt.Errorf("stealth: marshaling persona: %w", err)
		}

		script := fmt.Sprintf("const VISAFLOW_PERSONA = %s;\n%s", string(personaJSON), evasionsScript)
		if _, err = page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			logger.Error("Failed to register evasion script", zap.Error(err))
			return fmt.Errorf("stealth: adding script on new document: %w", err)
		}
		return nil
	})
}

func setUserAgentAndClientHints(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		platform := persona.Platform
		if persona.ClientHintsData != nil && persona.ClientHintsData.Platform != "" {
			platform = persona.ClientHintsData.Platform
		}

		override := emulation.SetUserAgentOverride(persona.UserAgent).
			WithPlatform(platform).
			WithAcceptLanguage(strings.Join(persona.Languages, ","))

		if ch := persona.ClientHintsData; ch != nil {
			override = override.WithUserAgentMetadata(&emulation.UserAgentMetadata{
				Brands:          ch.Brands,
				FullVersionList: ch.FullVersionList,
				Mobile:          ch.Mobile,
				Platform:        ch.Platform,
				PlatformVersion: ch.PlatformVersion,
				Architecture:    ch.Architecture,
				Bitness:         ch.Bitness,
			})
		}

		if err := override.Do(ctx); err != nil {
			logger.Error("Failed to set user agent override", zap.Error(err))
			return fmt.Errorf("stealth: setting user agent override: %w", err)
		}
		return nil
	})
}

func setExtraHTTPHeaders(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if len(persona.Languages) == 0 {
			return nil
		}
		formatted := persona.Languages[0]
		for i := 1; i < len(persona.Languages); i++ {
			q := 1.0 - float64(i)*0.1
			if q < 0.7 {
				q = 0.7
			}
			formatted += fmt.Sprintf(",%s;q=%.1f", persona.Languages[i], q)
		}
		headers := map[string]interface{}{"Accept-Language": formatted}
		if err := network.SetExtraHTTPHeaders(network.Headers(headers)).Do(ctx); err != nil {
			logger.Error("Failed to set extra HTTP headers", zap.Error(err))
			return fmt.Errorf("stealth: setting extra http headers: %w", err)
		}
		return nil
	})
}

func setDeviceMetrics(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if persona.Screen.Width <= 0 || persona.Screen.Height <= 0 {
			return nil
		}
		orientation := emulation.OrientationTypeLandscapePrimary
		if persona.Screen.Height > persona.Screen.Width {
			orientation = emulation.OrientationTypePortraitPrimary
		}
		err := emulation.SetDeviceMetricsOverride(persona.Screen.Width, persona.Screen.Height, 1.0, false).
			WithScreenOrientation(&emulation.ScreenOrientation{Type: orientation, Angle: 0}).
			Do(ctx)
		if err != nil {
			logger.Error("Failed to set device metrics", zap.Error(err))
			return fmt.Errorf("stealth: setting device metrics: %w", err)
		}
		return nil
	})
}

func setEnvironmentOverrides(persona Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if persona.TimezoneID != "" {
			if err := emulation.SetTimezoneOverride(persona.TimezoneID).Do(ctx); err != nil {
				logger.Error("Failed to set timezone override", zap.Error(err))
				return fmt.Errorf("stealth: setting timezone: %w", err)
			}
		}

		locale := persona.Locale
		if locale == "" && len(persona.Languages) > 0 {
			locale = persona.Languages[0]
		}
		if locale != "" {
			normalized := strings.ReplaceAll(locale, "_", "-")
			if err := emulation.SetLocaleOverride().WithLocale(normalized).Do(ctx); err != nil {
				logger.Error("Failed to set locale override", zap.Error(err))
				return fmt.Errorf("stealth: setting locale: %w", err)
			}
		}
		return nil
	})
}
