// File: pkg/browser/options.go

package browser

import (
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/visaflow-cli/internal/config"
)

// DefaultAllocatorOptions builds the Chrome launch flags for a session. The
// stock chromedp defaults advertise automation (enable-automation,
// --headless=new quirks), so the list is assembled from scratch: evasion
// flags first, then config-driven toggles, then user extras.
func DefaultAllocatorOptions(cfg config.BrowserConfig, fp Fingerprint, profileDir string) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,

		// The two flags every fingerprinting script checks first.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),

		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-component-update", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),

		chromedp.UserAgent(fp.UserAgent),
		chromedp.WindowSize(fp.ViewportWidth, fp.ViewportHeight),
		chromedp.Flag("lang", fp.Locale),
	}

	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if profileDir != "" {
		opts = append(opts, chromedp.UserDataDir(profileDir))
	}
	if cfg.Proxy.Enabled && cfg.Proxy.Server != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy.Server))
	}

	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}
