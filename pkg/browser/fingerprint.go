// File: pkg/browser/fingerprint.go

package browser

import (
	"fmt"
	"math/rand"

	"github.com/chromedp/cdproto/emulation"

	"github.com/xkilldash9x/visaflow-cli/pkg/browser/stealth"
)

// Fingerprint is the browser identity presented to the portal: OS family,
// user agent, navigator properties, and viewport. One fingerprint is drawn
// per session and every override derives from it, so the surfaces the
// anti-bot layer cross-checks stay mutually consistent.
type Fingerprint struct {
	OS             string
	UserAgent      string
	Platform       string
	Languages      []string
	Timezone       string
	Locale         string
	ViewportWidth  int
	ViewportHeight int
	HardwareCores  int
	DeviceMemoryGB int
}

const chromeMajor = 126

// osWeights reflects desktop market share; most real visitors run Windows.
var osWeights = []struct {
	os     string
	weight int
}{
	{"windows", 75},
	{"macos", 17},
	{"linux", 8},
}

var viewports = [][2]int{
	{1920, 1080},
	{1366, 768},
	{1536, 864},
	{1440, 900},
	{1600, 900},
}

// NewFingerprint draws a random but internally consistent fingerprint.
func NewFingerprint(rng *rand.Rand) Fingerprint {
	total := 0
	for _, w := range osWeights {
		total += w.weight
	}
	draw := rng.Intn(total)
	os := osWeights[len(osWeights)-1].os
	for _, w := range osWeights {
		if draw < w.weight {
			os = w.os
			break
		}
		draw -= w.weight
	}

	vp := viewports[rng.Intn(len(viewports))]
	cores := []int{4, 8, 8, 12, 16}[rng.Intn(5)]
	memory := []int{8, 8, 16, 16, 32}[rng.Intn(5)]

	f := Fingerprint{
		OS:             os,
		Languages:      []string{"en-US", "en"},
		Timezone:       "Europe/Istanbul",
		Locale:         "en-US",
		ViewportWidth:  vp[0],
		ViewportHeight: vp[1],
		HardwareCores:  cores,
		DeviceMemoryGB: memory,
	}

	build := fmt.Sprintf("%d.0.%d.%d", chromeMajor, 6400+rng.Intn(300), rng.Intn(200))
	switch os {
	case "windows":
		f.Platform = "Win32"
		f.UserAgent = fmt.Sprintf(
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", build)
	case "macos":
		f.Platform = "MacIntel"
		f.UserAgent = fmt.Sprintf(
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", build)
	default:
		f.Platform = "Linux x86_64"
		f.UserAgent = fmt.Sprintf(
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36", build)
	}
	return f
}

var webGLByOS = map[string][2]string{
	"windows": {
		"Google Inc. (Intel)",
		"ANGLE (Intel, Intel(R) UHD Graphics 630 (0x00003E9B) Direct3D11 vs_5_0 ps_5_0, D3D11)",
	},
	"macos": {
		"Google Inc. (Apple)",
		"ANGLE (Apple, ANGLE Metal Renderer: Apple M2, Unspecified Version)",
	},
	"linux": {
		"Google Inc. (Intel)",
		"ANGLE (Intel, Mesa Intel(R) UHD Graphics 630 (CFL GT2), OpenGL 4.6)",
	},
}

// Persona expands the fingerprint into the full stealth identity, including
// matching client hints and WebGL strings.
func (f Fingerprint) Persona() stealth.Persona {
	chPlatform, chVersion := "Windows", "10.0.0"
	switch f.OS {
	case "macos":
		chPlatform, chVersion = "macOS", "13.5.0"
	case "linux":
		chPlatform, chVersion = "Linux", "6.5.0"
	}

	major := fmt.Sprintf("%d", chromeMajor)
	brands := []*emulation.UserAgentBrandVersion{
		{Brand: "Not/A)Brand", Version: "8"},
		{Brand: "Chromium", Version: major},
		{Brand: "Google Chrome", Version: major},
	}

	gl := webGLByOS[f.OS]
	return stealth.Persona{
		UserAgent:           f.UserAgent,
		Platform:            f.Platform,
		Languages:           f.Languages,
		TimezoneID:          f.Timezone,
		Locale:              f.Locale,
		WebGLVendor:         gl[0],
		WebGLRenderer:       gl[1],
		HardwareConcurrency: f.HardwareCores,
		DeviceMemory:        f.DeviceMemoryGB,
		Screen: stealth.ScreenProperties{
			Width:      int64(f.ViewportWidth),
			Height:     int64(f.ViewportHeight),
			ColorDepth: 24,
			PixelDepth: 24,
		},
		ClientHintsData: &stealth.ClientHints{
			Brands:          brands,
			Mobile:          false,
			Platform:        chPlatform,
			PlatformVersion: chVersion,
			Architecture:    "x86",
			Bitness:         "64",
		},
	}
}
