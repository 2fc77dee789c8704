// File: internal/mailotp/extract.go

package mailotp

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Ordered code patterns: a labeled code always beats a bare digit run, and
// 6-digit runs (the portal's usual OTP length) beat 4- and 8-digit ones.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:OTP|code|verification|doğrulama|kod)[:\s]+(\d{4,8})`),
	regexp.MustCompile(`\b(\d{6})\b`),
	regexp.MustCompile(`\b(\d{4})\b`),
	regexp.MustCompile(`\b(\d{8})\b`),
}

// Link patterns in priority order: action-keyword URLs, then token-bearing
// URLs, then anything on the target domain.
func linkPatterns(targetDomain string) []*regexp.Regexp {
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`(?i)(https?://[^\s<>"]+(?:verify|confirm|activate|validate)[^\s<>"]*)`),
		regexp.MustCompile(`(?i)(https?://[^\s<>"]+(?:token|code|otp)[^\s<>"]*)`),
	}
	if targetDomain != "" {
		patterns = append(patterns, regexp.MustCompile(
			`(?i)(https?://`+regexp.QuoteMeta(targetDomain)+`[^\s<>"]+)`))
	}
	return patterns
}

// bodies returns the searchable content of a mail: plain text first, then the
// HTML part flattened to text, then the raw HTML (URLs often live only in
// href attributes the flattening drops).
func bodies(msg Message) []string {
	var out []string
	if msg.Text != "" {
		out = append(out, msg.Text)
	}
	if msg.HTML != "" {
		if flat := flattenHTML(msg.HTML); flat != "" {
			out = append(out, flat)
		}
		out = append(out, msg.HTML)
	}
	return out
}

// flattenHTML reduces an HTML body to its visible text.
func flattenHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

// extractCode returns the first code match across all bodies, "" when none.
func extractCode(msg Message) string {
	for _, body := range bodies(msg) {
		for _, pattern := range codePatterns {
			if m := pattern.FindStringSubmatch(body); m != nil {
				return m[1]
			}
		}
	}
	return ""
}

// extractLink returns the first verification link across all bodies, with
// trailing punctuation stripped.
func extractLink(msg Message, targetDomain string) string {
	patterns := linkPatterns(targetDomain)
	for _, body := range bodies(msg) {
		for _, pattern := range patterns {
			if m := pattern.FindStringSubmatch(body); m != nil {
				return strings.TrimRight(m[1], `.,;:!?)'"`)
			}
		}
	}
	return ""
}
