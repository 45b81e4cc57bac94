package news

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxSummaryLength bounds the stored article summary, in characters
const MaxSummaryLength = 1000

// Keywords are matched case-insensitively against title and summary.
// Extracted keywords keep this order.
var Keywords = []string{
	"malware", "ransomware", "phishing", "vulnerability", "exploit",
	"breach", "attack", "threat", "zero-day", "apt",
	"botnet", "trojan", "backdoor", "spyware", "ddos",
	"injection", "authentication", "encryption", "credential", "patch",
}

var (
	cvePattern      = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,7}`)
	spacePattern    = regexp.MustCompile(`\s+`)
	plainTextPolicy = bluemonday.StrictPolicy()
)

// PlainText strips all markup from s, decodes entities and collapses whitespace
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	text := html.UnescapeString(plainTextPolicy.Sanitize(s))
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}

// Summarize returns the plain text of s cut to MaxSummaryLength characters
func Summarize(s string) string {
	text := PlainText(s)
	if utf8.RuneCountInString(text) <= MaxSummaryLength {
		return text
	}
	return string([]rune(text)[:MaxSummaryLength])
}

// ExtractKeywords returns the known keywords present in text
func ExtractKeywords(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, kw := range Keywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// ExtractCVEs returns the upper-cased CVE identifiers in text, first occurrence first
func ExtractCVEs(text string) []string {
	matches := cvePattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	cves := make([]string, 0, len(matches))
	for _, m := range matches {
		id := strings.ToUpper(m)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cves = append(cves, id)
	}
	return cves
}
