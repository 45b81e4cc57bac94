package news

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestPlainText(t *testing.T) {
	in := `<p>Attackers &amp; <b>friends</b></p>
	<script>alert(1)</script><a href="https://x">link</a>`
	assert.Equal(t, "Attackers & friends link", PlainText(in))
	assert.Equal(t, "", PlainText(""))
}

func TestSummarize_Truncates(t *testing.T) {
	long := "<div>" + strings.Repeat("é", MaxSummaryLength+50) + "</div>"
	summary := Summarize(long)
	assert.Equal(t, MaxSummaryLength, utf8.RuneCountInString(summary))

	assert.Equal(t, "short", Summarize("<i>short</i>"))
}

func TestExtractKeywords(t *testing.T) {
	got := ExtractKeywords("New RANSOMWARE strain uses Phishing lures; patch now")
	assert.Equal(t, []string{"ransomware", "phishing", "patch"}, got)

	assert.Empty(t, ExtractKeywords("quarterly earnings call"))
}

func TestExtractCVEs(t *testing.T) {
	got := ExtractCVEs("Fixes cve-2024-3094 and CVE-2023-12345, see also CVE-2024-3094. CVE-99-1 is not one.")
	assert.Equal(t, []string{"CVE-2024-3094", "CVE-2023-12345"}, got)

	assert.Nil(t, ExtractCVEs("nothing here"))
}
