package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// IOC Type Validation Tests
// =============================================================================

func TestIOCType_IsValid(t *testing.T) {
	tests := []struct {
		iocType IOCType
		valid   bool
	}{
		{IOCTypeIP, true},
		{IOCTypeDomain, true},
		{IOCTypeURL, true},
		{IOCTypeHashMD5, true},
		{IOCTypeHashSHA256, true},
		{IOCTypeCVE, true},
		{"hash", false},
		{"email", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(string(tc.iocType), func(t *testing.T) {
			assert.Equal(t, tc.valid, tc.iocType.IsValid())
		})
	}
}

// =============================================================================
// Candidate Validation Tests
// =============================================================================

func TestCandidate_Validate(t *testing.T) {
	tests := []struct {
		name      string
		candidate Candidate
		valid     bool
	}{
		{"valid ip", Candidate{Indicator: "1.2.3.4", Type: IOCTypeIP}, true},
		{"valid cve", Candidate{Indicator: "CVE-2024-1234", Type: IOCTypeCVE}, true},
		{"empty indicator", Candidate{Indicator: "", Type: IOCTypeIP}, false},
		{"unknown type", Candidate{Indicator: "a@b.c", Type: "email"}, false},
		{"missing type", Candidate{Indicator: "1.2.3.4"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.candidate.Validate()
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNewCandidateValidator_RegistersIOCTypeTag(t *testing.T) {
	v, err := newCandidateValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Struct(Candidate{Indicator: "evil.test", Type: IOCTypeDomain}))
	assert.Error(t, v.Struct(Candidate{Indicator: "evil.test", Type: "mutex"}))

	assert.NotPanics(t, func() { getCandidateValidator() })
	assert.Same(t, getCandidateValidator(), getCandidateValidator())
}

func TestFilterValid_DropsInvalidSilently(t *testing.T) {
	candidates := []Candidate{
		{Indicator: "  1.2.3.4  ", Type: IOCTypeIP, ConfidenceScore: 0.75},
		{Indicator: "   ", Type: IOCTypeIP},
		{Indicator: "", Type: IOCTypeDomain},
		{Indicator: "evil.example", Type: "hostname"},
		{Indicator: "EVIL.Example.", Type: IOCTypeDomain, ConfidenceScore: 1.7},
	}

	valid, dropped := FilterValid(candidates)

	require.Len(t, valid, 2)
	assert.Equal(t, 3, dropped)
	assert.Equal(t, "1.2.3.4", valid[0].Indicator)
	assert.Equal(t, 0.75, valid[0].ConfidenceScore)
	assert.Equal(t, "evil.example", valid[1].Indicator)
	assert.Equal(t, 1.0, valid[1].ConfidenceScore, "confidence should be clamped to 1.0")
	assert.NotNil(t, valid[0].Metadata)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.2))
	assert.Equal(t, 0.4, ClampConfidence(0.4))
	assert.Equal(t, 1.0, ClampConfidence(3))
}

// =============================================================================
// Normalization and Detection Tests
// =============================================================================

func TestNormalizeIndicator(t *testing.T) {
	tests := []struct {
		iocType  IOCType
		input    string
		expected string
	}{
		{IOCTypeIP, " 1.2.3.4 ", "1.2.3.4"},
		{IOCTypeDomain, "Evil.COM.", "evil.com"},
		{IOCTypeHashMD5, "D41D8CD98F00B204E9800998ECF8427E", "d41d8cd98f00b204e9800998ecf8427e"},
		{IOCTypeCVE, "cve-2021-44228", "CVE-2021-44228"},
		{IOCTypeURL, " http://Evil.com/Path ", "http://Evil.com/Path"},
	}

	for _, tc := range tests {
		t.Run(string(tc.iocType), func(t *testing.T) {
			assert.Equal(t, tc.expected, NormalizeIndicator(tc.iocType, tc.input))
		})
	}
}

func TestDetectIOCType(t *testing.T) {
	tests := []struct {
		value    string
		expected IOCType
	}{
		{"8.8.8.8", IOCTypeIP},
		{"2001:db8::1", IOCTypeIP},
		{"https://evil.example/payload.exe", IOCTypeURL},
		{"HTTP://EVIL.EXAMPLE", IOCTypeURL},
		{"d41d8cd98f00b204e9800998ecf8427e", IOCTypeHashMD5},
		{"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", IOCTypeHashSHA256},
		{"CVE-2021-44228", IOCTypeCVE},
		{"cve-2021-44228", IOCTypeCVE},
		{"evil-c2-domain.net", IOCTypeDomain},
		{"not an indicator", ""},
		{"", ""},
	}

	for _, tc := range tests {
		t.Run(tc.value, func(t *testing.T) {
			assert.Equal(t, tc.expected, DetectIOCType(tc.value))
		})
	}
}

// =============================================================================
// IOC Construction Tests
// =============================================================================

func TestNewIOCFromCandidate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := Candidate{
		Indicator:       "1.2.3.4",
		Type:            IOCTypeIP,
		Category:        "malware",
		Tags:            []string{"abuse"},
		ConfidenceScore: 0.75,
	}

	ioc := NewIOCFromCandidate("ioc-1", "src-1", c, now)

	assert.Equal(t, "ioc-1", ioc.ID)
	assert.Equal(t, "src-1", ioc.SourceID)
	assert.Equal(t, 1, ioc.CorrelationCount)
	assert.Equal(t, 0.75, ioc.ConfidenceScore)
	assert.Equal(t, now, ioc.FirstSeen)
	assert.Equal(t, now, ioc.LastSeen)
	assert.NotNil(t, ioc.Metadata)
	assert.Empty(t, ioc.MitreTechniques)
	assert.Nil(t, ioc.ReputationScore)
}

func TestEnrichment_MergeAndApply(t *testing.T) {
	lat := 51.5
	base := Enrichment{ResolvedIP: "93.184.216.34"}
	merged := base.Merge(Enrichment{GeoCountry: "GB", GeoLatitude: &lat})

	assert.Equal(t, "93.184.216.34", merged.ResolvedIP)
	assert.Equal(t, "GB", merged.GeoCountry)
	assert.False(t, merged.IsEmpty())
	assert.True(t, Enrichment{}.IsEmpty())

	ioc := &IOC{}
	ioc.ApplyEnrichment(merged)
	assert.Equal(t, "GB", ioc.GeoCountry)
	require.NotNil(t, ioc.GeoLatitude)
	assert.Equal(t, 51.5, *ioc.GeoLatitude)
}
