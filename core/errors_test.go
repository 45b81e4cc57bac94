package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchError_Unwrap(t *testing.T) {
	err := NewFetchError("abuseipdb", "https://example.test", 401, ErrAuthFailed)
	wrapped := fmt.Errorf("run source: %w", err)

	var fe *FetchError
	require.True(t, errors.As(wrapped, &fe))
	assert.Equal(t, 401, fe.StatusCode)
	assert.ErrorIs(t, wrapped, ErrAuthFailed)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestParseError_Unwrap(t *testing.T) {
	inner := errors.New("unexpected end of JSON input")
	err := NewParseError("urlhaus", inner)

	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "parse urlhaus: unexpected end of JSON input", err.Error())
}

func TestUnknownAdapterError(t *testing.T) {
	var err error = &UnknownAdapterError{Name: "nosuchfeed"}

	var ua *UnknownAdapterError
	require.True(t, errors.As(err, &ua))
	assert.Equal(t, "nosuchfeed", ua.Name)
}

func TestEnrichmentLookupError(t *testing.T) {
	inner := errors.New("no such host")
	err := &EnrichmentLookupError{Lookup: "reverse_dns", Indicator: "8.8.8.8", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "reverse_dns")
}
