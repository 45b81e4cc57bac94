package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// Pipeline Error Taxonomy
// =============================================================================

var (
	// ErrAuthFailed is returned when a feed rejects the credentials (401/403)
	ErrAuthFailed = errors.New("authentication failed")
	// ErrMissingAPIKey is returned when an adapter requires api_key and none is configured
	ErrMissingAPIKey = errors.New("api_key is required")
	// ErrUnexpectedStatus is returned for non-2xx HTTP responses
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	// ErrEmptyPayload is returned when a feed answers with no body
	ErrEmptyPayload = errors.New("empty payload")
)

// FetchError covers network, auth and HTTP-status failures while retrieving a feed
type FetchError struct {
	Adapter    string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.Adapter, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Adapter, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a malformed feed payload
type ParseError struct {
	Adapter string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Adapter, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnknownAdapterError is returned when no adapter matches a source
type UnknownAdapterError struct {
	Name string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown adapter: %q", e.Name)
}

// EnrichmentLookupError is a non-fatal failure of a single enrichment lookup
type EnrichmentLookupError struct {
	Lookup    string
	Indicator string
	Err       error
}

func (e *EnrichmentLookupError) Error() string {
	return fmt.Sprintf("%s lookup for %s: %v", e.Lookup, e.Indicator, e.Err)
}

func (e *EnrichmentLookupError) Unwrap() error { return e.Err }

// NewFetchError wraps err as a FetchError for adapter
func NewFetchError(adapter, url string, status int, err error) *FetchError {
	return &FetchError{Adapter: adapter, URL: url, StatusCode: status, Err: err}
}

// NewParseError wraps err as a ParseError for adapter
func NewParseError(adapter string, err error) *ParseError {
	return &ParseError{Adapter: adapter, Err: err}
}
