package feeds

import (
	"context"
	"time"

	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/threat"
)

// =============================================================================
// Adapter Interface
// =============================================================================

// Adapter pulls one external feed and maps its payload to candidates.
//
// Fetch failures are *core.FetchError, payload-level failures are
// *core.ParseError. A record without an indicator is skipped, never an error.
type Adapter interface {
	// Name returns the registry name of the adapter
	Name() string

	// Fetch retrieves the raw payload
	Fetch(ctx context.Context) ([]byte, error)

	// Parse maps a raw payload into candidates
	Parse(raw []byte) ([]core.Candidate, error)
}

// Constructor builds an adapter for one source unit
type Constructor func(cfg AdapterConfig) (Adapter, error)

// =============================================================================
// Collaborators
// =============================================================================

// Ingester persists validated candidates on behalf of a source
type Ingester interface {
	Ingest(ctx context.Context, src *core.Source, candidates []core.Candidate) threat.IngestResult
}

// Decrypter resolves stored credential references into plaintext
type Decrypter interface {
	Decrypt(ctx context.Context, value string) (string, error)
}

// Leaser grants short exclusive leases across scheduler processes
type Leaser interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// PassFunc is a scheduled pass such as correlation, news or retention
type PassFunc func(ctx context.Context) error
