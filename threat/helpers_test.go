package threat

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/storage"
)

type testStores struct {
	sources *storage.SQLiteSourceStorage
	iocs    *storage.SQLiteIOCStorage
	news    *storage.SQLiteNewsStorage
}

func setupTestStores(t *testing.T) *testStores {
	t.Helper()

	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "threat_test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sources, err := storage.NewSQLiteSourceStorage(db, logger)
	require.NoError(t, err)
	iocs, err := storage.NewSQLiteIOCStorage(db, logger)
	require.NoError(t, err)
	news, err := storage.NewSQLiteNewsStorage(db, logger)
	require.NoError(t, err)

	return &testStores{sources: sources, iocs: iocs, news: news}
}

func (s *testStores) createSource(t *testing.T, name string) *core.Source {
	t.Helper()
	src := &core.Source{Name: name, Kind: core.SourceKindREST, Enabled: true, FetchIntervalMinutes: 60}
	require.NoError(t, s.sources.CreateSource(context.Background(), src))
	return src
}

// fakeGeo answers every public address with fixed data
type fakeGeo struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *fakeGeo) City(ip net.IP) (GeoResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.err != nil {
		return GeoResult{}, g.err
	}
	lat, lon := 37.751, -97.822
	return GeoResult{Country: "US", City: "Wichita", Latitude: &lat, Longitude: &lon}, nil
}

func (g *fakeGeo) ASN(ip net.IP) (ASNResult, error) {
	if g.err != nil {
		return ASNResult{}, g.err
	}
	return ASNResult{ASN: "AS64500", Org: "Example Net"}, nil
}

func (g *fakeGeo) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeResolver serves canned DNS answers
type fakeResolver struct {
	mu      sync.Mutex
	ptr     map[string][]string
	hosts   map[string][]net.IPAddr
	err     error
	lookups int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		ptr:   map[string][]string{},
		hosts: map[string][]net.IPAddr{},
	}
}

func (r *fakeResolver) LookupAddr(_ context.Context, addr string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.err != nil {
		return nil, r.err
	}
	names, ok := r.ptr[addr]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: addr, IsNotFound: true}
	}
	return names, nil
}

func (r *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.err != nil {
		return nil, r.err
	}
	addrs, ok := r.hosts[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	return addrs, nil
}

func (r *fakeResolver) Lookups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []core.IOCEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events ...core.IOCEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingSink struct {
	mu        sync.Mutex
	sightings []core.Sighting
}

func (s *recordingSink) RecordSightings(_ context.Context, sightings []core.Sighting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sightings = append(s.sightings, sightings...)
	return nil
}

// failingIOCStore fails UpsertIOC for one indicator
type failingIOCStore struct {
	storage.IOCStore
	failIndicator string
}

func (f *failingIOCStore) UpsertIOC(ctx context.Context, ioc *core.IOC, sourceID string, now time.Time) (*storage.UpsertResult, error) {
	if ioc.Indicator == f.failIndicator {
		return nil, errors.New("disk full")
	}
	return f.IOCStore.UpsertIOC(ctx, ioc, sourceID, now)
}
