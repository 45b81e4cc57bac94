package threat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subrat243/Intelify/core"
)

func TestIngest_CreatesAndEnrichesNewIOC(t *testing.T) {
	stores := setupTestStores(t)
	src := stores.createSource(t, "abuseipdb")
	ctx := context.Background()

	resolver := newFakeResolver()
	resolver.ptr["1.2.3.4"] = []string{"one.example."}
	publisher := &recordingPublisher{}
	sink := &recordingSink{}
	ingestor := NewIngestor(stores.iocs, newTestEngine(t, &fakeGeo{}, resolver, nil), nil,
		WithEventPublisher(publisher), WithSightingSink(sink))

	result := ingestor.Ingest(ctx, src, []core.Candidate{
		{Indicator: "1.2.3.4", Type: core.IOCTypeIP, ConfidenceScore: 0.75},
	})
	assert.Equal(t, IngestResult{Created: 1}, result)

	stored, err := stores.iocs.FindIOC(ctx, "1.2.3.4", core.IOCTypeIP)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CorrelationCount)
	assert.InDelta(t, 0.75, stored.ConfidenceScore, 1e-9)
	assert.Equal(t, src.ID, stored.SourceID)
	assert.Equal(t, "US", stored.GeoCountry)
	assert.Equal(t, "AS64500", stored.ASN)
	assert.Equal(t, "one.example", stored.ReverseDNS)
	require.NotNil(t, stored.ReputationScore)
	assert.InDelta(t, -85.0, *stored.ReputationScore, 1e-9)
	assert.Empty(t, stored.MitreTechniques)

	assert.Equal(t, []string{"ioc.created"}, publisher.Types())
	require.Len(t, sink.sightings, 1)
	assert.Equal(t, "abuseipdb", sink.sightings[0].SourceName)
	assert.Equal(t, core.IOCActionCreated, sink.sightings[0].Action)
}

func TestIngest_RefreshDoesNotReEnrich(t *testing.T) {
	stores := setupTestStores(t)
	first := stores.createSource(t, "urlhaus")
	second := stores.createSource(t, "phishtank")
	ctx := context.Background()

	geo := &fakeGeo{}
	publisher := &recordingPublisher{}
	ingestor := NewIngestor(stores.iocs, newTestEngine(t, geo, newFakeResolver(), nil), nil,
		WithEventPublisher(publisher))

	candidate := core.Candidate{Indicator: "8.8.8.8", Type: core.IOCTypeIP, Category: "c2", ConfidenceScore: 0.6}
	assert.Equal(t, IngestResult{Created: 1}, ingestor.Ingest(ctx, first, []core.Candidate{candidate}))
	assert.Equal(t, IngestResult{Updated: 1}, ingestor.Ingest(ctx, second, []core.Candidate{candidate}))

	assert.Equal(t, 1, geo.Calls())
	assert.Equal(t, []string{"ioc.created", "ioc.updated"}, publisher.Types())

	stored, err := stores.iocs.FindIOC(ctx, "8.8.8.8", core.IOCTypeIP)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CorrelationCount)
	assert.InDelta(t, 0.65, stored.ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"T1071", "T1095"}, stored.MitreTechniques)
	require.NotNil(t, stored.ReputationScore)
	assert.InDelta(t, -95.0, *stored.ReputationScore, 1e-9, "reputation is computed once at creation")
}

func TestIngest_DropsInvalidCandidates(t *testing.T) {
	stores := setupTestStores(t)
	src := stores.createSource(t, "custom")
	ctx := context.Background()

	publisher := &recordingPublisher{}
	ingestor := NewIngestor(stores.iocs, nil, nil, WithEventPublisher(publisher))

	result := ingestor.Ingest(ctx, src, []core.Candidate{
		{Indicator: "", Type: core.IOCTypeIP, ConfidenceScore: 0.5},
		{Indicator: "   ", Type: core.IOCTypeDomain},
		{Indicator: "evil.test", Type: "email"},
	})

	assert.Equal(t, IngestResult{Dropped: 3}, result)
	count, err := stores.iocs.CountIOCs(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, publisher.Types())
}

func TestIngest_StorageFailureIsCounted(t *testing.T) {
	stores := setupTestStores(t)
	src := stores.createSource(t, "otx")
	ctx := context.Background()

	store := &failingIOCStore{IOCStore: stores.iocs, failIndicator: "5.6.7.8"}
	ingestor := NewIngestor(store, nil, nil)

	result := ingestor.Ingest(ctx, src, []core.Candidate{
		{Indicator: "1.2.3.4", Type: core.IOCTypeIP, ConfidenceScore: 0.5},
		{Indicator: "5.6.7.8", Type: core.IOCTypeIP, ConfidenceScore: 0.5},
		{Indicator: "9.9.9.9", Type: core.IOCTypeIP, ConfidenceScore: 0.5},
	})

	assert.Equal(t, IngestResult{Created: 2, Failed: 1}, result)
}

func TestIngest_PublisherFailureDoesNotFailIngestion(t *testing.T) {
	stores := setupTestStores(t)
	src := stores.createSource(t, "otx")

	publisher := &recordingPublisher{err: errors.New("broker down")}
	ingestor := NewIngestor(stores.iocs, nil, nil, WithEventPublisher(publisher))

	result := ingestor.Ingest(context.Background(), src, []core.Candidate{
		{Indicator: "evil.test", Type: core.IOCTypeDomain, ConfidenceScore: 0.5},
	})
	assert.Equal(t, IngestResult{Created: 1}, result)
}

func TestIngest_CanceledContext(t *testing.T) {
	stores := setupTestStores(t)
	src := stores.createSource(t, "otx")
	ingestor := NewIngestor(stores.iocs, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := ingestor.Ingest(ctx, src, []core.Candidate{
		{Indicator: "1.2.3.4", Type: core.IOCTypeIP},
		{Indicator: "", Type: core.IOCTypeIP},
		{Indicator: "evil.test", Type: core.IOCTypeDomain},
	})
	assert.Equal(t, IngestResult{Dropped: 1, Failed: 2}, result)
}

func TestIngest_UsesClock(t *testing.T) {
	stores := setupTestStores(t)
	src := stores.createSource(t, "text")
	ctx := context.Background()

	fixed := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	ingestor := NewIngestor(stores.iocs, nil, nil, WithClock(func() time.Time { return fixed }))
	ingestor.Ingest(ctx, src, []core.Candidate{{Indicator: "CVE-2024-3400", Type: core.IOCTypeCVE}})

	stored, err := stores.iocs.FindIOC(ctx, "CVE-2024-3400", core.IOCTypeCVE)
	require.NoError(t, err)
	assert.True(t, stored.FirstSeen.Equal(fixed))
	assert.True(t, stored.LastSeen.Equal(fixed))
}
