package threat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subrat243/Intelify/core"
)

func TestCorrelationBoost(t *testing.T) {
	tests := map[int]float64{
		0:  0,
		1:  0,
		2:  0.1,
		3:  0.2,
		4:  0.3,
		5:  0.3,
		12: 0.3,
	}
	for n, want := range tests {
		assert.InDelta(t, want, CorrelationBoost(n), 1e-9, "sources=%d", n)
	}
}

func TestCorrelateIOCs_SecondSourceBoostsConfidence(t *testing.T) {
	stores := setupTestStores(t)
	first := stores.createSource(t, "abuseipdb")
	second := stores.createSource(t, "otx")
	ctx := context.Background()

	publisher := &recordingPublisher{}
	ingestor := NewIngestor(stores.iocs, nil, nil)
	candidate := core.Candidate{Indicator: "1.2.3.4", Type: core.IOCTypeIP, ConfidenceScore: 0.75}

	ingestor.Ingest(ctx, first, []core.Candidate{candidate})
	ingestor.Ingest(ctx, second, []core.Candidate{candidate})

	before, err := stores.iocs.FindIOC(ctx, "1.2.3.4", core.IOCTypeIP)
	require.NoError(t, err)
	assert.Equal(t, 2, before.CorrelationCount)
	assert.InDelta(t, 0.80, before.ConfidenceScore, 1e-9)

	correlator := NewCorrelator(stores.iocs, stores.news, CorrelatorOptions{Publisher: publisher}, nil)
	stats, err := correlator.CorrelateIOCs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CorrelationsFound)
	assert.Equal(t, 1, stats.ConfidenceBoosts)
	assert.False(t, stats.Timestamp.IsZero())

	after, err := stores.iocs.FindIOC(ctx, "1.2.3.4", core.IOCTypeIP)
	require.NoError(t, err)
	assert.Equal(t, 2, after.CorrelationCount)
	assert.InDelta(t, 0.90, after.ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"ioc.correlated"}, publisher.Types())
}

func TestCorrelateIOCs_SingleSourceIsIgnored(t *testing.T) {
	stores := setupTestStores(t)
	src := stores.createSource(t, "abuseipdb")
	ctx := context.Background()

	ingestor := NewIngestor(stores.iocs, nil, nil)
	candidate := core.Candidate{Indicator: "evil.test", Type: core.IOCTypeDomain, ConfidenceScore: 0.5}
	ingestor.Ingest(ctx, src, []core.Candidate{candidate})
	ingestor.Ingest(ctx, src, []core.Candidate{candidate})

	stats, err := NewCorrelator(stores.iocs, stores.news, CorrelatorOptions{}, nil).CorrelateIOCs(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.CorrelationsFound)

	stored, err := stores.iocs.FindIOC(ctx, "evil.test", core.IOCTypeDomain)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, stored.ConfidenceScore, 1e-9)
}

func TestCorrelateIOCs_MonotonicAndCapped(t *testing.T) {
	stores := setupTestStores(t)
	ctx := context.Background()
	ingestor := NewIngestor(stores.iocs, nil, nil)
	candidate := core.Candidate{Indicator: "http://evil.test/x", Type: core.IOCTypeURL, ConfidenceScore: 0.5}

	for _, name := range []string{"urlhaus", "phishtank", "otx"} {
		ingestor.Ingest(ctx, stores.createSource(t, name), []core.Candidate{candidate})
	}

	correlator := NewCorrelator(stores.iocs, stores.news, CorrelatorOptions{}, nil)
	previous := 0.0
	for pass := 0; pass < 4; pass++ {
		_, err := correlator.CorrelateIOCs(ctx)
		require.NoError(t, err)

		stored, err := stores.iocs.FindIOC(ctx, "http://evil.test/x", core.IOCTypeURL)
		require.NoError(t, err)
		assert.Equal(t, 3, stored.CorrelationCount)
		assert.GreaterOrEqual(t, stored.ConfidenceScore, previous)
		assert.LessOrEqual(t, stored.ConfidenceScore, 1.0)
		previous = stored.ConfidenceScore
	}
	assert.InDelta(t, 1.0, previous, 1e-9)

	stats, err := correlator.CorrelateIOCs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CorrelationsFound)
	assert.Zero(t, stats.ConfidenceBoosts, "no boost once confidence is capped")
}

func TestFindRelated(t *testing.T) {
	stores := setupTestStores(t)
	src := stores.createSource(t, "mixed")
	ctx := context.Background()

	ingestor := NewIngestor(stores.iocs, newTestEngine(t, &fakeGeo{}, newFakeResolver(), nil), nil)
	ingestor.Ingest(ctx, src, []core.Candidate{
		{Indicator: "1.2.3.4", Type: core.IOCTypeIP, Category: "malware", ConfidenceScore: 0.7},
		{Indicator: "1.2.3.4", Type: core.IOCTypeDomain, Category: "malware", ConfidenceScore: 0.4},
		{Indicator: "5.6.7.8", Type: core.IOCTypeIP, Category: "malware", ConfidenceScore: 0.6},
		{Indicator: "9.9.9.9", Type: core.IOCTypeIP, Category: "phishing", ConfidenceScore: 0.6},
	})

	ip, err := stores.iocs.FindIOC(ctx, "1.2.3.4", core.IOCTypeIP)
	require.NoError(t, err)
	require.Equal(t, "US", ip.GeoCountry)
	domainRow, err := stores.iocs.FindIOC(ctx, "1.2.3.4", core.IOCTypeDomain)
	require.NoError(t, err)
	peer, err := stores.iocs.FindIOC(ctx, "5.6.7.8", core.IOCTypeIP)
	require.NoError(t, err)

	correlator := NewCorrelator(stores.iocs, stores.news, CorrelatorOptions{}, nil)

	related, err := correlator.FindRelated(ctx, ip.ID, 0)
	require.NoError(t, err)
	require.Len(t, related, 2)
	assert.Equal(t, domainRow.ID, related[0].ID)
	assert.Equal(t, RelationSameIndicator, related[0].Relation)
	assert.Equal(t, peer.ID, related[1].ID)
	assert.Equal(t, RelationSameCategoryCountry, related[1].Relation)

	limited, err := correlator.FindRelated(ctx, ip.ID, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, domainRow.ID, limited[0].ID)

	// no country on the domain row, so only the same-indicator match applies
	fromDomain, err := correlator.FindRelated(ctx, domainRow.ID, 10)
	require.NoError(t, err)
	require.Len(t, fromDomain, 1)
	assert.Equal(t, ip.ID, fromDomain[0].ID)
}

func TestFindRelated_UnknownID(t *testing.T) {
	stores := setupTestStores(t)
	correlator := NewCorrelator(stores.iocs, stores.news, CorrelatorOptions{}, nil)

	related, err := correlator.FindRelated(context.Background(), "does-not-exist", 10)
	require.NoError(t, err)
	assert.NotNil(t, related)
	assert.Empty(t, related)
}
