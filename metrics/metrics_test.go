package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, SourceRuns)
	assert.NotNil(t, SourceRunDuration)
	assert.NotNil(t, UnitsInFlight)
	assert.NotNil(t, CandidatesParsed)
	assert.NotNil(t, IOCsIngested)
	assert.NotNil(t, EnrichmentLookups)
	assert.NotNil(t, EnrichmentCache)
	assert.NotNil(t, CorrelationBoosts)
	assert.NotNil(t, NewsArticlesStored)
	assert.NotNil(t, NewsLinks)
	assert.NotNil(t, RetentionDeleted)
	assert.NotNil(t, PassDuration)
	assert.NotNil(t, EventsPublished)
}

func TestSourceRunsCountsByStatus(t *testing.T) {
	before := testutil.ToFloat64(SourceRuns.WithLabelValues("success"))
	SourceRuns.WithLabelValues("success").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SourceRuns.WithLabelValues("success")))
}
