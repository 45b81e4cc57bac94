package threat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/metrics"
	"github.com/subrat243/Intelify/storage"
)

// Ingestor upserts candidates into the IOC store and enriches new rows
type Ingestor struct {
	store     storage.IOCStore
	enricher  *EnrichmentEngine
	publisher EventPublisher
	sightings SightingSink
	now       func() time.Time
	logger    *zap.SugaredLogger
}

// IngestorOption customizes an Ingestor
type IngestorOption func(*Ingestor)

// WithEventPublisher publishes ioc.created and ioc.updated events
func WithEventPublisher(p EventPublisher) IngestorOption {
	return func(i *Ingestor) {
		if p != nil {
			i.publisher = p
		}
	}
}

// WithSightingSink exports every sighting, e.g. to ClickHouse
func WithSightingSink(s SightingSink) IngestorOption {
	return func(i *Ingestor) { i.sightings = s }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) IngestorOption {
	return func(i *Ingestor) { i.now = now }
}

// NewIngestor creates an ingestor. enricher may be nil to skip enrichment.
func NewIngestor(store storage.IOCStore, enricher *EnrichmentEngine, logger *zap.SugaredLogger, opts ...IngestorOption) *Ingestor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	i := &Ingestor{
		store:     store,
		enricher:  enricher,
		publisher: NoopPublisher{},
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest upserts every valid candidate on behalf of src. New rows are enriched
// and scored; refreshed rows are not. Storage failures are counted in Failed
// and do not stop the batch.
func (i *Ingestor) Ingest(ctx context.Context, src *core.Source, candidates []core.Candidate) IngestResult {
	valid, dropped := core.FilterValid(candidates)
	result := IngestResult{Dropped: dropped}
	if dropped > 0 {
		metrics.IOCsIngested.WithLabelValues("dropped").Add(float64(dropped))
	}

	sourceID, sourceName := "", ""
	if src != nil {
		sourceID, sourceName = src.ID, src.Name
	}

	events := make([]core.IOCEvent, 0, len(valid))
	sightings := make([]core.Sighting, 0, len(valid))

	for _, c := range valid {
		if ctx.Err() != nil {
			// the rest of the batch is lost with the unit
			result.Failed += len(valid) - result.Created - result.Updated - result.Failed
			break
		}

		now := i.now().UTC()
		ioc := core.NewIOCFromCandidate(uuid.New().String(), sourceID, c, now)

		upserted, err := i.store.UpsertIOC(ctx, ioc, sourceID, now)
		if err != nil {
			result.Failed++
			metrics.IOCsIngested.WithLabelValues("failed").Inc()
			i.logger.Warnw("Failed to upsert IOC",
				"source", sourceName,
				"indicator", c.Indicator,
				"type", c.Type,
				"error", err)
			continue
		}

		stored := upserted.IOC
		action := core.IOCActionUpdated
		if upserted.Created {
			action = core.IOCActionCreated
			result.Created++
			metrics.IOCsIngested.WithLabelValues("created").Inc()
			i.enrichNew(ctx, stored)
		} else {
			result.Updated++
			metrics.IOCsIngested.WithLabelValues("updated").Inc()
		}

		events = append(events, NewIOCEvent(action, stored, sourceID, now))
		sightings = append(sightings, core.Sighting{
			IOCID:      stored.ID,
			Indicator:  stored.Indicator,
			Type:       stored.Type,
			SourceID:   sourceID,
			SourceName: sourceName,
			Action:     action,
			Confidence: stored.ConfidenceScore,
			SeenAt:     now,
		})
	}

	i.emit(ctx, events, sightings)
	return result
}

// enrichNew enriches and scores a freshly created IOC. Failures are logged;
// the row stays without enrichment.
func (i *Ingestor) enrichNew(ctx context.Context, ioc *core.IOC) {
	var enrichment core.Enrichment
	if i.enricher != nil {
		enrichment = i.enricher.Enrich(ctx, ioc.Indicator, ioc.Type)
	}

	reputation, techniques := ScoreIOC(ioc)
	if err := i.store.UpdateIOCEnrichment(ctx, ioc.ID, enrichment, reputation, techniques); err != nil {
		i.logger.Warnw("Failed to store IOC enrichment",
			"ioc_id", ioc.ID,
			"indicator", ioc.Indicator,
			"error", err)
		return
	}

	ioc.ApplyEnrichment(enrichment)
	ioc.ReputationScore = &reputation
	ioc.MitreTechniques = techniques
}

func (i *Ingestor) emit(ctx context.Context, events []core.IOCEvent, sightings []core.Sighting) {
	if len(events) > 0 {
		if err := i.publisher.Publish(ctx, events...); err != nil {
			metrics.EventsPublished.WithLabelValues("error").Add(float64(len(events)))
			i.logger.Warnw("Failed to publish IOC events", "count", len(events), "error", err)
		} else {
			metrics.EventsPublished.WithLabelValues("ok").Add(float64(len(events)))
		}
	}

	if i.sightings != nil && len(sightings) > 0 {
		if err := i.sightings.RecordSightings(ctx, sightings); err != nil {
			i.logger.Warnw("Failed to export sightings", "count", len(sightings), "error", err)
		}
	}
}
