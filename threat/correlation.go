package threat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/metrics"
	"github.com/subrat243/Intelify/storage"
)

const (
	// MaxCorrelationBoost caps the confidence added by cross-source correlation
	MaxCorrelationBoost = 0.3
	// CorrelationBoostPerSource is added for every source beyond the first
	CorrelationBoostPerSource = 0.1

	DefaultNewsWindow   = 7 * 24 * time.Hour
	DefaultRelatedLimit = 10

	RelationSameIndicator       = "same_indicator"
	RelationSameCategoryCountry = "same_category_country"
)

// CorrelationBoost is min(0.3, (n-1)*0.1) for an IOC seen by n sources
func CorrelationBoost(sourceCount int) float64 {
	if sourceCount <= 1 {
		return 0
	}
	return math.Min(MaxCorrelationBoost, float64(sourceCount-1)*CorrelationBoostPerSource)
}

// CorrelatorOptions tunes a Correlator. Zero values take the defaults.
type CorrelatorOptions struct {
	NewsWindow   time.Duration
	RelatedLimit int
	// MatchTimeout bounds each indicator extraction regex on article text
	MatchTimeout time.Duration
	Publisher    EventPublisher
	Now          func() time.Time
}

// Correlator runs the cross-source and news correlation passes and answers
// related-indicator queries
type Correlator struct {
	iocs         storage.IOCStore
	news         storage.NewsStore
	publisher    EventPublisher
	newsWindow   time.Duration
	relatedLimit int
	extractor    *indicatorExtractor
	now          func() time.Time
	logger       *zap.SugaredLogger
}

// NewCorrelator creates a correlator. news may be nil when news linking is unused.
func NewCorrelator(iocs storage.IOCStore, news storage.NewsStore, opts CorrelatorOptions, logger *zap.SugaredLogger) *Correlator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.NewsWindow <= 0 {
		opts.NewsWindow = DefaultNewsWindow
	}
	if opts.RelatedLimit <= 0 {
		opts.RelatedLimit = DefaultRelatedLimit
	}
	if opts.Publisher == nil {
		opts.Publisher = NoopPublisher{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Correlator{
		iocs:         iocs,
		news:         news,
		publisher:    opts.Publisher,
		newsWindow:   opts.NewsWindow,
		relatedLimit: opts.RelatedLimit,
		extractor:    newIndicatorExtractor(opts.MatchTimeout),
		now:          opts.Now,
		logger:       logger,
	}
}

// =============================================================================
// Cross-source Correlation
// =============================================================================

// CorrelateIOCs finds IOCs sighted by more than one source and raises their
// confidence. A failure on one IOC is logged and the pass continues.
func (c *Correlator) CorrelateIOCs(ctx context.Context) (*CorrelationStats, error) {
	start := time.Now()
	defer func() {
		metrics.PassDuration.WithLabelValues("correlation").Observe(time.Since(start).Seconds())
	}()

	now := c.now().UTC()
	stats := &CorrelationStats{Timestamp: now}

	groups, err := c.iocs.CorrelationGroups(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to load correlation groups: %w", err)
	}

	var events []core.IOCEvent
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			c.publish(ctx, events)
			return stats, err
		}

		stats.CorrelationsFound++
		boosted, err := c.iocs.ApplyCorrelation(ctx, g.IOCID, g.SourceCount, CorrelationBoost(g.SourceCount), now)
		if err != nil {
			c.logger.Warnw("Failed to apply correlation",
				"ioc_id", g.IOCID,
				"indicator", g.Indicator,
				"source_count", g.SourceCount,
				"error", err)
			continue
		}
		if !boosted {
			continue
		}

		stats.ConfidenceBoosts++
		metrics.CorrelationBoosts.Inc()

		ioc := &core.IOC{ID: g.IOCID, Indicator: g.Indicator, Type: g.Type}
		if fresh, err := c.iocs.GetIOC(ctx, g.IOCID); err == nil {
			ioc = fresh
		}
		events = append(events, NewIOCEvent(core.IOCActionCorrelated, ioc, "", now))
	}

	c.publish(ctx, events)

	c.logger.Infow("Correlation pass complete",
		"correlations_found", stats.CorrelationsFound,
		"confidence_boosts", stats.ConfidenceBoosts,
		"duration", time.Since(start))
	return stats, nil
}

func (c *Correlator) publish(ctx context.Context, events []core.IOCEvent) {
	if len(events) == 0 {
		return
	}
	if err := c.publisher.Publish(ctx, events...); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Add(float64(len(events)))
		c.logger.Warnw("Failed to publish correlation events", "count", len(events), "error", err)
		return
	}
	metrics.EventsPublished.WithLabelValues("ok").Add(float64(len(events)))
}

// =============================================================================
// Related Indicators
// =============================================================================

// FindRelated returns IOCs sharing the indicator of iocID, followed by IOCs
// with the same category and country when both are set. The result is
// deduplicated and holds at most limit entries; limit <= 0 uses the default.
// An unknown id yields an empty list.
func (c *Correlator) FindRelated(ctx context.Context, iocID string, limit int) ([]RelatedIOC, error) {
	if limit <= 0 {
		limit = c.relatedLimit
	}

	ioc, err := c.iocs.GetIOC(ctx, iocID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []RelatedIOC{}, nil
		}
		return nil, fmt.Errorf("failed to load IOC %s: %w", iocID, err)
	}

	related := make([]RelatedIOC, 0, limit)
	seen := map[string]struct{}{ioc.ID: {}}
	add := func(rows []*core.IOC, relation string) {
		for _, r := range rows {
			if len(related) >= limit {
				return
			}
			if _, dup := seen[r.ID]; dup {
				continue
			}
			seen[r.ID] = struct{}{}
			related = append(related, RelatedIOC{
				ID:              r.ID,
				Indicator:       r.Indicator,
				Type:            string(r.Type),
				Category:        r.Category,
				GeoCountry:      r.GeoCountry,
				ConfidenceScore: r.ConfidenceScore,
				Relation:        relation,
			})
		}
	}

	same, err := c.iocs.FindIOCsByIndicator(ctx, ioc.Indicator, ioc.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find IOCs sharing indicator: %w", err)
	}
	add(same, RelationSameIndicator)

	if len(related) < limit && ioc.Category != "" && ioc.GeoCountry != "" {
		peers, err := c.iocs.FindIOCsByCategoryCountry(ctx, ioc.Category, ioc.GeoCountry, ioc.ID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to find IOCs by category and country: %w", err)
		}
		add(peers, RelationSameCategoryCountry)
	}

	return related, nil
}
