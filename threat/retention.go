package threat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/subrat243/Intelify/metrics"
	"github.com/subrat243/Intelify/storage"
)

const (
	DefaultIOCRetentionDays  = 90
	DefaultNewsRetentionDays = 30
)

// RetentionSweeper deletes IOCs and news articles past their horizon
type RetentionSweeper struct {
	iocs     storage.IOCStore
	news     storage.NewsStore
	iocDays  int
	newsDays int
	now      func() time.Time
	logger   *zap.SugaredLogger
}

// NewRetentionSweeper creates a sweeper. Non-positive day counts take the defaults.
func NewRetentionSweeper(iocs storage.IOCStore, news storage.NewsStore, iocDays, newsDays int, logger *zap.SugaredLogger) *RetentionSweeper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if iocDays <= 0 {
		iocDays = DefaultIOCRetentionDays
	}
	if newsDays <= 0 {
		newsDays = DefaultNewsRetentionDays
	}
	return &RetentionSweeper{
		iocs:     iocs,
		news:     news,
		iocDays:  iocDays,
		newsDays: newsDays,
		now:      time.Now,
		logger:   logger,
	}
}

// Sweep removes IOCs whose last_seen is older than the IOC horizon and
// articles created before the news horizon. Sightings cascade with their IOC.
func (r *RetentionSweeper) Sweep(ctx context.Context) (*RetentionStats, error) {
	start := time.Now()
	defer func() {
		metrics.PassDuration.WithLabelValues("retention").Observe(time.Since(start).Seconds())
	}()

	now := r.now().UTC()
	stats := &RetentionStats{Timestamp: now}

	deleted, err := r.iocs.DeleteIOCsLastSeenBefore(ctx, now.AddDate(0, 0, -r.iocDays))
	if err != nil {
		return stats, fmt.Errorf("failed to sweep IOCs: %w", err)
	}
	stats.DeletedIOCs = deleted
	metrics.RetentionDeleted.WithLabelValues("ioc").Add(float64(deleted))

	if r.news != nil {
		deleted, err = r.news.DeleteArticlesCreatedBefore(ctx, now.AddDate(0, 0, -r.newsDays))
		if err != nil {
			return stats, fmt.Errorf("failed to sweep news articles: %w", err)
		}
		stats.DeletedNews = deleted
		metrics.RetentionDeleted.WithLabelValues("news").Add(float64(deleted))
	}

	r.logger.Infow("Retention sweep complete",
		"deleted_iocs", stats.DeletedIOCs,
		"deleted_news", stats.DeletedNews,
		"ioc_retention_days", r.iocDays,
		"news_retention_days", r.newsDays)
	return stats, nil
}
