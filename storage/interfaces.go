package storage

import (
	"context"
	"time"

	"github.com/subrat243/Intelify/core"
)

// SourceStore persists sources and their fetch health
type SourceStore interface {
	CreateSource(ctx context.Context, source *core.Source) error
	UpsertSourceByName(ctx context.Context, source *core.Source) (bool, error)
	GetSource(ctx context.Context, id string) (*core.Source, error)
	GetSourceByName(ctx context.Context, name string) (*core.Source, error)
	ListSources(ctx context.Context) ([]*core.Source, error)
	ListDueSources(ctx context.Context, now time.Time) ([]*core.Source, error)
	// Health writes are single-row updates scoped to the source id
	MarkFetchStarted(ctx context.Context, id string, at time.Time) error
	RecordFetchSuccess(ctx context.Context, id string, at, next time.Time) error
	RecordFetchFailure(ctx context.Context, id string, at time.Time, lastError string, next time.Time) error
	SourceHealth(ctx context.Context, id string) (*core.SourceHealth, error)
	ListSourceHealth(ctx context.Context) ([]core.SourceHealth, error)
}

// IOCStore persists IOCs and sightings
type IOCStore interface {
	UpsertIOC(ctx context.Context, ioc *core.IOC, sourceID string, now time.Time) (*UpsertResult, error)
	UpdateIOCEnrichment(ctx context.Context, id string, e core.Enrichment, reputation float64, techniques []string) error
	GetIOC(ctx context.Context, id string) (*core.IOC, error)
	FindIOC(ctx context.Context, indicator string, iocType core.IOCType) (*core.IOC, error)
	FindIOCsByIndicators(ctx context.Context, iocType core.IOCType, indicators []string) ([]*core.IOC, error)
	FindIOCsByIndicator(ctx context.Context, indicator, excludeID string, limit int) ([]*core.IOC, error)
	FindIOCsByCategoryCountry(ctx context.Context, category, country, excludeID string, limit int) ([]*core.IOC, error)
	ListIndicators(ctx context.Context, types ...core.IOCType) ([]string, error)
	CorrelationGroups(ctx context.Context) ([]CorrelationGroup, error)
	ApplyCorrelation(ctx context.Context, iocID string, sourceCount int, boost float64, now time.Time) (bool, error)
	DeleteIOCsLastSeenBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewsStore persists news sources and articles
type NewsStore interface {
	UpsertNewsSource(ctx context.Context, source *core.NewsSource) error
	ListNewsSources(ctx context.Context, enabledOnly bool) ([]*core.NewsSource, error)
	MarkNewsSourceFetched(ctx context.Context, id string, at time.Time) error
	CreateArticleIfNew(ctx context.Context, article *core.NewsArticle) (bool, error)
	GetArticle(ctx context.Context, id string) (*core.NewsArticle, error)
	ListArticlesCreatedSince(ctx context.Context, since time.Time) ([]*core.NewsArticle, error)
	SetRelatedIOCs(ctx context.Context, articleID string, iocIDs []string) error
	DeleteArticlesCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var (
	_ SourceStore = (*SQLiteSourceStorage)(nil)
	_ IOCStore    = (*SQLiteIOCStorage)(nil)
	_ NewsStore   = (*SQLiteNewsStorage)(nil)
)
