package news

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/config"
	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/metrics"
	"github.com/subrat243/Intelify/storage"
	"github.com/subrat243/Intelify/threat/feeds"
)

// Getter performs the outbound request for a feed document.
// *feeds.HTTPFetcher satisfies it.
type Getter interface {
	Fetch(ctx context.Context, adapter string, req feeds.Request) ([]byte, error)
}

// FetchStats summarizes one pass over the enabled news sources
type FetchStats struct {
	SourcesFetched int `json:"sources_fetched"`
	SourcesFailed  int `json:"sources_failed"`
	ItemsSeen      int `json:"items_seen"`
	ArticlesStored int `json:"articles_stored"`
}

// Service fetches RSS/Atom news feeds and stores new articles
type Service struct {
	store  storage.NewsStore
	getter Getter
	now    func() time.Time
	logger *zap.SugaredLogger
}

// NewService creates a news service. A nil getter uses a default feeds.HTTPFetcher.
func NewService(store storage.NewsStore, getter Getter, logger *zap.SugaredLogger) (*Service, error) {
	if store == nil {
		return nil, errors.New("news store is required")
	}
	if getter == nil {
		getter = feeds.NewHTTPFetcher(config.HTTPConfig{})
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		store:  store,
		getter: getter,
		now:    time.Now,
		logger: logger,
	}, nil
}

// SeedSources upserts the configured news sources by name
func (s *Service) SeedSources(ctx context.Context, sources []config.NewsSourceConfig) error {
	for _, cfg := range sources {
		src := &core.NewsSource{
			Name:     cfg.Name,
			URL:      cfg.URL,
			Category: cfg.Category,
			Enabled:  cfg.Enabled,
		}
		if err := s.store.UpsertNewsSource(ctx, src); err != nil {
			return err
		}
	}
	s.logger.Debugw("Seeded news sources", "count", len(sources))
	return nil
}

// FetchAll fetches every enabled news source. A failing source is logged and
// counted; it never stops the pass.
func (s *Service) FetchAll(ctx context.Context) (*FetchStats, error) {
	sources, err := s.store.ListNewsSources(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list news sources: %w", err)
	}

	stats := &FetchStats{}
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		seen, stored, err := s.FetchSource(ctx, src)
		stats.ItemsSeen += seen
		stats.ArticlesStored += stored
		if err != nil {
			stats.SourcesFailed++
			s.logger.Warnw("News source fetch failed",
				"source", src.Name,
				"error", err)
			continue
		}
		stats.SourcesFetched++
	}

	s.logger.Infow("News fetch completed",
		"sources_fetched", stats.SourcesFetched,
		"sources_failed", stats.SourcesFailed,
		"articles_stored", stats.ArticlesStored)
	return stats, nil
}

// FetchSource fetches one feed and stores the articles whose URL is new.
// Returns the number of feed items seen and articles stored.
func (s *Service) FetchSource(ctx context.Context, src *core.NewsSource) (int, int, error) {
	raw, err := s.getter.Fetch(ctx, "news:"+src.Name, feeds.Request{URL: src.URL})
	if err != nil {
		return 0, 0, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(raw))
	if err != nil {
		return 0, 0, core.NewParseError("news:"+src.Name, err)
	}

	stored := 0
	for _, item := range feed.Items {
		article := s.articleFromItem(src, item)
		if article == nil {
			continue
		}
		created, err := s.store.CreateArticleIfNew(ctx, article)
		if err != nil {
			return len(feed.Items), stored, err
		}
		if created {
			stored++
		}
	}
	metrics.NewsArticlesStored.Add(float64(stored))

	if err := s.store.MarkNewsSourceFetched(ctx, src.ID, s.now()); err != nil {
		return len(feed.Items), stored, err
	}

	s.logger.Debugw("Fetched news source",
		"source", src.Name,
		"items", len(feed.Items),
		"stored", stored)
	return len(feed.Items), stored, nil
}

// articleFromItem maps a feed item, or returns nil for an item without a link
func (s *Service) articleFromItem(src *core.NewsSource, item *gofeed.Item) *core.NewsArticle {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return nil
	}

	title := PlainText(item.Title)
	summary := Summarize(item.Description)
	content := PlainText(item.Content)

	category := src.Category
	if len(item.Categories) > 0 && strings.TrimSpace(item.Categories[0]) != "" {
		category = strings.TrimSpace(item.Categories[0])
	}

	published := item.PublishedParsed
	if published == nil {
		published = item.UpdatedParsed
	}

	return &core.NewsArticle{
		URL:           link,
		Title:         title,
		Summary:       summary,
		Content:       content,
		SourceID:      src.ID,
		Category:      category,
		Keywords:      ExtractKeywords(title + " " + summary),
		CVEReferences: ExtractCVEs(strings.Join([]string{title, summary, content}, " ")),
		PublishedAt:   published,
		CreatedAt:     s.now(),
	}
}
