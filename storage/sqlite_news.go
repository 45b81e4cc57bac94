package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/core"
)

// =============================================================================
// SQLite News Storage
// =============================================================================

// SQLiteNewsStorage persists news sources and articles
type SQLiteNewsStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteNewsStorage creates a news storage and ensures its tables exist
func NewSQLiteNewsStorage(sqlite *SQLite, logger *zap.SugaredLogger) (*SQLiteNewsStorage, error) {
	storage := &SQLiteNewsStorage{
		sqlite: sqlite,
		logger: logger,
	}

	if err := storage.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure news tables: %w", err)
	}

	return storage, nil
}

func (s *SQLiteNewsStorage) ensureTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS news_sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		url TEXT NOT NULL,
		category TEXT DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		last_fetch_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS news_articles (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		summary TEXT DEFAULT '',
		content TEXT DEFAULT '',
		source_id TEXT REFERENCES news_sources(id) ON DELETE SET NULL,
		category TEXT DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '[]',
		cve_references TEXT NOT NULL DEFAULT '[]',
		related_iocs TEXT NOT NULL DEFAULT '[]',
		published_at DATETIME,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_news_articles_created_at ON news_articles(created_at);
	`

	if _, err := s.sqlite.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create news tables: %w", err)
	}

	s.logger.Debug("News tables ensured in SQLite")
	return nil
}

// =============================================================================
// News Sources
// =============================================================================

// UpsertNewsSource creates a news source by name or refreshes its URL, category and enabled flag
func (s *SQLiteNewsStorage) UpsertNewsSource(ctx context.Context, source *core.NewsSource) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if source.ID == "" {
		source.ID = uuid.New().String()
	}
	if source.CreatedAt.IsZero() {
		source.CreatedAt = utc(time.Now())
	}

	_, err := s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO news_sources (id, name, url, category, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			url = excluded.url,
			category = excluded.category,
			enabled = excluded.enabled`,
		source.ID, source.Name, source.URL, source.Category, source.Enabled, utc(source.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert news source %s: %w", source.Name, err)
	}

	// Resolve the persisted ID when the row already existed
	return s.sqlite.WriteDB.QueryRowContext(ctx, `SELECT id FROM news_sources WHERE name = ?`, source.Name).Scan(&source.ID)
}

// ListNewsSources returns news sources, optionally only the enabled ones
func (s *SQLiteNewsStorage) ListNewsSources(ctx context.Context, enabledOnly bool) ([]*core.NewsSource, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `SELECT id, name, url, category, enabled, last_fetch_at, created_at FROM news_sources`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query news sources: %w", err)
	}
	defer rows.Close()

	var sources []*core.NewsSource
	for rows.Next() {
		var (
			source      core.NewsSource
			category    sql.NullString
			lastFetchAt sql.NullTime
		)
		if err := rows.Scan(&source.ID, &source.Name, &source.URL, &category, &source.Enabled,
			&lastFetchAt, &source.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan news source: %w", err)
		}
		source.Category = category.String
		source.LastFetchAt = timePtr(lastFetchAt)
		sources = append(sources, &source)
	}
	return sources, rows.Err()
}

// MarkNewsSourceFetched records the time of the last fetch
func (s *SQLiteNewsStorage) MarkNewsSourceFetched(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.sqlite.WriteDB.ExecContext(ctx,
		`UPDATE news_sources SET last_fetch_at = ? WHERE id = ?`, utc(at), id); err != nil {
		return fmt.Errorf("failed to mark news source fetched: %w", err)
	}
	return nil
}

// =============================================================================
// Articles
// =============================================================================

const articleColumns = `id, url, title, summary, content, source_id, category, keywords,
	cve_references, related_iocs, published_at, created_at`

// CreateArticleIfNew inserts the article unless its URL is already stored.
// Returns true when a row was inserted.
func (s *SQLiteNewsStorage) CreateArticleIfNew(ctx context.Context, article *core.NewsArticle) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if article.ID == "" {
		article.ID = uuid.New().String()
	}
	if article.CreatedAt.IsZero() {
		article.CreatedAt = time.Now()
	}
	article.CreatedAt = utc(article.CreatedAt)

	result, err := s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO news_articles (`+articleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING`,
		article.ID, article.URL, article.Title, article.Summary, article.Content,
		nullableString(article.SourceID), article.Category,
		mustMarshalJSON(article.Keywords, "[]"), mustMarshalJSON(article.CVEReferences, "[]"),
		mustMarshalJSON(article.RelatedIOCs, "[]"), nullableTime(article.PublishedAt), article.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert article: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return inserted == 1, nil
}

// GetArticle retrieves an article by ID
func (s *SQLiteNewsStorage) GetArticle(ctx context.Context, id string) (*core.NewsArticle, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	article, err := scanArticle(s.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM news_articles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrArticleNotFound, id)
	}
	return article, err
}

// ListArticlesCreatedSince returns articles stored at or after since
func (s *SQLiteNewsStorage) ListArticlesCreatedSince(ctx context.Context, since time.Time) ([]*core.NewsArticle, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		`SELECT `+articleColumns+` FROM news_articles WHERE created_at >= ? ORDER BY created_at`, utc(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var articles []*core.NewsArticle
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, article)
	}
	return articles, rows.Err()
}

// SetRelatedIOCs replaces the related IOC list of an article. The linker
// recomputes the full set from the article text on every pass, so IDs of IOCs
// removed by retention drop out instead of accumulating.
func (s *SQLiteNewsStorage) SetRelatedIOCs(ctx context.Context, articleID string, iocIDs []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := s.sqlite.WriteDB.ExecContext(ctx,
		`UPDATE news_articles SET related_iocs = ? WHERE id = ?`,
		mustMarshalJSON(iocIDs, "[]"), articleID)
	if err != nil {
		return fmt.Errorf("failed to update related IOCs: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrArticleNotFound, articleID)
	}
	return nil
}

// DeleteArticlesCreatedBefore removes articles stored before cutoff
func (s *SQLiteNewsStorage) DeleteArticlesCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	result, err := s.sqlite.WriteDB.ExecContext(ctx, `DELETE FROM news_articles WHERE created_at < ?`, utc(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old articles: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

func scanArticle(row rowScanner) (*core.NewsArticle, error) {
	var (
		article                              core.NewsArticle
		summary, content, sourceID, category sql.NullString
		keywordsJSON, cvesJSON, relatedJSON  string
		publishedAt                          sql.NullTime
	)

	err := row.Scan(&article.ID, &article.URL, &article.Title, &summary, &content, &sourceID,
		&category, &keywordsJSON, &cvesJSON, &relatedJSON, &publishedAt, &article.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan article: %w", err)
	}

	article.Summary = summary.String
	article.Content = content.String
	article.SourceID = sourceID.String
	article.Category = category.String
	article.PublishedAt = timePtr(publishedAt)

	article.Keywords = []string{}
	article.CVEReferences = []string{}
	article.RelatedIOCs = []string{}
	if err := safeUnmarshalJSON(keywordsJSON, &article.Keywords); err != nil {
		return nil, fmt.Errorf("failed to decode keywords for article %s: %w", article.ID, err)
	}
	if err := safeUnmarshalJSON(cvesJSON, &article.CVEReferences); err != nil {
		return nil, fmt.Errorf("failed to decode CVEs for article %s: %w", article.ID, err)
	}
	if err := safeUnmarshalJSON(relatedJSON, &article.RelatedIOCs); err != nil {
		return nil, fmt.Errorf("failed to decode related IOCs for article %s: %w", article.ID, err)
	}

	return &article, nil
}
