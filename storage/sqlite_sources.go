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
// SQLite Source Storage
// =============================================================================

// SQLiteSourceStorage persists threat-intel sources and their fetch health
type SQLiteSourceStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteSourceStorage creates a source storage and ensures its table exists
func NewSQLiteSourceStorage(sqlite *SQLite, logger *zap.SugaredLogger) (*SQLiteSourceStorage, error) {
	storage := &SQLiteSourceStorage{
		sqlite: sqlite,
		logger: logger,
	}

	if err := storage.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure source tables: %w", err)
	}

	return storage, nil
}

func (s *SQLiteSourceStorage) ensureTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		kind TEXT NOT NULL DEFAULT 'rest' CHECK(kind IN ('rest','rss','csv','github','taxii','json','text')),
		url TEXT NOT NULL DEFAULT '',
		description TEXT DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		trust_weight REAL NOT NULL DEFAULT 1.0,
		config TEXT NOT NULL DEFAULT '{}',
		fetch_interval_minutes INTEGER NOT NULL DEFAULT 60 CHECK(fetch_interval_minutes >= 0),
		last_fetch_at DATETIME,
		last_success_at DATETIME,
		last_error TEXT,
		consecutive_failures INTEGER NOT NULL DEFAULT 0 CHECK(consecutive_failures >= 0),
		next_fetch_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sources_due ON sources(enabled, next_fetch_at);
	`

	if _, err := s.sqlite.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create sources table: %w", err)
	}

	s.logger.Debug("Source tables ensured in SQLite")
	return nil
}

const sourceColumns = `id, name, kind, url, description, enabled, trust_weight, config,
	fetch_interval_minutes, last_fetch_at, last_success_at, last_error,
	consecutive_failures, next_fetch_at, created_at, updated_at`

// CreateSource inserts a new source. The ID is generated when empty.
func (s *SQLiteSourceStorage) CreateSource(ctx context.Context, source *core.Source) error {
	if err := core.ValidateSource(source); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := utc(time.Now())
	if source.ID == "" {
		source.ID = uuid.New().String()
	}
	if source.Kind == "" {
		source.Kind = core.SourceKindREST
	}
	if source.FetchIntervalMinutes == 0 {
		source.FetchIntervalMinutes = core.DefaultFetchIntervalMinutes
	}
	source.CreatedAt = now
	source.UpdatedAt = now

	query := `INSERT INTO sources (` + sourceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.sqlite.WriteDB.ExecContext(ctx, query,
		source.ID, source.Name, string(source.Kind), source.URL, source.Description,
		source.Enabled, source.TrustWeight, mustMarshalJSON(source.Config, "{}"),
		source.FetchIntervalMinutes,
		nullableTime(source.LastFetchAt), nullableTime(source.LastSuccessAt), source.LastError,
		source.ConsecutiveFailures, nullableTime(source.NextFetchAt),
		source.CreatedAt, source.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("source %q %w", source.Name, ErrDuplicate)
		}
		return fmt.Errorf("failed to create source: %w", err)
	}

	s.logger.Infow("Source created", "source_id", source.ID, "name", source.Name, "kind", source.Kind)
	return nil
}

// UpsertSourceByName creates the source or refreshes its admin-owned fields,
// leaving scheduling state untouched. Used for seeding from configuration.
func (s *SQLiteSourceStorage) UpsertSourceByName(ctx context.Context, source *core.Source) (bool, error) {
	existing, err := s.GetSourceByName(ctx, source.Name)
	if errors.Is(err, ErrNotFound) {
		if err := s.CreateSource(ctx, source); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if err := core.ValidateSource(source); err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	kind := source.Kind
	if kind == "" {
		kind = existing.Kind
	}
	interval := source.FetchIntervalMinutes
	if interval == 0 {
		interval = existing.FetchIntervalMinutes
	}

	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE sources SET kind = ?, url = ?, description = ?, enabled = ?, trust_weight = ?,
			config = ?, fetch_interval_minutes = ?, updated_at = ?
		WHERE id = ?`,
		string(kind), source.URL, source.Description, source.Enabled, source.TrustWeight,
		mustMarshalJSON(source.Config, "{}"), interval, utc(time.Now()), existing.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update source %s: %w", source.Name, err)
	}

	source.ID = existing.ID
	return false, nil
}

// GetSource retrieves a source by ID
func (s *SQLiteSourceStorage) GetSource(ctx context.Context, id string) (*core.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return source, err
}

// GetSourceByName retrieves a source by its unique name
func (s *SQLiteSourceStorage) GetSourceByName(ctx context.Context, name string) (*core.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	row := s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE name = ?`, name)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	return source, err
}

// ListSources returns all sources ordered by name
func (s *SQLiteSourceStorage) ListSources(ctx context.Context) ([]*core.Source, error) {
	return s.querySources(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name`)
}

// ListDueSources returns enabled sources that were never scheduled or whose
// next fetch time has passed
func (s *SQLiteSourceStorage) ListDueSources(ctx context.Context, now time.Time) ([]*core.Source, error) {
	return s.querySources(ctx, `SELECT `+sourceColumns+` FROM sources
		WHERE enabled = 1 AND (next_fetch_at IS NULL OR next_fetch_at <= ?)
		ORDER BY name`, utc(now))
}

func (s *SQLiteSourceStorage) querySources(ctx context.Context, query string, args ...interface{}) ([]*core.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []*core.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// MarkFetchStarted records the start of a fetch attempt
func (s *SQLiteSourceStorage) MarkFetchStarted(ctx context.Context, id string, at time.Time) error {
	return s.updateOne(ctx, `UPDATE sources SET last_fetch_at = ? WHERE id = ?`, id, utc(at), id)
}

// RecordFetchSuccess resets the failure counter and schedules the next fetch
func (s *SQLiteSourceStorage) RecordFetchSuccess(ctx context.Context, id string, at, next time.Time) error {
	return s.updateOne(ctx, `
		UPDATE sources SET last_success_at = ?, consecutive_failures = 0, last_error = NULL,
			next_fetch_at = ?, updated_at = ?
		WHERE id = ?`, id, utc(at), utc(next), utc(at), id)
}

// RecordFetchFailure increments the failure counter in a single statement so
// concurrent failures never lose an increment
func (s *SQLiteSourceStorage) RecordFetchFailure(ctx context.Context, id string, at time.Time, lastError string, next time.Time) error {
	return s.updateOne(ctx, `
		UPDATE sources SET consecutive_failures = consecutive_failures + 1, last_error = ?,
			next_fetch_at = ?, updated_at = ?
		WHERE id = ?`, id, lastError, utc(next), utc(at), id)
}

// SetSourceEnabled toggles a source
func (s *SQLiteSourceStorage) SetSourceEnabled(ctx context.Context, id string, enabled bool) error {
	return s.updateOne(ctx, `UPDATE sources SET enabled = ?, updated_at = ? WHERE id = ?`,
		id, enabled, utc(time.Now()), id)
}

// SourceHealth returns the health view of one source
func (s *SQLiteSourceStorage) SourceHealth(ctx context.Context, id string) (*core.SourceHealth, error) {
	source, err := s.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	health := source.Health()
	return &health, nil
}

// ListSourceHealth projects every source into its health view
func (s *SQLiteSourceStorage) ListSourceHealth(ctx context.Context) ([]core.SourceHealth, error) {
	sources, err := s.ListSources(ctx)
	if err != nil {
		return nil, err
	}
	health := make([]core.SourceHealth, 0, len(sources))
	for _, source := range sources {
		health = append(health, source.Health())
	}
	return health, nil
}

// DeleteSource removes a source; IOCs keep their rows with source_id cleared
func (s *SQLiteSourceStorage) DeleteSource(ctx context.Context, id string) error {
	return s.updateOne(ctx, `DELETE FROM sources WHERE id = ?`, id, id)
}

func (s *SQLiteSourceStorage) updateOne(ctx context.Context, query, id string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := s.sqlite.WriteDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update source %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row rowScanner) (*core.Source, error) {
	var (
		source                                  core.Source
		kind, configJSON                        string
		description                             sql.NullString
		lastError                               sql.NullString
		lastFetchAt, lastSuccessAt, nextFetchAt sql.NullTime
	)

	err := row.Scan(
		&source.ID, &source.Name, &kind, &source.URL, &description, &source.Enabled,
		&source.TrustWeight, &configJSON, &source.FetchIntervalMinutes,
		&lastFetchAt, &lastSuccessAt, &lastError,
		&source.ConsecutiveFailures, &nextFetchAt, &source.CreatedAt, &source.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}

	source.Kind = core.SourceKind(kind)
	source.Description = description.String
	source.LastFetchAt = timePtr(lastFetchAt)
	source.LastSuccessAt = timePtr(lastSuccessAt)
	source.NextFetchAt = timePtr(nextFetchAt)
	if lastError.Valid {
		msg := lastError.String
		source.LastError = &msg
	}
	source.Config = map[string]interface{}{}
	if err := safeUnmarshalJSON(configJSON, &source.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config for source %s: %w", source.ID, err)
	}

	return &source, nil
}
