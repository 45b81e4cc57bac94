package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/subrat243/Intelify/core"
)

// =============================================================================
// SQLite IOC Storage
// =============================================================================

// SQLiteIOCStorage persists IOCs and the per-source sightings that back correlation
type SQLiteIOCStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// UpsertResult reports what an ingestion did to the (indicator, type) row
type UpsertResult struct {
	IOC     *core.IOC
	Created bool
}

// CorrelationGroup is an IOC observed by more than one distinct source
type CorrelationGroup struct {
	IOCID       string
	Indicator   string
	Type        core.IOCType
	SourceCount int
}

// NewSQLiteIOCStorage creates an IOC storage and ensures its tables exist
func NewSQLiteIOCStorage(sqlite *SQLite, logger *zap.SugaredLogger) (*SQLiteIOCStorage, error) {
	storage := &SQLiteIOCStorage{
		sqlite: sqlite,
		logger: logger,
	}

	if err := storage.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure IOC tables: %w", err)
	}

	return storage, nil
}

func (s *SQLiteIOCStorage) ensureTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS iocs (
		id TEXT PRIMARY KEY,
		indicator TEXT NOT NULL,
		type TEXT NOT NULL CHECK(type IN ('ip','domain','url','hash-md5','hash-sha256','cve')),
		source_id TEXT REFERENCES sources(id) ON DELETE SET NULL,
		category TEXT DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		confidence_score REAL NOT NULL DEFAULT 0.5 CHECK(confidence_score >= 0 AND confidence_score <= 1),
		reputation_score REAL,
		geo_country TEXT DEFAULT '',
		geo_city TEXT DEFAULT '',
		geo_latitude REAL,
		geo_longitude REAL,
		asn TEXT DEFAULT '',
		asn_org TEXT DEFAULT '',
		reverse_dns TEXT DEFAULT '',
		resolved_ip TEXT DEFAULT '',
		mitre_techniques TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		correlation_count INTEGER NOT NULL DEFAULT 1 CHECK(correlation_count >= 1),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_iocs_indicator_type ON iocs(indicator, type);
	CREATE INDEX IF NOT EXISTS idx_iocs_last_seen ON iocs(last_seen);
	CREATE INDEX IF NOT EXISTS idx_iocs_category_country ON iocs(category, geo_country);

	-- One row per (IOC, source); distinct sources drive correlation
	CREATE TABLE IF NOT EXISTS ioc_sightings (
		ioc_id TEXT NOT NULL REFERENCES iocs(id) ON DELETE CASCADE,
		source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		sightings INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (ioc_id, source_id)
	);
	CREATE INDEX IF NOT EXISTS idx_ioc_sightings_source ON ioc_sightings(source_id);
	`

	if _, err := s.sqlite.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create IOC tables: %w", err)
	}

	s.logger.Debug("IOC tables ensured in SQLite")
	return nil
}

const iocColumns = `id, indicator, type, source_id, category, tags, confidence_score, reputation_score,
	geo_country, geo_city, geo_latitude, geo_longitude, asn, asn_org, reverse_dns, resolved_ip,
	mitre_techniques, metadata, first_seen, last_seen, correlation_count, created_at, updated_at`

// =============================================================================
// Ingestion
// =============================================================================

// UpsertIOC inserts ioc when no row exists for its (indicator, type). Otherwise
// the existing row is refreshed: last_seen moves to now, correlation_count
// grows by one and confidence rises by core.IngestConfidenceBump capped at 1.
// The sighting for sourceID is recorded in the same transaction.
func (s *SQLiteIOCStorage) UpsertIOC(ctx context.Context, ioc *core.IOC, sourceID string, now time.Time) (*UpsertResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now = utc(now)
	result := &UpsertResult{}

	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO iocs (`+iocColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(indicator, type) DO NOTHING`,
			iocArgs(ioc, now)...,
		)
		if err != nil {
			return fmt.Errorf("failed to insert IOC: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if inserted == 0 {
			_, err = tx.ExecContext(ctx, `
				UPDATE iocs SET
					last_seen = ?,
					updated_at = ?,
					correlation_count = correlation_count + 1,
					confidence_score = MIN(?, confidence_score + ?)
				WHERE indicator = ? AND type = ?`,
				now, now, core.MaxConfidence, core.IngestConfidenceBump, ioc.Indicator, string(ioc.Type),
			)
			if err != nil {
				return fmt.Errorf("failed to refresh IOC: %w", err)
			}
		}

		stored, err := scanIOC(tx.QueryRowContext(ctx,
			`SELECT `+iocColumns+` FROM iocs WHERE indicator = ? AND type = ?`,
			ioc.Indicator, string(ioc.Type)))
		if err != nil {
			return err
		}

		if sourceID != "" {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO ioc_sightings (ioc_id, source_id, first_seen, last_seen, sightings)
				VALUES (?, ?, ?, ?, 1)
				ON CONFLICT(ioc_id, source_id) DO UPDATE SET
					last_seen = excluded.last_seen,
					sightings = sightings + 1`,
				stored.ID, sourceID, now, now,
			)
			if err != nil {
				return fmt.Errorf("failed to record sighting: %w", err)
			}
		}

		result.IOC = stored
		result.Created = inserted == 1
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// iocArgs binds a new row; first_seen and last_seen are the ingestion time
func iocArgs(ioc *core.IOC, now time.Time) []interface{} {
	return []interface{}{
		ioc.ID, ioc.Indicator, string(ioc.Type), nullableString(ioc.SourceID), ioc.Category,
		mustMarshalJSON(ioc.Tags, "[]"), core.ClampConfidence(ioc.ConfidenceScore), ioc.ReputationScore,
		ioc.GeoCountry, ioc.GeoCity, ioc.GeoLatitude, ioc.GeoLongitude,
		ioc.ASN, ioc.ASNOrg, ioc.ReverseDNS, ioc.ResolvedIP,
		mustMarshalJSON(ioc.MitreTechniques, "[]"), mustMarshalJSON(ioc.Metadata, "{}"),
		now, now, 1, now, now,
	}
}

// UpdateIOCEnrichment stores enrichment, reputation and MITRE techniques computed
// for a newly created IOC
func (s *SQLiteIOCStorage) UpdateIOCEnrichment(ctx context.Context, id string, e core.Enrichment, reputation float64, techniques []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := s.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE iocs SET
			geo_country = ?, geo_city = ?, geo_latitude = ?, geo_longitude = ?,
			asn = ?, asn_org = ?, reverse_dns = ?, resolved_ip = ?,
			reputation_score = ?, mitre_techniques = ?, updated_at = ?
		WHERE id = ?`,
		e.GeoCountry, e.GeoCity, e.GeoLatitude, e.GeoLongitude,
		e.ASN, e.ASNOrg, e.ReverseDNS, e.ResolvedIP,
		reputation, mustMarshalJSON(techniques, "[]"), utc(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update IOC enrichment: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrIOCNotFound, id)
	}
	return nil
}

// =============================================================================
// Reads
// =============================================================================

// GetIOC retrieves an IOC by ID
func (s *SQLiteIOCStorage) GetIOC(ctx context.Context, id string) (*core.IOC, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ioc, err := scanIOC(s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT `+iocColumns+` FROM iocs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrIOCNotFound, id)
	}
	return ioc, err
}

// FindIOC retrieves the IOC for an (indicator, type) pair
func (s *SQLiteIOCStorage) FindIOC(ctx context.Context, indicator string, iocType core.IOCType) (*core.IOC, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ioc, err := scanIOC(s.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT `+iocColumns+` FROM iocs WHERE indicator = ? AND type = ?`, indicator, string(iocType)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s (%s)", ErrIOCNotFound, indicator, iocType)
	}
	return ioc, err
}

// FindIOCsByIndicators returns IOCs of iocType whose indicator is in the given set
func (s *SQLiteIOCStorage) FindIOCsByIndicators(ctx context.Context, iocType core.IOCType, indicators []string) ([]*core.IOC, error) {
	if len(indicators) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, len(indicators)+1)
	args = append(args, string(iocType))
	for _, ind := range indicators {
		args = append(args, ind)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(indicators)), ",")

	return s.queryIOCs(ctx, `SELECT `+iocColumns+` FROM iocs
		WHERE type = ? AND indicator IN (`+placeholders+`)
		ORDER BY indicator`, args...)
}

// FindIOCsByIndicator returns every IOC with the indicator value except excludeID
func (s *SQLiteIOCStorage) FindIOCsByIndicator(ctx context.Context, indicator, excludeID string, limit int) ([]*core.IOC, error) {
	return s.queryIOCs(ctx, `SELECT `+iocColumns+` FROM iocs
		WHERE indicator = ? AND id != ?
		ORDER BY last_seen DESC LIMIT ?`, indicator, excludeID, limit)
}

// FindIOCsByCategoryCountry returns IOCs sharing both category and geo country
func (s *SQLiteIOCStorage) FindIOCsByCategoryCountry(ctx context.Context, category, country, excludeID string, limit int) ([]*core.IOC, error) {
	return s.queryIOCs(ctx, `SELECT `+iocColumns+` FROM iocs
		WHERE category = ? AND geo_country = ? AND id != ?
		ORDER BY last_seen DESC LIMIT ?`, category, country, excludeID, limit)
}

// ListIOCs returns IOCs ordered by most recently seen
func (s *SQLiteIOCStorage) ListIOCs(ctx context.Context, limit, offset int) ([]*core.IOC, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryIOCs(ctx, `SELECT `+iocColumns+` FROM iocs ORDER BY last_seen DESC LIMIT ? OFFSET ?`, limit, offset)
}

// ListIndicators returns all indicator values of the given types
func (s *SQLiteIOCStorage) ListIndicators(ctx context.Context, types ...core.IOCType) ([]string, error) {
	if len(types) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	args := make([]interface{}, len(types))
	for i, t := range types {
		args[i] = string(t)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")

	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		`SELECT indicator FROM iocs WHERE type IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list indicators: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ind string
		if err := rows.Scan(&ind); err != nil {
			return nil, fmt.Errorf("failed to scan indicator: %w", err)
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}

// CountIOCs returns the total number of IOCs
func (s *SQLiteIOCStorage) CountIOCs(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var count int64
	if err := s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM iocs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count IOCs: %w", err)
	}
	return count, nil
}

// ListSightingSources returns the distinct source IDs that reported an IOC
func (s *SQLiteIOCStorage) ListSightingSources(ctx context.Context, iocID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		`SELECT source_id FROM ioc_sightings WHERE ioc_id = ? ORDER BY first_seen`, iocID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sightings: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan sighting: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteIOCStorage) queryIOCs(ctx context.Context, query string, args ...interface{}) ([]*core.IOC, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query IOCs: %w", err)
	}
	defer rows.Close()

	var iocs []*core.IOC
	for rows.Next() {
		ioc, err := scanIOC(rows)
		if err != nil {
			return nil, err
		}
		iocs = append(iocs, ioc)
	}
	return iocs, rows.Err()
}

// =============================================================================
// Correlation
// =============================================================================

// CorrelationGroups returns every IOC sighted by more than one distinct source
func (s *SQLiteIOCStorage) CorrelationGroups(ctx context.Context) ([]CorrelationGroup, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT i.id, i.indicator, i.type, COUNT(DISTINCT s.source_id) AS source_count
		FROM iocs i
		JOIN ioc_sightings s ON s.ioc_id = i.id
		GROUP BY i.id, i.indicator, i.type
		HAVING COUNT(DISTINCT s.source_id) > 1
		ORDER BY i.indicator, i.type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlation groups: %w", err)
	}
	defer rows.Close()

	var groups []CorrelationGroup
	for rows.Next() {
		var g CorrelationGroup
		var iocType string
		if err := rows.Scan(&g.IOCID, &g.Indicator, &iocType, &g.SourceCount); err != nil {
			return nil, fmt.Errorf("failed to scan correlation group: %w", err)
		}
		g.Type = core.IOCType(iocType)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ApplyCorrelation sets correlation_count to sourceCount and refreshes
// last_seen. Confidence becomes min(1, current+boost) only when that is
// higher than the current value. Returns whether confidence changed.
func (s *SQLiteIOCStorage) ApplyCorrelation(ctx context.Context, iocID string, sourceCount int, boost float64, now time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now = utc(now)
	boosted := false

	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		var current float64
		if err := tx.QueryRowContext(ctx, `SELECT confidence_score FROM iocs WHERE id = ?`, iocID).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrIOCNotFound, iocID)
			}
			return fmt.Errorf("failed to read confidence: %w", err)
		}

		next := current
		if candidate := core.ClampConfidence(current + boost); candidate > current {
			next = candidate
			boosted = true
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE iocs SET correlation_count = ?, confidence_score = ?, last_seen = ?, updated_at = ?
			WHERE id = ?`,
			sourceCount, next, now, now, iocID)
		if err != nil {
			return fmt.Errorf("failed to apply correlation: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return boosted, nil
}

// =============================================================================
// Retention
// =============================================================================

// DeleteIOCsLastSeenBefore removes IOCs not seen since cutoff; sightings cascade
func (s *SQLiteIOCStorage) DeleteIOCsLastSeenBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	result, err := s.sqlite.WriteDB.ExecContext(ctx, `DELETE FROM iocs WHERE last_seen < ?`, utc(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale IOCs: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// =============================================================================
// Scanning
// =============================================================================

func scanIOC(row rowScanner) (*core.IOC, error) {
	var (
		ioc                                             core.IOC
		iocType, tagsJSON, techniquesJSON, metadataJSON string
		sourceID                                        sql.NullString
		category, country, city                         sql.NullString
		asn, asnOrg, reverseDNS, resolvedIP             sql.NullString
		reputation, latitude, longitude                 sql.NullFloat64
	)

	err := row.Scan(
		&ioc.ID, &ioc.Indicator, &iocType, &sourceID, &category, &tagsJSON,
		&ioc.ConfidenceScore, &reputation,
		&country, &city, &latitude, &longitude, &asn, &asnOrg, &reverseDNS, &resolvedIP,
		&techniquesJSON, &metadataJSON, &ioc.FirstSeen, &ioc.LastSeen, &ioc.CorrelationCount,
		&ioc.CreatedAt, &ioc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan IOC: %w", err)
	}

	ioc.Type = core.IOCType(iocType)
	ioc.SourceID = sourceID.String
	ioc.Category = category.String
	ioc.GeoCountry = country.String
	ioc.GeoCity = city.String
	ioc.ASN = asn.String
	ioc.ASNOrg = asnOrg.String
	ioc.ReverseDNS = reverseDNS.String
	ioc.ResolvedIP = resolvedIP.String
	ioc.ReputationScore = floatPtr(reputation)
	ioc.GeoLatitude = floatPtr(latitude)
	ioc.GeoLongitude = floatPtr(longitude)

	ioc.Tags = []string{}
	if err := safeUnmarshalJSON(tagsJSON, &ioc.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for IOC %s: %w", ioc.ID, err)
	}
	ioc.MitreTechniques = []string{}
	if err := safeUnmarshalJSON(techniquesJSON, &ioc.MitreTechniques); err != nil {
		return nil, fmt.Errorf("failed to decode techniques for IOC %s: %w", ioc.ID, err)
	}
	ioc.Metadata = core.Metadata{}
	if err := safeUnmarshalJSON(metadataJSON, &ioc.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for IOC %s: %w", ioc.ID, err)
	}

	return &ioc, nil
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
