package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/config"
	"github.com/subrat243/Intelify/core"
)

var (
	// validIdentifierRegex keeps database and table names safe to interpolate
	validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// clickHouseConn is the subset of driver.Conn used by the sighting sink
type clickHouseConn interface {
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Exec(ctx context.Context, query string, args ...any) error
}

// ClickHouseSightings exports IOC sightings to a ClickHouse MergeTree table
// for long-horizon analytics
type ClickHouseSightings struct {
	conn   clickHouseConn
	closer func() error
	table  string
	logger *zap.SugaredLogger
}

// NewClickHouseSightings connects to ClickHouse and ensures the sightings table exists
func NewClickHouseSightings(cfg config.ClickHouseConfig, logger *zap.SugaredLogger) (*ClickHouseSightings, error) {
	if err := validateIdentifier(cfg.Database); err != nil {
		return nil, fmt.Errorf("invalid database name: %w", err)
	}

	poolSize := cfg.MaxPoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 10 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		MaxOpenConns:     poolSize,
		MaxIdleConns:     poolSize / 2,
		ConnMaxLifetime:  1 * time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			d.Timeout = 10 * time.Second
			d.KeepAlive = 30 * time.Second
			return d.DialContext(ctx, "tcp", addr)
		},
	}
	if cfg.TLS {
		options.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	sink, err := newClickHouseSightings(conn, cfg.Table, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	sink.closer = conn.Close

	if err := sink.ensureTable(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Infow("Connected to ClickHouse sighting sink", "addr", cfg.Addr, "table", cfg.Table)
	return sink, nil
}

func newClickHouseSightings(conn clickHouseConn, table string, logger *zap.SugaredLogger) (*ClickHouseSightings, error) {
	if table == "" {
		table = "ioc_sightings"
	}
	if err := validateIdentifier(table); err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ClickHouseSightings{conn: conn, table: table, logger: logger}, nil
}

func validateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("identifier too long (max 64 characters)")
	}
	if !validIdentifierRegex.MatchString(name) {
		return fmt.Errorf("identifier contains invalid characters (only alphanumeric and underscore allowed)")
	}
	return nil
}

func (c *ClickHouseSightings) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		ioc_id String,
		indicator String,
		ioc_type LowCardinality(String),
		source_id String,
		source_name LowCardinality(String),
		action LowCardinality(String),
		confidence Float64,
		seen_at DateTime64(3, 'UTC'),
		INDEX idx_indicator indicator TYPE bloom_filter(0.01) GRANULARITY 1
	) ENGINE = MergeTree()
	PARTITION BY toYYYYMM(seen_at)
	ORDER BY (ioc_type, indicator, seen_at)
	SETTINGS index_granularity = 8192
	`, c.table)

	if err := c.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", c.table, err)
	}
	return nil
}

// RecordSightings writes a batch of sightings
func (c *ClickHouseSightings) RecordSightings(ctx context.Context, sightings []core.Sighting) error {
	if len(sightings) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(
		"INSERT INTO %s (ioc_id, indicator, ioc_type, source_id, source_name, action, confidence, seen_at)", c.table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, s := range sightings {
		if err := batch.Append(
			s.IOCID,
			s.Indicator,
			string(s.Type),
			s.SourceID,
			s.SourceName,
			string(s.Action),
			s.Confidence,
			s.SeenAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to append sighting %s: %w", s.IOCID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	c.logger.Debugw("Sightings exported to ClickHouse", "count", len(sightings))
	return nil
}

// Close closes the underlying connection
func (c *ClickHouseSightings) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
