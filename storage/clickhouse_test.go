package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subrat243/Intelify/core"
)

type fakeBatch struct {
	driver.Batch
	rows    [][]any
	sent    bool
	sendErr error
}

func (b *fakeBatch) Append(v ...any) error {
	b.rows = append(b.rows, v)
	return nil
}

func (b *fakeBatch) Send() error {
	b.sent = true
	return b.sendErr
}

type fakeClickHouse struct {
	batch   *fakeBatch
	queries []string
}

func (f *fakeClickHouse) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	f.queries = append(f.queries, query)
	return f.batch, nil
}

func (f *fakeClickHouse) Exec(ctx context.Context, query string, args ...any) error {
	f.queries = append(f.queries, query)
	return nil
}

func TestClickHouseSightings_RecordSightings(t *testing.T) {
	conn := &fakeClickHouse{batch: &fakeBatch{}}
	sink, err := newClickHouseSightings(conn, "", nil)
	require.NoError(t, err)

	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	err = sink.RecordSightings(context.Background(), []core.Sighting{
		{IOCID: "i1", Indicator: "evil.test", Type: core.IOCTypeDomain, SourceID: "s1", SourceName: "urlhaus", Action: core.IOCActionCreated, Confidence: 0.8, SeenAt: seen},
		{IOCID: "i2", Indicator: "1.2.3.4", Type: core.IOCTypeIP, SourceID: "s1", SourceName: "urlhaus", Action: core.IOCActionUpdated, Confidence: 0.55, SeenAt: seen},
	})
	require.NoError(t, err)

	require.Len(t, conn.queries, 1)
	assert.Contains(t, conn.queries[0], "INSERT INTO ioc_sightings")
	assert.True(t, conn.batch.sent)
	require.Len(t, conn.batch.rows, 2)
	assert.Equal(t, "evil.test", conn.batch.rows[0][1])
	assert.Equal(t, "domain", conn.batch.rows[0][2])
	assert.Equal(t, "created", conn.batch.rows[0][5])
}

func TestClickHouseSightings_EmptyBatchIsNoop(t *testing.T) {
	conn := &fakeClickHouse{batch: &fakeBatch{}}
	sink, err := newClickHouseSightings(conn, "sightings", nil)
	require.NoError(t, err)

	require.NoError(t, sink.RecordSightings(context.Background(), nil))
	assert.Empty(t, conn.queries)
}

func TestClickHouseSightings_SendError(t *testing.T) {
	conn := &fakeClickHouse{batch: &fakeBatch{sendErr: errors.New("connection reset")}}
	sink, err := newClickHouseSightings(conn, "sightings", nil)
	require.NoError(t, err)

	err = sink.RecordSightings(context.Background(), []core.Sighting{{IOCID: "i1"}})
	assert.ErrorContains(t, err, "connection reset")
}

func TestClickHouseSightings_EnsureTable(t *testing.T) {
	conn := &fakeClickHouse{batch: &fakeBatch{}}
	sink, err := newClickHouseSightings(conn, "custom_sightings", nil)
	require.NoError(t, err)

	require.NoError(t, sink.ensureTable(context.Background()))
	require.Len(t, conn.queries, 1)
	assert.Contains(t, conn.queries[0], "CREATE TABLE IF NOT EXISTS custom_sightings")
	assert.NoError(t, sink.Close())
}

func TestValidateIdentifier(t *testing.T) {
	assert.NoError(t, validateIdentifier("ioc_sightings"))
	assert.Error(t, validateIdentifier(""))
	assert.Error(t, validateIdentifier("x; DROP TABLE y"))

	_, err := newClickHouseSightings(&fakeClickHouse{}, "bad-name", nil)
	assert.Error(t, err)
}
