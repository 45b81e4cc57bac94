package goroutine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRecover_NoPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	func() {
		defer Recover("quiet", zap.New(core).Sugar())
	}()

	assert.Zero(t, logs.Len())
}

func TestRecover_LogsPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	func() {
		defer Recover("source-unit", zap.New(core).Sugar())
		panic("adapter exploded")
	}()

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Goroutine panic recovered", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "source-unit", fields["goroutine"])
	assert.Equal(t, "adapter exploded", fields["panic"])
	assert.Contains(t, fields["stack"], "goroutine")
}

func TestRecover_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("no-logger", nil)
		panic("still recovered")
	})
}

func TestRecoverError_StoresPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	run := func() (err error) {
		defer RecoverError("ingest", zap.New(core).Sugar(), &err)
		panic(errors.New("nil map write"))
	}

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in ingest")
	assert.Contains(t, err.Error(), "nil map write")
	assert.Equal(t, 1, logs.Len())
}

func TestRecoverError_KeepsReturnedError(t *testing.T) {
	sentinel := errors.New("fetch failed")

	run := func() (err error) {
		defer RecoverError("fetch", nil, &err)
		return sentinel
	}

	assert.ErrorIs(t, run(), sentinel)
}
