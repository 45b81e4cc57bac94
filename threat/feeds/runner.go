package feeds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/core"
	"github.com/subrat243/Intelify/metrics"
	"github.com/subrat243/Intelify/storage"
	"github.com/subrat243/Intelify/threat"
	"github.com/subrat243/Intelify/util/goroutine"
)

const (
	DefaultUnitTimeout = 300 * time.Second

	healthWriteTimeout = 5 * time.Second
	leasePrefixSource  = "source:"
)

var (
	ErrSourceDisabled = errors.New("source is disabled")
	ErrSourceRunning  = errors.New("source unit is already running")
	ErrInvalidConfig  = errors.New("invalid runner configuration")
	// ErrIngestFailed marks a unit whose candidates could not all be persisted
	ErrIngestFailed = errors.New("ingest failed")
)

// RunResult describes one source unit
type RunResult struct {
	SourceID    string              `json:"source_id"`
	SourceName  string              `json:"source_name"`
	Adapter     string              `json:"adapter,omitempty"`
	StartTime   time.Time           `json:"start_time"`
	EndTime     time.Time           `json:"end_time"`
	Duration    time.Duration       `json:"duration"`
	Candidates  int                 `json:"candidates"`
	Ingest      threat.IngestResult `json:"ingest"`
	Success     bool                `json:"success"`
	Error       string              `json:"error,omitempty"`
	NextFetchAt time.Time           `json:"next_fetch_at"`
}

// RunnerConfig wires a Runner. Decrypter, Fetcher, Leaser and Tracer are optional.
type RunnerConfig struct {
	Sources     storage.SourceStore
	Registry    *Registry
	Ingester    Ingester
	Decrypter   Decrypter
	Fetcher     *HTTPFetcher
	Leaser      Leaser
	Tracer      trace.Tracer
	UnitTimeout time.Duration
	Now         func() time.Time
	Logger      *zap.SugaredLogger
}

// Runner executes source units: fetch, parse and ingest for one source,
// followed by the health write that schedules its next fetch
type Runner struct {
	sources     storage.SourceStore
	registry    *Registry
	ingester    Ingester
	decrypter   Decrypter
	fetcher     *HTTPFetcher
	leaser      Leaser
	tracer      trace.Tracer
	unitTimeout time.Duration
	now         func() time.Time
	logger      *zap.SugaredLogger

	mu      sync.Mutex
	running map[string]struct{}
}

// NewRunner creates a runner
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Sources == nil || cfg.Ingester == nil {
		return nil, fmt.Errorf("%w: source store and ingester are required", ErrInvalidConfig)
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewHTTPFetcher(defaultHTTPConfig())
	}
	if cfg.Tracer == nil {
		cfg.Tracer = noop.NewTracerProvider().Tracer("intelify/feeds")
	}
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = DefaultUnitTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	return &Runner{
		sources:     cfg.Sources,
		registry:    cfg.Registry,
		ingester:    cfg.Ingester,
		decrypter:   cfg.Decrypter,
		fetcher:     cfg.Fetcher,
		leaser:      cfg.Leaser,
		tracer:      cfg.Tracer,
		unitTimeout: cfg.UnitTimeout,
		now:         cfg.Now,
		logger:      cfg.Logger,
		running:     make(map[string]struct{}),
	}, nil
}

// Registry returns the adapter registry in use
func (r *Runner) Registry() *Registry {
	return r.registry
}

// =============================================================================
// Source Units
// =============================================================================

// RunSource runs one unit for sourceID. Fetch, parse and ingest failures are
// recorded on the source and returned; the returned RunResult is non-nil
// whenever the unit started.
func (r *Runner) RunSource(ctx context.Context, sourceID string) (*RunResult, error) {
	src, err := r.sources.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !src.Enabled {
		return nil, ErrSourceDisabled
	}

	if !r.begin(src.ID) {
		return nil, ErrSourceRunning
	}
	defer r.end(src.ID)

	if r.leaser != nil {
		release, ok, err := r.leaser.Acquire(ctx, leasePrefixSource+src.ID, r.unitTimeout)
		switch {
		case err != nil:
			r.logger.Warnw("Source lease unavailable, running unit without it",
				"source_id", src.ID,
				"error", err)
		case !ok:
			r.logger.Debugw("Source unit held by another scheduler", "source_id", src.ID)
			return nil, ErrSourceRunning
		default:
			defer release()
		}
	}

	unitCtx, cancel := context.WithTimeout(ctx, r.unitTimeout)
	defer cancel()

	unitCtx, span := r.tracer.Start(unitCtx, "feeds.RunSource", trace.WithAttributes(
		attribute.String("source.id", src.ID),
		attribute.String("source.name", src.Name),
		attribute.String("source.kind", string(src.Kind)),
	))
	defer span.End()

	metrics.UnitsInFlight.Inc()
	defer metrics.UnitsInFlight.Dec()

	start := r.now().UTC()
	result := &RunResult{SourceID: src.ID, SourceName: src.Name, StartTime: start}

	if err := r.sources.MarkFetchStarted(unitCtx, src.ID, start); err != nil {
		r.logger.Warnw("Failed to mark fetch start", "source_id", src.ID, "error", err)
	}

	runErr := r.execute(unitCtx, src, result)

	finished := r.now().UTC()
	result.EndTime = finished
	result.Duration = finished.Sub(start)
	r.recordHealth(unitCtx, src, result, runErr)

	adapterLabel := result.Adapter
	if adapterLabel == "" {
		adapterLabel = "unresolved"
	}
	metrics.SourceRunDuration.WithLabelValues(adapterLabel).Observe(result.Duration.Seconds())
	span.SetAttributes(
		attribute.String("adapter", adapterLabel),
		attribute.Int("candidates", result.Candidates),
		attribute.Int("iocs.created", result.Ingest.Created),
		attribute.Int("iocs.updated", result.Ingest.Updated),
	)

	if runErr != nil {
		metrics.SourceRuns.WithLabelValues("failure").Inc()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		r.logger.Warnw("Source unit failed",
			"source_id", src.ID,
			"source", src.Name,
			"adapter", result.Adapter,
			"next_fetch_at", result.NextFetchAt,
			"error", runErr)
		return result, runErr
	}

	metrics.SourceRuns.WithLabelValues("success").Inc()
	r.logger.Infow("Source unit complete",
		"source_id", src.ID,
		"source", src.Name,
		"adapter", result.Adapter,
		"candidates", result.Candidates,
		"created", result.Ingest.Created,
		"updated", result.Ingest.Updated,
		"dropped", result.Ingest.Dropped,
		"failed", result.Ingest.Failed,
		"duration", result.Duration)
	return result, nil
}

// execute is the fetch, parse and ingest body of a unit. Panics become errors.
func (r *Runner) execute(ctx context.Context, src *core.Source, result *RunResult) (err error) {
	defer goroutine.RecoverError("source unit "+src.Name, r.logger, &err)

	resolved, err := r.withCredentials(ctx, src)
	if err != nil {
		return err
	}

	name, constructor, err := r.registry.Resolve(resolved)
	if err != nil {
		return err
	}
	result.Adapter = name

	adapter, err := constructor(AdapterConfig{Source: resolved, Fetcher: r.fetcher, Logger: r.logger})
	if err != nil {
		return fmt.Errorf("failed to build adapter %s: %w", name, err)
	}

	raw, err := adapter.Fetch(ctx)
	if err != nil {
		return err
	}

	candidates, err := adapter.Parse(raw)
	if err != nil {
		return err
	}
	result.Candidates = len(candidates)

	result.Ingest = r.ingester.Ingest(ctx, src, candidates)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("source unit interrupted: %w", err)
	}
	// Committed upserts stay; the unit still fails so the source backs off
	if failed := result.Ingest.Failed; failed > 0 {
		attempted := len(candidates) - result.Ingest.Dropped
		return fmt.Errorf("%d of %d candidates failed to persist: %w", failed, attempted, ErrIngestFailed)
	}
	return nil
}

// withCredentials returns a copy of src whose api_key is decrypted. The stored
// source is never modified.
func (r *Runner) withCredentials(ctx context.Context, src *core.Source) (*core.Source, error) {
	resolved := *src
	resolved.Config = src.CloneConfig()

	raw, ok := resolved.Config[core.ConfigKeyAPIKey].(string)
	if !ok || raw == "" || r.decrypter == nil {
		return &resolved, nil
	}

	plain, err := r.decrypter.Decrypt(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt api_key: %w", err)
	}
	resolved.Config[core.ConfigKeyAPIKey] = plain
	return &resolved, nil
}

// recordHealth writes the unit outcome. Success schedules the next fetch one
// interval out, failure two intervals out. The write uses its own deadline so
// a unit that ran out of time still records its failure.
func (r *Runner) recordHealth(ctx context.Context, src *core.Source, result *RunResult, runErr error) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), healthWriteTimeout)
	defer cancel()

	interval := src.FetchInterval()
	at := result.EndTime

	if runErr == nil {
		result.Success = true
		result.NextFetchAt = at.Add(interval)
		if err := r.sources.RecordFetchSuccess(hctx, src.ID, at, result.NextFetchAt); err != nil {
			r.logger.Errorw("Failed to record fetch success", "source_id", src.ID, "error", err)
		}
		return
	}

	result.Error = core.TruncateError(runErr)
	result.NextFetchAt = at.Add(2 * interval)
	if err := r.sources.RecordFetchFailure(hctx, src.ID, at, result.Error, result.NextFetchAt); err != nil {
		r.logger.Errorw("Failed to record fetch failure", "source_id", src.ID, "error", err)
	}
}

func (r *Runner) begin(sourceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.running[sourceID]; busy {
		return false
	}
	r.running[sourceID] = struct{}{}
	return true
}

func (r *Runner) end(sourceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, sourceID)
}

// IsRunning reports whether a unit for sourceID is in progress in this process
func (r *Runner) IsRunning(sourceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.running[sourceID]
	return busy
}

// =============================================================================
// Due Sources
// =============================================================================

// DueSources lists enabled sources whose next fetch time has passed
func (r *Runner) DueSources(ctx context.Context) ([]*core.Source, error) {
	return r.sources.ListDueSources(ctx, r.now().UTC())
}

// RunDueSources runs every due source one after another and returns the
// results of the units that started. Unit failures are in the results.
func (r *Runner) RunDueSources(ctx context.Context) ([]*RunResult, error) {
	due, err := r.DueSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list due sources: %w", err)
	}

	results := make([]*RunResult, 0, len(due))
	for _, src := range due {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := r.RunSource(ctx, src.ID)
		if result != nil {
			results = append(results, result)
		} else if err != nil {
			r.logger.Debugw("Source unit not started", "source_id", src.ID, "reason", err)
		}
	}
	return results, nil
}

// =============================================================================
// Metrics
// =============================================================================

func recordParseStats(adapter string, stats core.ParseStats) {
	adapter = strings.ToLower(adapter)
	metrics.CandidatesParsed.WithLabelValues(adapter, "accepted").Add(float64(stats.Accepted))
	metrics.CandidatesParsed.WithLabelValues(adapter, "skipped").Add(float64(stats.Skipped))
	metrics.CandidatesParsed.WithLabelValues(adapter, "rejected").Add(float64(stats.Rejected))
}
