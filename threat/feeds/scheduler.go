package feeds

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/subrat243/Intelify/metrics"
	"github.com/subrat243/Intelify/util/goroutine"
)

// Job names, also used as metric labels
const (
	JobSources     = "sources"
	JobCorrelation = "correlation"
	JobNews        = "news"
	JobRetention   = "retention"
)

const (
	DefaultMaxConcurrentUnits = 3
	DefaultPassTimeout        = 10 * time.Minute

	defaultTickSchedule        = "@every 1m"
	defaultCorrelationSchedule = "@hourly"
	defaultNewsSchedule        = "@every 30m"
	defaultRetentionSchedule   = "@daily"
)

var (
	ErrPassNotConfigured = errors.New("pass is not configured")
	ErrPassRunning       = errors.New("pass is already running")
	ErrSchedulerStopped  = errors.New("scheduler is stopped")
)

// =============================================================================
// Pipeline Scheduler
// =============================================================================

// Scheduler drives the pipeline: a tick that dispatches due source units and
// the periodic correlation, news and retention passes
type Scheduler struct {
	runner             *Runner
	cron               *cron.Cron
	maxConcurrentUnits int
	passTimeout        time.Duration
	timezone           *time.Location
	tracer             trace.Tracer
	logger             *zap.SugaredLogger

	specs  map[string]string
	passes map[string]PassFunc

	// Unit tracking
	syncingSem chan struct{}
	wg         sync.WaitGroup

	// State
	mu          sync.RWMutex
	running     bool
	jobs        map[string]cron.EntryID
	dispatched  map[string]struct{}
	passRunning map[string]struct{}

	// Shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// SchedulerConfig holds scheduler configuration. Empty schedules fall back to
// the defaults; a nil pass is simply not scheduled.
type SchedulerConfig struct {
	Runner              *Runner
	MaxConcurrentUnits  int
	PassTimeout         time.Duration
	Timezone            string
	TickSchedule        string
	CorrelationSchedule string
	NewsSchedule        string
	RetentionSchedule   string
	Correlation         PassFunc
	News                PassFunc
	Retention           PassFunc
	Tracer              trace.Tracer
	Logger              *zap.SugaredLogger
}

// NewScheduler creates a scheduler and registers its cron jobs
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg == nil || cfg.Runner == nil {
		return nil, fmt.Errorf("%w: runner is required", ErrInvalidConfig)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	tz := time.UTC
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Warnw("Invalid scheduler timezone, using UTC", "timezone", cfg.Timezone, "error", err)
		} else {
			tz = loc
		}
	}

	maxConcurrent := cfg.MaxConcurrentUnits
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentUnits
	}

	passTimeout := cfg.PassTimeout
	if passTimeout <= 0 {
		passTimeout = DefaultPassTimeout
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("intelify/feeds")
	}

	s := &Scheduler{
		runner:             cfg.Runner,
		maxConcurrentUnits: maxConcurrent,
		passTimeout:        passTimeout,
		timezone:           tz,
		tracer:             tracer,
		logger:             logger,
		specs: map[string]string{
			JobSources:     orDefault(cfg.TickSchedule, defaultTickSchedule),
			JobCorrelation: orDefault(cfg.CorrelationSchedule, defaultCorrelationSchedule),
			JobNews:        orDefault(cfg.NewsSchedule, defaultNewsSchedule),
			JobRetention:   orDefault(cfg.RetentionSchedule, defaultRetentionSchedule),
		},
		passes:      make(map[string]PassFunc),
		syncingSem:  make(chan struct{}, maxConcurrent),
		jobs:        make(map[string]cron.EntryID),
		dispatched:  make(map[string]struct{}),
		passRunning: make(map[string]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if cfg.Correlation != nil {
		s.passes[JobCorrelation] = cfg.Correlation
	}
	if cfg.News != nil {
		s.passes[JobNews] = cfg.News
	}
	if cfg.Retention != nil {
		s.passes[JobRetention] = cfg.Retention
	}

	s.cron = cron.New(
		cron.WithLocation(tz),
		cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLogger(cronLogger{logger: logger}),
	)

	if err := s.addJob(JobSources, s.tick); err != nil {
		return nil, err
	}
	for name := range s.passes {
		name := name
		if err := s.addJob(name, func() { s.runScheduledPass(name) }); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (s *Scheduler) addJob(name string, fn func()) error {
	spec := s.specs[name]
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
	}
	s.jobs[name] = id
	return nil
}

// Start starts the cron loop and dispatches any sources already due
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.ctx.Err() != nil {
		return ErrSchedulerStopped
	}

	s.cron.Start()
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick()
	}()

	s.logger.Infow("Pipeline scheduler started",
		"max_concurrent_units", s.maxConcurrentUnits,
		"timezone", s.timezone.String(),
		"tick_schedule", s.specs[JobSources])
	return nil
}

// Stop cancels in-flight work and waits for running jobs and units to return
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.logger.Infow("Pipeline scheduler stopped")
	return nil
}

// IsRunning returns true if scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// NextRuns returns the next activation of every registered job
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]time.Time, len(s.jobs))
	for name, id := range s.jobs {
		entry := s.cron.Entry(id)
		if entry.Valid() && !entry.Next.IsZero() {
			result[name] = entry.Next
		}
	}
	return result
}

// Jobs returns the registered job names, sorted
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// Source Units
// =============================================================================

// tick dispatches every due source that is not already queued or running.
// Units run concurrently up to the semaphore limit, in no particular order.
func (s *Scheduler) tick() {
	defer goroutine.Recover("scheduler tick", s.logger)

	ctx, cancel := context.WithTimeout(s.ctx, s.passTimeout)
	due, err := s.runner.DueSources(ctx)
	cancel()
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Errorw("Failed to list due sources", "error", err)
		}
		return
	}

	dispatched := 0
	for _, src := range due {
		if !s.markDispatched(src.ID) {
			continue
		}
		dispatched++
		s.wg.Add(1)
		go func(id string) {
			defer s.wg.Done()
			defer s.clearDispatched(id)
			if _, err := s.runUnit(s.ctx, id); err != nil && !errors.Is(err, ErrSourceRunning) {
				s.logger.Debugw("Scheduled source unit ended with error", "source_id", id, "error", err)
			}
		}(src.ID)
	}

	if dispatched > 0 {
		s.logger.Debugw("Dispatched due sources", "due", len(due), "dispatched", dispatched)
	}
}

func (s *Scheduler) markDispatched(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dispatched[id]; ok || s.runner.IsRunning(id) {
		return false
	}
	s.dispatched[id] = struct{}{}
	return true
}

func (s *Scheduler) clearDispatched(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dispatched, id)
}

// runUnit runs one source unit once a semaphore slot is free
func (s *Scheduler) runUnit(ctx context.Context, sourceID string) (*RunResult, error) {
	select {
	case s.syncingSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.syncingSem }()

	return s.runner.RunSource(ctx, sourceID)
}

// TriggerSource runs one source unit now, bypassing its next_fetch_at. It
// still honours the concurrency limit.
func (s *Scheduler) TriggerSource(ctx context.Context, sourceID string) (*RunResult, error) {
	return s.runUnit(ctx, sourceID)
}

// =============================================================================
// Passes
// =============================================================================

// TriggerCorrelation runs the correlation pass now
func (s *Scheduler) TriggerCorrelation(ctx context.Context) error {
	return s.runPass(ctx, JobCorrelation)
}

// TriggerNews runs the news fetch and linking pass now
func (s *Scheduler) TriggerNews(ctx context.Context) error {
	return s.runPass(ctx, JobNews)
}

// TriggerRetention runs the retention sweep now
func (s *Scheduler) TriggerRetention(ctx context.Context) error {
	return s.runPass(ctx, JobRetention)
}

func (s *Scheduler) runScheduledPass(name string) {
	err := s.runPass(s.ctx, name)
	if err != nil && !errors.Is(err, ErrPassRunning) && s.ctx.Err() == nil {
		s.logger.Errorw("Scheduled pass failed", "pass", name, "error", err)
	}
}

// runPass runs a named pass under the pass timeout. A pass never overlaps
// with itself.
func (s *Scheduler) runPass(ctx context.Context, name string) (err error) {
	fn, ok := s.passes[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPassNotConfigured, name)
	}

	if !s.beginPass(name) {
		return fmt.Errorf("%w: %s", ErrPassRunning, name)
	}
	defer s.endPass(name)

	passCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	passCtx, span := s.tracer.Start(passCtx, "feeds.Pass", trace.WithAttributes(attribute.String("pass", name)))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.PassDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()
	defer goroutine.RecoverError(name+" pass", s.logger, &err)

	s.logger.Debugw("Pass starting", "pass", name)
	if err := fn(passCtx); err != nil {
		return fmt.Errorf("%s pass: %w", name, err)
	}
	s.logger.Debugw("Pass complete", "pass", name, "duration", time.Since(start))
	return nil
}

func (s *Scheduler) beginPass(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.passRunning[name]; busy {
		return false
	}
	s.passRunning[name] = struct{}{}
	return true
}

func (s *Scheduler) endPass(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.passRunning, name)
}

// =============================================================================
// Cron Logging
// =============================================================================

// cronLogger routes robfig/cron's own logging into zap. Info is debug-level
// noise (every schedule and wake-up).
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
