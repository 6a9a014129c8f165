package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	ErrRateLimited    = errors.New("rate limited by upstream")
	ErrExtraction     = errors.New("extraction failed")
	ErrRecordNotFound = errors.New("download not found")
)

// Orchestrator drives the extraction engine, retrying only rate-limited
// failures with exponential backoff. It holds no per-request state; every
// Run owns its attempt counter and delay.
type Orchestrator struct {
	engine         Engine
	agents         *userAgentPool
	cookiesFile    string
	maxAttempts    int
	initialDelay   time.Duration
	jitterMin      time.Duration
	jitterMax      time.Duration
	extractTimeout time.Duration
	logger         *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() time.Duration
}

func NewOrchestrator(cfg Config, engine Engine, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		engine:         engine,
		agents:         newUserAgentPool(cfg.UserAgents),
		cookiesFile:    cfg.CookiesFile,
		maxAttempts:    cfg.MaxAttempts,
		initialDelay:   cfg.InitialDelay,
		jitterMin:      cfg.JitterMin,
		jitterMax:      cfg.JitterMax,
		extractTimeout: cfg.ExtractTimeout,
		logger:         logger,
		sleep:          sleepContext,
	}
	o.jitter = o.randomJitter
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}
	return o
}

// Run performs up to maxAttempts engine calls. A randomized pause precedes
// every attempt; rate-limited failures additionally wait out a delay that
// doubles after each retry. Any other failure ends the run at once.
func (o *Orchestrator) Run(ctx context.Context, url string, directive ExtractionDirective, outputTemplate string) ExtractionOutcome {
	delays := o.newBackOff()
	var lastErr error

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if err := o.sleep(ctx, o.jitter()); err != nil {
			return ExtractionOutcome{Failure: FailureOther, Err: err, Attempts: attempt - 1}
		}

		req := EngineRequest{
			URL:            url,
			Directive:      directive,
			OutputTemplate: outputTemplate,
			CookiesFile:    cookiesIfPresent(o.cookiesFile),
			Headers:        map[string]string{"User-Agent": o.agents.Pick()},
		}
		res, err := o.invoke(ctx, req)
		if err == nil {
			return ExtractionOutcome{Success: true, Path: res.Path, Title: res.Title, Attempts: attempt}
		}

		lastErr = err
		kind := FailureKindOf(err)
		if kind != FailureRateLimited {
			o.logger.Warn("Extraction failed, not retrying", "url", url, "attempt", attempt, "kind", kind, "error", err)
			return ExtractionOutcome{Failure: kind, Err: fmt.Errorf("%w: %v", ErrExtraction, err), Attempts: attempt}
		}
		if attempt == o.maxAttempts {
			break
		}

		delay := delays.NextBackOff()
		o.logger.Warn("Rate limited, backing off", "url", url, "attempt", attempt, "max", o.maxAttempts, "delay", delay)
		if err := o.sleep(ctx, delay); err != nil {
			return ExtractionOutcome{Failure: FailureOther, Err: err, Attempts: attempt}
		}
	}

	return ExtractionOutcome{
		Failure:  FailureRateLimited,
		Err:      fmt.Errorf("%w after %d attempts: %v", ErrRateLimited, o.maxAttempts, lastErr),
		Attempts: o.maxAttempts,
	}
}

// invoke runs one engine call. The call is detached from the caller's
// cancellation so a disconnecting client cannot leave a half-written file
// behind; only extractTimeout bounds it.
func (o *Orchestrator) invoke(ctx context.Context, req EngineRequest) (EngineResult, error) {
	ectx := context.WithoutCancel(ctx)
	if o.extractTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ectx, o.extractTimeout)
		defer cancel()
	}
	return o.engine.Extract(ectx, req)
}

func (o *Orchestrator) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.initialDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = o.initialDelay << uint(o.maxAttempts)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (o *Orchestrator) randomJitter() time.Duration {
	span := o.jitterMax - o.jitterMin
	if span <= 0 {
		return o.jitterMin
	}
	return o.jitterMin + rand.N(span)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecordStore persists DownloadRecords for /status lookups.
type RecordStore interface {
	Save(ctx context.Context, rec *DownloadRecord) error
	Get(ctx context.Context, id string) (*DownloadRecord, error)
	Name() string
	Close() error
}

type memoryRecord struct {
	rec     DownloadRecord
	expires time.Time
}

// memoryStore is used when Redis is not configured or unreachable.
type memoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	ttl     time.Duration
	now     func() time.Time
}

func newMemoryStore(ttl time.Duration) *memoryStore {
	return &memoryStore{
		records: make(map[string]memoryRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *memoryStore) Save(_ context.Context, rec *DownloadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = memoryRecord{rec: *rec, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*DownloadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok || (m.ttl > 0 && m.now().After(r.expires)) {
		return nil, ErrRecordNotFound
	}
	rec := r.rec
	return &rec, nil
}

// Expire drops records past their TTL and reports how many were removed.
func (m *memoryStore) Expire() int {
	if m.ttl <= 0 {
		return 0
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.records {
		if now.After(r.expires) {
			delete(m.records, id)
			n++
		}
	}
	return n
}

func (m *memoryStore) Name() string { return "memory" }

func (m *memoryStore) Close() error { return nil }

// updateRecord moves a record to status and persists it. Store errors are
// logged; a failed status write never fails the download itself.
func (s *Server) updateRecord(ctx context.Context, rec *DownloadRecord, status DownloadStatus, errMsg string) {
	rec.Status = status
	rec.Error = errMsg
	if status == StatusCompleted || status == StatusFailed {
		rec.CompletedAt = time.Now()
	}
	if err := s.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Warn("Failed to save download record", "id", rec.ID, "error", err)
	}
	s.logger.Debug("Download status updated", "id", rec.ID, "status", status, "error", errMsg)
}
