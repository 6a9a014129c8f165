package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// extractionSlots caps the number of engine runs in flight. Requests beyond
// the cap wait for a slot or for their context to end.
type extractionSlots struct {
	sem chan struct{}
}

func newExtractionSlots(n int) *extractionSlots {
	if n < 1 {
		n = 1
	}
	return &extractionSlots{sem: make(chan struct{}, n)}
}

func (s *extractionSlots) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *extractionSlots) Release() {
	<-s.sem
}

func (s *extractionSlots) InUse() int { return len(s.sem) }

func (s *extractionSlots) Cap() int { return cap(s.sem) }

// scratchSweeper removes files that outlived a request, e.g. after a crash
// between extraction and cleanup, and expires in-memory records.
type scratchSweeper struct {
	dir      string
	ttl      time.Duration
	interval time.Duration
	store    RecordStore
	logger   *slog.Logger
	now      func() time.Time
}

func (s *scratchSweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep deletes scratch files older than ttl and returns how many it removed.
func (s *scratchSweeper) Sweep() int {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	cutoff := now().Add(-s.ttl)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("Scratch sweep failed", "dir", s.dir, "error", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove stale file", "path", path, "error", err)
			continue
		}
		removed++
	}

	if m, ok := s.store.(*memoryStore); ok {
		if n := m.Expire(); n > 0 {
			s.logger.Debug("Expired download records", "count", n)
		}
	}
	if removed > 0 {
		s.logger.Info("🧹 Cleaned up stale scratch files", "count", removed, "older_than", s.ttl)
	}
	return removed
}
