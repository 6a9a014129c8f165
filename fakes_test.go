package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
)

func discardLogger() *slog.Logger {
	return newLogger(io.Discard, "error")
}

type engineStep func(req EngineRequest) (EngineResult, error)

// scriptedEngine replays steps in order; the last step repeats once the
// script runs out.
type scriptedEngine struct {
	mu    sync.Mutex
	steps []engineStep
	calls []EngineRequest
}

func newScriptedEngine(steps ...engineStep) *scriptedEngine {
	return &scriptedEngine{steps: steps}
}

func (e *scriptedEngine) Extract(_ context.Context, req EngineRequest) (EngineResult, error) {
	e.mu.Lock()
	i := len(e.calls)
	e.calls = append(e.calls, req)
	step := e.steps[min(i, len(e.steps)-1)]
	e.mu.Unlock()
	return step(req)
}

func (e *scriptedEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *scriptedEngine) Requests() []EngineRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]EngineRequest(nil), e.calls...)
}

func rateLimited(EngineRequest) (EngineResult, error) {
	return EngineResult{}, &EngineError{Kind: FailureRateLimited, Message: "yt-dlp failed: HTTP Error 429: Too Many Requests"}
}

func notFound(EngineRequest) (EngineResult, error) {
	return EngineResult{}, &EngineError{Kind: FailureNotFound, Message: "yt-dlp failed: Video unavailable"}
}

func otherFailure(EngineRequest) (EngineResult, error) {
	return EngineResult{}, &EngineError{Kind: FailureOther, Message: "yt-dlp failed: Unsupported URL"}
}

func succeedWith(path, title string) engineStep {
	return func(EngineRequest) (EngineResult, error) {
		return EngineResult{Path: path, Title: title}, nil
	}
}

// writesOutput behaves like yt-dlp: it fills the template with srcExt, writes
// finalExt to disk (the post-processed file) and reports the srcExt path.
func writesOutput(t *testing.T, srcExt, finalExt, title, body string) engineStep {
	return func(req EngineRequest) (EngineResult, error) {
		reported := strings.Replace(req.OutputTemplate, "%(ext)s", srcExt, 1)
		final := strings.Replace(req.OutputTemplate, "%(ext)s", finalExt, 1)
		if err := os.WriteFile(final, []byte(body), 0o644); err != nil {
			t.Errorf("write fake output: %v", err)
		}
		return EngineResult{Path: reported, Title: title}, nil
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ScratchDir = t.TempDir()
	cfg.CookiesFile = ""
	cfg.InitialDelay = 0
	cfg.JitterMin = 0
	cfg.JitterMax = 0
	cfg.RequestsPerSecond = 1000
	cfg.BurstSize = 1000
	return cfg
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o644)
}
