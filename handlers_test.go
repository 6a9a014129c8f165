package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDownloadID = "0b6c5b2e-2a7e-4d8e-9c1f-3f0f6b8a1d22"

func newTestServer(t *testing.T, engine Engine) (*Server, Config) {
	t.Helper()
	cfg := testConfig(t)
	srv := NewServer(cfg, engine, newMemoryStore(cfg.RecordTTL), discardLogger())
	srv.newID = func() string { return testDownloadID }
	return srv, cfg
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func downloadURL(mediaURL, format string) string {
	q := url.Values{}
	if mediaURL != "" {
		q.Set("url", mediaURL)
	}
	if format != "" {
		q.Set("format", format)
	}
	return "/download?" + q.Encode()
}

func scratchEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRoot(t *testing.T) {
	srv, _ := newTestServer(t, newScriptedEngine(otherFailure))
	rr := get(t, srv.Routes(), "/")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, livenessMessage, rr.Body.String())
}

func TestUnknownPathIs404(t *testing.T) {
	srv, _ := newTestServer(t, newScriptedEngine(otherFailure))
	rr := get(t, srv.Routes(), "/nope")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDownload_MissingURL(t *testing.T) {
	engine := newScriptedEngine(otherFailure)
	srv, _ := newTestServer(t, engine)

	rr := get(t, srv.Routes(), "/download")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"No URL provided"}`, rr.Body.String())
	assert.Equal(t, 0, engine.Calls())
}

func TestDownload_InvalidFormatOnYouTube(t *testing.T) {
	engine := newScriptedEngine(otherFailure)
	srv, _ := newTestServer(t, engine)

	rr := get(t, srv.Routes(), downloadURL("https://www.youtube.com/watch?v=abc", "bogus"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"Invalid format: bogus"}`, rr.Body.String())
	assert.Equal(t, 0, engine.Calls())
}

func TestDownload_MP3StreamsAndRemovesFile(t *testing.T) {
	engine := newScriptedEngine(writesOutput(t, "webm", "mp3", "My Song", "ID3-audio-bytes"))
	srv, cfg := newTestServer(t, engine)

	rr := get(t, srv.Routes(), downloadURL("https://youtu.be/abc", "mp3"))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "audio/mpeg", rr.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="My Song.mp3"`, rr.Header().Get("Content-Disposition"))
	assert.Equal(t, "15", rr.Header().Get("Content-Length"))
	assert.Equal(t, testDownloadID, rr.Header().Get("X-Download-ID"))
	assert.Equal(t, "ID3-audio-bytes", rr.Body.String())
	assert.Empty(t, scratchEntries(t, cfg.ScratchDir), "output must be deleted once the response is sent")

	reqs := engine.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Directive.ExtractsAudio())

	rec, err := srv.store.Get(t.Context(), testDownloadID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "My Song.mp3", rec.Filename)
	assert.Equal(t, int64(1), srv.stats.completed.Load())
	assert.Equal(t, int64(0), srv.stats.active.Load())
}

func TestDownload_VideoDefaultFormat(t *testing.T) {
	engine := newScriptedEngine(writesOutput(t, "mp4", "mp4", "", "video-bytes"))
	srv, cfg := newTestServer(t, engine)

	rr := get(t, srv.Routes(), downloadURL("https://www.tiktok.com/@u/video/1", "4k"))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "video/mp4", rr.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename="+testDownloadID+".mp4", rr.Header().Get("Content-Disposition"))
	assert.Equal(t, "video-bytes", rr.Body.String())
	assert.Empty(t, scratchEntries(t, cfg.ScratchDir))

	assert.Equal(t, []string{bestVideoSelector}, engine.Requests()[0].Directive.Selectors)
}

func TestDownload_RetriesRateLimitThenSucceeds(t *testing.T) {
	engine := newScriptedEngine(rateLimited, rateLimited, writesOutput(t, "mp4", "mp4", "clip", "ok"))
	srv, _ := newTestServer(t, engine)

	rr := get(t, srv.Routes(), downloadURL("https://youtu.be/abc", "720p"))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 3, engine.Calls())
	rec, err := srv.store.Get(t.Context(), testDownloadID)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Attempts)
}

func TestDownload_RateLimitExhausted(t *testing.T) {
	engine := newScriptedEngine(rateLimited)
	srv, cfg := newTestServer(t, engine)

	rr := get(t, srv.Routes(), downloadURL("https://youtu.be/abc", "1080p"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "rate limited by upstream after 3 attempts")
	assert.Equal(t, 3, engine.Calls())
	assert.Empty(t, scratchEntries(t, cfg.ScratchDir))

	rec, err := srv.store.Get(t.Context(), testDownloadID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, int64(1), srv.stats.rateLimited.Load())
}

func TestDownload_NonRetryableFailure(t *testing.T) {
	engine := newScriptedEngine(otherFailure)
	srv, _ := newTestServer(t, engine)

	rr := get(t, srv.Routes(), downloadURL("https://youtu.be/abc", ""))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "Unsupported URL")
	assert.Equal(t, 1, engine.Calls())
}

func TestDownload_OutputMissing(t *testing.T) {
	engine := newScriptedEngine(succeedWith("/does/not/exist.webm", "t"))
	srv, _ := newTestServer(t, engine)

	rr := get(t, srv.Routes(), downloadURL("https://youtu.be/abc", "mp3"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "output file missing")
	assert.Equal(t, int64(1), srv.stats.failed.Load())
}

func TestDownload_UnreportedPathFoundByID(t *testing.T) {
	engine := newScriptedEngine(func(req EngineRequest) (EngineResult, error) {
		res, err := writesOutput(t, "webm", "mp3", "", "abc")(req)
		res.Path = ""
		return res, err
	})
	srv, cfg := newTestServer(t, engine)

	rr := get(t, srv.Routes(), downloadURL("https://youtu.be/abc", "mp3"))

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "abc", rr.Body.String())
	assert.Empty(t, scratchEntries(t, cfg.ScratchDir))
}

func TestDownload_MethodNotAllowed(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodHead, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			engine := newScriptedEngine(writesOutput(t, "mp4", "mp4", "", "v"))
			srv, cfg := newTestServer(t, engine)

			rr := httptest.NewRecorder()
			srv.Routes().ServeHTTP(rr, httptest.NewRequest(method, downloadURL("https://youtu.be/abc", ""), nil))

			assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
			assert.Equal(t, 0, engine.Calls(), "no extraction for %s", method)
			assert.Empty(t, scratchEntries(t, cfg.ScratchDir))
		})
	}
}

func TestDownload_LogsLifecycle(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig(t)
	srv := NewServer(cfg, newScriptedEngine(rateLimited), newMemoryStore(cfg.RecordTTL), newLogger(&buf, "debug"))
	srv.newID = func() string { return testDownloadID }

	get(t, srv.Routes(), downloadURL("https://youtu.be/abc", "mp3"))

	out := buf.String()
	assert.Contains(t, out, "⬇️  Download requested")
	assert.Contains(t, out, "Rate limited, backing off")
	assert.Contains(t, out, "❌ Download failed")
	assert.Contains(t, out, "Request served")
	assert.NotContains(t, out, "| download failed")
}

func TestStatus(t *testing.T) {
	engine := newScriptedEngine(writesOutput(t, "mp4", "mp4", "", "v"))
	srv, _ := newTestServer(t, engine)
	h := srv.Routes()

	rr := get(t, h, "/status/"+testDownloadID)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"error":"Download not found"}`, rr.Body.String())

	require.Equal(t, http.StatusOK, get(t, h, downloadURL("https://youtu.be/abc", "")).Code)

	rr = get(t, h, "/status/"+testDownloadID)
	require.Equal(t, http.StatusOK, rr.Code)
	var rec DownloadRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, testDownloadID, rec.ID)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, PlatformYouTube, rec.Platform)
	assert.Equal(t, FormatDefault, rec.Format)
}

func TestHealthAndStats(t *testing.T) {
	srv, _ := newTestServer(t, newScriptedEngine(otherFailure))
	h := srv.Routes()

	get(t, h, downloadURL("https://youtu.be/abc", ""))

	rr := get(t, h, "/health")
	require.Equal(t, http.StatusOK, rr.Code)
	var health HealthStatus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, int64(1), health.FailedDownloads)
	assert.Equal(t, DefaultMaxConcurrentDownloads, health.MaxConcurrent)
	assert.Equal(t, "memory", health.Store)
	assert.NotEmpty(t, health.MemoryUsage)

	rr = get(t, h, "/stats")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats["failed_downloads"])
	assert.EqualValues(t, 0, stats["success_rate"])

	rr = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"slots_in_use":0`)
}
