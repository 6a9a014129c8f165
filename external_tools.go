package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/lrstanley/go-ytdlp"
)

// EngineRequest is everything the extraction engine needs for one attempt.
type EngineRequest struct {
	URL            string
	Directive      ExtractionDirective
	OutputTemplate string
	CookiesFile    string
	Headers        map[string]string
}

// EngineResult carries the path the engine reports. For audio extraction this
// is the path before post-processing.
type EngineResult struct {
	Path  string
	Title string
}

// Engine performs retrieval plus any merge/transcode for a single attempt.
type Engine interface {
	Extract(ctx context.Context, req EngineRequest) (EngineResult, error)
}

// EngineError is a classified extraction failure.
type EngineError struct {
	Kind    FailureKind
	Message string
}

func (e *EngineError) Error() string {
	return e.Message
}

// FailureKindOf reports the classification of err, or FailureOther for
// unclassified errors.
func FailureKindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return FailureOther
}

// Markers are matched against lower-cased stderr. Status codes only count in
// their HTTP context; bare digits show up in media IDs and URLs.
var rateLimitMarkers = []string{
	"http error 429",
	"429: too many requests",
	"too many requests",
	"rate-limit",
	"rate limit",
	"rate-limited",
	"sign in to confirm you're not a bot",
}

var notFoundMarkers = []string{
	"video unavailable",
	"http error 404",
	"404: not found",
	"has been removed",
	"private video",
	"this content isn't available",
}

// ClassifyEngineOutput maps yt-dlp stderr to a failure kind.
func ClassifyEngineOutput(output string) FailureKind {
	s := strings.ToLower(output)
	for _, m := range rateLimitMarkers {
		if strings.Contains(s, m) {
			return FailureRateLimited
		}
	}
	for _, m := range notFoundMarkers {
		if strings.Contains(s, m) {
			return FailureNotFound
		}
	}
	return FailureOther
}

// ytdlpEngine drives yt-dlp through go-ytdlp. A fresh command is built per
// attempt so concurrent requests never share builder state.
type ytdlpEngine struct {
	executable string
}

func newYtdlpEngine(executable string) *ytdlpEngine {
	return &ytdlpEngine{executable: executable}
}

func (e *ytdlpEngine) Extract(ctx context.Context, req EngineRequest) (EngineResult, error) {
	dl := ytdlp.New().
		NoPlaylist().
		NoWarnings().
		NoProgress().
		ForceOverwrites().
		PrintJSON().
		Format(req.Directive.Selector()).
		Output(req.OutputTemplate)

	if e.executable != "" && e.executable != DefaultYtdlpPath {
		dl.SetExecutable(e.executable)
	}
	if req.Directive.Container != "" {
		dl.MergeOutputFormat(req.Directive.Container)
	}
	if pp := req.Directive.PostProcess; pp != nil && pp.Kind == PostProcessAudioExtract {
		dl.ExtractAudio().
			AudioFormat(pp.Codec).
			AudioQuality(pp.Quality)
	}
	if req.CookiesFile != "" {
		dl.Cookies(req.CookiesFile)
	}
	for k, v := range req.Headers {
		dl.AddHeaders(k + ":" + v)
	}

	res, err := dl.Run(ctx, req.URL)
	if err != nil {
		detail := err.Error()
		if res != nil && strings.TrimSpace(res.Stderr) != "" {
			detail = strings.TrimSpace(res.Stderr)
		}
		if ctx.Err() != nil {
			return EngineResult{}, &EngineError{Kind: FailureOther, Message: fmt.Sprintf("yt-dlp aborted: %v", ctx.Err())}
		}
		return EngineResult{}, &EngineError{
			Kind:    ClassifyEngineOutput(detail),
			Message: fmt.Sprintf("yt-dlp failed: %s", lastLine(detail)),
		}
	}

	var out EngineResult
	info, err := res.GetExtractedInfo()
	if err == nil && len(info) > 0 {
		if info[0].Filename != nil {
			out.Path = *info[0].Filename
		}
		if info[0].Title != nil {
			out.Title = *info[0].Title
		}
	}
	return out, nil
}

// lastLine keeps error bodies short; yt-dlp puts the useful message last.
func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// userAgentPool hands out a random User-Agent per attempt.
type userAgentPool struct {
	agents []string
}

func newUserAgentPool(agents []string) *userAgentPool {
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	return &userAgentPool{agents: append([]string(nil), agents...)}
}

func (p *userAgentPool) Pick() string {
	return p.agents[rand.IntN(len(p.agents))]
}

// cookiesIfPresent returns path only when the file exists, so a missing
// cookie file never breaks extraction.
func cookiesIfPresent(path string) string {
	if path == "" {
		return ""
	}
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		return ""
	}
	return path
}
