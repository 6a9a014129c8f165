package main

import (
	"strings"
	"time"
)

// FormatToken is the quality/format requested by the caller.
type FormatToken string

const (
	FormatMP3     FormatToken = "mp3"
	Format360p    FormatToken = "360p"
	Format720p    FormatToken = "720p"
	Format1080p   FormatToken = "1080p"
	Format1440p   FormatToken = "1440p"
	Format2K      FormatToken = "2k"
	Format4K      FormatToken = "4k"
	FormatDefault FormatToken = "default"
)

// ParseFormatToken normalizes the raw query value. An empty value means default.
func ParseFormatToken(raw string) FormatToken {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" {
		return FormatDefault
	}
	return FormatToken(t)
}

type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformSnapchat  Platform = "snapchat"
	PlatformPinterest Platform = "pinterest"
	PlatformUnknown   Platform = "unknown"
)

// DownloadRequest is built once per inbound request and never mutated.
type DownloadRequest struct {
	URL      string
	Format   FormatToken
	Platform Platform
}

// PostProcess describes a step the engine runs after retrieval.
type PostProcess struct {
	Kind    string
	Codec   string
	Quality string
}

const PostProcessAudioExtract = "audio-extract"

// ExtractionDirective is the engine-facing description of what to fetch.
type ExtractionDirective struct {
	// Selectors is an ordered fallback chain, evaluated left to right.
	Selectors   []string
	Container   string
	PostProcess *PostProcess
}

// Selector joins the fallback chain into a single yt-dlp format expression.
func (d ExtractionDirective) Selector() string {
	return strings.Join(d.Selectors, "/")
}

func (d ExtractionDirective) ExtractsAudio() bool {
	return d.PostProcess != nil && d.PostProcess.Kind == PostProcessAudioExtract
}

type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureRateLimited FailureKind = "rate-limited"
	FailureNotFound    FailureKind = "not-found"
	FailureOther       FailureKind = "other"
)

// ExtractionOutcome is what the retry orchestrator hands back to the handler.
type ExtractionOutcome struct {
	Success  bool
	Path     string
	Title    string
	Failure  FailureKind
	Err      error
	Attempts int
}

type ContentKind string

const (
	ContentAudio ContentKind = "audio"
	ContentVideo ContentKind = "video"
)

// ResolvedOutput is the verified file that will be streamed and then deleted.
type ResolvedOutput struct {
	Path     string
	Kind     ContentKind
	Size     int64
	Filename string
}

func (o ResolvedOutput) ContentType() string {
	if o.Kind == ContentAudio {
		return "audio/mpeg"
	}
	return "video/mp4"
}

type DownloadStatus string

const (
	StatusPending    DownloadStatus = "pending"
	StatusProcessing DownloadStatus = "processing"
	StatusCompleted  DownloadStatus = "completed"
	StatusFailed     DownloadStatus = "failed"
)

// DownloadRecord tracks a single request through the gateway.
type DownloadRecord struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	Format      FormatToken    `json:"format"`
	Platform    Platform       `json:"platform"`
	Status      DownloadStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	Filename    string         `json:"filename,omitempty"`
	Size        int64          `json:"size,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}

type HealthStatus struct {
	Status             string `json:"status"`
	ActiveDownloads    int64  `json:"active_downloads"`
	CompletedDownloads int64  `json:"completed_downloads"`
	FailedDownloads    int64  `json:"failed_downloads"`
	MaxConcurrent      int    `json:"max_concurrent"`
	Uptime             string `json:"uptime"`
	MemoryUsage        string `json:"memory_usage"`
	Store              string `json:"store"`
}
