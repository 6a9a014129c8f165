package main

import (
	"errors"
	"fmt"
)

var ErrInvalidFormat = errors.New("invalid format")

const (
	audioCodec     = "mp3"
	audioQuality   = "192"
	videoContainer = "mp4"

	bestAudioSelector = "bestaudio/best"
	bestVideoSelector = "bestvideo+bestaudio/best"
)

// Height caps tried in order for each tier. A source lacking the requested
// height falls through to the next lower cap.
var tierHeights = map[FormatToken][]int{
	Format360p:  {360},
	Format720p:  {720, 360},
	Format1080p: {1080, 720, 360},
	Format1440p: {1440, 1080, 720, 360},
	Format2K:    {1440, 1080, 720, 360},
	Format4K:    {2160, 1440, 1080, 720, 360},
}

// ResolveDirective maps a requested format and platform to the directive handed
// to the extraction engine. Only YouTube enforces the token vocabulary; other
// platforms always get best video+audio unless audio was asked for.
func ResolveDirective(token FormatToken, platform Platform) (ExtractionDirective, error) {
	if token == FormatMP3 {
		return audioDirective(), nil
	}
	if platform != PlatformYouTube {
		return bestDirective(), nil
	}
	if token == FormatDefault {
		return bestDirective(), nil
	}

	heights, ok := tierHeights[token]
	if !ok {
		return ExtractionDirective{}, fmt.Errorf("%w: %s", ErrInvalidFormat, token)
	}
	selectors := make([]string, 0, len(heights))
	for _, h := range heights {
		selectors = append(selectors, fmt.Sprintf("bestvideo[height<=%d]+bestaudio", h))
	}
	return ExtractionDirective{Selectors: selectors, Container: videoContainer}, nil
}

func audioDirective() ExtractionDirective {
	return ExtractionDirective{
		Selectors: []string{bestAudioSelector},
		PostProcess: &PostProcess{
			Kind:    PostProcessAudioExtract,
			Codec:   audioCodec,
			Quality: audioQuality,
		},
	}
}

func bestDirective() ExtractionDirective {
	return ExtractionDirective{Selectors: []string{bestVideoSelector}, Container: videoContainer}
}
