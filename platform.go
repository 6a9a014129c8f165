package main

import "strings"

// Order matters: the first matching token wins.
var platformTokens = []struct {
	token    string
	platform Platform
}{
	{"youtube.com", PlatformYouTube},
	{"youtu.be", PlatformYouTube},
	{"instagram.com", PlatformInstagram},
	{"instagr.am", PlatformInstagram},
	{"tiktok.com", PlatformTikTok},
	{"snapchat.com", PlatformSnapchat},
	{"pinterest.", PlatformPinterest},
	{"pin.it", PlatformPinterest},
}

// ClassifyPlatform maps a URL to a coarse platform tag by substring match.
func ClassifyPlatform(rawURL string) Platform {
	u := strings.ToLower(rawURL)
	for _, p := range platformTokens {
		if strings.Contains(u, p.token) {
			return p.platform
		}
	}
	return PlatformUnknown
}
