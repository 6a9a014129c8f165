package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

var ErrOutputMissing = errors.New("output file missing")

const maxFilenameLength = 200

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]+`)

// ResolveOutput reconciles the path reported by the engine with what the
// directive produces on disk. Audio extraction rewrites the extension after
// the engine has reported its path; a video merge may change the container.
func ResolveOutput(reportedPath string, directive ExtractionDirective, title, id string) (ResolvedOutput, error) {
	kind := ContentVideo
	candidates := []string{}

	if reportedPath != "" {
		if directive.ExtractsAudio() {
			kind = ContentAudio
			candidates = append(candidates, replaceExt(reportedPath, directive.PostProcess.Codec))
		} else {
			candidates = append(candidates, reportedPath)
			if directive.Container != "" {
				candidates = append(candidates, replaceExt(reportedPath, directive.Container))
			}
		}
	} else if directive.ExtractsAudio() {
		kind = ContentAudio
	}

	var lastErr error
	for _, p := range candidates {
		size, err := nonEmptyFile(p)
		if err != nil {
			lastErr = err
			continue
		}
		return ResolvedOutput{
			Path:     p,
			Kind:     kind,
			Size:     size,
			Filename: downloadFilename(title, id, filepath.Ext(p)),
		}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: engine reported no output path", ErrOutputMissing)
	}
	return ResolvedOutput{}, lastErr
}

// ResolveOutputByID finds the file written for id in dir when the engine did
// not report a path.
func ResolveOutputByID(dir string, directive ExtractionDirective, title, id string) (ResolvedOutput, error) {
	matches, err := filepath.Glob(filepath.Join(dir, id+".*"))
	if err != nil {
		return ResolvedOutput{}, err
	}
	for _, m := range matches {
		if isPartialDownload(m) {
			continue
		}
		if out, err := ResolveOutput(m, directive, title, id); err == nil {
			return out, nil
		}
	}
	return ResolvedOutput{}, fmt.Errorf("%w: nothing written for %s", ErrOutputMissing, id)
}

func nonEmptyFile(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrOutputMissing, path)
	}
	if !st.Mode().IsRegular() || st.Size() == 0 {
		return 0, fmt.Errorf("%w: %s is empty", ErrOutputMissing, path)
	}
	return st.Size(), nil
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + strings.TrimPrefix(ext, ".")
}

func isPartialDownload(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".part" || ext == ".ytdl" || strings.Contains(path, ".part-")
}

// downloadFilename is the name offered in Content-Disposition.
func downloadFilename(title, id, ext string) string {
	name := SanitizeFilename(title)
	if name == "" {
		name = id
	}
	return name + ext
}

// SanitizeFilename strips characters that are unsafe in file names and
// header values and trims the result to a sane length.
func SanitizeFilename(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " ._")
	for len(name) > maxFilenameLength {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}
