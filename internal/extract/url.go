package extract

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/kkdai/youtube/v2"
)

const msgInvalidURL = "Invalid YouTube URL. Please make sure you entered a valid YouTube video URL."

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ValidateURL accepts http(s) URLs on a YouTube host that name a video, and
// scheme-less input the library resolves to a well-formed video id.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return WithMessage(CategoryInvalidInput, "URL is required", nil)
	}
	if strings.Contains(raw, "://") {
		if isYouTubeVideoURL(raw) {
			return nil
		}
	} else if isBareVideoID(raw) {
		return nil
	}
	return WithMessage(CategoryInvalidInput, msgInvalidURL, errors.New("not a youtube video url"))
}

// isBareVideoID reports whether ExtractVideoID yields a real id. The library
// returns fragments of arbitrary input for strings it cannot match.
func isBareVideoID(raw string) bool {
	id, err := youtube.ExtractVideoID(raw)
	return err == nil && videoIDPattern.MatchString(id)
}

func isYouTubeVideoURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return false
	}
	host := normalizeHostname(parsed)
	path := strings.Trim(parsed.Path, "/")
	switch host {
	case "youtu.be":
		return path != "" && !strings.Contains(path, "/")
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if parsed.Query().Get("v") != "" {
			return true
		}
		parts := strings.Split(path, "/")
		return len(parts) == 2 && parts[1] != "" && (parts[0] == "shorts" || parts[0] == "live" || parts[0] == "embed")
	}
	return false
}

// normalizeHostname lowercases the host, strips the port and any "www." prefix.
func normalizeHostname(parsed *url.URL) string {
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}
