package extract

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/kkdai/youtube/v2"
)

// classificationRule maps lower-cased markers to a category. Rules are
// evaluated in order and the first hit wins.
type classificationRule struct {
	category Category
	markers  []string
}

// The phrases below track the wording YouTube and yt-dlp currently emit and
// will drift as upstream text changes. Private and age rules precede bot
// detection because yt-dlp appends cookie hints ("Sign in to confirm your
// age", "use --cookies") to those messages too.
var classificationTable = []classificationRule{
	{CategoryPrivate, []string{"private video", "this video is private", "user restricted access"}},
	{CategoryAgeRestricted, []string{"confirm your age", "age-restricted", "age restricted"}},
	{CategoryBotDetection, []string{"sign in to confirm you", "not a bot", "cookies"}},
	{CategoryLibraryOutdated, []string{"error when parsing watch.html", "could not extract functions", "could not parse decipher", "cipher not found", "signature timestamp not found"}},
	{CategoryUnavailable, []string{"video unavailable", "unavailable", "deleted"}},
	{CategoryForbidden, []string{"403"}},
}

// Classify maps free-form tool or library error text to a Category.
func Classify(text string) Category {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return CategoryUnknown
	}
	for _, rule := range classificationTable {
		for _, marker := range rule.markers {
			if strings.Contains(lower, marker) {
				return rule.category
			}
		}
	}
	return CategoryUnknown
}

// ClassifyError recognises typed library errors first and falls back to Classify on the text.
func ClassifyError(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	switch {
	case errors.Is(err, youtube.ErrVideoPrivate):
		return CategoryPrivate
	case errors.Is(err, youtube.ErrLoginRequired):
		return CategoryAgeRestricted
	case errors.Is(err, youtube.ErrNotPlayableInEmbed):
		return CategoryUnavailable
	case errors.Is(err, youtube.ErrCipherNotFound), errors.Is(err, youtube.ErrSignatureTimestampNotFound):
		return CategoryLibraryOutdated
	case isUnexpectedStatus(err, http.StatusForbidden):
		return CategoryForbidden
	}

	var playErr *youtube.ErrPlayabiltyStatus
	if errors.As(err, &playErr) {
		if cat := Classify(playErr.Status + " " + playErr.Reason); cat != CategoryUnknown {
			return cat
		}
		return CategoryUnavailable
	}

	if cat := Classify(err.Error()); cat != CategoryUnknown {
		return cat
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}
	var statusErr youtube.ErrUnexpectedStatusCode
	if errors.As(err, &statusErr) {
		return CategoryNetwork
	}
	return CategoryUnknown
}

func isUnexpectedStatus(err error, code int) bool {
	var statusErr youtube.ErrUnexpectedStatusCode
	if errors.As(err, &statusErr) {
		return int(statusErr) == code
	}
	return false
}
