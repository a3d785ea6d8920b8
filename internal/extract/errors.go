package extract

import (
	"errors"
	"fmt"
)

// Category is a coarse classification of an extraction or delivery failure.
type Category string

const (
	CategoryUnknown            Category = "unknown"
	CategoryBotDetection       Category = "bot_detection"
	CategoryPrivate            Category = "private"
	CategoryAgeRestricted      Category = "age_restricted"
	CategoryUnavailable        Category = "unavailable"
	CategoryForbidden          Category = "forbidden"
	CategoryNetwork            Category = "network"
	CategoryLibraryOutdated    Category = "library_outdated"
	CategoryEncoder            Category = "encoder"
	CategoryNoFormat           Category = "no_format"
	CategoryBackendUnavailable Category = "backend_unavailable"
	CategoryInvalidInput       Category = "invalid_input"
	CategoryTool               Category = "tool"
)

const installGuidance = "Download tooling is not available on the server. Install yt-dlp (pip install -U yt-dlp, brew install yt-dlp, or place the binary in ./bin) and restart the server."

var userMessages = map[Category]string{
	CategoryBotDetection:       "YouTube is blocking automated access with yt-dlp. The server will try to use an alternative method, but this video may require authentication. If this persists, try again later or use a different video.",
	CategoryPrivate:            "This video is private and cannot be downloaded.",
	CategoryAgeRestricted:      "This video is age-restricted and cannot be downloaded.",
	CategoryUnavailable:        "This video is unavailable. It may have been deleted or is restricted in your region.",
	CategoryForbidden:          "YouTube blocked the download request (403 Forbidden). YouTube may be blocking automated requests. Please try again in a few minutes or use a different video.",
	CategoryNetwork:            "Network error while downloading. Please try again.",
	CategoryLibraryOutdated:    "YouTube has changed its page format and the built-in downloader can no longer read it. " + installGuidance,
	CategoryBackendUnavailable: installGuidance,
}

// CategorizedError attaches a Category to an underlying error. Message, when
// set, is shown to users verbatim instead of the category default.
type CategorizedError struct {
	Category Category
	Message  string
	Err      error
}

func (e *CategorizedError) Error() string {
	if e.Err == nil {
		if e.Message != "" {
			return e.Message
		}
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

func wrapCategory(category Category, err error) error {
	if err == nil {
		return nil
	}
	var existing *CategorizedError
	if errors.As(err, &existing) {
		return err
	}
	return &CategorizedError{Category: category, Err: err}
}

// WithMessage returns a categorized error whose user-facing text is message.
func WithMessage(category Category, message string, err error) error {
	if err == nil {
		err = errors.New(message)
	}
	return &CategorizedError{Category: category, Message: message, Err: err}
}

// Errorf builds a categorized error whose formatted text is also the user message.
func Errorf(category Category, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &CategorizedError{Category: category, Message: msg, Err: errors.New(msg)}
}

// CategoryOf reports the category carried by err, classifying raw errors on the fly.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}
	return ClassifyError(err)
}

// UserMessage returns the text a client should see for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		if catErr.Message != "" {
			return catErr.Message
		}
		if msg, ok := userMessages[catErr.Category]; ok {
			return msg
		}
		return err.Error()
	}
	if msg, ok := userMessages[ClassifyError(err)]; ok {
		return msg
	}
	return err.Error()
}
