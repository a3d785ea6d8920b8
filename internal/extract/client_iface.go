package extract

import (
	"context"
	"io"

	"github.com/kkdai/youtube/v2"
)

// YouTubeClient is the subset of *youtube.Client the library backend needs.
type YouTubeClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)
	// SetChunkSize configures the chunk size for stream downloads.
	SetChunkSize(size int64)
}

// youtubeClientAdapter wraps *youtube.Client to satisfy YouTubeClient.
type youtubeClientAdapter struct {
	*youtube.Client
}

func (a *youtubeClientAdapter) SetChunkSize(s int64) { a.Client.ChunkSize = s }

var _ YouTubeClient = (*youtubeClientAdapter)(nil)
