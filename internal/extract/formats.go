package extract

import (
	"errors"
	"strings"

	"github.com/kkdai/youtube/v2"
)

const (
	msgNoAudioFormat = "No audio format available"
	msgNoVideoFormat = "Could not find suitable video/audio formats"
)

func isAudioOnly(f *youtube.Format) bool {
	return f.AudioChannels > 0 && f.Width == 0 && f.Height == 0
}

func isVideoOnly(f *youtube.Format) bool {
	return f.AudioChannels == 0 && f.Width > 0 && f.Height > 0
}

func isProgressive(f *youtube.Format) bool {
	return f.AudioChannels > 0 && f.Width > 0 && f.Height > 0
}

func isMP4(f *youtube.Format) bool {
	return strings.Contains(strings.ToLower(f.MimeType), "mp4")
}

// pickAudioFormat returns the audio-only format with the highest bitrate.
func pickAudioFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !isAudioOnly(f) {
			continue
		}
		if best == nil || bitrateForFormat(f) > bitrateForFormat(best) {
			best = f
		}
	}
	return best
}

// pickVideoOnlyFormat prefers mp4, then height, then bitrate.
func pickVideoOnlyFormat(formats youtube.FormatList) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !isVideoOnly(f) {
			continue
		}
		if best == nil || betterVideoFormat(f, best, true) {
			best = f
		}
	}
	return best
}

// pickProgressiveFormat returns the best format carrying both audio and
// video. With mp4Only set, non-mp4 containers are ignored.
func pickProgressiveFormat(formats youtube.FormatList, mp4Only bool) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !isProgressive(f) {
			continue
		}
		if mp4Only && !isMP4(f) {
			continue
		}
		if best == nil || betterVideoFormat(f, best, true) {
			best = f
		}
	}
	return best
}

func betterVideoFormat(candidate, current *youtube.Format, preferMP4 bool) bool {
	if preferMP4 {
		if cm, bm := isMP4(candidate), isMP4(current); cm != bm {
			return cm
		}
	}
	if candidate.Height != current.Height {
		return candidate.Height > current.Height
	}
	return bitrateForFormat(candidate) > bitrateForFormat(current)
}

func bitrateForFormat(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	return 0
}

func mimeToExt(mime string) string {
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	parts := strings.Split(strings.TrimSpace(mime), "/")
	if len(parts) != 2 {
		return "bin"
	}
	switch parts[1] {
	case "3gpp":
		return "3gp"
	case "mp4":
		if parts[0] == "audio" {
			return "m4a"
		}
		return "mp4"
	default:
		return parts[1]
	}
}

func trackFor(role TrackRole, f *youtube.Format) Track {
	return Track{Role: role, Ext: mimeToExt(f.MimeType), Size: f.ContentLength, format: f}
}

// planFormats decides tracks, post-processing and container for a video's
// format list.
func planFormats(formats youtube.FormatList, kind Kind, encoderAvailable bool) ([]Track, PostProcess, Container, error) {
	if kind == KindAudio {
		audio := pickAudioFormat(formats)
		if audio == nil {
			return nil, PostNone, Container{}, WithMessage(CategoryNoFormat, msgNoAudioFormat, errors.New("no audio-only formats"))
		}
		if encoderAvailable {
			return []Track{trackFor(RoleAudio, audio)}, PostTranscode, Container{ContentType: "audio/mpeg", Ext: "mp3"}, nil
		}
		track := trackFor(RoleMedia, audio)
		return []Track{track}, PostNone, Container{ContentType: "application/octet-stream", Ext: track.Ext}, nil
	}

	if encoderAvailable {
		video := pickVideoOnlyFormat(formats)
		audio := pickAudioFormat(formats)
		if video != nil && audio != nil {
			return []Track{trackFor(RoleVideo, video), trackFor(RoleAudio, audio)}, PostMerge, Container{ContentType: "video/mp4", Ext: "mp4"}, nil
		}
	}

	if progressive := pickProgressiveFormat(formats, true); progressive != nil {
		return []Track{trackFor(RoleMedia, progressive)}, PostNone, Container{ContentType: "video/mp4", Ext: "mp4"}, nil
	}
	if progressive := pickProgressiveFormat(formats, false); progressive != nil {
		track := trackFor(RoleMedia, progressive)
		return []Track{track}, PostNone, Container{ContentType: "application/octet-stream", Ext: track.Ext}, nil
	}
	return nil, PostNone, Container{}, WithMessage(CategoryNoFormat, msgNoVideoFormat, errors.New("no usable video formats"))
}
