package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidMediaKind is returned when a media_type value is not one of audio, video or radio.
var ErrInvalidMediaKind = errors.New("invalid media type")

// MediaKind identifies which catalog table a media id refers to.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
	MediaRadio MediaKind = "radio"
)

// ParseMediaKind validates a client-supplied media type.
func ParseMediaKind(value string) (MediaKind, error) {
	switch kind := MediaKind(strings.ToLower(strings.TrimSpace(value))); kind {
	case MediaAudio, MediaVideo, MediaRadio:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMediaKind, value)
	}
}

// IsLocal reports whether media of this kind is served from the local filesystem.
func (k MediaKind) IsLocal() bool {
	return k == MediaAudio || k == MediaVideo
}

func (k MediaKind) String() string { return string(k) }

// MediaRequest is the (id, kind) pair extracted from an incoming request.
type MediaRequest struct {
	ID   int64     `json:"id"`
	Kind MediaKind `json:"mediaType"`
}

// SourceKind tags a SourceDescriptor.
type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceLocalFile
	SourceRemoteURL
)

func (k SourceKind) String() string {
	switch k {
	case SourceLocalFile:
		return "file"
	case SourceRemoteURL:
		return "remote"
	default:
		return "unknown"
	}
}

// SourceDescriptor says where the bytes of a media item come from.
type SourceDescriptor struct {
	Kind SourceKind
	Path string
	URL  string
}

// LocalFile describes a file on the local filesystem.
func LocalFile(path string) SourceDescriptor {
	return SourceDescriptor{Kind: SourceLocalFile, Path: path}
}

// RemoteURL describes a remote origin reached over http or https.
func RemoteURL(url string) SourceDescriptor {
	return SourceDescriptor{Kind: SourceRemoteURL, URL: url}
}

// Location returns the path or URL, whichever the descriptor holds.
func (d SourceDescriptor) Location() string {
	if d.Kind == SourceRemoteURL {
		return d.URL
	}
	return d.Path
}

// ErrInvalidRadioQuality is returned for a quality label other than low, medium or high.
var ErrInvalidRadioQuality = errors.New("invalid radio quality")

// RadioQuality labels the bitrate class of a radio station.
type RadioQuality string

const (
	QualityUnset  RadioQuality = ""
	QualityLow    RadioQuality = "low"
	QualityMedium RadioQuality = "medium"
	QualityHigh   RadioQuality = "high"
)

// ParseRadioQuality accepts the full labels and their one-letter forms.
func ParseRadioQuality(value string) (RadioQuality, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return QualityUnset, nil
	case "l", "low":
		return QualityLow, nil
	case "m", "medium":
		return QualityMedium, nil
	case "h", "high":
		return QualityHigh, nil
	default:
		return QualityUnset, fmt.Errorf("%w: %q", ErrInvalidRadioQuality, value)
	}
}

// MediaItem is a catalog row. Radio items store their stream URL in Path.
type MediaItem struct {
	ID        int64         `json:"id"`
	Kind      MediaKind     `json:"mediaType"`
	Title     string        `json:"title"`
	Path      string        `json:"path"`
	FileSize  int64         `json:"fileSize,omitempty"`
	MD5Hex    string        `json:"md5,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Quality   RadioQuality  `json:"quality,omitempty"`
	PlayCount int           `json:"playCount"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}
