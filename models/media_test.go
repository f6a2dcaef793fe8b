package models_test

import (
	"errors"
	"testing"

	"mediarelay/models"
)

func TestParseMediaKind(t *testing.T) {
	for _, value := range []string{"audio", "video", "radio", " Radio "} {
		if _, err := models.ParseMediaKind(value); err != nil {
			t.Fatalf("ParseMediaKind(%q) error = %v", value, err)
		}
	}

	if _, err := models.ParseMediaKind("foo"); !errors.Is(err, models.ErrInvalidMediaKind) {
		t.Fatalf("ParseMediaKind(foo) err = %v, want ErrInvalidMediaKind", err)
	}
}

func TestSourceDescriptorLocation(t *testing.T) {
	file := models.LocalFile("/srv/music/a.mp3")
	if file.Kind != models.SourceLocalFile || file.Location() != "/srv/music/a.mp3" {
		t.Fatalf("unexpected local descriptor: %+v", file)
	}

	remote := models.RemoteURL("https://radio.example/stream")
	if remote.Kind != models.SourceRemoteURL || remote.Location() != "https://radio.example/stream" {
		t.Fatalf("unexpected remote descriptor: %+v", remote)
	}

	if !models.MediaAudio.IsLocal() || !models.MediaVideo.IsLocal() || models.MediaRadio.IsLocal() {
		t.Fatalf("IsLocal() reported wrong locality")
	}
}

func TestParseRadioQuality(t *testing.T) {
	tests := map[string]models.RadioQuality{
		"":       models.QualityUnset,
		"l":      models.QualityLow,
		"Medium": models.QualityMedium,
		" high ": models.QualityHigh,
		"H":      models.QualityHigh,
	}
	for value, want := range tests {
		got, err := models.ParseRadioQuality(value)
		if err != nil || got != want {
			t.Fatalf("ParseRadioQuality(%q) = %q, %v; want %q", value, got, err, want)
		}
	}

	if _, err := models.ParseRadioQuality("ultra"); !errors.Is(err, models.ErrInvalidRadioQuality) {
		t.Fatalf("ParseRadioQuality(ultra) err = %v, want ErrInvalidRadioQuality", err)
	}
}
