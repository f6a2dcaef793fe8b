package streaming_test

import (
	"testing"

	"mediarelay/services/streaming"
)

func TestTrackerLifecycle(t *testing.T) {
	tracker := streaming.NewTracker()

	first := tracker.Begin(streaming.StreamInfo{Type: "file", MediaID: 1, Path: "/a.mp3"})
	second := tracker.Begin(streaming.StreamInfo{Type: "remote", MediaID: 2, Path: "http://radio"})
	if first.ID() == "" || first.ID() == second.ID() {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", first.ID(), second.ID())
	}

	first.Add(100)
	first.Add(28)

	snapshot := tracker.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("expected 2 active streams, got %d", len(snapshot))
	}
	for _, info := range snapshot {
		if info.ID == first.ID() && info.BytesStreamed != 128 {
			t.Fatalf("BytesStreamed = %d, want 128", info.BytesStreamed)
		}
	}

	first.Done()
	first.Done()
	if got := len(tracker.Snapshot()); got != 1 {
		t.Fatalf("expected 1 active stream after Done, got %d", got)
	}

	second.Done()
	if got := len(tracker.Snapshot()); got != 0 {
		t.Fatalf("expected no active streams, got %d", got)
	}
}

func TestNilActiveStreamIsSafe(t *testing.T) {
	var stream *streaming.ActiveStream
	stream.Add(10)
	stream.Done()
	if stream.ID() != "" {
		t.Fatalf("nil stream should have empty id")
	}
}
