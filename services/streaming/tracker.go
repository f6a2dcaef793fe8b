package streaming

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// StreamInfo describes an in-flight stream.
type StreamInfo struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"` // "file" or "remote"
	MediaID       int64     `json:"media_id"`
	MediaType     string    `json:"media_type"`
	Path          string    `json:"path"`
	ClientIP      string    `json:"client_ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	BytesStreamed int64     `json:"bytes_streamed"`
	ContentLength int64     `json:"content_length,omitempty"`
}

// Tracker keeps a registry of active streams for the admin endpoint.
type Tracker struct {
	mu      sync.RWMutex
	streams map[string]*trackedStream
}

type trackedStream struct {
	info  StreamInfo
	bytes atomic.Int64
}

// ActiveStream is the handle returned by Tracker.Begin.
type ActiveStream struct {
	tracker *Tracker
	stream  *trackedStream
	once    sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{streams: make(map[string]*trackedStream)}
}

// Begin registers a stream and assigns it an id. A nil Tracker records nothing.
func (t *Tracker) Begin(info StreamInfo) *ActiveStream {
	if t == nil {
		return nil
	}
	info.ID = uuid.NewString()
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	ts := &trackedStream{info: info}

	t.mu.Lock()
	t.streams[info.ID] = ts
	t.mu.Unlock()

	return &ActiveStream{tracker: t, stream: ts}
}

// Snapshot returns the active streams ordered by start time.
func (t *Tracker) Snapshot() []StreamInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]StreamInfo, 0, len(t.streams))
	for _, ts := range t.streams {
		info := ts.info
		info.BytesStreamed = ts.bytes.Load()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ID returns the tracker-assigned stream id.
func (a *ActiveStream) ID() string {
	if a == nil {
		return ""
	}
	return a.stream.info.ID
}

// Add records n more bytes written to the client.
func (a *ActiveStream) Add(n int) {
	if a == nil {
		return
	}
	a.stream.bytes.Add(int64(n))
}

// Done removes the stream from the registry. Safe to call more than once.
func (a *ActiveStream) Done() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		a.tracker.mu.Lock()
		delete(a.tracker.streams, a.stream.info.ID)
		a.tracker.mu.Unlock()
	})
}
