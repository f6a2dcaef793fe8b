package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"mediarelay/internal/httprange"
	"mediarelay/models"
	"mediarelay/services/streaming"
)

type mediaDispatcher interface {
	Dispatch(ctx context.Context, media models.MediaRequest, rangeHeader, method string) (*streaming.Response, error)
}

type mediaCatalog interface {
	IncrementPlayCount(ctx context.Context, kind models.MediaKind, id int64) error
	UpdateDuration(ctx context.Context, kind models.MediaKind, id int64, d time.Duration) error
}

var _ mediaDispatcher = (*streaming.Dispatcher)(nil)

// MediaHandler serves media bytes and the catalog counters the player reports back.
type MediaHandler struct {
	dispatcher mediaDispatcher
	catalog    mediaCatalog
	tracker    *streaming.Tracker
}

func NewMediaHandler(dispatcher mediaDispatcher, catalog mediaCatalog, tracker *streaming.Tracker) *MediaHandler {
	return &MediaHandler{dispatcher: dispatcher, catalog: catalog, tracker: tracker}
}

// Register mounts the media routes on r.
func (h *MediaHandler) Register(r *mux.Router) {
	r.HandleFunc("/media", h.Stream).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/media/play-count", h.PlayCount).Methods(http.MethodPost)
	r.HandleFunc("/media/duration", h.Duration).Methods(http.MethodPost)
}

// parseMediaRequest reads id and media_type; "type" is accepted as an alias of media_type.
func parseMediaRequest(values url.Values) (models.MediaRequest, error) {
	rawKind := values.Get("media_type")
	if rawKind == "" {
		rawKind = values.Get("type")
	}
	kind, err := models.ParseMediaKind(rawKind)
	if err != nil {
		return models.MediaRequest{}, fmt.Errorf("%w: %w %q", streaming.ErrBadRequest, err, rawKind)
	}

	rawID := strings.TrimSpace(values.Get("id"))
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return models.MediaRequest{}, fmt.Errorf("%w: invalid media id %q", streaming.ErrBadRequest, rawID)
	}

	return models.MediaRequest{ID: id, Kind: kind}, nil
}

// Stream resolves the requested media and writes its bytes chunk by chunk.
func (h *MediaHandler) Stream(w http.ResponseWriter, r *http.Request) {
	media, err := parseMediaRequest(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	rangeHeader := r.Header.Get("Range")
	log.Printf("[media] request id=%d type=%s method=%s range=%q", media.ID, media.Kind, r.Method, rangeHeader)

	resp, err := h.dispatcher.Dispatch(r.Context(), media, rangeHeader, r.Method)
	if err != nil {
		log.Printf("[media] setup failed id=%d type=%s err=%v", media.ID, media.Kind, err)
		writeError(w, err)
		return
	}
	defer resp.Close()

	for key, values := range resp.Headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	if resp.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}

	sourceType := models.SourceRemoteURL.String()
	if media.Kind.IsLocal() {
		sourceType = models.SourceLocalFile.String()
	}
	active := h.tracker.Begin(streaming.StreamInfo{
		Type:          sourceType,
		MediaID:       media.ID,
		MediaType:     media.Kind.String(),
		Path:          resp.Filename,
		ClientIP:      clientIP(r),
		UserAgent:     r.UserAgent(),
		ContentLength: resp.ContentLength,
	})
	defer active.Done()

	written, err := copyChunks(r.Context(), w, resp.Body, active)
	switch {
	case err == nil:
		log.Printf("[media] complete id=%d type=%s bytes=%d", media.ID, media.Kind, written)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Printf("[media] client gone id=%d type=%s bytes=%d", media.ID, media.Kind, written)
	default:
		log.Printf("[media] stream aborted id=%d type=%s bytes=%d err=%v", media.ID, media.Kind, written, err)
		// headers are already out; cut the connection so a chunked body is not terminated cleanly
		panic(http.ErrAbortHandler)
	}
}

// copyChunks pulls one chunk at a time and flushes it before asking for the next.
func copyChunks(ctx context.Context, w http.ResponseWriter, body streaming.ChunkSource, active *streaming.ActiveStream) (int64, error) {
	flusher, _ := w.(http.Flusher)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		chunk, readErr := body.ReadChunk(ctx)
		if len(chunk) > 0 {
			n, writeErr := w.Write(chunk)
			written += int64(n)
			active.Add(n)
			if writeErr != nil {
				return written, fmt.Errorf("write to client: %w", writeErr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(readErr, io.EOF) {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// PlayCount increments the play counter of the posted item.
func (h *MediaHandler) PlayCount(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	media, err := parseMediaRequest(r.Form)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.catalog.IncrementPlayCount(r.Context(), media.Kind, media.ID); err != nil {
		log.Printf("[media] play count failed id=%d type=%s err=%v", media.ID, media.Kind, err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Duration stores the duration in seconds reported by the player for a local item.
func (h *MediaHandler) Duration(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	media, err := parseMediaRequest(r.Form)
	if err != nil {
		writeError(w, err)
		return
	}
	if !media.Kind.IsLocal() {
		http.Error(w, "duration is only stored for audio and video", http.StatusBadRequest)
		return
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(r.Form.Get("duration")), 64)
	if err != nil || seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		http.Error(w, "invalid duration", http.StatusBadRequest)
		return
	}

	d := time.Duration(seconds * float64(time.Second))
	if err := h.catalog.UpdateDuration(r.Context(), media.Kind, media.ID, d); err != nil {
		log.Printf("[media] duration update failed id=%d type=%s err=%v", media.ID, media.Kind, err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError turns a setup failure into a complete HTTP error response.
func writeError(w http.ResponseWriter, err error) {
	status := streaming.StatusCode(err)

	var rangeErr *streaming.RangeError
	if status == http.StatusRequestedRangeNotSatisfiable {
		if errors.As(err, &rangeErr) && rangeErr.Size >= 0 {
			w.Header().Set("Content-Range", httprange.UnsatisfiedRange(rangeErr.Size))
		}
		w.WriteHeader(status)
		return
	}

	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	http.Error(w, message, status)
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
