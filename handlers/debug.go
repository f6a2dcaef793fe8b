package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// maxPlayerLogEntries caps how many entries one report may carry.
const maxPlayerLogEntries = 200

// DebugHandler records diagnostics posted by the web player.
type DebugHandler struct {
	logger *log.Logger
}

type playerLogEntry struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type playerLogRequest struct {
	SessionID string           `json:"sessionId"`
	UserAgent string           `json:"userAgent"`
	MediaID   int64            `json:"mediaId"`
	MediaType string           `json:"mediaType"`
	Entries   []playerLogEntry `json:"entries"`
}

func NewDebugHandler(logger *log.Logger) *DebugHandler {
	h := &DebugHandler{logger: logger}
	if h.logger == nil {
		h.logger = log.New(os.Stdout, "", log.LstdFlags)
	}
	return h
}

func (h *DebugHandler) Register(r *mux.Router) {
	r.HandleFunc("/debug/player-log", h.Capture).Methods(http.MethodPost)
}

// Capture writes each posted player log entry as one server log line.
func (h *DebugHandler) Capture(w http.ResponseWriter, r *http.Request) {
	var payload playerLogRequest
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := decoder.Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}

	entries := payload.Entries
	if len(entries) > maxPlayerLogEntries {
		entries = entries[:maxPlayerLogEntries]
	}

	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		sessionID = fmt.Sprintf("anonymous-%d", time.Now().UnixNano())
	}
	ua := strings.TrimSpace(payload.UserAgent)
	if ua == "" {
		ua = r.UserAgent()
	}
	remote := clientIP(r)

	logged := 0
	for _, entry := range entries {
		message := strings.TrimSpace(entry.Message)
		if message == "" {
			continue
		}
		level := strings.ToUpper(strings.TrimSpace(entry.Level))
		if level == "" {
			level = "LOG"
		}
		timestamp := strings.TrimSpace(entry.Timestamp)
		if timestamp == "" {
			timestamp = time.Now().UTC().Format(time.RFC3339)
		}

		h.logger.Printf("[player][session=%s][level=%s][remote=%s] media=%s/%d ua=%q ts=%s message=%s",
			sessionID, level, remote, payload.MediaType, payload.MediaID, ua, timestamp, message)
		logged++
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "logged": logged, "dropped": len(payload.Entries) - len(entries)})
}
