package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"mediarelay/models"
	"mediarelay/services/streaming"
)

// AdminHandler provides administrative endpoints for monitoring the server
type AdminHandler struct {
	tracker *streaming.Tracker
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(tracker *streaming.Tracker) *AdminHandler {
	return &AdminHandler{
		tracker: tracker,
	}
}

func (h *AdminHandler) Register(r *mux.Router) {
	r.HandleFunc("/admin/streams", h.GetActiveStreams).Methods(http.MethodGet)
}

// StreamsResponse is the response for the streams endpoint
type StreamsResponse struct {
	Streams []streaming.StreamInfo `json:"streams"`
	Count   int                    `json:"count"`
	Audio   int                    `json:"audio_count"`
	Video   int                    `json:"video_count"`
	Radio   int                    `json:"radio_count"`
}

// GetActiveStreams returns all in-flight media streams
func (h *AdminHandler) GetActiveStreams(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := StreamsResponse{
		Streams: []streaming.StreamInfo{},
	}

	if h.tracker != nil {
		response.Streams = h.tracker.Snapshot()
	}
	for _, stream := range response.Streams {
		switch models.MediaKind(stream.MediaType) {
		case models.MediaAudio:
			response.Audio++
		case models.MediaVideo:
			response.Video++
		case models.MediaRadio:
			response.Radio++
		}
	}

	response.Count = len(response.Streams)
	json.NewEncoder(w).Encode(response)
}
