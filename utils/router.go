package utils

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Registrar mounts a group of routes.
type Registrar interface {
	Register(r *mux.Router)
}

// CORS middleware to allow cross-origin requests from the web player
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		// the player reads these to seek within local media
		w.Header().Set("Access-Control-Expose-Headers", "Accept-Ranges, Content-Length, Content-Range")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter constructs the base mux router with common routes and mounts groups.
func NewRouter(groups ...Registrar) *mux.Router {
	r := mux.NewRouter()

	r.Use(corsMiddleware)
	// preflight requests must reach the middleware even though no route accepts OPTIONS
	r.MethodNotAllowedHandler = corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}))

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	for _, group := range groups {
		group.Register(r)
	}
	return r
}
