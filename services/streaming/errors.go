package streaming

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound            = errors.New("media not found")
	ErrBadRequest          = errors.New("bad request")
	ErrUnsupportedScheme   = fmt.Errorf("%w: unsupported scheme", ErrBadRequest)
	ErrMalformedRange      = errors.New("malformed range header")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrUpstreamTLS         = errors.New("upstream tls error")
	ErrUpstreamIO          = errors.New("upstream i/o error")
	ErrStreamIO            = errors.New("stream i/o error")

	// ErrSourceNotHandled is returned by a Provider asked to stream a source kind it does not serve.
	ErrSourceNotHandled = errors.New("source not handled by provider")
)

const (
	DefaultFileChunkSize  = 1024 * 1024
	DefaultRelayChunkSize = 4096
)

// StreamError represents a failure after a body started streaming.
type StreamError struct {
	BytesStreamed int64
	Err           error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream aborted after %d bytes: %v", e.BytesStreamed, e.Err)
}

// Unwrap reports both the stream classification and the underlying cause.
func (e *StreamError) Unwrap() []error {
	return []error{ErrStreamIO, e.Err}
}

// RangeError carries the total size of the resource a range was rejected against.
type RangeError struct {
	Header string
	Size   int64
	Err    error
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range %q against %d bytes: %v", e.Header, e.Size, e.Err)
}

func (e *RangeError) Unwrap() error {
	return e.Err
}

// StatusCode maps a setup-phase error to the HTTP status sent to the client.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMalformedRange), errors.Is(err, ErrRangeNotSatisfiable):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstreamUnreachable),
		errors.Is(err, ErrUpstreamTLS),
		errors.Is(err, ErrUpstreamIO):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
