package streaming

import (
	"context"
	"io"
	"net/http"

	"mediarelay/models"
)

// Request encapsulates a streaming request coming from the handler layer.
type Request struct {
	Media       models.MediaRequest
	Source      models.SourceDescriptor
	RangeHeader string
	Method      string
}

// ChunkSource is a lazy, forward-only sequence of byte chunks.
// ReadChunk returns io.EOF once the sequence is exhausted. Each returned
// slice is owned by the caller and is not reused by the source.
type ChunkSource interface {
	ReadChunk(ctx context.Context) ([]byte, error)
	Close() error
}

// Response wraps the streaming body and metadata needed by the HTTP layer.
type Response struct {
	Body    ChunkSource
	Headers http.Header
	Status  int
	// ContentLength is -1 when the body length is unknown (live relays).
	ContentLength int64
	Filename      string
}

// Close closes the underlying response body if present.
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Provider supplies streaming data for a given request.
// Providers return ErrSourceNotHandled when the request's source kind is not theirs.
type Provider interface {
	Stream(ctx context.Context, req Request) (*Response, error)
}

// emptySource is a ChunkSource that yields nothing.
type emptySource struct{}

func (emptySource) ReadChunk(context.Context) ([]byte, error) { return nil, io.EOF }
func (emptySource) Close() error                              { return nil }

// EmptySource returns a ChunkSource that immediately reports io.EOF.
func EmptySource() ChunkSource { return emptySource{} }

// ReaderSource adapts an io.ReadCloser into a ChunkSource producing chunks of at most chunkSize bytes.
func ReaderSource(rc io.ReadCloser, chunkSize int) ChunkSource {
	if chunkSize <= 0 {
		chunkSize = DefaultFileChunkSize
	}
	return &readerSource{rc: rc, buf: make([]byte, chunkSize)}
}

const maxEmptyReads = 100

type readerSource struct {
	rc      io.ReadCloser
	buf     []byte
	read    int64
	pending error
	done    bool
	closed  bool
}

func (s *readerSource) ReadChunk(ctx context.Context) ([]byte, error) {
	if s.done || s.closed {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		s.done = true
		return nil, err
	}
	if s.pending != nil {
		s.done = true
		return nil, &StreamError{BytesStreamed: s.read, Err: s.pending}
	}
	for empty := 0; ; empty++ {
		if empty >= maxEmptyReads {
			s.done = true
			return nil, &StreamError{BytesStreamed: s.read, Err: io.ErrNoProgress}
		}
		n, err := s.rc.Read(s.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			s.read += int64(n)
			if err != nil && err != io.EOF {
				// surface the failure on the next call, after the bytes already read
				s.pending = err
			}
			return chunk, nil
		}
		if err == io.EOF {
			s.done = true
			return nil, io.EOF
		}
		if err != nil {
			s.done = true
			return nil, &StreamError{BytesStreamed: s.read, Err: err}
		}
	}
}

func (s *readerSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.rc.Close()
}
