package relay

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"sync"
	"time"

	"mediarelay/services/streaming"
)

// State is a step of the relay lifecycle.
type State int

const (
	StateParsed State = iota
	StateConnecting
	StateTLSHandshake
	StateRequestSent
	StateSkippingPreamble
	StateStreaming
	StateClosed
	StateError
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateConnecting:
		return "connecting"
	case StateTLSHandshake:
		return "tls_handshake"
	case StateRequestSent:
		return "request_sent"
	case StateSkippingPreamble:
		return "skipping_preamble"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	DefaultUserAgent = "mediarelay/1.0"
	// MaxPreambleBytes bounds how much an origin may send before the blank line.
	MaxPreambleBytes = 64 * 1024
)

// Options configures a Client.
type Options struct {
	ChunkSize int
	UserAgent string
	// ConnectTimeout bounds dialing plus the TLS handshake. Zero disables it.
	ConnectTimeout time.Duration
	// IdleTimeout bounds each read from the origin. Zero disables it.
	IdleTimeout time.Duration
	// RootCAs overrides the process-wide trusted roots.
	RootCAs *x509.CertPool
}

// Client opens relays to remote origins.
type Client struct {
	opts   Options
	dialer *net.Dialer
}

func NewClient(opts Options) *Client {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = streaming.DefaultRelayChunkSize
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &Client{
		opts:   opts,
		dialer: &net.Dialer{Timeout: opts.ConnectTimeout},
	}
}

// Open connects to rawURL, sends the request and discards the response preamble.
// The returned Stream yields the origin's body bytes. Cancelling ctx closes the transport.
func (c *Client) Open(ctx context.Context, rawURL string) (*Stream, error) {
	target, err := ParseTarget(rawURL)
	if err != nil {
		return nil, err
	}
	log := slog.With("host", target.Host, "port", target.Port, "tls", target.TLS())
	log.Debug("relay.state", "state", StateParsed)

	conn, err := c.connect(ctx, target, log)
	if err != nil {
		log.Debug("relay.state", "state", StateError, "error", err)
		return nil, err
	}

	s := newStream(conn, c.opts.ChunkSize, c.opts.IdleTimeout, log)
	s.stop = context.AfterFunc(ctx, s.cancel)

	if err := writeRequest(conn, target, c.opts.UserAgent); err != nil {
		s.fail()
		return nil, s.setupError(ctx, fmt.Errorf("%w: write request to %s: %w", streaming.ErrUpstreamIO, target.Addr(), err))
	}
	s.setState(StateRequestSent)

	s.setState(StateSkippingPreamble)
	found, err := s.skipPreamble()
	if err != nil {
		s.fail()
		return nil, s.setupError(ctx, fmt.Errorf("%w: read preamble from %s: %w", streaming.ErrUpstreamIO, target.Addr(), err))
	}
	if !found {
		// origin closed before the header block ended: nothing to relay
		s.finish()
		return s, nil
	}

	s.setState(StateStreaming)
	return s, nil
}

func (c *Client) connect(ctx context.Context, target Target, log *slog.Logger) (net.Conn, error) {
	if c.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ConnectTimeout)
		defer cancel()
	}

	log.Debug("relay.state", "state", StateConnecting, "addr", target.Addr())
	conn, err := c.dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", streaming.ErrUpstreamUnreachable, target.Addr(), err)
	}

	if !target.TLS() {
		return conn, nil
	}

	log.Debug("relay.state", "state", StateTLSHandshake)
	roots := c.opts.RootCAs
	if roots == nil {
		roots = SystemRoots()
	}
	tlsConn := tls.Client(conn, &tls.Config{
		ServerName: target.Host,
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake with %s: %w", streaming.ErrUpstreamTLS, target.Host, err)
	}
	return tlsConn, nil
}

func writeRequest(conn net.Conn, target Target, userAgent string) error {
	bw := bufio.NewWriter(conn)
	w := textproto.NewWriter(bw)
	lines := []struct {
		format string
		args   []any
	}{
		{"GET %s HTTP/1.0", []any{target.RequestURI}},
		{"Host: %s", []any{target.HostHeader()}},
		{"User-Agent: %s", []any{userAgent}},
		{"Connection: close", nil},
		{"", nil},
	}
	for _, line := range lines {
		if err := w.PrintfLine(line.format, line.args...); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Stream is a live relay body. It is not safe for concurrent use.
type Stream struct {
	conn      net.Conn
	br        *bufio.Reader
	buf       []byte
	idle      time.Duration
	log       *slog.Logger
	state     State
	relayed   int64
	pending   error
	done      bool
	closeOnce onceCloser
	stop      func() bool
	cancelled chan struct{}
}

func newStream(conn net.Conn, chunkSize int, idle time.Duration, log *slog.Logger) *Stream {
	return &Stream{
		conn:      conn,
		br:        bufio.NewReaderSize(conn, chunkSize),
		buf:       make([]byte, chunkSize),
		idle:      idle,
		log:       log,
		cancelled: make(chan struct{}),
	}
}

// State reports the current lifecycle step.
func (s *Stream) State() State { return s.state }

// BytesRelayed reports the amount of body data handed out so far.
func (s *Stream) BytesRelayed() int64 { return s.relayed }

func (s *Stream) setState(state State) {
	s.state = state
	s.log.Debug("relay.state", "state", state)
}

// skipPreamble discards everything up to and including the first empty line
// ("\r\n" or a bare "\n"). It reports false when the origin closed before one was seen.
func (s *Stream) skipPreamble() (bool, error) {
	var total int
	lineStart := true
	for {
		s.armDeadline()
		frag, err := s.br.ReadSlice('\n')
		total += len(frag)
		if total > MaxPreambleBytes {
			return false, fmt.Errorf("preamble exceeds %d bytes", MaxPreambleBytes)
		}
		switch {
		case err == nil:
			if lineStart && isEmptyLine(frag) {
				return true, nil
			}
			lineStart = true
		case errors.Is(err, bufio.ErrBufferFull):
			// line longer than the buffer; keep consuming it
			lineStart = false
		case errors.Is(err, io.EOF):
			return false, nil
		default:
			return false, err
		}
	}
}

func isEmptyLine(line []byte) bool {
	return bytes.Equal(line, []byte("\r\n")) || bytes.Equal(line, []byte("\n"))
}

func (s *Stream) armDeadline() {
	if s.idle > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))
	}
}

// ReadChunk returns the next chunk of body bytes, io.EOF at the clean end of the
// stream, or a *streaming.StreamError when the origin fails mid-body.
func (s *Stream) ReadChunk(ctx context.Context) ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		s.fail()
		return nil, err
	}
	if s.pending != nil {
		err := s.pending
		s.fail()
		return nil, s.streamError(err)
	}

	for empty := 0; empty < 100; empty++ {
		s.armDeadline()
		n, err := s.br.Read(s.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			s.relayed += int64(n)
			if err != nil && !errors.Is(err, io.EOF) {
				s.pending = err
			}
			return chunk, nil
		}
		if errors.Is(err, io.EOF) {
			s.finish()
			return nil, io.EOF
		}
		if err != nil {
			s.fail()
			if ctxErr := s.cancelErr(ctx); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, s.streamError(err)
		}
	}
	s.fail()
	return nil, s.streamError(io.ErrNoProgress)
}

func (s *Stream) streamError(err error) error {
	return &streaming.StreamError{
		BytesStreamed: s.relayed,
		Err:           fmt.Errorf("%w: %w", streaming.ErrUpstreamIO, err),
	}
}

// cancelErr reports the context error when a read failed because the stream was cancelled.
func (s *Stream) cancelErr(ctx context.Context) error {
	select {
	case <-s.cancelled:
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled
	default:
		return nil
	}
}

func (s *Stream) setupError(ctx context.Context, err error) error {
	if ctxErr := s.cancelErr(ctx); ctxErr != nil {
		return fmt.Errorf("%w: %w", streaming.ErrUpstreamIO, ctxErr)
	}
	return err
}

// cancel runs on the context's AfterFunc goroutine; it only touches the transport.
func (s *Stream) cancel() {
	close(s.cancelled)
	s.closeOnce.close(s.conn)
}

func (s *Stream) finish() {
	s.done = true
	s.state = StateClosed
	s.release()
	s.log.Debug("relay.state", "state", StateClosed, "bytes", s.relayed)
}

func (s *Stream) fail() {
	s.done = true
	s.state = StateError
	s.release()
	s.log.Debug("relay.state", "state", StateError, "bytes", s.relayed)
}

func (s *Stream) release() {
	s.closeOnce.close(s.conn)
	if s.stop != nil {
		s.stop()
	}
}

// Close releases the transport. It is idempotent.
func (s *Stream) Close() error {
	if !s.done {
		s.done = true
		s.state = StateClosed
	}
	s.release()
	return s.closeOnce.err
}

type onceCloser struct {
	once sync.Once
	err  error
}

func (o *onceCloser) close(c io.Closer) error {
	o.once.Do(func() {
		o.err = c.Close()
	})
	return o.err
}

var _ streaming.ChunkSource = (*Stream)(nil)
