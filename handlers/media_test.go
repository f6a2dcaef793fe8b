package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediarelay/models"
	"mediarelay/services/relay"
	"mediarelay/services/streaming"
	"mediarelay/utils"
)

type mediaKey struct {
	kind models.MediaKind
	id   int64
}

type fakeResolver struct {
	sources map[mediaKey]models.SourceDescriptor
}

func (f *fakeResolver) Resolve(ctx context.Context, kind models.MediaKind, id int64) (models.SourceDescriptor, error) {
	src, ok := f.sources[mediaKey{kind, id}]
	if !ok {
		return models.SourceDescriptor{}, fmt.Errorf("%w: %s %d", streaming.ErrNotFound, kind, id)
	}
	return src, nil
}

type fakeCatalog struct {
	mu        sync.Mutex
	plays     map[mediaKey]int
	durations map[mediaKey]time.Duration
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{plays: map[mediaKey]int{}, durations: map[mediaKey]time.Duration{}}
}

func (f *fakeCatalog) IncrementPlayCount(ctx context.Context, kind models.MediaKind, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == 404 {
		return streaming.ErrNotFound
	}
	f.plays[mediaKey{kind, id}]++
	return nil
}

func (f *fakeCatalog) UpdateDuration(ctx context.Context, kind models.MediaKind, id int64, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations[mediaKey{kind, id}] = d
	return nil
}

type testServer struct {
	router   *mux.Router
	resolver *fakeResolver
	catalog  *fakeCatalog
	tracker  *streaming.Tracker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/media/song.mp3", []byte("hello world"), 0644))
	return newTestServerOn(t, fs)
}

func newTestServerOn(t *testing.T, fs afero.Fs) *testServer {
	t.Helper()
	resolver := &fakeResolver{sources: map[mediaKey]models.SourceDescriptor{
		{models.MediaAudio, 1}: models.LocalFile("/media/song.mp3"),
		{models.MediaVideo, 2}: models.LocalFile("/media/missing.mp4"),
	}}
	dispatcher := streaming.NewDispatcher(resolver,
		streaming.NewFileProvider(fs, 4),
		relay.NewProvider(relay.NewClient(relay.Options{ChunkSize: 64, ConnectTimeout: time.Second}), "audio/mpeg"),
	)

	catalog := newFakeCatalog()
	tracker := streaming.NewTracker()
	router := utils.NewRouter(
		NewMediaHandler(dispatcher, catalog, tracker),
		NewAdminHandler(tracker),
	)
	return &testServer{router: router, resolver: resolver, catalog: catalog, tracker: tracker}
}

func (s *testServer) do(method, target string, header http.Header, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func rangeHeader(value string) http.Header {
	return http.Header{"Range": []string{value}}
}

func TestStreamFileRange(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/media?id=1&media_type=audio", rangeHeader("bytes=6-"), nil)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "bytes 6-10/11", rec.Header().Get("Content-Range"))
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
	assert.Equal(t, "world", rec.Body.String())
}

func TestStreamFileBoundedRange(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/media?id=1&media_type=audio", rangeHeader("bytes=0-4"), nil)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-4/11", rec.Header().Get("Content-Range"))
	assert.Equal(t, "hello", rec.Body.String())
}

func TestStreamFileWithoutRange(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/media?id=1&media_type=audio", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
	assert.Equal(t, "bytes 0-10/11", rec.Header().Get("Content-Range"))
	assert.Equal(t, "hello world", rec.Body.String())
	assert.Empty(t, s.tracker.Snapshot(), "finished streams leave the registry")
}

func TestStreamFileUnsatisfiableRange(t *testing.T) {
	s := newTestServer(t)

	for _, header := range []string{"bytes=11-", "bytes=20-30", "bytes=abc", "bytes=0-1,4-5"} {
		rec := s.do(http.MethodGet, "/media?id=1&media_type=audio", rangeHeader(header), nil)

		assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code, header)
		assert.Equal(t, "bytes */11", rec.Header().Get("Content-Range"), header)
		assert.Empty(t, rec.Body.Bytes(), header)
	}
}

func TestStreamHead(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodHead, "/media?id=1&media_type=audio", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestStreamInvalidRequests(t *testing.T) {
	s := newTestServer(t)

	for _, target := range []string{
		"/media?id=1&media_type=foo",
		"/media?id=1",
		"/media?id=abc&media_type=audio",
		"/media?id=0&media_type=audio",
		"/media?id=-4&media_type=radio",
		"/media?media_type=video",
	} {
		rec := s.do(http.MethodGet, target, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestStreamTypeAlias(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/media?id=1&type=audio", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStreamNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/media?id=99&media_type=audio", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// catalogued but gone from disk
	rec = s.do(http.MethodGet, "/media?id=2&media_type=video", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// startRadio serves a live-stream origin that answers every request with reply.
func startRadio(t *testing.T, reply string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				reader := textproto.NewReader(bufio.NewReader(conn))
				if _, err := reader.ReadLine(); err != nil {
					return
				}
				if _, err := reader.ReadMIMEHeader(); err != nil {
					return
				}
				io.WriteString(conn, reply)
			}()
		}
	}()
	return "http://" + ln.Addr().String() + "/live"
}

func TestStreamRadioRelay(t *testing.T) {
	s := newTestServer(t)
	body := strings.Repeat("mp3-frame;", 50)
	s.resolver.sources[mediaKey{models.MediaRadio, 7}] = models.RemoteURL(startRadio(t, "ICY 200 OK\r\nicy-name: Test FM\r\nicy-br: 128\r\n\r\n"+body))

	rec := s.do(http.MethodGet, "/media?id=7&media_type=radio", rangeHeader("bytes=100-"), nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Header().Get("Content-Range"))
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, body, rec.Body.String())
}

func TestStreamRadioImmediateClose(t *testing.T) {
	s := newTestServer(t)
	s.resolver.sources[mediaKey{models.MediaRadio, 8}] = models.RemoteURL(startRadio(t, ""))

	rec := s.do(http.MethodGet, "/media?id=8&media_type=radio", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestStreamRadioUpstreamFailures(t *testing.T) {
	s := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedAddr := ln.Addr().String()
	ln.Close()

	s.resolver.sources[mediaKey{models.MediaRadio, 9}] = models.RemoteURL("http://" + closedAddr + "/live")
	s.resolver.sources[mediaKey{models.MediaRadio, 10}] = models.RemoteURL("ftp://radio.example/live")

	rec := s.do(http.MethodGet, "/media?id=9&media_type=radio", nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	rec = s.do(http.MethodGet, "/media?id=10&media_type=radio", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlayCount(t *testing.T) {
	s := newTestServer(t)
	form := url.Values{"id": {"5"}, "media_type": {"video"}}
	header := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}

	rec := s.do(http.MethodPost, "/media/play-count", header, strings.NewReader(form.Encode()))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, s.catalog.plays[mediaKey{models.MediaVideo, 5}])

	rec = s.do(http.MethodPost, "/media/play-count", header, strings.NewReader("media_type=video"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/media/play-count", header, strings.NewReader("id=404&media_type=radio"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDuration(t *testing.T) {
	s := newTestServer(t)
	header := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}

	rec := s.do(http.MethodPost, "/media/duration", header, strings.NewReader("id=3&media_type=audio&duration=187.5"))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 187500*time.Millisecond, s.catalog.durations[mediaKey{models.MediaAudio, 3}])

	for _, body := range []string{
		"id=3&media_type=audio",
		"id=3&media_type=audio&duration=abc",
		"id=3&media_type=audio&duration=-1",
		"id=3&media_type=audio&duration=NaN",
		"id=3&media_type=radio&duration=10",
	} {
		rec := s.do(http.MethodPost, "/media/duration", header, strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestAdminStreams(t *testing.T) {
	s := newTestServer(t)
	active := s.tracker.Begin(streaming.StreamInfo{Type: "file", MediaID: 1, MediaType: "audio", Path: "song.mp3"})
	active.Add(42)
	defer active.Done()

	rec := s.do(http.MethodGet, "/admin/streams", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StreamsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, 1, resp.Audio)
	require.Len(t, resp.Streams, 1)
	assert.Equal(t, active.ID(), resp.Streams[0].ID)
	assert.Equal(t, int64(42), resp.Streams[0].BytesStreamed)
}

func TestPlayerLogCapture(t *testing.T) {
	var buf bytes.Buffer
	router := utils.NewRouter(NewDebugHandler(log.New(&buf, "", 0)))

	payload := `{"sessionId":"s1","mediaId":4,"mediaType":"video","entries":[{"level":"warn","message":"stalled"},{"message":"  "}]}`
	req := httptest.NewRequest(http.MethodPost, "/debug/player-log", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["logged"])
	assert.Contains(t, buf.String(), "[player][session=s1][level=WARN]")
	assert.Contains(t, buf.String(), "media=video/4")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/player-log", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// startResettingRadio sends a preamble and part of a body, then resets the connection.
func startResettingRadio(t *testing.T, partial string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		reader := textproto.NewReader(bufio.NewReader(conn))
		if _, err := reader.ReadLine(); err == nil {
			reader.ReadMIMEHeader()
		}
		io.WriteString(conn, "ICY 200 OK\r\n\r\n"+partial)
		// let the relay consume the preamble and the partial body first
		time.Sleep(100 * time.Millisecond)
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetLinger(0)
		}
		conn.Close()
	}()
	return "http://" + ln.Addr().String() + "/live"
}

func TestStreamRadioDropIsNotACleanEnd(t *testing.T) {
	s := newTestServer(t)
	s.resolver.sources[mediaKey{models.MediaRadio, 11}] = models.RemoteURL(startResettingRadio(t, "partial-body"))

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/media?id=11&media_type=radio")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.Error(t, err, "a dropped origin must not end the chunked body cleanly")
	assert.Equal(t, "partial-body", string(body))
	assert.Eventually(t, func() bool { return len(s.tracker.Snapshot()) == 0 }, time.Second, 10*time.Millisecond)
}

// shrunkFs reports files as extra bytes longer than their contents.
type shrunkFs struct {
	afero.Fs
	extra int64
}

func (f shrunkFs) Open(name string) (afero.File, error) {
	file, err := f.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	return shrunkFile{File: file, extra: f.extra}, nil
}

type shrunkFile struct {
	afero.File
	extra int64
}

func (f shrunkFile) Stat() (os.FileInfo, error) {
	info, err := f.File.Stat()
	if err != nil {
		return nil, err
	}
	return shrunkInfo{FileInfo: info, extra: f.extra}, nil
}

type shrunkInfo struct {
	os.FileInfo
	extra int64
}

func (i shrunkInfo) Size() int64 { return i.FileInfo.Size() + i.extra }

func TestStreamFileTruncatedMidBody(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/media/song.mp3", []byte("hello world"), 0644))
	s := newTestServerOn(t, shrunkFs{Fs: fs, extra: 9})

	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/media?id=1&media_type=audio")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(20), resp.ContentLength)
	body, err := io.ReadAll(resp.Body)
	assert.Error(t, err, "the client must see a short body")
	assert.Equal(t, "hello world", string(body))
}
