package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"mediarelay/internal/httprange"
	"mediarelay/models"
)

// sniffLen matches the amount of data mimetype inspects by default.
const sniffLen = 3072

// FileProvider serves byte ranges of local media files.
type FileProvider struct {
	fs        afero.Fs
	chunkSize int
}

// NewFileProvider returns a provider reading from fs in chunks of chunkSize bytes.
func NewFileProvider(fs afero.Fs, chunkSize int) *FileProvider {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultFileChunkSize
	}
	return &FileProvider{fs: fs, chunkSize: chunkSize}
}

// Stream opens the requested file and returns the span selected by the range header.
func (p *FileProvider) Stream(ctx context.Context, req Request) (*Response, error) {
	if req.Source.Kind != models.SourceLocalFile {
		return nil, ErrSourceNotHandled
	}
	path := strings.TrimSpace(req.Source.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrNotFound)
	}

	file, err := p.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrNotFound, path, err)
	}

	resp, err := p.respond(file, path, req)
	if err != nil {
		file.Close()
		return nil, err
	}
	return resp, nil
}

func (p *FileProvider) respond(file afero.File, path string, req Request) (*Response, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", ErrNotFound, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	total := info.Size()

	status := http.StatusOK
	start, end := int64(0), total-1
	if header := strings.TrimSpace(req.RangeHeader); header != "" {
		hdr, err := httprange.ParseRangeHeader(header)
		if err != nil {
			return nil, &RangeError{Header: header, Size: total, Err: fmt.Errorf("%w: %w", ErrMalformedRange, err)}
		}
		start, end, err = hdr.Resolve(total)
		if err != nil {
			return nil, &RangeError{Header: header, Size: total, Err: fmt.Errorf("%w: %w", ErrRangeNotSatisfiable, err)}
		}
		status = http.StatusPartialContent
	}

	headers := make(http.Header)
	headers.Set("Accept-Ranges", "bytes")
	headers.Set("Content-Type", p.detectContentType(file, path))

	length := end - start + 1
	if total == 0 {
		length = 0
	} else {
		headers.Set("Content-Range", httprange.ContentRange(start, end, total))
	}
	headers.Set("Content-Length", strconv.FormatInt(length, 10))

	slog.Debug("streaming.file.open",
		"path", path,
		"size", total,
		"start", start,
		"end", end,
		"status", status,
	)

	resp := &Response{
		Headers:       headers,
		Status:        status,
		ContentLength: length,
		Filename:      filepath.Base(path),
	}

	if req.Method == http.MethodHead || length == 0 {
		file.Close()
		resp.Body = EmptySource()
		return resp, nil
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seek %s to %d: %w", ErrStreamIO, path, start, err)
	}

	resp.Body = ReaderSource(&limitedFile{
		Reader: io.LimitReader(file, length),
		file:   file,
		want:   length,
	}, p.chunkSize)
	return resp, nil
}

// detectContentType sniffs the head of the file and rewinds it.
func (p *FileProvider) detectContentType(file afero.File, path string) string {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		slog.Debug("streaming.file.sniff_failed", "path", path, "error", err)
		n = 0
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		slog.Debug("streaming.file.rewind_failed", "path", path, "error", err)
	}
	if n == 0 {
		return "application/octet-stream"
	}
	return mimetype.Detect(head[:n]).String()
}

// limitedFile reads at most want bytes and reports a short file as an error.
type limitedFile struct {
	io.Reader
	file afero.File
	want int64
	got  int64
}

func (l *limitedFile) Read(p []byte) (int, error) {
	n, err := l.Reader.Read(p)
	l.got += int64(n)
	if err == io.EOF && l.got < l.want {
		return n, fmt.Errorf("file truncated after %d of %d bytes: %w", l.got, l.want, io.ErrUnexpectedEOF)
	}
	return n, err
}

func (l *limitedFile) Close() error {
	return l.file.Close()
}
