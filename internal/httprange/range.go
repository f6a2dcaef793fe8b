// Package httprange parses single byte-range request headers.
package httprange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformed     = errors.New("malformed range header")
	ErrMultiRange    = errors.New("multiple ranges are not supported")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

const unitPrefix = "bytes="

// RangeHeader is a parsed `bytes=` range.
// Start is -1 for a suffix range (`bytes=-N`), in which case End holds N.
// End is -1 for an open-ended range (`bytes=N-`).
type RangeHeader struct {
	Start int64
	End   int64
}

// IsSuffix reports whether the header asked for the last End bytes.
func (r RangeHeader) IsSuffix() bool { return r.Start < 0 }

// IsOpen reports whether the header runs to the end of the resource.
func (r RangeHeader) IsOpen() bool { return r.Start >= 0 && r.End < 0 }

// ParseRangeHeader parses `bytes=<start>-[<end>]` and `bytes=-<suffix>`.
func ParseRangeHeader(header string) (*RangeHeader, error) {
	value := strings.TrimSpace(header)
	if len(value) < len(unitPrefix) || !strings.EqualFold(value[:len(unitPrefix)], unitPrefix) {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, header)
	}
	byteRange := strings.TrimSpace(value[len(unitPrefix):])
	if strings.Contains(byteRange, ",") {
		return nil, fmt.Errorf("%w: %q", ErrMultiRange, header)
	}

	startStr, endStr, ok := strings.Cut(byteRange, "-")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, header)
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		n, err := parseOffset(endStr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformed, header)
		}
		return &RangeHeader{Start: -1, End: n}, nil
	}

	start, err := parseOffset(startStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, header)
	}
	if endStr == "" {
		return &RangeHeader{Start: start, End: -1}, nil
	}
	end, err := parseOffset(endStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrMalformed, header)
	}
	if end < start {
		return nil, fmt.Errorf("%w: end before start in %q", ErrMalformed, header)
	}
	return &RangeHeader{Start: start, End: end}, nil
}

func parseOffset(s string) (int64, error) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(s, 10, 64)
}

// Resolve validates the header against a resource of size bytes and returns the
// inclusive [start, end] span to serve.
func (r *RangeHeader) Resolve(size int64) (start, end int64, err error) {
	switch {
	case r.IsSuffix():
		if r.End == 0 || size == 0 {
			return 0, 0, ErrUnsatisfiable
		}
		start = size - r.End
		if start < 0 {
			start = 0
		}
		return start, size - 1, nil
	case r.IsOpen():
		if r.Start >= size {
			return 0, 0, ErrUnsatisfiable
		}
		return r.Start, size - 1, nil
	default:
		if r.Start > r.End || r.End >= size {
			return 0, 0, ErrUnsatisfiable
		}
		return r.Start, r.End, nil
	}
}

// ContentRange formats a `Content-Range` value for an inclusive span.
func ContentRange(start, end, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", start, end, size)
}

// UnsatisfiedRange formats the `Content-Range` value sent with a 416.
func UnsatisfiedRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}
