package relay

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/idna"

	"mediarelay/services/streaming"
)

// Target is a parsed upstream location.
type Target struct {
	Scheme string
	Host   string
	Port   int
	// RequestURI is the escaped path plus query sent on the request line.
	RequestURI string
}

// ParseTarget validates a remote stream URL. Only http and https are accepted.
func ParseTarget(raw string) (Target, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Target{}, fmt.Errorf("%w: empty stream url", streaming.ErrBadRequest)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return Target{}, fmt.Errorf("%w: parse stream url: %w", streaming.ErrBadRequest, err)
	}

	var port int
	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "http":
		port = 80
	case "https":
		port = 443
	default:
		return Target{}, fmt.Errorf("%w %q", streaming.ErrUnsupportedScheme, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return Target{}, fmt.Errorf("%w: stream url %q has no host", streaming.ErrBadRequest, raw)
	}
	if net.ParseIP(host) == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return Target{}, fmt.Errorf("%w: invalid host %q: %w", streaming.ErrBadRequest, host, err)
		}
		host = ascii
	}

	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return Target{}, fmt.Errorf("%w: invalid port %q", streaming.ErrBadRequest, p)
		}
		port = n
	}

	requestURI := u.EscapedPath()
	if requestURI == "" {
		requestURI = "/"
	}
	if u.RawQuery != "" {
		requestURI += "?" + u.RawQuery
	}

	return Target{
		Scheme:     strings.ToLower(u.Scheme),
		Host:       host,
		Port:       port,
		RequestURI: requestURI,
	}, nil
}

// TLS reports whether the target requires a TLS handshake.
func (t Target) TLS() bool { return t.Scheme == "https" }

// Addr is the dial address.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// HostHeader is the Host header value; the port is omitted when it is the scheme default.
func (t Target) HostHeader() string {
	if (t.Scheme == "http" && t.Port == 80) || (t.Scheme == "https" && t.Port == 443) {
		if strings.Contains(t.Host, ":") {
			return "[" + t.Host + "]"
		}
		return t.Host
	}
	return t.Addr()
}
