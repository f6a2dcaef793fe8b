package relay

import (
	"crypto/x509"
	"log/slog"
	"sync"
)

var systemRoots = sync.OnceValues(x509.SystemCertPool)

// SystemRoots returns the process-wide trusted root set. The pool is loaded once
// and must not be modified by callers. A nil pool makes crypto/tls fall back to
// the platform verifier.
func SystemRoots() *x509.CertPool {
	pool, err := systemRoots()
	if err != nil {
		slog.Warn("relay.roots.load_failed", "error", err)
		return nil
	}
	return pool
}
