// Package respcache stores completed, decoded responses keyed by the
// canonical digest of the request that produced them. Entries expire on
// lookup; a caller may explicitly ask for an expired entry to be served
// anyway (the force_cache contract).
package respcache

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhaquet-w6d/opa-httpsend/internal/config"
)

// Record is one normalized response. It is immutable once handed to the
// cache or returned to a caller.
type Record struct {
	Status     string      `json:"status"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	RawBody    string      `json:"raw_body"`
	// Body is the decoded structured value, present only when decoding
	// succeeded or was forced.
	Body      any       `json:"body"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *Record) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

type Cache interface {
	// Lookup returns the record for key if present and unexpired.
	// allowExpired serves a stale record instead of evicting it.
	Lookup(key string, allowExpired bool) (*Record, bool)
	// Store inserts or replaces the record for key, valid for ttl.
	Store(key string, record *Record, ttl time.Duration) error
	Close() error
}

// Entries are retained past their validity window so force_cache can still
// serve them, then dropped for good by the backend.
const staleRetentionFactor = 10

func New(conf config.Cache, logger *zerolog.Logger) (Cache, error) {
	switch conf.Backend {
	case "memory":
		return NewMemory(conf.MaxEntries)
	case "disk":
		diskLogger := logger.With().Str("component", "respcache").Logger()
		return NewDisk(conf.Path, &diskLogger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q, must be one of memory, disk", conf.Backend)
	}
}
