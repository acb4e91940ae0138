// Package id provides ULID-based identifiers for profiles, requests and trace spans.
//
// Identifiers are prefixed with their kind (prof_*, req_*, span_*) so they are
// easy to tell apart in logs, and sort by creation time.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ProfileID identifies a browsing profile that owns its own capabilities cache.
type ProfileID string

// RequestID identifies an API request or an outbound lookup.
type RequestID string

// SpanID identifies one span within a trace.
type SpanID string

const (
	ProfilePrefix = "prof"
	RequestPrefix = "req"
	SpanPrefix    = "span"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a lowercase "prefix_ulid" string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, strings.ToLower(g.Generate().String()))
}

// NewProfileID generates a new profile ID.
func NewProfileID() ProfileID {
	return ProfileID(Default().GenerateWithPrefix(ProfilePrefix))
}

// NewRequestID generates a new request ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewSpanID generates a new span ID.
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

func (id ProfileID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }
func (id SpanID) String() string    { return string(id) }

// Timestamp extracts the creation time from a prefixed or bare ULID string.
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(strings.ToUpper(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ulid %q: %w", s, err)
	}
	return ulid.Time(parsed.Time()), nil
}
