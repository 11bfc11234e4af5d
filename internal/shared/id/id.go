// Package id generates the server's ULID identifiers.
//
// ULIDs sort by creation time, so boot ids order kernel runs and request
// ids order debug API calls in logs. Each kind carries a short prefix to
// keep log lines readable.
package id

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// BootID identifies one kernel boot.
type BootID string

// RequestID identifies a debug API request.
type RequestID string

const (
	BootPrefix    = "boot"
	RequestPrefix = "req"
)

// Generator generates monotonic ULIDs.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator whose ids strictly increase, also
// within one millisecond.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewBootID generates a boot id.
func NewBootID() BootID {
	return BootID(Default().GenerateWithPrefix(BootPrefix))
}

// NewRequestID generates a request id.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

func (id BootID) String() string    { return string(id) }
func (id RequestID) String() string { return string(id) }

// Parse parses a ULID with or without its prefix.
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.Parse(id)
}

// IsValid reports whether id is a ULID with or without its prefix.
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Timestamp extracts the creation time of id.
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
