package crypto

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const (
	customIDRandomLength = 4
	customIDFallback     = "USR"
	base36Alphabet       = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var customIDPrefixes = map[string]string{
	"couple":      "CPL",
	"provider":    "VND",
	"coordinator": "CRD",
	"admin":       "ADM",
}

// CustomIDGenerator builds the human-readable profile ids shown to users,
// e.g. VND-LXK3Z1A07QF2. Ids are not guaranteed unique and are never used
// as keys.
type CustomIDGenerator struct {
	now func() time.Time
	rnd func(n int) int
}

type CustomIDOption func(*CustomIDGenerator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) CustomIDOption {
	return func(g *CustomIDGenerator) { g.now = now }
}

// WithRandom overrides the source of the random suffix. rnd must return a
// value in [0, n).
func WithRandom(rnd func(n int) int) CustomIDOption {
	return func(g *CustomIDGenerator) { g.rnd = rnd }
}

func NewCustomID(opts ...CustomIDOption) *CustomIDGenerator {
	g := &CustomIDGenerator{now: time.Now, rnd: rand.IntN}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CustomIDPrefix returns the three-letter prefix for role.
func CustomIDPrefix(role string) string {
	if prefix, ok := customIDPrefixes[role]; ok {
		return prefix
	}
	return customIDFallback
}

// Generate returns PREFIX-TIMESTAMPRANDOM where TIMESTAMP is the current
// unix time in milliseconds and both parts are upper-case base-36.
func (g *CustomIDGenerator) Generate(role string) string {
	ts := strconv.FormatInt(g.now().UnixMilli(), 36)

	var b strings.Builder
	b.Grow(4 + len(ts) + customIDRandomLength)
	b.WriteString(CustomIDPrefix(role))
	b.WriteByte('-')
	b.WriteString(strings.ToUpper(ts))
	for range customIDRandomLength {
		b.WriteByte(base36Alphabet[g.rnd(len(base36Alphabet))])
	}
	return b.String()
}
