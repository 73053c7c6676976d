package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/bits"
)

const (
	// DefaultIDAlphabet is URL-safe. 22 symbols of it carry 132 bits.
	DefaultIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"
	DefaultIDLength   = 22

	minAlphabet = 8
	maxAlphabet = 255
)

var (
	ErrAlphabetSize    = fmt.Errorf("alphabet must hold %d to %d symbols", minAlphabet, maxAlphabet)
	ErrAlphabetSymbols = errors.New("alphabet must be printable ASCII")
	ErrAlphabetRepeats = errors.New("alphabet repeats a symbol")
)

// NanoIDGenerator draws ids for sessions and documents. Random bytes are
// masked to the alphabet's bit width and indexes past its end are dropped,
// so each symbol is equally likely.
type NanoIDGenerator struct {
	alphabet string
	mask     byte
}

// NewNanoID returns a generator over alphabet, or over DefaultIDAlphabet
// when alphabet is empty.
func NewNanoID(alphabet string) (*NanoIDGenerator, error) {
	if alphabet == "" {
		alphabet = DefaultIDAlphabet
	}
	if len(alphabet) < minAlphabet || len(alphabet) > maxAlphabet {
		return nil, ErrAlphabetSize
	}
	var seen [128]bool
	for i := 0; i < len(alphabet); i++ {
		c := alphabet[i]
		if c < '!' || c > '~' {
			return nil, ErrAlphabetSymbols
		}
		if seen[c] {
			return nil, ErrAlphabetRepeats
		}
		seen[c] = true
	}
	return &NanoIDGenerator{alphabet: alphabet, mask: maskFor(len(alphabet))}, nil
}

// MustNanoID returns a generator over DefaultIDAlphabet.
func MustNanoID() *NanoIDGenerator {
	n, err := NewNanoID("")
	if err != nil {
		panic(err)
	}
	return n
}

// maskFor is the smallest all-ones byte that reaches size-1.
func maskFor(size int) byte {
	return byte(1<<bits.Len(uint(size-1)) - 1)
}

// Generate returns an id of DefaultIDLength symbols.
func (n *NanoIDGenerator) Generate() (string, error) {
	return n.GenerateN(DefaultIDLength)
}

// GenerateN returns an id of length symbols.
func (n *NanoIDGenerator) GenerateN(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("id length %d must be positive", length)
	}
	// enough bytes for one pass in the common case
	batch := int(math.Ceil(1.6 * float64(int(n.mask)*length) / float64(len(n.alphabet))))
	buf := make([]byte, batch)
	id := make([]byte, 0, length)
	for len(id) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if i := int(b & n.mask); i < len(n.alphabet) {
				id = append(id, n.alphabet[i])
				if len(id) == length {
					break
				}
			}
		}
	}
	return string(id), nil
}
