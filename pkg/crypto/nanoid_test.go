package crypto

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requirement: NewNanoID accepts 8 to 255 distinct printable ASCII symbols
// and falls back to the default alphabet.
func TestNewNanoID(t *testing.T) {
	tests := []struct {
		name         string
		alphabet     string
		wantErr      error
		wantAlphabet string
	}{
		{name: "empty uses default", alphabet: "", wantAlphabet: DefaultIDAlphabet},
		{name: "custom alphabet", alphabet: "ABCDEFGH", wantAlphabet: "ABCDEFGH"},
		{name: "too short", alphabet: "abc", wantErr: ErrAlphabetSize},
		{name: "too long", alphabet: strings.Repeat("a", 256), wantErr: ErrAlphabetSize},
		{name: "non ascii", alphabet: "abcdefgé", wantErr: ErrAlphabetSymbols},
		{name: "whitespace", alphabet: "abcd efgh", wantErr: ErrAlphabetSymbols},
		{name: "repeated symbol", alphabet: "abcdefga", wantErr: ErrAlphabetRepeats},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Act
			gen, err := NewNanoID(test.alphabet)

			// Assert
			if test.wantErr != nil {
				require.ErrorIs(t, err, test.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.wantAlphabet, gen.alphabet)
		})
	}
}

// Requirement: the mask is the smallest all-ones byte covering every index.
func TestMaskFor(t *testing.T) {
	tests := []struct {
		size int
		want byte
	}{
		{size: 8, want: 7},
		{size: 10, want: 15},
		{size: 16, want: 15},
		{size: 36, want: 63},
		{size: 64, want: 63},
		{size: 65, want: 127},
		{size: 255, want: 255},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, maskFor(test.size), "alphabet of %d", test.size)
	}
}

// Requirement: ids have the requested length and use only the alphabet.
func TestNanoIDGenerator_GenerateN(t *testing.T) {
	tests := []struct {
		name     string
		alphabet string
		length   int
		wantErr  bool
	}{
		{name: "default alphabet", length: DefaultIDLength},
		{name: "short id", length: 4},
		{name: "digits", alphabet: "0123456789", length: 40},
		{name: "zero length", length: 0, wantErr: true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			// Arrange
			gen, err := NewNanoID(test.alphabet)
			require.NoError(t, err)

			// Act
			id, err := gen.GenerateN(test.length)

			// Assert
			if test.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, id, test.length)
			for _, c := range id {
				assert.Contains(t, gen.alphabet, string(c))
			}
		})
	}
}

// Requirement: concurrent generation does not collide.
func TestNanoIDGenerator_Concurrent(t *testing.T) {
	// Arrange
	gen := MustNanoID()
	const workers, perWorker = 8, 250
	ids := make(chan string, workers*perWorker)

	// Act
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				id, err := gen.Generate()
				assert.NoError(t, err)
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	// Assert
	seen := make(map[string]struct{}, workers*perWorker)
	for id := range ids {
		require.Len(t, id, DefaultIDLength)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
