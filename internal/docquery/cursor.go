// Package docquery holds the pieces of document querying shared by the
// store adapters: pagination cursors, field validation and in-process
// filtering for stores without a query engine.
package docquery

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrInvalidCursor = errors.New("invalid pagination cursor")
	ErrInvalidField  = errors.New("invalid document field name")
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidField reports whether name can be used as a filter or order field.
// Only top-level identifiers are accepted.
func ValidField(name string) error {
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidField, name)
	}
	return nil
}

// Cursor marks the last document of a page: its sort key and id.
type Cursor struct {
	Key json.RawMessage `json:"k"`
	ID  string          `json:"id"`
}

func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

func DecodeCursor(s string) (Cursor, error) {
	var c Cursor
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, ErrInvalidCursor
	}
	if err := json.Unmarshal(b, &c); err != nil || c.ID == "" {
		return c, ErrInvalidCursor
	}
	return c, nil
}
