package docquery

import (
	"bytes"
	"cmp"
	"encoding/json"
	"reflect"
	"slices"

	"github.com/lborres/kasal/core"
)

// Field returns the decoded top-level field of doc, or nil when absent.
func Field(doc *core.Document, name string) any {
	var m map[string]any
	if err := json.Unmarshal(doc.Data, &m); err != nil {
		return nil
	}
	return m[name]
}

// CreatedKeyLayout formats creation times as sort keys. The fraction is
// fixed width so keys order the same as the times they encode.
const CreatedKeyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SortKey returns the value a document is ordered by under q: the OrderBy
// field, or the creation time.
func SortKey(doc *core.Document, q core.Query) any {
	if q.OrderBy == "" {
		return doc.CreatedAt.UTC().Format(CreatedKeyLayout)
	}
	return Field(doc, q.OrderBy)
}

// Matches reports whether doc satisfies every equality filter of q. Values
// compare by their JSON form, so 1 and 1.0 are equal.
func Matches(doc *core.Document, q core.Query) bool {
	if len(q.Filters) == 0 {
		return true
	}
	var m map[string]any
	if err := json.Unmarshal(doc.Data, &m); err != nil {
		return false
	}
	for _, f := range q.Filters {
		got, ok := m[f.Field]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, normalize(f.Value)) {
			return false
		}
	}
	return true
}

func normalize(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// Compare orders two decoded JSON values the way Postgres orders jsonb:
// null < string < number < bool, then by value.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch av := a.(type) {
	case string:
		return cmp.Compare(av, b.(string))
	case float64:
		return cmp.Compare(av, b.(float64))
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		}
		return 1
	case nil:
		return 0
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return bytes.Compare(ja, jb)
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case string:
		return 1
	case float64:
		return 2
	case bool:
		return 3
	case []any:
		return 4
	}
	return 5
}

// Sort orders docs by q's sort key, ties broken by id.
func Sort(docs []*core.Document, q core.Query) {
	slices.SortStableFunc(docs, func(a, b *core.Document) int {
		c := Compare(SortKey(a, q), SortKey(b, q))
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if q.Descending {
			return -c
		}
		return c
	})
}

// After reports whether doc comes strictly after cursor in q's order.
func After(doc *core.Document, q core.Query, cursor Cursor) bool {
	var key any
	if len(cursor.Key) > 0 {
		_ = json.Unmarshal(cursor.Key, &key)
	}
	c := Compare(SortKey(doc, q), key)
	if c == 0 {
		c = cmp.Compare(doc.ID, cursor.ID)
	}
	if q.Descending {
		return c < 0
	}
	return c > 0
}

// CursorFor builds the cursor that resumes after doc.
func CursorFor(doc *core.Document, q core.Query) Cursor {
	key, _ := json.Marshal(SortKey(doc, q))
	return Cursor{Key: key, ID: doc.ID}
}
