package core

import (
	"context"
	"encoding/json"
	"time"
)

// Document is a stored JSON document. CreatedAt and UpdatedAt are assigned
// by the store at write time.
type Document struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Decode unmarshals the document data into v.
func (d *Document) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Filter matches documents whose top-level Field equals Value.
type Filter struct {
	Field string
	Value any
}

// Query narrows a collection read.
type Query struct {
	Filters    []Filter
	OrderBy    string // top-level field; empty orders by creation time
	Descending bool
	Limit      int
}

// Where returns a copy of q with an extra equality filter.
func (q Query) Where(field string, value any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Value: value})
	return q
}

// Page is one page of a paginated read. Cursor is empty on the last page.
type Page struct {
	Documents []*Document `json:"documents"`
	Cursor    string      `json:"cursor,omitempty"`
}

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Change describes one committed write.
type Change struct {
	Kind       ChangeKind `json:"kind"`
	Collection string     `json:"collection"`
	ID         string     `json:"id"`
}

// DocumentStore is the generic document layer: keyed CRUD, filtered
// listing, pagination and change subscriptions.
type DocumentStore interface {
	Create(ctx context.Context, collection string, data any) (string, error)
	CreateWithID(ctx context.Context, collection, id string, data any) error
	Get(ctx context.Context, collection, id string) (*Document, error)
	List(ctx context.Context, collection string, q Query) ([]*Document, error)
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Paginate(ctx context.Context, collection string, q Query, pageSize int, cursor string) (*Page, error)

	// Subscribe calls fn with the current document and again after every
	// change to it. fn receives nil once the document is deleted.
	Subscribe(ctx context.Context, collection, id string, fn func(*Document)) (func(), error)
	// SubscribeCollection calls fn with the query result and again after
	// every change in the collection.
	SubscribeCollection(ctx context.Context, collection string, q Query, fn func([]*Document)) (func(), error)
}

// ChangeWatcher is implemented by document stores that report every
// committed change on its own, without coalescing.
type ChangeWatcher interface {
	// WatchChanges calls fn for each change in collection until the
	// returned function is called.
	WatchChanges(collection string, fn func(Change)) (stop func())
}
