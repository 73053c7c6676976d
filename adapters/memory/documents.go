package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/internal/docquery"
	"github.com/lborres/kasal/internal/docwatch"
	"github.com/lborres/kasal/pkg/crypto"
)

// Documents implements core.DocumentStore in memory.
type Documents struct {
	mu     sync.RWMutex
	colls  map[string]map[string]*core.Document
	hub    *docwatch.Hub
	nanoid *crypto.NanoIDGenerator
	now    func() time.Time
}

var (
	_ core.DocumentStore = (*Documents)(nil)
	_ core.ChangeWatcher = (*Documents)(nil)
)

func NewDocuments() *Documents {
	return &Documents{
		colls:  make(map[string]map[string]*core.Document),
		hub:    docwatch.NewHub(),
		nanoid: crypto.MustNanoID(),
		now:    time.Now,
	}
}

// Close stops every live subscription.
func (d *Documents) Close() {
	d.hub.Close()
}

func encodeObject(data any) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("failed to encode document: data must be a JSON object")
	}
	return raw, nil
}

func cloneDoc(doc *core.Document) *core.Document {
	cp := *doc
	cp.Data = append(json.RawMessage(nil), doc.Data...)
	return &cp
}

func (d *Documents) Create(ctx context.Context, collection string, data any) (string, error) {
	id, err := d.nanoid.Generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate document id: %w", err)
	}
	if err := d.CreateWithID(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (d *Documents) CreateWithID(_ context.Context, collection, id string, data any) error {
	raw, err := encodeObject(data)
	if err != nil {
		return err
	}

	d.mu.Lock()
	coll, ok := d.colls[collection]
	if !ok {
		coll = make(map[string]*core.Document)
		d.colls[collection] = coll
	}
	now := d.now().UTC()
	kind := core.ChangeCreated
	doc := &core.Document{ID: id, Collection: collection, Data: raw, CreatedAt: now, UpdatedAt: now}
	if existing, ok := coll[id]; ok {
		doc.CreatedAt = existing.CreatedAt
		kind = core.ChangeUpdated
	}
	coll[id] = doc
	d.mu.Unlock()

	d.hub.Publish(core.Change{Kind: kind, Collection: collection, ID: id})
	return nil
}

func (d *Documents) Get(_ context.Context, collection, id string) (*core.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.colls[collection][id]
	if !ok {
		return nil, core.ErrDocumentNotFound
	}
	return cloneDoc(doc), nil
}

func validateQuery(q core.Query) error {
	for _, f := range q.Filters {
		if err := docquery.ValidField(f.Field); err != nil {
			return err
		}
	}
	if q.OrderBy != "" {
		return docquery.ValidField(q.OrderBy)
	}
	return nil
}

// matching returns the sorted documents of collection that satisfy q,
// ignoring q.Limit.
func (d *Documents) matching(collection string, q core.Query) []*core.Document {
	d.mu.RLock()
	out := make([]*core.Document, 0, len(d.colls[collection]))
	for _, doc := range d.colls[collection] {
		if docquery.Matches(doc, q) {
			out = append(out, cloneDoc(doc))
		}
	}
	d.mu.RUnlock()
	docquery.Sort(out, q)
	return out
}

func (d *Documents) List(_ context.Context, collection string, q core.Query) ([]*core.Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	docs := d.matching(collection, q)
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (d *Documents) Update(_ context.Context, collection, id string, patch map[string]any) error {
	d.mu.Lock()
	doc, ok := d.colls[collection][id]
	if !ok {
		d.mu.Unlock()
		return core.ErrDocumentNotFound
	}
	var merged map[string]any
	if err := json.Unmarshal(doc.Data, &merged); err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to decode document: %w", err)
	}
	maps.Copy(merged, patch)
	raw, err := json.Marshal(merged)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to encode document: %w", err)
	}
	updated := *doc
	updated.Data = raw
	updated.UpdatedAt = d.now().UTC()
	d.colls[collection][id] = &updated
	d.mu.Unlock()

	d.hub.Publish(core.Change{Kind: core.ChangeUpdated, Collection: collection, ID: id})
	return nil
}

func (d *Documents) Delete(_ context.Context, collection, id string) error {
	d.mu.Lock()
	if _, ok := d.colls[collection][id]; !ok {
		d.mu.Unlock()
		return core.ErrDocumentNotFound
	}
	delete(d.colls[collection], id)
	d.mu.Unlock()

	d.hub.Publish(core.Change{Kind: core.ChangeDeleted, Collection: collection, ID: id})
	return nil
}

func (d *Documents) Paginate(_ context.Context, collection string, q core.Query, pageSize int, cursor string) (*core.Page, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	docs := d.matching(collection, q)
	if cursor != "" {
		cur, err := docquery.DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		start := len(docs)
		for i, doc := range docs {
			if docquery.After(doc, q, cur) {
				start = i
				break
			}
		}
		docs = docs[start:]
	}

	page := &core.Page{}
	if len(docs) > pageSize {
		page.Documents = docs[:pageSize]
		page.Cursor = docquery.EncodeCursor(docquery.CursorFor(docs[pageSize-1], q))
	} else {
		page.Documents = docs
	}
	return page, nil
}

func (d *Documents) Subscribe(ctx context.Context, collection, id string, fn func(*core.Document)) (func(), error) {
	return d.hub.Add(ctx, collection, id, func(ctx context.Context) {
		doc, err := d.Get(ctx, collection, id)
		if err != nil {
			fn(nil)
			return
		}
		fn(doc)
	}), nil
}

// WatchChanges reports every change to collection, in publish order.
func (d *Documents) WatchChanges(collection string, fn func(core.Change)) func() {
	return d.hub.Watch(collection, fn)
}

func (d *Documents) SubscribeCollection(ctx context.Context, collection string, q core.Query, fn func([]*core.Document)) (func(), error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	return d.hub.Add(ctx, collection, "", func(ctx context.Context) {
		docs, _ := d.List(ctx, collection, q)
		fn(docs)
	}), nil
}
