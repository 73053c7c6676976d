package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lborres/kasal/core"
	"github.com/lborres/kasal/internal/docquery"
	"github.com/lborres/kasal/internal/docwatch"
	"github.com/lborres/kasal/pkg/crypto"
	"go.uber.org/zap"
)

// NotifyChannel is the LISTEN channel the documents trigger notifies on.
const NotifyChannel = "kasal_documents"

const defaultPageSize = 20

const documentColumns = `id, collection, data, created_at, updated_at`

// Documents implements core.DocumentStore on a jsonb table. Changes made by
// any process reach subscribers through LISTEN/NOTIFY once Listen runs.
type Documents struct {
	pool   *pgxpool.Pool
	hub    *docwatch.Hub
	nanoid *crypto.NanoIDGenerator
	logger *zap.Logger
}

var (
	_ core.DocumentStore = (*Documents)(nil)
	_ core.ChangeWatcher = (*Documents)(nil)
)

func NewDocuments(pool *pgxpool.Pool, logger *zap.Logger) *Documents {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Documents{
		pool:   pool,
		hub:    docwatch.NewHub(),
		nanoid: crypto.MustNanoID(),
		logger: logger,
	}
}

// Close stops every live subscription.
func (d *Documents) Close() {
	d.hub.Close()
}

func encodeData(data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("failed to encode document: data must be a JSON object")
	}
	return raw, nil
}

func scanDocument(row pgx.Row) (*core.Document, error) {
	doc := &core.Document{}
	var data []byte
	if err := row.Scan(&doc.ID, &doc.Collection, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Data = data
	return doc, nil
}

func (d *Documents) Create(ctx context.Context, collection string, data any) (string, error) {
	id, err := d.nanoid.Generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate document id: %w", err)
	}
	raw, err := encodeData(data)
	if err != nil {
		return "", err
	}
	_, err = d.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`,
		collection, id, string(raw))
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}
	d.hub.Publish(core.Change{Kind: core.ChangeCreated, Collection: collection, ID: id})
	return id, nil
}

// CreateWithID writes the document under id, replacing its data when it
// already exists. The creation time of an existing document is kept.
func (d *Documents) CreateWithID(ctx context.Context, collection, id string, data any) error {
	raw, err := encodeData(data)
	if err != nil {
		return err
	}
	_, err = d.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, id, string(raw))
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	d.hub.Publish(core.Change{Kind: core.ChangeUpdated, Collection: collection, ID: id})
	return nil
}

func (d *Documents) Get(ctx context.Context, collection, id string) (*core.Document, error) {
	doc, err := scanDocument(d.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE collection = $1 AND id = $2`, collection, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// selectBuilder assembles a filtered, ordered document query. Field names
// are validated before they are spliced into the statement.
type selectBuilder struct {
	where []string
	args  []any
}

func (b *selectBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func sortExpr(q core.Query) string {
	if q.OrderBy == "" {
		return "created_at"
	}
	return "COALESCE(data->'" + q.OrderBy + "', 'null'::jsonb)"
}

func buildSelect(collection string, q core.Query, cursor *docquery.Cursor, limit int) (string, []any, error) {
	b := &selectBuilder{}
	b.where = append(b.where, "collection = "+b.arg(collection))

	for _, f := range q.Filters {
		if err := docquery.ValidField(f.Field); err != nil {
			return "", nil, err
		}
		value, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode filter %s: %w", f.Field, err)
		}
		b.where = append(b.where, "data->'"+f.Field+"' = "+b.arg(string(value))+"::jsonb")
	}
	if q.OrderBy != "" {
		if err := docquery.ValidField(q.OrderBy); err != nil {
			return "", nil, err
		}
	}

	dir, op := "ASC", ">"
	if q.Descending {
		dir, op = "DESC", "<"
	}
	key := sortExpr(q)

	if cursor != nil {
		var keyParam string
		if q.OrderBy == "" {
			var s string
			if err := json.Unmarshal(cursor.Key, &s); err != nil {
				return "", nil, docquery.ErrInvalidCursor
			}
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return "", nil, docquery.ErrInvalidCursor
			}
			keyParam = b.arg(ts) + "::timestamptz"
		} else {
			k := string(cursor.Key)
			if k == "" {
				k = "null"
			}
			keyParam = b.arg(k) + "::jsonb"
		}
		b.where = append(b.where, fmt.Sprintf("(%s, id) %s (%s, %s)", key, op, keyParam, b.arg(cursor.ID)))
	}

	query := `SELECT ` + documentColumns + ` FROM documents WHERE ` + strings.Join(b.where, " AND ") +
		fmt.Sprintf(" ORDER BY %s %s, id %s", key, dir, dir)
	if limit > 0 {
		query += " LIMIT " + b.arg(limit)
	}
	return query, b.args, nil
}

func (d *Documents) query(ctx context.Context, sql string, args []any) ([]*core.Document, error) {
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []*core.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (d *Documents) List(ctx context.Context, collection string, q core.Query) ([]*core.Document, error) {
	sql, args, err := buildSelect(collection, q, nil, q.Limit)
	if err != nil {
		return nil, err
	}
	return d.query(ctx, sql, args)
}

// Update merges patch into the top level of the document.
func (d *Documents) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode patch: %w", err)
	}
	tag, err := d.pool.Exec(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`,
		collection, id, string(raw))
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrDocumentNotFound
	}
	d.hub.Publish(core.Change{Kind: core.ChangeUpdated, Collection: collection, ID: id})
	return nil
}

func (d *Documents) Delete(ctx context.Context, collection, id string) error {
	tag, err := d.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrDocumentNotFound
	}
	d.hub.Publish(core.Change{Kind: core.ChangeDeleted, Collection: collection, ID: id})
	return nil
}

// Paginate reads one page in keyset order. The cursor of a page resumes
// right after its last document.
func (d *Documents) Paginate(ctx context.Context, collection string, q core.Query, pageSize int, cursor string) (*core.Page, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	var after *docquery.Cursor
	if cursor != "" {
		c, err := docquery.DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		after = &c
	}

	sql, args, err := buildSelect(collection, q, after, pageSize+1)
	if err != nil {
		return nil, err
	}
	docs, err := d.query(ctx, sql, args)
	if err != nil {
		return nil, err
	}

	page := &core.Page{Documents: docs}
	if len(docs) > pageSize {
		page.Documents = docs[:pageSize]
		page.Cursor = docquery.EncodeCursor(docquery.CursorFor(docs[pageSize-1], q))
	}
	return page, nil
}

func (d *Documents) Subscribe(ctx context.Context, collection, id string, fn func(*core.Document)) (func(), error) {
	return d.hub.Add(ctx, collection, id, func(ctx context.Context) {
		doc, err := d.Get(ctx, collection, id)
		if err != nil {
			if !errors.Is(err, core.ErrDocumentNotFound) {
				if ctx.Err() == nil {
					d.logger.Warn("document refresh failed", zap.String("collection", collection), zap.String("id", id), zap.Error(err))
				}
				return
			}
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
	if _, _, err := buildSelect(collection, q, nil, q.Limit); err != nil {
		return nil, err
	}
	return d.hub.Add(ctx, collection, "", func(ctx context.Context) {
		docs, err := d.List(ctx, collection, q)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Warn("collection refresh failed", zap.String("collection", collection), zap.Error(err))
			}
			return
		}
		fn(docs)
	}), nil
}

// Listen relays change notifications from every writer to local
// subscribers until ctx is done, reconnecting after connection loss.
func (d *Documents) Listen(ctx context.Context) error {
	return listen(ctx, d.pool, d.logger, NotifyChannel, d.relay)
}

func (d *Documents) relay(payload string) {
	var change core.Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		d.logger.Warn("malformed document notification", zap.String("payload", payload), zap.Error(err))
		return
	}
	d.hub.Publish(change)
}
