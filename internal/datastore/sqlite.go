package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/quiverhq/quiver/internal/dbx"
	"github.com/quiverhq/quiver/internal/models"
)

// SQLiteDatastore implements Datastore over the local sqlite database.
type SQLiteDatastore struct {
	db dbx.DBTX

	mu        sync.Mutex
	listeners map[int]func([]Change)
	nextToken int
}

// NewSQLiteDatastore returns a datastore bound to the given DBTX.
func NewSQLiteDatastore(db dbx.DBTX) *SQLiteDatastore {
	return &SQLiteDatastore{db: db, listeners: map[int]func([]Change){}}
}

func (s *SQLiteDatastore) GetByID(ctx context.Context, kind models.Kind, id string) (models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, parent_id, name, modified, body FROM documents WHERE kind = ? AND id = ?`,
		string(kind), id)
	return scanDocument(row)
}

func (s *SQLiteDatastore) GetAnyByID(ctx context.Context, id string) (models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, parent_id, name, modified, body FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

func (s *SQLiteDatastore) All(ctx context.Context, kind models.Kind) ([]models.Document, error) {
	return s.query(ctx,
		`SELECT id, kind, parent_id, name, modified, body FROM documents WHERE kind = ? ORDER BY id`,
		string(kind))
}

func (s *SQLiteDatastore) FindByParent(ctx context.Context, kind models.Kind, parentID string) ([]models.Document, error) {
	return s.query(ctx,
		`SELECT id, kind, parent_id, name, modified, body FROM documents WHERE kind = ? AND parent_id = ? ORDER BY id`,
		string(kind), parentID)
}

func (s *SQLiteDatastore) Insert(ctx context.Context, doc models.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, kind, parent_id, name, modified, body) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, string(doc.Kind), doc.ParentID, doc.Name, doc.Modified, []byte(doc.Body))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, doc.ID)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	s.notify(Change{Event: EventInsert, Doc: doc})
	return nil
}

func (s *SQLiteDatastore) Update(ctx context.Context, doc models.Document, fromSync bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET parent_id = ?, name = ?, modified = ?, body = ? WHERE id = ? AND kind = ?`,
		doc.ParentID, doc.Name, doc.Modified, []byte(doc.Body), doc.ID, string(doc.Kind))
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, doc.ID)
	}
	s.notify(Change{Event: EventUpdate, Doc: doc, FromSync: fromSync})
	return nil
}

func (s *SQLiteDatastore) Upsert(ctx context.Context, doc models.Document, fromSync bool) error {
	// sqlite reports 1 affected row for both upsert paths, so the emitted
	// event kind comes from a pre-write existence check instead.
	event := EventUpdate
	if !s.exists(ctx, doc.ID) {
		event = EventInsert
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, kind, parent_id, name, modified, body) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			parent_id = excluded.parent_id,
			name = excluded.name,
			modified = excluded.modified,
			body = excluded.body`,
		doc.ID, string(doc.Kind), doc.ParentID, doc.Name, doc.Modified, []byte(doc.Body))
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	s.notify(Change{Event: event, Doc: doc, FromSync: fromSync})
	return nil
}

func (s *SQLiteDatastore) Remove(ctx context.Context, doc models.Document, fromSync bool) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to remove document: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, doc.ID)
	}
	s.notify(Change{Event: EventRemove, Doc: doc, FromSync: fromSync})
	return nil
}

// WithAncestors walks the parent chain iteratively. A repeated id means the
// chain is malformed and the walk fails with ErrAncestorCycle.
func (s *SQLiteDatastore) WithAncestors(ctx context.Context, doc models.Document) ([]models.Document, error) {
	chain := []models.Document{doc}
	seen := map[string]struct{}{doc.ID: {}}

	current := doc
	for current.ParentID != "" {
		parent, err := s.GetAnyByID(ctx, current.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("parent %s of %s: %w", current.ParentID, current.ID, ErrNotFound)
			}
			return nil, err
		}
		if _, ok := seen[parent.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrAncestorCycle, parent.ID)
		}
		seen[parent.ID] = struct{}{}
		chain = append(chain, parent)
		current = parent
	}
	return chain, nil
}

func (s *SQLiteDatastore) Subscribe(fn func(changes []Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := s.nextToken
	s.nextToken++
	s.listeners[token] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, token)
	}
}

func (s *SQLiteDatastore) notify(changes ...Change) {
	s.mu.Lock()
	fns := make([]func([]Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(changes)
	}
}

func (s *SQLiteDatastore) exists(ctx context.Context, id string) bool {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, id).Scan(&one)
	return err == nil
}

func (s *SQLiteDatastore) query(ctx context.Context, q string, args ...any) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select documents: %w", err)
	}
	defer rows.Close()

	var result []models.Document
	for rows.Next() {
		var d models.Document
		var kind string
		var body []byte
		if err := rows.Scan(&d.ID, &kind, &d.ParentID, &d.Name, &d.Modified, &body); err != nil {
			return nil, err
		}
		d.Kind = models.Kind(kind)
		d.Body = body
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// isUniqueViolation matches on the driver's message rather than its error
// type, so the store stays decoupled from the concrete sqlite driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scanDocument(row *sql.Row) (models.Document, error) {
	var d models.Document
	var kind string
	var body []byte
	if err := row.Scan(&d.ID, &kind, &d.ParentID, &d.Name, &d.Modified, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Document{}, ErrNotFound
		}
		return models.Document{}, fmt.Errorf("query row scan failed: %w", err)
	}
	d.Kind = models.Kind(kind)
	d.Body = body
	return d, nil
}
