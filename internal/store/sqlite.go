package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/quiverhq/quiver/internal/dbx"
	"github.com/quiverhq/quiver/internal/models"
)

// SQLiteStore implements Store using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteStore struct {
	db dbx.DBTX
}

// NewSQLiteStore returns a new SQLiteStore bound to the given DBTX.
func NewSQLiteStore(db dbx.DBTX) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const resourceColumns = `id, resource_group_id, version, kind, name, created_by, last_edited, last_edited_by, removed, enc_content, dirty`

func (s *SQLiteStore) GetResourceByDocID(ctx context.Context, docID string) (*Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = ?`, docID)
	return scanResource(row)
}

func (s *SQLiteStore) InsertResource(ctx context.Context, r *Resource) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (`+resourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ResourceGroupID, r.Version, string(r.Kind), r.Name, r.CreatedBy,
		r.LastEdited, r.LastEditedBy, boolToInt(r.Removed), r.EncContent, boolToInt(r.Dirty))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, r.ID)
		}
		return fmt.Errorf("failed to insert resource: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateResource(ctx context.Context, r *Resource) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE resources SET resource_group_id = ?, version = ?, kind = ?, name = ?, created_by = ?,
			last_edited = ?, last_edited_by = ?, removed = ?, enc_content = ?, dirty = ?
		 WHERE id = ?`,
		r.ResourceGroupID, r.Version, string(r.Kind), r.Name, r.CreatedBy,
		r.LastEdited, r.LastEditedBy, boolToInt(r.Removed), r.EncContent, boolToInt(r.Dirty), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update resource: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	return nil
}

func (s *SQLiteStore) RemoveResource(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to remove resource: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AllActive(ctx context.Context, groupID string) ([]Resource, error) {
	if groupID != "" {
		return s.queryResources(ctx,
			`SELECT `+resourceColumns+` FROM resources WHERE resource_group_id = ? ORDER BY id`, groupID)
	}
	return s.queryResources(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY id`)
}

func (s *SQLiteStore) FindActiveDirty(ctx context.Context, groupID string) ([]Resource, error) {
	if groupID != "" {
		return s.queryResources(ctx,
			`SELECT `+resourceColumns+` FROM resources WHERE dirty = 1 AND resource_group_id = ? ORDER BY id`, groupID)
	}
	return s.queryResources(ctx, `SELECT `+resourceColumns+` FROM resources WHERE dirty = 1 ORDER BY id`)
}

func (s *SQLiteStore) AllResources(ctx context.Context) ([]Resource, error) {
	return s.queryResources(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY id`)
}

func (s *SQLiteStore) GetConfig(ctx context.Context, groupID string) (*Config, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT resource_group_id, sync_mode FROM configs WHERE resource_group_id = ?`, groupID)
	c := &Config{}
	var mode string
	if err := row.Scan(&c.ResourceGroupID, &mode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	c.SyncMode = SyncMode(mode)
	return c, nil
}

func (s *SQLiteStore) InsertConfig(ctx context.Context, c *Config) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO configs (resource_group_id, sync_mode) VALUES (?, ?)`,
		c.ResourceGroupID, string(c.SyncMode))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, c.ResourceGroupID)
		}
		return fmt.Errorf("failed to insert config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateConfig(ctx context.Context, c *Config) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE configs SET sync_mode = ? WHERE resource_group_id = ?`,
		string(c.SyncMode), c.ResourceGroupID)
	if err != nil {
		return fmt.Errorf("failed to update config: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ResourceGroupID)
	}
	return nil
}

func (s *SQLiteStore) RemoveConfig(ctx context.Context, groupID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM configs WHERE resource_group_id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("failed to remove config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AllConfigs(ctx context.Context) ([]Config, error) {
	return s.queryConfigs(ctx, `SELECT resource_group_id, sync_mode FROM configs ORDER BY resource_group_id`)
}

func (s *SQLiteStore) FindInactiveConfigs(ctx context.Context) ([]Config, error) {
	return s.queryConfigs(ctx,
		`SELECT resource_group_id, sync_mode FROM configs WHERE sync_mode != ? ORDER BY resource_group_id`,
		string(SyncModeAutomatic))
}

func (s *SQLiteStore) queryResources(ctx context.Context, q string, args ...any) ([]Resource, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select resources: %w", err)
	}
	defer rows.Close()

	var result []Resource
	for rows.Next() {
		r, err := scanResourceRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLiteStore) queryConfigs(ctx context.Context, q string, args ...any) ([]Config, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select configs: %w", err)
	}
	defer rows.Close()

	var result []Config
	for rows.Next() {
		var c Config
		var mode string
		if err := rows.Scan(&c.ResourceGroupID, &mode); err != nil {
			return nil, err
		}
		c.SyncMode = SyncMode(mode)
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row *sql.Row) (*Resource, error) {
	r, err := scanResourceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func scanResourceRow(row rowScanner) (*Resource, error) {
	r := &Resource{}
	var kind string
	var removed, dirty int
	if err := row.Scan(&r.ID, &r.ResourceGroupID, &r.Version, &kind, &r.Name, &r.CreatedBy,
		&r.LastEdited, &r.LastEditedBy, &removed, &r.EncContent, &dirty); err != nil {
		return nil, err
	}
	r.Kind = models.Kind(kind)
	r.Removed = removed != 0
	r.Dirty = dirty != 0
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
