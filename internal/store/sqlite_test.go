package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/quiverhq/quiver/internal/models"
)

func setupStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS resources (
  id                TEXT PRIMARY KEY,
  resource_group_id TEXT NOT NULL,
  version           TEXT NOT NULL,
  kind              TEXT NOT NULL,
  name              TEXT NOT NULL DEFAULT '',
  created_by        TEXT NOT NULL DEFAULT '',
  last_edited       INTEGER NOT NULL DEFAULT 0,
  last_edited_by    TEXT NOT NULL DEFAULT '',
  removed           INTEGER NOT NULL DEFAULT 0,
  enc_content       BLOB,
  dirty             INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS configs (
  resource_group_id TEXT PRIMARY KEY,
  sync_mode         TEXT NOT NULL DEFAULT 'off'
);`)
	require.NoError(t, err)
	return NewSQLiteStore(db)
}

func testResource(id, groupID string, dirty bool) *Resource {
	return &Resource{
		ID:              id,
		ResourceGroupID: groupID,
		Version:         NoVersion,
		Kind:            models.KindRequest,
		Name:            "r " + id,
		CreatedBy:       "acct_1",
		LastEdited:      100,
		LastEditedBy:    "acct_1",
		EncContent:      []byte("ciphertext"),
		Dirty:           dirty,
	}
}

func TestSQLiteStore_ResourceCRUD(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	r := testResource("req_1", "rg_1", true)
	require.NoError(t, s.InsertResource(ctx, r))
	require.ErrorIs(t, s.InsertResource(ctx, r), ErrAlreadyExists)

	got, err := s.GetResourceByDocID(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, r, got)

	got.Version = "v2"
	got.Dirty = false
	require.NoError(t, s.UpdateResource(ctx, got))

	again, err := s.GetResourceByDocID(ctx, "req_1")
	require.NoError(t, err)
	assert.Equal(t, "v2", again.Version)
	assert.False(t, again.Dirty)

	_, err = s.GetResourceByDocID(ctx, "req_missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.RemoveResource(ctx, "req_1"))
	_, err = s.GetResourceByDocID(ctx, "req_1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_DirtyQueries(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertResource(ctx, testResource("req_1", "rg_1", true)))
	require.NoError(t, s.InsertResource(ctx, testResource("req_2", "rg_1", false)))
	require.NoError(t, s.InsertResource(ctx, testResource("req_3", "rg_2", true)))

	dirty, err := s.FindActiveDirty(ctx, "")
	require.NoError(t, err)
	assert.Len(t, dirty, 2)

	dirtyScoped, err := s.FindActiveDirty(ctx, "rg_2")
	require.NoError(t, err)
	require.Len(t, dirtyScoped, 1)
	assert.Equal(t, "req_3", dirtyScoped[0].ID)
}

func TestSQLiteStore_AllActive_IncludesTombstones(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	r := testResource("req_1", "rg_1", false)
	r.Removed = true
	require.NoError(t, s.InsertResource(ctx, r))
	require.NoError(t, s.InsertResource(ctx, testResource("req_2", "rg_2", false)))

	all, err := s.AllActive(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2, "tombstoned rows still report to the server")

	scoped, err := s.AllActive(ctx, "rg_1")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.True(t, scoped[0].Removed)
}

func TestSQLiteStore_Configs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertConfig(ctx, &Config{ResourceGroupID: "rg_1", SyncMode: SyncModeOff}))
	require.NoError(t, s.InsertConfig(ctx, &Config{ResourceGroupID: "rg_2", SyncMode: SyncModeAutomatic}))
	require.NoError(t, s.InsertConfig(ctx, &Config{ResourceGroupID: "rg_3", SyncMode: SyncModeManual}))
	require.ErrorIs(t, s.InsertConfig(ctx, &Config{ResourceGroupID: "rg_1"}), ErrAlreadyExists)

	c, err := s.GetConfig(ctx, "rg_1")
	require.NoError(t, err)
	assert.Equal(t, SyncModeOff, c.SyncMode)

	_, err = s.GetConfig(ctx, "rg_missing")
	require.ErrorIs(t, err, ErrNotFound)

	c.SyncMode = SyncModeAutomatic
	require.NoError(t, s.UpdateConfig(ctx, c))

	inactive, err := s.FindInactiveConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, inactive, 1, "only non-automatic groups are blacklisted")
	assert.Equal(t, "rg_3", inactive[0].ResourceGroupID)

	all, err := s.AllConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.RemoveConfig(ctx, "rg_3"))
	all, err = s.AllConfigs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
