package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverhq/quiver/internal/datastore"
	"github.com/quiverhq/quiver/internal/models"
	"github.com/quiverhq/quiver/internal/store"
)

func TestQueue_CoalescesBurstsToLastSnapshot(t *testing.T) {
	e, api, ds, st, _ := newTestEngine(t)
	ctx := context.Background()
	_, req := insertWorkspaceTree(t, ds)

	// Five rapid edits to the same document: one resource write, holding
	// the final snapshot, followed by one push.
	for i := 1; i <= 5; i++ {
		doc := req
		doc.Name = "Get Users " + string(rune('0'+i))
		doc.Modified = int64(2000 + i)
		e.handleChanges([]datastore.Change{{Event: datastore.EventUpdate, Doc: doc}})
	}

	require.Eventually(t, func() bool {
		res, err := st.GetResourceByDocID(ctx, req.ID)
		return err == nil && res.Name == "Get Users 5"
	}, 2*time.Second, 5*time.Millisecond)

	res, err := st.GetResourceByDocID(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, res.Dirty)

	plain, err := e.decryptDoc(ctx, res.ResourceGroupID, res.EncContent)
	require.NoError(t, err)
	assert.Equal(t, "Get Users 5", plain.Name)
	assert.EqualValues(t, 2005, plain.Modified)

	require.Eventually(t, func() bool {
		return api.pushCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Give a straggler push a chance to fire; there must not be one.
	time.Sleep(3 * e.cfg.PushDebounce)
	assert.Equal(t, 1, api.pushCount())
}

func TestQueue_UpdateAndRemoveAreSeparateEntries(t *testing.T) {
	e, _, ds, st, _ := newTestEngine(t)
	ctx := context.Background()
	_, req := insertWorkspaceTree(t, ds)

	e.handleChanges([]datastore.Change{
		{Event: datastore.EventUpdate, Doc: req},
		{Event: datastore.EventRemove, Doc: req},
	})

	// Both land; the remove's tombstone is the effect that must survive.
	require.Eventually(t, func() bool {
		res, err := st.GetResourceByDocID(ctx, req.ID)
		return err == nil && res.Removed
	}, 2*time.Second, 5*time.Millisecond)

	res, err := st.GetResourceByDocID(ctx, req.ID)
	require.NoError(t, err)
	assert.True(t, res.Dirty)
	assert.Equal(t, store.NoVersion, res.Version)
}

func TestQueue_IgnoresSyncOriginatedChanges(t *testing.T) {
	e, _, ds, st, _ := newTestEngine(t)
	ctx := context.Background()
	_, req := insertWorkspaceTree(t, ds)

	e.handleChanges([]datastore.Change{{Event: datastore.EventUpdate, Doc: req, FromSync: true}})

	e.queueMu.Lock()
	queued := len(e.queued)
	e.queueMu.Unlock()
	assert.Zero(t, queued, "sync-originated changes must not re-enter the queue")

	_, err := st.GetResourceByDocID(ctx, req.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueue_IgnoresUnsyncableKinds(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)

	doc := models.Document{ID: "stats_1", Kind: "Stats", Name: "ignored"}
	e.handleChanges([]datastore.Change{{Event: datastore.EventUpdate, Doc: doc}})

	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	assert.Empty(t, e.queued)
}

func TestQueue_DropsChangesWhenLoggedOut(t *testing.T) {
	e, _, ds, _, sess := newTestEngine(t)
	_, req := insertWorkspaceTree(t, ds)
	sess.SignOut()

	e.handleChanges([]datastore.Change{{Event: datastore.EventUpdate, Doc: req}})

	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	assert.Empty(t, e.queued)
}

func TestQueue_EndToEndThroughDatastore(t *testing.T) {
	e, api, ds, st, _ := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, e.InitSync(ctx))

	ws, req := insertWorkspaceTree(t, ds)

	require.Eventually(t, func() bool {
		return api.pushCount() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	for _, id := range []string{ws.ID, req.ID} {
		res, err := st.GetResourceByDocID(ctx, id)
		require.NoError(t, err)
		assert.False(t, res.Dirty, "pushed and acknowledged: %s", id)
	}
}
