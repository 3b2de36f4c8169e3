package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/quiverhq/quiver/internal/config"
	"github.com/quiverhq/quiver/internal/cryptox"
	"github.com/quiverhq/quiver/internal/datastore"
	"github.com/quiverhq/quiver/internal/localdb"
	"github.com/quiverhq/quiver/internal/logging"
	"github.com/quiverhq/quiver/internal/models"
	"github.com/quiverhq/quiver/internal/session"
	"github.com/quiverhq/quiver/internal/store"
	"github.com/quiverhq/quiver/internal/transport"
)

// fakeClient is an in-memory transport.Client. Handlers are optional; the
// defaults accept everything and remember created groups so key unwrapping
// round-trips against the real session keys.
type fakeClient struct {
	mu sync.Mutex

	pushFn func(resources []transport.ResourceSummary) (*transport.PushResponse, error)
	pullFn func(req transport.PullRequest) (*transport.PullResponse, error)

	groups map[string]*transport.ResourceGroup

	pushCalls   [][]transport.ResourceSummary
	pullCalls   []transport.PullRequest
	groupFetch  int
	groupCreate int
	resets      int
	cancels     int
}

func newFakeClient() *fakeClient {
	return &fakeClient{groups: map[string]*transport.ResourceGroup{}}
}

func (f *fakeClient) Push(_ context.Context, resources []transport.ResourceSummary) (*transport.PushResponse, error) {
	f.mu.Lock()
	f.pushCalls = append(f.pushCalls, resources)
	fn := f.pushFn
	f.mu.Unlock()
	if fn != nil {
		return fn(resources)
	}
	// Default: accept everything as an update at a fresh version.
	resp := &transport.PushResponse{}
	for _, r := range resources {
		resp.Updated = append(resp.Updated, transport.VersionedID{ID: r.ID, Version: uuid.NewString()})
	}
	return resp, nil
}

func (f *fakeClient) Pull(_ context.Context, req transport.PullRequest) (*transport.PullResponse, error) {
	f.mu.Lock()
	f.pullCalls = append(f.pullCalls, req)
	fn := f.pullFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &transport.PullResponse{}, nil
}

func (f *fakeClient) GetResourceGroup(_ context.Context, groupID string) (*transport.ResourceGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupFetch++
	g, ok := f.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, transport.ErrUnexpectedStatus)
	}
	return g, nil
}

func (f *fakeClient) CreateResourceGroup(_ context.Context, name string, encSymmetricKey []byte) (*transport.ResourceGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupCreate++
	g := &transport.ResourceGroup{
		ID:              "grp_" + uuid.NewString(),
		Name:            name,
		EncSymmetricKey: encSymmetricKey,
	}
	f.groups[g.ID] = g
	return g, nil
}

func (f *fakeClient) ResetAccountData(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeClient) CancelAccount(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeClient) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushCalls)
}

func newDiscardSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*Engine, *fakeClient, datastore.Datastore, store.Store, *session.Manager) {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, localdb.RunMigrations(ctx, db))

	ds := datastore.NewSQLiteDatastore(db)
	st := store.NewSQLiteStore(db)

	priv, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)
	sess := session.NewManager()
	sess.SignIn("acct_test", "test-token", priv)

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SyncEnabled = true
	cfg.QueueDebounce = 10 * time.Millisecond
	cfg.PushDebounce = 20 * time.Millisecond
	cfg.StartPullDelay = time.Hour
	cfg.StartPushDelay = time.Hour
	cfg.FullPullInterval = time.Hour

	api := newFakeClient()
	log := logging.NewSlogLogger(newDiscardSlog())
	e := NewEngine(cfg, log, sess, st, ds, api)
	t.Cleanup(e.Close)
	return e, api, ds, st, sess
}

// insertWorkspaceTree writes a workspace with one request under it and
// returns both documents.
func insertWorkspaceTree(t *testing.T, ds datastore.Datastore) (models.Document, models.Document) {
	t.Helper()
	ctx := context.Background()

	ws, err := models.Wrap(models.KindWorkspace, models.NewID(models.KindWorkspace), "",
		"Test Workspace", 1000, models.Workspace{Description: "fixtures"})
	require.NoError(t, err)
	require.NoError(t, ds.Insert(ctx, ws))

	req, err := models.Wrap(models.KindRequest, models.NewID(models.KindRequest), ws.ID,
		"Get Users", 1001, models.Request{Method: "GET", URL: "https://example.com/users"})
	require.NoError(t, err)
	require.NoError(t, ds.Insert(ctx, req))
	return ws, req
}

// groupKeyOf unwraps the symmetric key of the single group the fake server
// knows about.
func groupKeyOf(t *testing.T, api *fakeClient, sess *session.Manager, groupID string) []byte {
	t.Helper()
	api.mu.Lock()
	g, ok := api.groups[groupID]
	api.mu.Unlock()
	require.True(t, ok, "group %s not registered with fake server", groupID)
	priv, err := sess.PrivateKey()
	require.NoError(t, err)
	key, err := cryptox.UnwrapKeyAsymmetric(priv, g.EncSymmetricKey)
	require.NoError(t, err)
	return key
}

// encryptForTest seals a document under the group key the way the engine
// would, for faking server-side content.
func encryptForTest(t *testing.T, key []byte, doc models.Document) []byte {
	t.Helper()
	plain, err := doc.Serialize()
	require.NoError(t, err)
	enc, err := cryptox.EncryptSymmetric(key, plain)
	require.NoError(t, err)
	return enc
}
