// Package syncer implements the background synchronization engine: it
// watches the local datastore for document changes, encrypts them per
// resource group, reconciles them against the remote store through a
// push/pull protocol, resolves conflicts last-write-wins, and replays
// remote effects back into the datastore.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quiverhq/quiver/internal/config"
	"github.com/quiverhq/quiver/internal/datastore"
	"github.com/quiverhq/quiver/internal/logging"
	"github.com/quiverhq/quiver/internal/models"
	"github.com/quiverhq/quiver/internal/session"
	"github.com/quiverhq/quiver/internal/store"
	"github.com/quiverhq/quiver/internal/transport"
)

// Engine is the sync orchestrator. One Engine exists per application
// session; all state lives on the struct so tests get clean isolation.
type Engine struct {
	cfg   *config.Config
	log   logging.Logger
	sess  *session.Manager
	store store.Store
	ds    datastore.Datastore
	api   transport.Client

	keys *groupKeyCache

	// now is stubbed in tests.
	now func() time.Time

	initMu      sync.Mutex
	initialized bool
	unsubscribe func()
	stopCh      chan struct{}
	startPull   *time.Timer
	startPush   *time.Timer

	// cycleMu serializes push/pull cycle bodies. Cycles are still allowed
	// to run back-to-back in any order, which is why both pull and push
	// finish by re-pushing whatever is dirty.
	cycleMu sync.Mutex

	queueMu    sync.Mutex
	queued     map[string]queuedChange
	queueTimer *time.Timer
	pushTimer  *time.Timer
}

// NewEngine wires an engine; it does nothing until InitSync or
// DoInitialSync is called.
func NewEngine(cfg *config.Config, log logging.Logger, sess *session.Manager,
	st store.Store, ds datastore.Datastore, api transport.Client) *Engine {
	e := &Engine{
		cfg:    cfg,
		log:    log,
		sess:   sess,
		store:  st,
		ds:     ds,
		api:    api,
		now:    time.Now,
		queued: map[string]queuedChange{},
	}
	e.keys = newGroupKeyCache(api, sess, log, func(ctx context.Context, groupID string) error {
		_, err := e.GetOrCreateConfig(ctx, groupID)
		return err
	})
	return e
}

// InitSync starts the engine: registers the datastore change listener and
// schedules the initial pull, the initial push of anything already dirty,
// and the recurring full pull. Idempotent; a no-op when sync is disabled.
func (e *Engine) InitSync(ctx context.Context) error {
	if !e.cfg.SyncEnabled {
		e.log.Debug(ctx, "sync not enabled")
		return nil
	}

	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.initialized {
		e.log.Debug(ctx, "sync already initialized")
		return nil
	}

	e.unsubscribe = e.ds.Subscribe(e.handleChanges)
	e.stopCh = make(chan struct{})

	e.startPull = time.AfterFunc(e.cfg.StartPullDelay, func() {
		if err := e.Pull(context.Background(), "", true); err != nil {
			e.log.Error(context.Background(), "initial pull failed", "error", err)
		}
	})
	e.startPush = time.AfterFunc(e.cfg.StartPushDelay, func() {
		if err := e.PushActiveDirtyResources(context.Background(), ""); err != nil {
			e.log.Error(context.Background(), "initial push failed", "error", err)
		}
	})

	go e.fullPullLoop(e.stopCh)

	e.initialized = true
	e.log.Debug(ctx, "sync initialized")
	return nil
}

func (e *Engine) fullPullLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.FullPullInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := e.Pull(context.Background(), "", true); err != nil {
				e.log.Error(context.Background(), "full pull failed", "error", err)
			}
		}
	}
}

// Close stops timers and the change listener. Safe to call on an engine
// that never started.
func (e *Engine) Close() {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if !e.initialized {
		return
	}
	close(e.stopCh)
	e.startPull.Stop()
	e.startPush.Stop()
	e.unsubscribe()

	e.queueMu.Lock()
	if e.queueTimer != nil {
		e.queueTimer.Stop()
	}
	if e.pushTimer != nil {
		e.pushTimer.Stop()
	}
	e.queueMu.Unlock()

	e.initialized = false
}

// TriggerSync forces a full cycle right now: init if needed, then one push
// followed by one pull, awaited. Backs the "sync now" affordance.
func (e *Engine) TriggerSync(ctx context.Context) error {
	if !e.sess.LoggedIn() {
		return ErrNotLoggedIn
	}
	if err := e.InitSync(ctx); err != nil {
		return err
	}
	if err := e.PushActiveDirtyResources(ctx, ""); err != nil {
		return err
	}
	return e.Pull(ctx, "", true)
}

// DoInitialSync is first-time setup for an account. It pulls without
// creating missing local resources first, so pre-existing remote state is
// not clobbered by spurious local resource creation, then promotes every
// local document to a resource, then starts normal sync.
func (e *Engine) DoInitialSync(ctx context.Context) error {
	if !e.sess.LoggedIn() {
		return ErrNotLoggedIn
	}
	if err := e.Pull(ctx, "", false); err != nil {
		return err
	}
	if _, err := e.getOrCreateAllActiveResources(ctx, ""); err != nil {
		return err
	}
	return e.InitSync(ctx)
}

// PushActiveDirtyResources sends all dirty resources (scoped to one group
// when groupID is non-empty) and applies the server's verdicts. Network
// failures are logged and swallowed: dirty flags stay set, so the next
// debounced push retries automatically.
func (e *Engine) PushActiveDirtyResources(ctx context.Context, groupID string) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	return e.push(ctx, groupID)
}

func (e *Engine) push(ctx context.Context, groupID string) error {
	if !e.sess.LoggedIn() {
		e.log.Warn(ctx, "not logged in")
		return nil
	}

	dirty, err := e.store.FindActiveDirty(ctx, groupID)
	if err != nil {
		return err
	}
	if len(dirty) == 0 {
		e.log.Debug(ctx, "no changes to push")
		return nil
	}

	summaries := make([]transport.ResourceSummary, 0, len(dirty))
	for _, r := range dirty {
		summaries = append(summaries, toWire(r))
	}

	resp, err := e.api.Push(ctx, summaries)
	if err != nil {
		e.log.Error(ctx, "failed to push changes", "error", err)
		return nil
	}

	// The server response's effect lists apply in its order: accepted
	// versions first, then conflicts.
	for _, group := range [][]transport.VersionedID{resp.Updated, resp.Created, resp.Removed} {
		for _, item := range group {
			if err := e.acceptPushedVersion(ctx, item); err != nil {
				return err
			}
		}
	}

	for _, serverRes := range resp.Conflicts {
		if err := e.resolveConflict(ctx, serverRes); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) acceptPushedVersion(ctx context.Context, item transport.VersionedID) error {
	res, err := e.store.GetResourceByDocID(ctx, item.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("pushed resource %s: %w", item.ID, ErrNotFound)
		}
		return err
	}
	res.Version = item.Version
	res.Dirty = false
	return e.store.UpdateResource(ctx, res)
}

// resolveConflict applies last-write-wins between the local resource and
// the server's conflicting copy. Ties go to the server; the server's
// version token is adopted either way, since the server is the
// version-of-record after a conflict. A local win stays dirty so the next
// push overwrites the server.
func (e *Engine) resolveConflict(ctx context.Context, serverRes transport.ResourceSummary) error {
	local, err := e.store.GetResourceByDocID(ctx, serverRes.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("conflicting resource %s: %w", serverRes.ID, ErrNotFound)
		}
		return err
	}

	serverIsNewer := serverRes.LastEdited >= local.LastEdited
	e.log.Debug(ctx, "resolved conflict", "id", serverRes.ID, "serverWins", serverIsNewer)

	if serverIsNewer {
		local.Name = serverRes.Name
		local.LastEdited = serverRes.LastEdited
		local.LastEditedBy = serverRes.LastEditedBy
		local.Removed = serverRes.Removed
		local.EncContent = serverRes.EncContent
	}
	local.Version = serverRes.Version
	local.Dirty = !serverIsNewer
	if err := e.store.UpdateResource(ctx, local); err != nil {
		return err
	}

	if !serverIsNewer {
		// Local won; we already hold the latest content.
		return nil
	}

	// Server won: replay its content into the datastore. Decrypt from the
	// resource row, not the datastore, because the document may have been
	// deleted locally.
	doc, err := e.decryptDoc(ctx, local.ResourceGroupID, local.EncContent)
	if err != nil {
		e.log.Error(ctx, "failed to decrypt conflict winner", "id", serverRes.ID, "error", err)
		return nil
	}
	if local.Removed {
		if err := e.ds.Remove(ctx, doc, true); err != nil && !errors.Is(err, datastore.ErrNotFound) {
			return err
		}
		return nil
	}
	return e.ds.Upsert(ctx, doc, true)
}

// Pull reconciles local resources against the server. When groupID is
// non-empty the pull is scoped to that group and every other group is
// blacklisted; a full pull blacklists only groups whose config marks them
// inactive. createMissingResources promotes local documents without a
// resource row first; first-time setup passes false to avoid inventing
// resources the server may already know under different state.
func (e *Engine) Pull(ctx context.Context, groupID string, createMissingResources bool) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	return e.pull(ctx, groupID, createMissingResources)
}

func (e *Engine) pull(ctx context.Context, groupID string, createMissingResources bool) error {
	if !e.sess.LoggedIn() {
		e.log.Warn(ctx, "not logged in")
		return nil
	}

	var candidates []store.Resource
	var err error
	if createMissingResources {
		candidates, err = e.getOrCreateAllActiveResources(ctx, groupID)
	} else {
		candidates, err = e.store.AllActive(ctx, groupID)
	}
	if err != nil {
		return err
	}

	blacklist, err := e.pullBlacklist(ctx, groupID)
	if err != nil {
		return err
	}

	refs := make([]transport.PullResourceRef, 0, len(candidates))
	for _, r := range candidates {
		refs = append(refs, transport.PullResourceRef{
			ID:              r.ID,
			ResourceGroupID: r.ResourceGroupID,
			Version:         r.Version,
			Removed:         r.Removed,
		})
	}

	e.log.Debug(ctx, "pulling", "resources", len(refs), "blacklisted", len(blacklist))

	resp, err := e.api.Pull(ctx, transport.PullRequest{Resources: refs, Blacklist: blacklist})
	if err != nil {
		e.log.Error(ctx, "failed to pull changes", "error", err)
		return nil
	}

	// Effect lists apply in a fixed order: created, updated, removed, then
	// push requests. Later steps depend on rows written by earlier ones.
	created := 0
	for _, serverRes := range resp.CreatedResources {
		if e.applyPulledCreate(ctx, serverRes) {
			created++
		}
	}
	if created > 0 {
		e.log.Debug(ctx, "pull created resources", "count", created)
	}

	updated := 0
	for _, serverRes := range resp.UpdatedResources {
		if e.applyPulledUpdate(ctx, serverRes) {
			updated++
		}
	}
	if updated > 0 {
		e.log.Debug(ctx, "pull updated resources", "count", updated)
	}

	for _, id := range resp.IDsToRemove {
		if err := e.applyPulledRemove(ctx, id); err != nil {
			return err
		}
	}

	for _, id := range resp.IDsToPush {
		res, err := e.store.GetResourceByDocID(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("resource to push %s: %w", id, ErrNotFound)
			}
			return err
		}
		res.Dirty = true
		if err := e.store.UpdateResource(ctx, res); err != nil {
			return err
		}
	}

	// Push requests above may have dirtied resources; flush them now.
	return e.push(ctx, "")
}

// applyPulledCreate inserts a server-created resource and upserts its
// document. Per-item failures are logged and skipped; one undecryptable or
// duplicate resource must not abort the batch.
func (e *Engine) applyPulledCreate(ctx context.Context, serverRes transport.ResourceSummary) bool {
	doc, err := e.decryptDoc(ctx, serverRes.ResourceGroupID, serverRes.EncContent)
	if err != nil {
		e.log.Warn(ctx, "failed to decode created resource", "id", serverRes.ID, "error", err)
		return false
	}

	res := fromWire(serverRes)
	res.Dirty = false
	if err := e.store.InsertResource(ctx, res); err != nil {
		// Likely a duplicate from a rare race; keep going.
		e.log.Error(ctx, "failed to insert resource", "id", serverRes.ID, "error", err)
		return false
	}

	// Upsert rather than insert: the client may already hold this document
	// from a previous session or a logout/login cycle.
	if err := e.ds.Upsert(ctx, doc, true); err != nil {
		e.log.Error(ctx, "failed to upsert pulled document", "id", doc.ID, "error", err)
		return false
	}
	return true
}

func (e *Engine) applyPulledUpdate(ctx context.Context, serverRes transport.ResourceSummary) bool {
	doc, err := e.decryptDoc(ctx, serverRes.ResourceGroupID, serverRes.EncContent)
	if err != nil {
		e.log.Warn(ctx, "failed to decode updated resource", "id", serverRes.ID, "error", err)
		return false
	}

	if err := e.ds.Upsert(ctx, doc, true); err != nil {
		e.log.Warn(ctx, "failed to write updated document", "id", doc.ID, "error", err)
		return false
	}

	res, err := e.store.GetResourceByDocID(ctx, serverRes.ID)
	if err != nil {
		e.log.Warn(ctx, "no resource for updated document", "id", serverRes.ID, "error", err)
		return false
	}
	res.Version = serverRes.Version
	res.Name = serverRes.Name
	res.LastEdited = serverRes.LastEdited
	res.LastEditedBy = serverRes.LastEditedBy
	res.Removed = serverRes.Removed
	res.EncContent = serverRes.EncContent
	res.Dirty = false
	if err := e.store.UpdateResource(ctx, res); err != nil {
		e.log.Warn(ctx, "failed to update resource", "id", serverRes.ID, "error", err)
		return false
	}
	return true
}

// applyPulledRemove tombstones the resource and deletes the document. A
// missing resource here is bookkeeping desync and fails the cycle.
func (e *Engine) applyPulledRemove(ctx context.Context, id string) error {
	res, err := e.store.GetResourceByDocID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("resource to remove %s: %w", id, ErrNotFound)
		}
		return err
	}

	doc, err := e.decryptDoc(ctx, res.ResourceGroupID, res.EncContent)
	if err != nil {
		return fmt.Errorf("document to remove %s: %w", id, err)
	}

	res.Removed = true
	res.Dirty = false
	if err := e.store.UpdateResource(ctx, res); err != nil {
		return err
	}

	if err := e.ds.Remove(ctx, doc, true); err != nil && !errors.Is(err, datastore.ErrNotFound) {
		return err
	}
	return nil
}

func (e *Engine) pullBlacklist(ctx context.Context, groupID string) ([]string, error) {
	var configs []store.Config
	var err error
	if groupID != "" {
		// Scoped pull: every group except the requested one sits out.
		all, cErr := e.store.AllConfigs(ctx)
		if cErr != nil {
			return nil, cErr
		}
		for _, c := range all {
			if c.ResourceGroupID != groupID {
				configs = append(configs, c)
			}
		}
	} else {
		configs, err = e.store.FindInactiveConfigs(ctx)
		if err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(configs))
	for _, c := range configs {
		ids = append(ids, c.ResourceGroupID)
	}
	return ids, nil
}

// GetOrCreateConfig returns the group's config, creating a default (sync
// off) row on first sight.
func (e *Engine) GetOrCreateConfig(ctx context.Context, groupID string) (*store.Config, error) {
	c, err := e.store.GetConfig(ctx, groupID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	c = &store.Config{ResourceGroupID: groupID, SyncMode: store.SyncModeOff}
	if err := e.store.InsertConfig(ctx, c); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return e.store.GetConfig(ctx, groupID)
		}
		return nil, err
	}
	return c, nil
}

// CreateOrUpdateConfig upserts the group's sync mode.
func (e *Engine) CreateOrUpdateConfig(ctx context.Context, groupID string, mode store.SyncMode) (*store.Config, error) {
	c := &store.Config{ResourceGroupID: groupID, SyncMode: mode}
	_, err := e.store.GetConfig(ctx, groupID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if err := e.store.InsertConfig(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	}
	if err := e.store.UpdateConfig(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Logout wipes local sync bookkeeping and signs the session out. Documents
// themselves stay put.
func (e *Engine) Logout(ctx context.Context) error {
	if err := e.ResetLocalData(ctx); err != nil {
		return err
	}
	e.sess.SignOut()
	return nil
}

// CancelAccount deletes the remote account, then logs out.
func (e *Engine) CancelAccount(ctx context.Context) error {
	if err := e.api.CancelAccount(ctx); err != nil {
		return err
	}
	return e.Logout(ctx)
}

// ResetLocalData hard-deletes every resource and config row. This is the
// one exception to the tombstone-only rule, reserved for explicit
// logout/reset.
func (e *Engine) ResetLocalData(ctx context.Context) error {
	resources, err := e.store.AllResources(ctx)
	if err != nil {
		return err
	}
	for _, r := range resources {
		if err := e.store.RemoveResource(ctx, r.ID); err != nil {
			return err
		}
	}

	configs, err := e.store.AllConfigs(ctx)
	if err != nil {
		return err
	}
	for _, c := range configs {
		if err := e.store.RemoveConfig(ctx, c.ResourceGroupID); err != nil {
			return err
		}
	}
	return nil
}

// ResetRemoteData wipes the account's sync data server-side.
func (e *Engine) ResetRemoteData(ctx context.Context) error {
	return e.api.ResetAccountData(ctx)
}

func toWire(r store.Resource) transport.ResourceSummary {
	return transport.ResourceSummary{
		ID:              r.ID,
		ResourceGroupID: r.ResourceGroupID,
		Version:         r.Version,
		Kind:            string(r.Kind),
		Name:            r.Name,
		CreatedBy:       r.CreatedBy,
		LastEdited:      r.LastEdited,
		LastEditedBy:    r.LastEditedBy,
		Removed:         r.Removed,
		EncContent:      r.EncContent,
	}
}

func fromWire(s transport.ResourceSummary) *store.Resource {
	return &store.Resource{
		ID:              s.ID,
		ResourceGroupID: s.ResourceGroupID,
		Version:         s.Version,
		Kind:            models.Kind(s.Kind),
		Name:            s.Name,
		CreatedBy:       s.CreatedBy,
		LastEdited:      s.LastEdited,
		LastEditedBy:    s.LastEditedBy,
		Removed:         s.Removed,
		EncContent:      s.EncContent,
	}
}
