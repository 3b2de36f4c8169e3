package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/quiverhq/quiver/internal/models"
	"github.com/quiverhq/quiver/internal/store"
)

// workspaces lists every local workspace with its resource group and sync
// mode. Workspaces never promoted to a resource show as unsynced.
func (a *App) workspaces(ctx context.Context) {
	docs, err := a.ds.All(ctx, models.KindWorkspace)
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}
	if len(docs) == 0 {
		fmt.Fprintln(a.out, "No workspaces")
		return
	}

	for _, doc := range docs {
		res, err := a.store.GetResourceByDocID(ctx, doc.ID)
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(a.out, "%-40s %-12s (not synced)\n", doc.Name, doc.ID)
			continue
		}
		if err != nil {
			fmt.Fprintf(a.out, "error: %v\n", err)
			return
		}

		mode := store.SyncModeOff
		if c, err := a.store.GetConfig(ctx, res.ResourceGroupID); err == nil {
			mode = c.SyncMode
		}
		fmt.Fprintf(a.out, "%-40s %-12s group=%s mode=%s\n", doc.Name, doc.ID, res.ResourceGroupID, mode)
	}
}

// setMode switches a workspace's resource group between off, manual and
// automatic sync.
func (a *App) setMode(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(a.out, "Usage: mode <workspace-id> <off|manual|automatic>")
		return
	}
	workspaceID := args[0]
	mode := store.SyncMode(args[1])
	switch mode {
	case store.SyncModeOff, store.SyncModeManual, store.SyncModeAutomatic:
	default:
		fmt.Fprintln(a.out, "Usage: mode <workspace-id> <off|manual|automatic>")
		return
	}

	doc, err := a.ds.GetByID(ctx, models.KindWorkspace, workspaceID)
	if err != nil {
		fmt.Fprintf(a.out, "workspace not found: %v\n", err)
		return
	}
	res, err := a.engine.GetOrCreateResourceForDoc(ctx, doc)
	if err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}
	if _, err := a.engine.CreateOrUpdateConfig(ctx, res.ResourceGroupID, mode); err != nil {
		fmt.Fprintf(a.out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(a.out, "Workspace %s is now %s\n", doc.Name, mode)

	// Opting a workspace in deserves an immediate scoped pull.
	if mode == store.SyncModeAutomatic {
		if err := a.engine.Pull(ctx, res.ResourceGroupID, true); err != nil {
			fmt.Fprintf(a.out, "pull failed: %v\n", err)
		}
	}
}
