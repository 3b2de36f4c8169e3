package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/quiverhq/quiver/internal/cryptox"
	"github.com/quiverhq/quiver/internal/models"
	"github.com/quiverhq/quiver/internal/store"
	"github.com/quiverhq/quiver/internal/transport"
)

// GetOrCreateResourceForDoc returns the resource row tracking doc, creating
// it (and, for a never-synced workspace, the workspace's resource group and
// resource) on first sight.
func (e *Engine) GetOrCreateResourceForDoc(ctx context.Context, doc models.Document) (*store.Resource, error) {
	res, err := e.store.GetResourceByDocID(ctx, doc.ID)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return e.createResourceForDoc(ctx, doc)
}

// createResourceForDoc finds the workspace owning doc, makes sure the
// workspace itself has a resource group and resource, then creates doc's
// resource under that group. Every document in a workspace shares the
// workspace's group and therefore its encryption key.
func (e *Engine) createResourceForDoc(ctx context.Context, doc models.Document) (*store.Resource, error) {
	workspace, err := e.workspaceFor(ctx, doc)
	if err != nil {
		return nil, err
	}

	workspaceRes, err := e.store.GetResourceByDocID(ctx, workspace.ID)
	if errors.Is(err, store.ErrNotFound) {
		group, key, gErr := e.createResourceGroup(ctx, workspace.Name)
		if gErr != nil {
			return nil, gErr
		}
		e.keys.Seed(group, key)

		// New groups start with sync off; the user opts a workspace in.
		if _, cErr := e.GetOrCreateConfig(ctx, group.ID); cErr != nil {
			return nil, cErr
		}

		workspaceRes, err = e.createResource(ctx, workspace, group.ID)
	}
	if err != nil {
		return nil, err
	}

	if doc.ID == workspace.ID {
		return workspaceRes, nil
	}
	return e.createResource(ctx, doc, workspaceRes.ResourceGroupID)
}

func (e *Engine) workspaceFor(ctx context.Context, doc models.Document) (models.Document, error) {
	if doc.Kind == models.KindWorkspace {
		return doc, nil
	}
	ancestors, err := e.ds.WithAncestors(ctx, doc)
	if err != nil {
		return models.Document{}, err
	}
	for _, a := range ancestors {
		if a.Kind == models.KindWorkspace {
			return a, nil
		}
	}
	return models.Document{}, fmt.Errorf("document %s: %w", doc.ID, ErrWorkspaceNotFound)
}

// createResource inserts a dirty, never-pushed resource row for doc.
func (e *Engine) createResource(ctx context.Context, doc models.Document, groupID string) (*store.Resource, error) {
	enc, err := e.encryptDoc(ctx, groupID, doc)
	if err != nil {
		return nil, err
	}

	accountID := e.sess.AccountID()
	res := &store.Resource{
		ID:              doc.ID,
		ResourceGroupID: groupID,
		Version:         store.NoVersion,
		Kind:            doc.Kind,
		Name:            displayName(doc),
		CreatedBy:       accountID,
		LastEdited:      doc.Modified,
		LastEditedBy:    accountID,
		EncContent:      enc,
		Dirty:           true,
	}
	if err := e.store.InsertResource(ctx, res); err != nil {
		return nil, err
	}
	e.log.Debug(ctx, "created resource", "id", res.ID, "groupId", groupID)
	return res, nil
}

// createResourceGroup generates a fresh symmetric key, wraps it under the
// account's public key, and registers the group server-side. Returns the
// group and the plaintext key.
func (e *Engine) createResourceGroup(ctx context.Context, name string) (*transport.ResourceGroup, []byte, error) {
	key, err := cryptox.GenerateSymmetricKey()
	if err != nil {
		return nil, nil, err
	}
	pub, err := e.sess.PublicKey()
	if err != nil {
		return nil, nil, err
	}
	wrapped, err := cryptox.WrapKeyAsymmetric(pub, key)
	if err != nil {
		return nil, nil, err
	}
	group, err := e.api.CreateResourceGroup(ctx, name, wrapped)
	if err != nil {
		return nil, nil, err
	}
	e.log.Debug(ctx, "created resource group", "groupId", group.ID, "name", name)
	return group, key, nil
}

// getOrCreateAllActiveResources walks every syncable document and makes
// sure each has a resource row, then returns the resources in scope.
func (e *Engine) getOrCreateAllActiveResources(ctx context.Context, groupID string) ([]store.Resource, error) {
	for _, kind := range models.Kinds() {
		docs, err := e.ds.All(ctx, kind)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if _, err := e.GetOrCreateResourceForDoc(ctx, doc); err != nil {
				return nil, err
			}
		}
	}
	return e.store.AllActive(ctx, groupID)
}

func (e *Engine) encryptDoc(ctx context.Context, groupID string, doc models.Document) ([]byte, error) {
	key, err := e.keys.SymmetricKey(ctx, groupID)
	if err != nil {
		return nil, err
	}
	plain, err := doc.Serialize()
	if err != nil {
		return nil, err
	}
	return cryptox.EncryptSymmetric(key, plain)
}

func (e *Engine) decryptDoc(ctx context.Context, groupID string, encContent []byte) (models.Document, error) {
	key, err := e.keys.SymmetricKey(ctx, groupID)
	if err != nil {
		return models.Document{}, err
	}
	plain, err := cryptox.DecryptSymmetric(key, encContent)
	if err != nil {
		return models.Document{}, err
	}
	return models.Deserialize(plain)
}
