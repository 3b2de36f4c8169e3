// Package store persists the sync layer's bookkeeping: one Resource row per
// synced document and one Config row per resource group. Resource rows are
// tombstoned, never hard-deleted, while sync is active; hard deletes happen
// only on explicit logout/reset.
package store

import (
	"context"
	"errors"

	"github.com/quiverhq/quiver/internal/models"
)

// NoVersion marks a resource that has never been accepted by the server.
const NoVersion = "__NO_VERSION__"

var (
	ErrNotFound      = errors.New("resource not found")
	ErrAlreadyExists = errors.New("resource already exists")
)

// SyncMode governs whether a resource group takes part in full pulls.
type SyncMode string

const (
	SyncModeOff       SyncMode = "off"
	SyncModeManual    SyncMode = "manual"
	SyncModeAutomatic SyncMode = "automatic"
)

// Resource wraps one document for sync: identity, group membership, the
// server version token, denormalized display metadata, and the encrypted
// content.
type Resource struct {
	ID              string
	ResourceGroupID string
	Version         string
	Kind            models.Kind
	Name            string
	CreatedBy       string
	LastEdited      int64
	LastEditedBy    string
	Removed         bool
	EncContent      []byte
	Dirty           bool
}

// Config is the per-group sync preference record.
type Config struct {
	ResourceGroupID string
	SyncMode        SyncMode
}

// Store is the resource/config repository interface.
type Store interface {
	GetResourceByDocID(ctx context.Context, docID string) (*Resource, error)
	InsertResource(ctx context.Context, r *Resource) error
	UpdateResource(ctx context.Context, r *Resource) error
	RemoveResource(ctx context.Context, docID string) error

	// AllActive returns every resource row, tombstones included: a removed
	// row still has to be reported to the server until the removal is
	// acknowledged. groupID scopes the query when non-empty.
	AllActive(ctx context.Context, groupID string) ([]Resource, error)
	// FindActiveDirty returns the resources awaiting a push, scoped to
	// groupID when non-empty.
	FindActiveDirty(ctx context.Context, groupID string) ([]Resource, error)
	AllResources(ctx context.Context) ([]Resource, error)

	GetConfig(ctx context.Context, groupID string) (*Config, error)
	InsertConfig(ctx context.Context, c *Config) error
	UpdateConfig(ctx context.Context, c *Config) error
	RemoveConfig(ctx context.Context, groupID string) error
	AllConfigs(ctx context.Context) ([]Config, error)
	// FindInactiveConfigs returns configs whose groups are excluded from
	// automatic full pulls (every mode except automatic).
	FindInactiveConfigs(ctx context.Context) ([]Config, error)
}
