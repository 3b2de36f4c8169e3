// Package datastore is the local document store consumed by the sync layer:
// CRUD over documents plus change notification. Writes carry a fromSync
// origin flag that is threaded through to the emitted change events, so the
// sync engine can tell its own replayed writes apart from user edits.
package datastore

import (
	"context"
	"errors"

	"github.com/quiverhq/quiver/internal/models"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")

	// ErrAncestorCycle means a parent chain loops back on itself. The walk
	// fails loudly instead of recursing forever.
	ErrAncestorCycle = errors.New("document ancestor chain contains a cycle")
)

// EventKind is the kind of change applied to a document.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventRemove EventKind = "remove"
)

// Change is one applied mutation, as delivered to subscribers.
type Change struct {
	Event    EventKind
	Doc      models.Document
	FromSync bool
}

// Datastore is the storage boundary the sync engine depends on.
type Datastore interface {
	GetByID(ctx context.Context, kind models.Kind, id string) (models.Document, error)
	// GetAnyByID looks a document up by id alone, regardless of kind.
	GetAnyByID(ctx context.Context, id string) (models.Document, error)
	All(ctx context.Context, kind models.Kind) ([]models.Document, error)
	FindByParent(ctx context.Context, kind models.Kind, parentID string) ([]models.Document, error)

	Insert(ctx context.Context, doc models.Document) error
	Update(ctx context.Context, doc models.Document, fromSync bool) error
	Upsert(ctx context.Context, doc models.Document, fromSync bool) error
	Remove(ctx context.Context, doc models.Document, fromSync bool) error

	// WithAncestors returns doc followed by its parents up to the root.
	WithAncestors(ctx context.Context, doc models.Document) ([]models.Document, error)

	// Subscribe registers a listener for change batches. The returned
	// function unsubscribes it.
	Subscribe(fn func(changes []Change)) (unsubscribe func())
}
