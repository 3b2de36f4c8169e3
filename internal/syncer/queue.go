package syncer

import (
	"context"
	"time"

	"github.com/quiverhq/quiver/internal/datastore"
	"github.com/quiverhq/quiver/internal/models"
)

// queuedChange is one buffered local mutation. Repeated edits to the same
// (document, event) pair overwrite each other, so a burst of keystrokes
// costs one re-encryption, not one per keystroke.
type queuedChange struct {
	event     datastore.EventKind
	doc       models.Document
	timestamp int64
}

func queueKey(docID string, event datastore.EventKind) string {
	return docID + "|" + string(event)
}

// handleChanges is the datastore change listener. It filters out non-sync
// kinds and, critically, changes tagged as originating from the sync layer
// itself; replaying a pulled document must not re-enter the queue.
func (e *Engine) handleChanges(changes []datastore.Change) {
	for _, ch := range changes {
		if !ch.Doc.Kind.Valid() {
			continue
		}
		if ch.FromSync {
			continue
		}
		e.enqueue(ch.Event, ch.Doc)
	}
}

// enqueue buffers one change and (re)starts the queue debounce timer.
//
// Two debounce stages back this queue: a short one before resource updates
// (encryption is CPU-bound) and a longer one before pushes (the network is
// slow). Flushing the queue while the push timer is pending just resets it.
func (e *Engine) enqueue(event datastore.EventKind, doc models.Document) {
	ctx := context.Background()
	if !e.sess.LoggedIn() {
		e.log.Warn(ctx, "not logged in")
		return
	}

	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	// Not doc.Modified: a removal carries no meaningful modified stamp.
	e.queued[queueKey(doc.ID, event)] = queuedChange{event: event, doc: doc, timestamp: e.now().UnixMilli()}

	if e.queueTimer != nil {
		e.queueTimer.Stop()
	}
	e.queueTimer = time.AfterFunc(e.cfg.QueueDebounce, e.flushQueue)
}

// flushQueue updates the resource rows for every buffered change, then arms
// the push debounce timer. The pending map is snapshotted and reset first,
// so changes arriving mid-flush land in a fresh batch.
func (e *Engine) flushQueue() {
	ctx := context.Background()

	e.queueMu.Lock()
	pending := e.queued
	e.queued = map[string]queuedChange{}
	e.queueMu.Unlock()

	if len(pending) == 0 {
		return
	}

	// Removes apply after everything else: when an edit and a delete of
	// the same document share a batch, the tombstone must be the final
	// state regardless of map order.
	for _, removePass := range []bool{false, true} {
		for _, qc := range pending {
			if (qc.event == datastore.EventRemove) != removePass {
				continue
			}
			if err := e.applyQueuedChange(ctx, qc); err != nil {
				// One document failing to encrypt or persist must not sink
				// the rest of the batch.
				e.log.Error(ctx, "failed to update resource for change",
					"id", qc.doc.ID, "event", string(qc.event), "error", err)
				continue
			}
			e.log.Debug(ctx, "queued change applied", "event", string(qc.event), "id", qc.doc.ID)
		}
	}

	e.queueMu.Lock()
	if e.pushTimer != nil {
		e.pushTimer.Stop()
	}
	e.pushTimer = time.AfterFunc(e.cfg.PushDebounce, func() {
		if err := e.PushActiveDirtyResources(context.Background(), ""); err != nil {
			e.log.Error(context.Background(), "debounced push failed", "error", err)
		}
	})
	e.queueMu.Unlock()
}

// applyQueuedChange re-encrypts the document snapshot into its resource row
// and marks it dirty for the next push.
func (e *Engine) applyQueuedChange(ctx context.Context, qc queuedChange) error {
	res, err := e.GetOrCreateResourceForDoc(ctx, qc.doc)
	if err != nil {
		return err
	}

	enc, err := e.encryptDoc(ctx, res.ResourceGroupID, qc.doc)
	if err != nil {
		return err
	}

	res.Name = displayName(qc.doc)
	res.LastEdited = qc.timestamp
	res.LastEditedBy = e.sess.AccountID()
	res.EncContent = enc
	res.Removed = qc.event == datastore.EventRemove
	res.Dirty = true
	return e.store.UpdateResource(ctx, res)
}

func displayName(doc models.Document) string {
	if doc.Name == "" {
		return "n/a"
	}
	return doc.Name
}
