package syncer

import "errors"

var (
	// ErrNotLoggedIn marks operations skipped because no account is signed
	// in. Cycle entry points log a warning and return instead of surfacing
	// it.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrNotFound means a resource or document the server referred to is
	// missing locally. That is bookkeeping desync, not a transient fault,
	// so it propagates instead of being retried.
	ErrNotFound = errors.New("sync bookkeeping entry not found")

	// ErrWorkspaceNotFound means a document's ancestor chain contains no
	// workspace, so no resource group can own it.
	ErrWorkspaceNotFound = errors.New("no workspace found for document")
)
