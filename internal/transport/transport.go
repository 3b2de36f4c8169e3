// Package transport is the HTTP JSON client for the sync server: push/pull
// of encrypted resources, resource group fetch/create, and account resets.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnexpectedStatus matches any non-2xx response via errors.Is.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// StatusError is a non-2xx API response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool { return target == ErrUnexpectedStatus }

// ResourceSummary is the wire form of one resource, sent on push and
// received for creates, updates, and conflicts. EncContent is base64 over
// the wire (encoding/json's []byte default).
type ResourceSummary struct {
	ID              string `json:"id"`
	ResourceGroupID string `json:"resourceGroupId"`
	Version         string `json:"version"`
	Kind            string `json:"type"`
	Name            string `json:"name"`
	CreatedBy       string `json:"createdBy"`
	LastEdited      int64  `json:"lastEdited"`
	LastEditedBy    string `json:"lastEditedBy"`
	Removed         bool   `json:"removed"`
	EncContent      []byte `json:"encContent"`
}

// VersionedID pairs a resource id with the server-issued version that push
// assigned to it.
type VersionedID struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// PushResponse lists the fates the server assigned to pushed resources.
type PushResponse struct {
	Updated   []VersionedID     `json:"updated"`
	Created   []VersionedID     `json:"created"`
	Removed   []VersionedID     `json:"removed"`
	Conflicts []ResourceSummary `json:"conflicts"`
}

// PullResourceRef is the client's knowledge of one resource, sent on pull.
type PullResourceRef struct {
	ID              string `json:"id"`
	ResourceGroupID string `json:"resourceGroupId"`
	Version         string `json:"version"`
	Removed         bool   `json:"removed"`
}

// PullRequest is the pull body: what the client has, and which groups to
// leave out.
type PullRequest struct {
	Resources []PullResourceRef `json:"resources"`
	Blacklist []string          `json:"blacklist"`
}

// PullResponse is the server's diff against the client's pull state.
type PullResponse struct {
	UpdatedResources []ResourceSummary `json:"updatedResources"`
	CreatedResources []ResourceSummary `json:"createdResources"`
	IDsToPush        []string          `json:"idsToPush"`
	IDsToRemove      []string          `json:"idsToRemove"`
}

// ResourceGroup is the server-side key container. EncSymmetricKey is the
// group's AES key wrapped with the account public key.
type ResourceGroup struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	EncSymmetricKey []byte `json:"encSymmetricKey"`
}

// Client is the remote sync API.
type Client interface {
	Push(ctx context.Context, resources []ResourceSummary) (*PushResponse, error)
	Pull(ctx context.Context, req PullRequest) (*PullResponse, error)
	GetResourceGroup(ctx context.Context, groupID string) (*ResourceGroup, error)
	CreateResourceGroup(ctx context.Context, name string, encSymmetricKey []byte) (*ResourceGroup, error)
	ResetAccountData(ctx context.Context) error
	CancelAccount(ctx context.Context) error
}
