// Package models defines the syncable document kinds and their payloads.
package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind classifies a document. The set is closed: only these kinds
// participate in synchronization.
type Kind string

const (
	KindRequest      Kind = "Request"
	KindRequestGroup Kind = "RequestGroup"
	KindWorkspace    Kind = "Workspace"
	KindEnvironment  Kind = "Environment"
	KindCookieJar    Kind = "CookieJar"
)

// Kinds returns every syncable kind. Order is stable.
func Kinds() []Kind {
	return []Kind{KindRequest, KindRequestGroup, KindWorkspace, KindEnvironment, KindCookieJar}
}

// Valid reports whether k is one of the closed set of syncable kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindRequestGroup, KindWorkspace, KindEnvironment, KindCookieJar:
		return true
	}
	return false
}

func (k Kind) idPrefix() string {
	switch k {
	case KindRequest:
		return "req"
	case KindRequestGroup:
		return "fld"
	case KindWorkspace:
		return "wrk"
	case KindEnvironment:
		return "env"
	case KindCookieJar:
		return "jar"
	default:
		return "doc"
	}
}

// NewID generates a document id with a kind-specific prefix.
func NewID(k Kind) string {
	return k.idPrefix() + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Document is one syncable entity. ParentID forms a tree rooted at a
// Workspace (a Workspace has an empty ParentID). Body holds the
// kind-specific payload.
type Document struct {
	ID       string          `json:"_id"`
	Kind     Kind            `json:"type"`
	ParentID string          `json:"parentId,omitempty"`
	Name     string          `json:"name"`
	Modified int64           `json:"modified"`
	Body     json.RawMessage `json:"body,omitempty"`
}

// Wrap builds a Document around a typed payload.
func Wrap(kind Kind, id, parentID, name string, modified int64, payload any) (Document, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Kind: kind, ParentID: parentID, Name: name, Modified: modified, Body: b}, nil
}

// Unwrap decodes the kind-specific payload. The switch is exhaustive over
// the closed kind set; unknown kinds are an error, never a silent fallback.
func (d Document) Unwrap() (any, error) {
	switch d.Kind {
	case KindRequest:
		var v Request
		return v, json.Unmarshal(d.Body, &v)
	case KindRequestGroup:
		var v RequestGroup
		return v, json.Unmarshal(d.Body, &v)
	case KindWorkspace:
		var v Workspace
		return v, json.Unmarshal(d.Body, &v)
	case KindEnvironment:
		var v Environment
		return v, json.Unmarshal(d.Body, &v)
	case KindCookieJar:
		var v CookieJar
		return v, json.Unmarshal(d.Body, &v)
	default:
		return nil, fmt.Errorf("unknown document kind %q", d.Kind)
	}
}

// Serialize renders the document to canonical JSON, the form that gets
// encrypted into a resource's content.
func (d Document) Serialize() ([]byte, error) {
	return json.Marshal(d)
}

// Deserialize parses a document previously rendered by Serialize.
func Deserialize(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return Document{}, err
	}
	if !d.Kind.Valid() {
		return Document{}, fmt.Errorf("unknown document kind %q", d.Kind)
	}
	return d, nil
}

// Header is a single HTTP header on a request.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Request stores one HTTP request definition.
type Request struct {
	Method  string   `json:"method"`
	URL     string   `json:"url"`
	Headers []Header `json:"headers,omitempty"`
	Body    string   `json:"body,omitempty"`
}

// RequestGroup is a folder of requests.
type RequestGroup struct {
	Collapsed bool `json:"collapsed,omitempty"`
}

// Workspace is the root of a document tree. Each workspace maps 1:1 to a
// resource group on the sync server.
type Workspace struct {
	Description string `json:"description,omitempty"`
}

// Environment stores template variables.
type Environment struct {
	Data map[string]string `json:"data,omitempty"`
}

// Cookie is one stored cookie.
type Cookie struct {
	Domain string `json:"domain"`
	Name   string `json:"name"`
	Value  string `json:"value"`
}

// CookieJar stores cookies for a workspace.
type CookieJar struct {
	Cookies []Cookie `json:"cookies,omitempty"`
}
