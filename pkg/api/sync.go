// Package api holds the wire types of the sync protocol shared by the client
// and the reference server.
package api

import "encoding/json"

// OutboxOperation представляет одну операцию outbox на проводе.
type OutboxOperation struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	OpType     string          `json:"opType"`
	DocID      string          `json:"docId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  int64           `json:"createdAt"` // unix milliseconds
}

// PushRequest is the body of POST {endpoint}/sync/push.
type PushRequest struct {
	Operations []OutboxOperation `json:"operations"`
}

// PushResponse acknowledges an accepted push batch.
type PushResponse struct {
	Accepted int `json:"accepted"`
}

// ChangeTypeDelete marks a remote deletion; any other type carries a document.
const ChangeTypeDelete = "delete"

// Change is one remote change returned by pull.
type Change struct {
	Type     string          `json:"type"`
	ID       string          `json:"id,omitempty"`
	Document json.RawMessage `json:"document,omitempty"`
}

// PullResponse is the body returned by GET {endpoint}/sync/pull.
type PullResponse struct {
	Changes    []Change `json:"changes"`
	NextCursor string   `json:"nextCursor"`
	HasMore    bool     `json:"hasMore"`
}

// ErrorResponse представляет ошибку сервера.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
