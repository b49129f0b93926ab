package replica

import "encoding/json"

// Wire types for the sync protocol. The contract with the server is the
// JSON shape, not shared Go types; the client carries its own copies.

// Cookie is the opaque pointer to the last client view the server sent.
type Cookie struct {
	ClientViewID string `json:"clientViewId"`
	Order        int64  `json:"order"`
}

// Patch operation kinds.
const (
	OpPut   = "put"
	OpDel   = "del"
	OpClear = "clear"
)

// PatchOperation is a single instruction in a pull response patch.
type PatchOperation struct {
	Op    string          `json:"op"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

// PullRequest is the body of POST /api/v1/sync/pull.
type PullRequest struct {
	ClientGroupID string  `json:"clientGroupID"`
	Cookie        *Cookie `json:"cookie"`
}

// PullResponse is the body returned from a pull.
type PullResponse struct {
	Cookie                *Cookie          `json:"cookie"`
	LastMutationIDChanges map[string]int64 `json:"lastMutationIDChanges"`
	Patch                 []PatchOperation `json:"patch"`
}

// Mutation is one queued local mutation, as sent to the server.
type Mutation struct {
	ID       int64           `json:"id"`
	ClientID string          `json:"clientID"`
	Name     string          `json:"name"`
	Args     json.RawMessage `json:"args"`
}

// PushRequest is the body of POST /api/v1/sync/push.
type PushRequest struct {
	ClientGroupID string     `json:"clientGroupID"`
	Mutations     []Mutation `json:"mutations"`
}

// PushResponse summarises how the server handled a push.
type PushResponse struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}
