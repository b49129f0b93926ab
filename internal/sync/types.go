package sync

import "encoding/json"

// SchemaVersion tags every persisted client view. A persisted CVR whose tag
// does not match is treated as missing, which forces a full resync.
const SchemaVersion = "3"

// Synced table names. These double as the prefix of wire keys.
const (
	TablePoint    = "point"
	TableLabel    = "label"
	TableStream   = "stream"
	TableUser     = "user"
	TableMetaTask = "metaTask"
	TableStatus   = "status"
	TableClient   = "client"
)

// EntityTableOrder is the order entity patches are emitted in. Clients depend
// on this order being stable across releases.
var EntityTableOrder = []string{
	TablePoint,
	TableLabel,
	TableStream,
	TableUser,
	TableMetaTask,
	TableStatus,
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

// Cookie is the opaque pointer a client holds to the last CVR it received.
// Order is a fencing token: strictly increasing per client group.
type Cookie struct {
	ClientViewID string `json:"clientViewId"`
	Order        int64  `json:"order"`
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

// Mutation is one queued client mutation. ID is the client-assigned sequence
// number, monotonically increasing per client.
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

// PushResponse summarises how the batch was handled. Failed mutations are
// acknowledged anyway so a broken mutation cannot wedge the client's queue.
type PushResponse struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}
