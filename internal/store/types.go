package store

// User is the account that owns every other row.
type User struct {
	ID         string
	Email      string
	TimeZone   string
	SlackToken string // empty when not configured
	Version    int64
}

// Stream is a named timeline of points.
type Stream struct {
	ID        string
	UserID    string
	Name      string
	ParentID  string // empty for root streams
	SortOrder int64
	Version   int64
}

// Label tags points within one stream. ParentLabelIDList is backed by the
// label_parent join table (multi-parent model).
type Label struct {
	ID                string
	UserID            string
	StreamID          string
	Name              string
	Color             string
	Icon              string
	ParentLabelIDList []string
	Version           int64
}

// LabelParent is one child -> parent link.
type LabelParent struct {
	LabelID       string
	ParentLabelID string
	UserID        string
}

// Point is one timestamped entry in a stream. LabelIDList is backed by the
// point_label join table.
type Point struct {
	ID          string
	UserID      string
	StreamID    string
	Description string
	StartedAt   int64 // unix milliseconds
	LabelIDList []string
	Version     int64
}

// PointLabel is one point -> label link.
type PointLabel struct {
	PointID  string
	LabelID  string
	StreamID string
	UserID   string
}

// LabelUsage aggregates how often a label is attached to points.
type LabelUsage struct {
	LabelID      string
	Count        int64
	MaxStartedAt int64
}

// MetaTask records the state of a named background job, synced to clients so
// they can surface background-work progress.
type MetaTask struct {
	ID             string
	UserID         string
	Name           string
	Status         string
	LastStartedAt  int64
	LastFinishedAt int64 // zero while running
	Version        int64
}

// Meta task statuses.
const (
	MetaTaskRunning = "RUNNING"
	MetaTaskSuccess = "SUCCESS"
	MetaTaskFailure = "FAILURE"
)

// Status is the per-user generated status line. One row per user.
type Status struct {
	UserID       string
	EnabledAt    int64 // zero when disabled
	Prompt       string
	StreamIDList []string
	Status       string
	Emoji        string
	ExpiresAt    int64
	InputHash    string // fingerprint of the last generation input
	Version      int64
}

// ClientGroup tracks the CVR fencing version for one browser/device profile.
type ClientGroup struct {
	ID         string
	UserID     string
	CVRVersion int64
}

// Client tracks the last applied mutation for one sync client. The version
// column feeds the client version record so pulls can report
// lastMutationIDChanges.
type Client struct {
	ID             string
	ClientGroupID  string
	LastMutationID int64
	Version        int64
}
