package replica

import (
	"fmt"
	"strings"
)

// Synced table names. These double as the prefix of view keys.
const (
	TablePoint    = "point"
	TableLabel    = "label"
	TableStream   = "stream"
	TableUser     = "user"
	TableMetaTask = "metaTask"
	TableStatus   = "status"
)

// EncodeKey builds the view key for an entity.
func EncodeKey(table, id string) string {
	return table + "/" + id
}

// ParseKey splits a view key into table and id.
func ParseKey(key string) (table, id string, err error) {
	table, id, ok := strings.Cut(key, "/")
	if !ok || table == "" || id == "" {
		return "", "", fmt.Errorf("malformed key %q", key)
	}
	return table, id, nil
}

// Client-side entity shapes, exactly as the server serialises them.

type Point struct {
	StreamID    string   `json:"streamId"`
	LabelIDList []string `json:"labelIdList"`
	Description string   `json:"description"`
	StartedAt   int64    `json:"startedAt"`
}

type Label struct {
	StreamID          string   `json:"streamId"`
	Name              string   `json:"name"`
	Icon              string   `json:"icon,omitempty"`
	Color             string   `json:"color,omitempty"`
	ParentLabelIDList []string `json:"parentLabelIdList"`
	Popularity        int64    `json:"popularity"`
	PointCount        int64    `json:"pointCount"`
	LastStartedAt     int64    `json:"lastStartedAt,omitempty"`
}

type Stream struct {
	Name      string `json:"name"`
	ParentID  string `json:"parentId,omitempty"`
	SortOrder int64  `json:"sortOrder"`
}

type User struct {
	Email            string `json:"email"`
	SlackTokenMasked string `json:"slackTokenMasked,omitempty"`
}

type MetaTask struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	LastStartedAt  int64  `json:"lastStartedAt"`
	LastFinishedAt int64  `json:"lastFinishedAt,omitempty"`
}

type Status struct {
	IsEnabled    bool     `json:"isEnabled"`
	Prompt       string   `json:"prompt"`
	StreamIDList []string `json:"streamIdList"`
	ExpiresAt    int64    `json:"expiresAt,omitempty"`
	Status       string   `json:"status"`
	Emoji        string   `json:"emoji"`
}
