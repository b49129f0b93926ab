// Package mutation is the closed catalogue of sync mutations: the names and
// typed inputs shared by the optimistic client mutators and the server's
// authoritative mutators. Both sides must agree on name and input shape for
// replay to converge.
package mutation

// Mutation names. The set is closed; dispatch on either side rejects
// anything not listed here.
const (
	StreamCreate    = "stream_create"
	StreamRename    = "stream_rename"
	StreamSetParent = "stream_setParent"
	StreamSort      = "stream_sort"
	StreamDelete    = "stream_delete"
	StreamSquash    = "stream_squash"

	LabelCreate            = "label_create"
	LabelRename            = "label_rename"
	LabelSetColor          = "label_setColor"
	LabelSetIcon           = "label_setIcon"
	LabelAddParentLabel    = "label_addParentLabel"
	LabelRemoveParentLabel = "label_removeParentLabel"
	LabelSquash            = "label_squash"

	PointCreate         = "point_create"
	PointDelete         = "point_delete"
	PointSetDescription = "point_setDescription"
	PointSetLabelIDList = "point_setLabelIdList"
	PointSetStartedAt   = "point_setStartedAt"

	StatusSetPrompt     = "status_setPrompt"
	StatusToggleEnabled = "status_toggleEnabled"
	StatusToggleStream  = "status_toggleStream"

	UserSetSlackToken = "user_setSlackToken"
	UserSetTimeZone   = "user_setTimeZone"

	MigrateFixupLabelParents = "migrate_fixupLabelParents"
)

// Envelope is decoded from every mutation's args to recover the business
// timestamp. ActionedAt is chosen once, client-side, when the mutation is
// created, and survives optimistic replay and server replay unchanged.
type Envelope struct {
	ActionedAt int64 `json:"actionedAt"`
}

type StreamCreateArgs struct {
	StreamID string `json:"streamId"`
	Name     string `json:"name"`
}

type StreamRenameArgs struct {
	StreamID string `json:"streamId"`
	Name     string `json:"name"`
}

type StreamSetParentArgs struct {
	StreamID string `json:"streamId"`
	ParentID string `json:"parentId,omitempty"`
}

type StreamSortArgs struct {
	StreamID string `json:"streamId"`
	Delta    int64  `json:"delta"` // -1 or 1
}

type StreamDeleteArgs struct {
	StreamID string `json:"streamId"`
}

type StreamSquashArgs struct {
	SourceStreamIDList  []string `json:"sourceStreamIdList"`
	DestinationStreamID string   `json:"destinationStreamId"`
}

type LabelCreateArgs struct {
	LabelID           string   `json:"labelId"`
	StreamID          string   `json:"streamId"`
	Name              string   `json:"name"`
	Color             string   `json:"color,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	ParentLabelIDList []string `json:"parentLabelIdList,omitempty"`
}

type LabelRenameArgs struct {
	LabelID string `json:"labelId"`
	Name    string `json:"name"`
}

type LabelSetColorArgs struct {
	LabelID string `json:"labelId"`
	Color   string `json:"color,omitempty"`
}

type LabelSetIconArgs struct {
	LabelID string `json:"labelId"`
	Icon    string `json:"icon,omitempty"`
}

type LabelAddParentLabelArgs struct {
	LabelID       string `json:"labelId"`
	ParentLabelID string `json:"parentLabelId"`
}

type LabelRemoveParentLabelArgs struct {
	LabelID       string `json:"labelId"`
	ParentLabelID string `json:"parentLabelId"`
}

type LabelSquashArgs struct {
	SourceLabelIDList  []string `json:"sourceLabelIdList"`
	DestinationLabelID string   `json:"destinationLabelId"`
}

type PointCreateArgs struct {
	PointID     string   `json:"pointId"`
	StreamID    string   `json:"streamId"`
	LabelIDList []string `json:"labelIdList"`
	Description string   `json:"description"`
	StartedAt   int64    `json:"startedAt"`
}

type PointDeleteArgs struct {
	PointID string `json:"pointId"`
}

type PointSetDescriptionArgs struct {
	PointID     string `json:"pointId"`
	Description string `json:"description"`
}

type PointSetLabelIDListArgs struct {
	PointID     string   `json:"pointId"`
	LabelIDList []string `json:"labelIdList"`
}

type PointSetStartedAtArgs struct {
	PointID   string `json:"pointId"`
	StartedAt int64  `json:"startedAt"`
}

type StatusSetPromptArgs struct {
	Prompt string `json:"prompt"`
}

type StatusToggleEnabledArgs struct {
	IsEnabled bool `json:"isEnabled"`
}

type StatusToggleStreamArgs struct {
	StreamID  string `json:"streamId"`
	IsEnabled bool   `json:"isEnabled"`
}

type UserSetSlackTokenArgs struct {
	SlackToken string `json:"slackToken,omitempty"`
}

type UserSetTimeZoneArgs struct {
	TimeZone string `json:"timeZone"`
}

type MigrateFixupLabelParentsArgs struct {
	StreamID       string `json:"streamId"`
	ParentStreamID string `json:"parentStreamId"`
	PageSize       int    `json:"pageSize,omitempty"` // defaults to 500
}
