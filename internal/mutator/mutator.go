// Package mutator holds the authoritative implementations of the mutation
// catalogue. Dispatch is a closed switch over pkg/mutation names: the same
// name and input shape the client applies optimistically is replayed here
// against the relational store, inside the push handler's transaction.
package mutator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/internal/validation"
	"github.com/hyperengineering/tempo/pkg/mutation"
)

// Free-text length caps, in runes.
const (
	maxNameLength        = 200
	maxDescriptionLength = 2000
	maxPromptLength      = 4000
)

var (
	// ErrUnknownMutation is returned for names outside the catalogue.
	ErrUnknownMutation = errors.New("unknown mutation")

	// ErrValidation marks bad input detected before any write.
	ErrValidation = errors.New("validation failed")
)

// JobScheduler is the boundary to background job infrastructure: schedule a
// named job with a dedup key. Scheduling the same (name, key) twice before
// the job runs coalesces into one run.
type JobScheduler interface {
	Schedule(name, dedupKey string)
}

// Context carries everything a server mutator needs. Tx is the push
// handler's transaction; all writes go through it.
type Context struct {
	Store         *store.Store
	Tx            store.Queryer
	SessionUserID string
	ActionedAt    int64
	Jobs          JobScheduler
}

// scheduleStatusRefresh queues a status recomputation for the session user,
// deduplicated per user. Safe with a nil scheduler (tests).
func (c *Context) scheduleStatusRefresh() {
	if c.Jobs != nil {
		c.Jobs.Schedule("status.refresh", c.SessionUserID)
	}
}

// Apply dispatches one mutation by name. The input is decoded into the typed
// args for that mutation; unknown names return ErrUnknownMutation.
func Apply(ctx context.Context, mc *Context, name string, args json.RawMessage) error {
	switch name {
	case mutation.StreamCreate:
		return dispatch(ctx, mc, args, streamCreate)
	case mutation.StreamRename:
		return dispatch(ctx, mc, args, streamRename)
	case mutation.StreamSetParent:
		return dispatch(ctx, mc, args, streamSetParent)
	case mutation.StreamSort:
		return dispatch(ctx, mc, args, streamSort)
	case mutation.StreamDelete:
		return dispatch(ctx, mc, args, streamDelete)
	case mutation.StreamSquash:
		return dispatch(ctx, mc, args, streamSquash)
	case mutation.LabelCreate:
		return dispatch(ctx, mc, args, labelCreate)
	case mutation.LabelRename:
		return dispatch(ctx, mc, args, labelRename)
	case mutation.LabelSetColor:
		return dispatch(ctx, mc, args, labelSetColor)
	case mutation.LabelSetIcon:
		return dispatch(ctx, mc, args, labelSetIcon)
	case mutation.LabelAddParentLabel:
		return dispatch(ctx, mc, args, labelAddParentLabel)
	case mutation.LabelRemoveParentLabel:
		return dispatch(ctx, mc, args, labelRemoveParentLabel)
	case mutation.LabelSquash:
		return dispatch(ctx, mc, args, labelSquash)
	case mutation.PointCreate:
		return dispatch(ctx, mc, args, pointCreate)
	case mutation.PointDelete:
		return dispatch(ctx, mc, args, pointDelete)
	case mutation.PointSetDescription:
		return dispatch(ctx, mc, args, pointSetDescription)
	case mutation.PointSetLabelIDList:
		return dispatch(ctx, mc, args, pointSetLabelIDList)
	case mutation.PointSetStartedAt:
		return dispatch(ctx, mc, args, pointSetStartedAt)
	case mutation.StatusSetPrompt:
		return dispatch(ctx, mc, args, statusSetPrompt)
	case mutation.StatusToggleEnabled:
		return dispatch(ctx, mc, args, statusToggleEnabled)
	case mutation.StatusToggleStream:
		return dispatch(ctx, mc, args, statusToggleStream)
	case mutation.UserSetSlackToken:
		return dispatch(ctx, mc, args, userSetSlackToken)
	case mutation.UserSetTimeZone:
		return dispatch(ctx, mc, args, userSetTimeZone)
	case mutation.MigrateFixupLabelParents:
		return dispatch(ctx, mc, args, migrateFixupLabelParents)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMutation, name)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// validate runs field checks and folds any failures into one ErrValidation.
func validate(checks ...*validation.FieldError) error {
	var c validation.Collector
	for _, check := range checks {
		c.Add(check)
	}
	if err := c.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// dispatch decodes args into T and runs the handler.
func dispatch[T any](ctx context.Context, mc *Context, raw json.RawMessage, fn func(context.Context, *Context, T) error) error {
	var args T
	if err := json.Unmarshal(raw, &args); err != nil {
		return fmt.Errorf("%w: decode args: %v", ErrValidation, err)
	}
	return fn(ctx, mc, args)
}
