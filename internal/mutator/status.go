package mutator

import (
	"context"

	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/internal/validation"
	"github.com/hyperengineering/tempo/pkg/mutation"
)

func statusSetPrompt(ctx context.Context, mc *Context, args mutation.StatusSetPromptArgs) error {
	if err := validate(validation.Text("prompt", args.Prompt, maxPromptLength)); err != nil {
		return err
	}
	if err := mc.Store.UpsertStatus(ctx, mc.Tx, mc.SessionUserID, store.StatusUpdate{
		Prompt: &args.Prompt,
	}); err != nil {
		return err
	}
	mc.scheduleStatusRefresh()
	return nil
}

func statusToggleEnabled(ctx context.Context, mc *Context, args mutation.StatusToggleEnabledArgs) error {
	var enabledAt int64
	if args.IsEnabled {
		enabledAt = mc.ActionedAt
	}
	if err := mc.Store.UpsertStatus(ctx, mc.Tx, mc.SessionUserID, store.StatusUpdate{
		EnabledAt: &enabledAt,
	}); err != nil {
		return err
	}
	if args.IsEnabled {
		mc.scheduleStatusRefresh()
	}
	return nil
}

func statusToggleStream(ctx context.Context, mc *Context, args mutation.StatusToggleStreamArgs) error {
	current := []string{}
	st, err := mc.Store.GetStatus(ctx, mc.Tx, mc.SessionUserID)
	if err == nil {
		current = st.StreamIDList
	} else if !isNotFound(err) {
		return err
	}

	next := make([]string, 0, len(current)+1)
	for _, id := range current {
		if id != args.StreamID {
			next = append(next, id)
		}
	}
	if args.IsEnabled {
		next = append(next, args.StreamID)
	}

	if err := mc.Store.UpsertStatus(ctx, mc.Tx, mc.SessionUserID, store.StatusUpdate{
		StreamIDList: next,
	}); err != nil {
		return err
	}
	mc.scheduleStatusRefresh()
	return nil
}
