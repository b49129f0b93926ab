package mutator

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/pkg/mutation"
)

func userSetSlackToken(ctx context.Context, mc *Context, args mutation.UserSetSlackTokenArgs) error {
	if err := mc.Store.UpdateUser(ctx, mc.Tx, mc.SessionUserID, store.UserUpdate{
		SlackToken: &args.SlackToken,
	}); err != nil {
		return err
	}
	mc.scheduleStatusRefresh()
	return nil
}

func userSetTimeZone(ctx context.Context, mc *Context, args mutation.UserSetTimeZoneArgs) error {
	if _, err := time.LoadLocation(args.TimeZone); err != nil {
		return fmt.Errorf("%w: unknown time zone %q", ErrValidation, args.TimeZone)
	}
	return mc.Store.UpdateUser(ctx, mc.Tx, mc.SessionUserID, store.UserUpdate{
		TimeZone: &args.TimeZone,
	})
}
