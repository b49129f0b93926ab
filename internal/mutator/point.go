package mutator

import (
	"context"
	"fmt"

	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/internal/validation"
	"github.com/hyperengineering/tempo/pkg/mutation"
)

func pointCreate(ctx context.Context, mc *Context, args mutation.PointCreateArgs) error {
	if err := validate(
		validation.Required("pointId", args.PointID),
		validation.Required("streamId", args.StreamID),
		validation.Text("description", args.Description, maxDescriptionLength),
	); err != nil {
		return err
	}
	if _, err := mc.Store.GetStream(ctx, mc.Tx, mc.SessionUserID, args.StreamID); err != nil {
		return err
	}
	startedAt := args.StartedAt
	if startedAt == 0 {
		startedAt = mc.ActionedAt
	}
	if err := mc.Store.InsertPoint(ctx, mc.Tx, store.Point{
		ID:          args.PointID,
		UserID:      mc.SessionUserID,
		StreamID:    args.StreamID,
		Description: args.Description,
		StartedAt:   startedAt,
		LabelIDList: args.LabelIDList,
	}); err != nil {
		return err
	}
	mc.scheduleStatusRefresh()
	return nil
}

func pointDelete(ctx context.Context, mc *Context, args mutation.PointDeleteArgs) error {
	if _, err := mc.Store.GetPoint(ctx, mc.Tx, mc.SessionUserID, args.PointID); err != nil {
		return err
	}
	if err := mc.Store.DeletePoints(ctx, mc.Tx, mc.SessionUserID, []string{args.PointID}); err != nil {
		return err
	}
	mc.scheduleStatusRefresh()
	return nil
}

func pointSetDescription(ctx context.Context, mc *Context, args mutation.PointSetDescriptionArgs) error {
	if err := validate(validation.Text("description", args.Description, maxDescriptionLength)); err != nil {
		return err
	}
	if err := mc.Store.UpdatePoint(ctx, mc.Tx, mc.SessionUserID, args.PointID, store.PointUpdate{
		Description: &args.Description,
	}); err != nil {
		return err
	}
	mc.scheduleStatusRefresh()
	return nil
}

func pointSetLabelIDList(ctx context.Context, mc *Context, args mutation.PointSetLabelIDListArgs) error {
	if args.LabelIDList == nil {
		args.LabelIDList = []string{}
	}
	if err := mc.Store.UpdatePoint(ctx, mc.Tx, mc.SessionUserID, args.PointID, store.PointUpdate{
		LabelIDList: args.LabelIDList,
	}); err != nil {
		return err
	}
	mc.scheduleStatusRefresh()
	return nil
}

func pointSetStartedAt(ctx context.Context, mc *Context, args mutation.PointSetStartedAtArgs) error {
	if args.StartedAt <= 0 {
		return fmt.Errorf("%w: startedAt must be positive", ErrValidation)
	}
	if err := mc.Store.UpdatePoint(ctx, mc.Tx, mc.SessionUserID, args.PointID, store.PointUpdate{
		StartedAt: &args.StartedAt,
	}); err != nil {
		return err
	}
	mc.scheduleStatusRefresh()
	return nil
}
