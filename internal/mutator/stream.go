package mutator

import (
	"context"
	"fmt"

	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/internal/validation"
	"github.com/hyperengineering/tempo/pkg/mutation"
)

func streamCreate(ctx context.Context, mc *Context, args mutation.StreamCreateArgs) error {
	if err := validate(
		validation.Required("streamId", args.StreamID),
		validation.Required("name", args.Name),
		validation.Text("name", args.Name, maxNameLength),
	); err != nil {
		return err
	}
	return mc.Store.InsertStream(ctx, mc.Tx, store.Stream{
		ID:     args.StreamID,
		UserID: mc.SessionUserID,
		Name:   args.Name,
	})
}

func streamRename(ctx context.Context, mc *Context, args mutation.StreamRenameArgs) error {
	if err := validate(
		validation.Required("name", args.Name),
		validation.Text("name", args.Name, maxNameLength),
	); err != nil {
		return err
	}
	return mc.Store.UpdateStream(ctx, mc.Tx, mc.SessionUserID, args.StreamID, store.StreamUpdate{
		Name: &args.Name,
	})
}

func streamSetParent(ctx context.Context, mc *Context, args mutation.StreamSetParentArgs) error {
	if args.ParentID == args.StreamID {
		return fmt.Errorf("%w: stream cannot be its own parent", ErrValidation)
	}
	if args.ParentID != "" {
		if _, err := mc.Store.GetStream(ctx, mc.Tx, mc.SessionUserID, args.ParentID); err != nil {
			return err
		}
	}
	return mc.Store.UpdateStream(ctx, mc.Tx, mc.SessionUserID, args.StreamID, store.StreamUpdate{
		ParentID: &args.ParentID,
	})
}

func streamSort(ctx context.Context, mc *Context, args mutation.StreamSortArgs) error {
	if args.Delta != -1 && args.Delta != 1 {
		return fmt.Errorf("%w: delta must be -1 or 1", ErrValidation)
	}
	return mc.Store.SwapStreamSortOrder(ctx, mc.Tx, mc.SessionUserID, args.StreamID, args.Delta)
}

func streamDelete(ctx context.Context, mc *Context, args mutation.StreamDeleteArgs) error {
	if _, err := mc.Store.GetStream(ctx, mc.Tx, mc.SessionUserID, args.StreamID); err != nil {
		return err
	}
	streamIDs := []string{args.StreamID}
	if err := mc.Store.DeletePointsByStream(ctx, mc.Tx, mc.SessionUserID, streamIDs); err != nil {
		return err
	}
	if err := mc.Store.DeleteLabelsByStream(ctx, mc.Tx, mc.SessionUserID, streamIDs); err != nil {
		return err
	}
	return mc.Store.DeleteStreams(ctx, mc.Tx, mc.SessionUserID, streamIDs)
}

// streamSquash copies the source streams' labels and points into the
// destination, merging points that collide on started_at, then deletes the
// sources. The enclosing transaction makes the copy+delete atomic.
func streamSquash(ctx context.Context, mc *Context, args mutation.StreamSquashArgs) error {
	for _, sourceID := range args.SourceStreamIDList {
		if sourceID == args.DestinationStreamID {
			return fmt.Errorf("%w: destination stream cannot be in source list", ErrValidation)
		}
	}

	// Read all streams up front so a missing id fails before any write.
	wanted := append([]string{args.DestinationStreamID}, args.SourceStreamIDList...)
	streams, err := mc.Store.GetStreamList(ctx, mc.Tx, store.StreamQuery{
		UserID:    mc.SessionUserID,
		StreamIDs: wanted,
	})
	if err != nil {
		return err
	}
	byID := make(map[string]store.Stream, len(streams))
	for _, st := range streams {
		byID[st.ID] = st
	}
	if _, ok := byID[args.DestinationStreamID]; !ok {
		return fmt.Errorf("destination stream %s: %w", args.DestinationStreamID, store.ErrNotFound)
	}
	for _, sourceID := range args.SourceStreamIDList {
		if _, ok := byID[sourceID]; !ok {
			return fmt.Errorf("source stream %s: %w", sourceID, store.ErrNotFound)
		}
	}

	if _, err := mc.Store.MergeStreamsIntoDestination(ctx, mc.Tx, mc.SessionUserID, args.DestinationStreamID, args.SourceStreamIDList); err != nil {
		return err
	}

	if err := mc.Store.DeletePointsByStream(ctx, mc.Tx, mc.SessionUserID, args.SourceStreamIDList); err != nil {
		return fmt.Errorf("delete source points: %w", err)
	}
	if err := mc.Store.DeleteLabelsByStream(ctx, mc.Tx, mc.SessionUserID, args.SourceStreamIDList); err != nil {
		return fmt.Errorf("delete source labels: %w", err)
	}
	if err := mc.Store.DeleteStreams(ctx, mc.Tx, mc.SessionUserID, args.SourceStreamIDList); err != nil {
		return fmt.Errorf("delete source streams: %w", err)
	}
	return nil
}
