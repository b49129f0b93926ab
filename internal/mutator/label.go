package mutator

import (
	"context"
	"fmt"

	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/internal/validation"
	"github.com/hyperengineering/tempo/pkg/mutation"
)

func labelCreate(ctx context.Context, mc *Context, args mutation.LabelCreateArgs) error {
	if err := validate(
		validation.Required("labelId", args.LabelID),
		validation.Required("streamId", args.StreamID),
		validation.Required("name", args.Name),
		validation.Text("name", args.Name, maxNameLength),
	); err != nil {
		return err
	}
	if _, err := mc.Store.GetStream(ctx, mc.Tx, mc.SessionUserID, args.StreamID); err != nil {
		return err
	}
	return mc.Store.InsertLabel(ctx, mc.Tx, store.Label{
		ID:                args.LabelID,
		UserID:            mc.SessionUserID,
		StreamID:          args.StreamID,
		Name:              args.Name,
		Color:             args.Color,
		Icon:              args.Icon,
		ParentLabelIDList: args.ParentLabelIDList,
	})
}

func labelRename(ctx context.Context, mc *Context, args mutation.LabelRenameArgs) error {
	if err := validate(
		validation.Required("name", args.Name),
		validation.Text("name", args.Name, maxNameLength),
	); err != nil {
		return err
	}
	return mc.Store.UpdateLabel(ctx, mc.Tx, mc.SessionUserID, args.LabelID, store.LabelUpdate{
		Name: &args.Name,
	})
}

func labelSetColor(ctx context.Context, mc *Context, args mutation.LabelSetColorArgs) error {
	return mc.Store.UpdateLabel(ctx, mc.Tx, mc.SessionUserID, args.LabelID, store.LabelUpdate{
		Color: &args.Color,
	})
}

func labelSetIcon(ctx context.Context, mc *Context, args mutation.LabelSetIconArgs) error {
	return mc.Store.UpdateLabel(ctx, mc.Tx, mc.SessionUserID, args.LabelID, store.LabelUpdate{
		Icon: &args.Icon,
	})
}

func labelAddParentLabel(ctx context.Context, mc *Context, args mutation.LabelAddParentLabelArgs) error {
	if args.LabelID == args.ParentLabelID {
		return fmt.Errorf("%w: label cannot be its own parent", ErrValidation)
	}
	if _, err := mc.Store.GetLabel(ctx, mc.Tx, mc.SessionUserID, args.ParentLabelID); err != nil {
		return err
	}
	if _, err := mc.Store.GetLabel(ctx, mc.Tx, mc.SessionUserID, args.LabelID); err != nil {
		return err
	}
	return mc.Store.BulkUpsertLabelParent(ctx, mc.Tx, []store.LabelParent{{
		LabelID:       args.LabelID,
		ParentLabelID: args.ParentLabelID,
		UserID:        mc.SessionUserID,
	}})
}

func labelRemoveParentLabel(ctx context.Context, mc *Context, args mutation.LabelRemoveParentLabelArgs) error {
	label, err := mc.Store.GetLabel(ctx, mc.Tx, mc.SessionUserID, args.LabelID)
	if err != nil {
		return err
	}
	next := make([]string, 0, len(label.ParentLabelIDList))
	for _, parentID := range label.ParentLabelIDList {
		if parentID != args.ParentLabelID {
			next = append(next, parentID)
		}
	}
	return mc.Store.UpdateLabel(ctx, mc.Tx, mc.SessionUserID, args.LabelID, store.LabelUpdate{
		ParentLabelIDList: next,
	})
}

// labelSquash merges the source labels into the destination: child links and
// point links are repointed at the destination, the destination absorbs
// color/icon from the sources when its own field is unset (first source
// wins) and unions all parent lists, then the sources are deleted.
func labelSquash(ctx context.Context, mc *Context, args mutation.LabelSquashArgs) error {
	for _, sourceID := range args.SourceLabelIDList {
		if sourceID == args.DestinationLabelID {
			return fmt.Errorf("%w: destination label cannot be in source list", ErrValidation)
		}
	}

	wanted := append([]string{args.DestinationLabelID}, args.SourceLabelIDList...)
	labels, err := mc.Store.GetLabelList(ctx, mc.Tx, store.LabelQuery{
		UserID:   mc.SessionUserID,
		LabelIDs: wanted,
	})
	if err != nil {
		return err
	}
	byID := make(map[string]store.Label, len(labels))
	for _, l := range labels {
		byID[l.ID] = l
	}

	destination, ok := byID[args.DestinationLabelID]
	if !ok {
		return fmt.Errorf("destination label %s: %w", args.DestinationLabelID, store.ErrNotFound)
	}
	sources := make([]store.Label, 0, len(args.SourceLabelIDList))
	for _, sourceID := range args.SourceLabelIDList {
		source, ok := byID[sourceID]
		if !ok {
			return fmt.Errorf("source label %s: %w", sourceID, store.ErrNotFound)
		}
		if source.StreamID != destination.StreamID {
			return fmt.Errorf("%w: source and destination labels must be in the same stream", ErrValidation)
		}
		sources = append(sources, source)
	}

	// Repoint child labels that currently parent under a source.
	childLinks, err := mc.Store.GetLabelParentList(ctx, mc.Tx, mc.SessionUserID, args.SourceLabelIDList)
	if err != nil {
		return fmt.Errorf("get label parent list: %w", err)
	}
	childIDSet := make(map[string]struct{})
	var repointed []store.LabelParent
	for _, link := range childLinks {
		if _, seen := childIDSet[link.LabelID]; seen {
			continue
		}
		childIDSet[link.LabelID] = struct{}{}
		repointed = append(repointed, store.LabelParent{
			LabelID:       link.LabelID,
			ParentLabelID: args.DestinationLabelID,
			UserID:        mc.SessionUserID,
		})
	}
	if err := mc.Store.BulkUpsertLabelParent(ctx, mc.Tx, repointed); err != nil {
		return fmt.Errorf("repoint child labels: %w", err)
	}
	if err := mc.Store.BulkDeleteLabelParentByParent(ctx, mc.Tx, mc.SessionUserID, args.SourceLabelIDList); err != nil {
		return fmt.Errorf("delete stale label parents: %w", err)
	}

	// Repoint points that carry a source label.
	pointLinks, err := mc.Store.GetPointLabelList(ctx, mc.Tx, mc.SessionUserID, destination.StreamID, args.SourceLabelIDList)
	if err != nil {
		return fmt.Errorf("get point label list: %w", err)
	}
	pointIDSet := make(map[string]struct{})
	var added []store.PointLabel
	for _, link := range pointLinks {
		if _, seen := pointIDSet[link.PointID]; seen {
			continue
		}
		pointIDSet[link.PointID] = struct{}{}
		added = append(added, store.PointLabel{
			PointID:  link.PointID,
			LabelID:  args.DestinationLabelID,
			StreamID: destination.StreamID,
			UserID:   mc.SessionUserID,
		})
	}
	if err := mc.Store.BulkUpsertPointLabel(ctx, mc.Tx, added); err != nil {
		return fmt.Errorf("add destination point labels: %w", err)
	}
	if err := mc.Store.BulkDeletePointLabel(ctx, mc.Tx, mc.SessionUserID, destination.StreamID, args.SourceLabelIDList); err != nil {
		return fmt.Errorf("delete source point labels: %w", err)
	}

	// Union the parent lists and gap-fill color/icon from the sources.
	parentSet := make(map[string]struct{}, len(destination.ParentLabelIDList))
	parentList := append([]string{}, destination.ParentLabelIDList...)
	for _, parentID := range parentList {
		parentSet[parentID] = struct{}{}
	}
	for _, source := range sources {
		for _, parentID := range source.ParentLabelIDList {
			if _, ok := parentSet[parentID]; !ok {
				parentSet[parentID] = struct{}{}
				parentList = append(parentList, parentID)
			}
		}
	}

	color := destination.Color
	for _, source := range sources {
		if color != "" {
			break
		}
		color = source.Color
	}
	icon := destination.Icon
	for _, source := range sources {
		if icon != "" {
			break
		}
		icon = source.Icon
	}

	err = mc.Store.UpdateLabel(ctx, mc.Tx, mc.SessionUserID, args.DestinationLabelID, store.LabelUpdate{
		Color:             &color,
		Icon:              &icon,
		ParentLabelIDList: parentList,
	})
	if err != nil {
		return fmt.Errorf("update destination label: %w", err)
	}

	if err := mc.Store.DeleteLabels(ctx, mc.Tx, mc.SessionUserID, args.SourceLabelIDList); err != nil {
		return fmt.Errorf("delete source labels: %w", err)
	}
	return nil
}
