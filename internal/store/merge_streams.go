package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
)

// MergeResult reports what MergeStreamsIntoDestination wrote.
type MergeResult struct {
	InsertedLabelCount int
	UpsertedPointCount int
}

// MergeStreamsIntoDestination copies every label and point from the source
// streams into the destination stream. Source streams are not mutated.
//
// Labels are duplicated under fresh ids; points that collide with an
// existing destination point on started_at are merged into it: descriptions
// joined with " / " (destination first, then sources in the given order) and
// label lists unioned with source label ids remapped through the copy map.
//
// The caller must run this inside a transaction so the copy is atomic with
// whatever follows it.
func (s *Store) MergeStreamsIntoDestination(ctx context.Context, q Queryer, userID, destinationStreamID string, sourceStreamIDs []string) (MergeResult, error) {
	var result MergeResult

	for _, sourceID := range sourceStreamIDs {
		if sourceID == destinationStreamID {
			return result, fmt.Errorf("destination stream cannot be in source list")
		}
	}

	// Copy source labels into the destination under new ids.
	labelList, err := s.GetLabelList(ctx, q, LabelQuery{UserID: userID, StreamIDs: sourceStreamIDs})
	if err != nil {
		return result, err
	}
	labelIDMap := make(map[string]string, len(labelList))
	for _, label := range labelList {
		copied := label
		copied.ID = ulid.Make().String()
		copied.StreamID = destinationStreamID
		if err := s.InsertLabel(ctx, q, copied); err != nil {
			return result, fmt.Errorf("copy label %s: %w", label.ID, err)
		}
		labelIDMap[label.ID] = copied.ID
	}
	result.InsertedLabelCount = len(labelList)

	sourcePoints, err := s.GetPointList(ctx, q, PointQuery{UserID: userID, StreamIDs: sourceStreamIDs})
	if err != nil {
		return result, err
	}
	destinationPoints, err := s.GetPointList(ctx, q, PointQuery{UserID: userID, StreamIDs: []string{destinationStreamID}})
	if err != nil {
		return result, err
	}

	// Group source points by started_at, then put any colliding destination
	// point at the front of its group so its description and labels come
	// first in the merge.
	groups := make(map[int64][]Point)
	for _, p := range sourcePoints {
		groups[p.StartedAt] = append(groups[p.StartedAt], p)
	}
	destinationByStartedAt := make(map[int64]Point, len(destinationPoints))
	for _, p := range destinationPoints {
		if _, ok := groups[p.StartedAt]; ok {
			groups[p.StartedAt] = append([]Point{p}, groups[p.StartedAt]...)
		}
		destinationByStartedAt[p.StartedAt] = p
	}

	startedAts := make([]int64, 0, len(groups))
	for startedAt := range groups {
		startedAts = append(startedAts, startedAt)
	}
	sort.Slice(startedAts, func(i, j int) bool { return startedAts[i] < startedAts[j] })

	for _, startedAt := range startedAts {
		group := groups[startedAt]

		descriptions := make([]string, 0, len(group))
		var labelIDList []string
		for _, p := range group {
			descriptions = append(descriptions, p.Description)
			for _, labelID := range p.LabelIDList {
				if mapped, ok := labelIDMap[labelID]; ok {
					labelIDList = append(labelIDList, mapped)
				} else {
					labelIDList = append(labelIDList, labelID)
				}
			}
		}
		description := strings.Join(descriptions, " / ")

		if existing, ok := destinationByStartedAt[startedAt]; ok {
			err = s.UpdatePoint(ctx, q, userID, existing.ID, PointUpdate{
				Description: &description,
				LabelIDList: labelIDList,
			})
		} else {
			err = s.InsertPoint(ctx, q, Point{
				ID:          ulid.Make().String(),
				UserID:      userID,
				StreamID:    destinationStreamID,
				Description: description,
				StartedAt:   startedAt,
				LabelIDList: labelIDList,
			})
		}
		if err != nil {
			return result, fmt.Errorf("merge point at %d: %w", startedAt, err)
		}
		result.UpsertedPointCount++
	}

	return result, nil
}
