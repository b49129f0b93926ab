package mutator

import (
	"context"
	"fmt"
	"slices"

	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/pkg/mutation"
)

const defaultFixupPageSize = 500

// FixupResult reports what the label-parent fixup touched.
type FixupResult struct {
	ProcessedPointCount int `json:"processedPointCount"`
	ProcessedLabelCount int `json:"processedLabelCount"`
	UpdatedLabelCount   int `json:"updatedLabelCount"`
}

// pointPager walks a stream's points chronologically, one page at a time.
// Peek returns the next point without consuming it, so the caller can decide
// whether to advance.
type pointPager struct {
	st       *store.Store
	q        store.Queryer
	userID   string
	streamID string
	pageSize int

	page    []store.Point
	index   int
	cursor  *store.PointCursor
	hasMore bool
	primed  bool
}

func newPointPager(st *store.Store, q store.Queryer, userID, streamID string, pageSize int) *pointPager {
	return &pointPager{st: st, q: q, userID: userID, streamID: streamID, pageSize: pageSize, hasMore: true}
}

func (p *pointPager) fetchNextPage(ctx context.Context) error {
	points, err := p.st.GetPointList(ctx, p.q, store.PointQuery{
		UserID:    p.userID,
		StreamIDs: []string{p.streamID},
		Cursor:    p.cursor,
		Limit:     p.pageSize,
	})
	if err != nil {
		return err
	}
	p.page = points
	p.index = 0
	p.hasMore = len(points) == p.pageSize
	if len(points) > 0 {
		last := points[len(points)-1]
		p.cursor = &store.PointCursor{StartedAt: last.StartedAt, ID: last.ID}
	}
	p.primed = true
	return nil
}

// Peek returns the next point, or nil when the stream is exhausted.
func (p *pointPager) Peek(ctx context.Context) (*store.Point, error) {
	for p.index >= len(p.page) {
		if p.primed && !p.hasMore {
			return nil, nil
		}
		if err := p.fetchNextPage(ctx); err != nil {
			return nil, err
		}
	}
	return &p.page[p.index], nil
}

// Next consumes the point Peek would return.
func (p *pointPager) Next(ctx context.Context) (*store.Point, error) {
	point, err := p.Peek(ctx)
	if err != nil || point == nil {
		return point, err
	}
	p.index++
	return point, nil
}

func migrateFixupLabelParents(ctx context.Context, mc *Context, args mutation.MigrateFixupLabelParentsArgs) error {
	_, err := FixupLabelParents(ctx, mc.Store, mc.Tx, mc.SessionUserID, args)
	return err
}

// FixupLabelParents walks the points of a stream chronologically alongside
// the points of its parent stream, tracking the parent stream's active point
// (the latest one whose startedAt is not after the current point's). Each
// label on the current point that is missing a link to the active parent
// point's first label gains that link. Existing links are never removed.
func FixupLabelParents(ctx context.Context, st *store.Store, q store.Queryer, userID string, args mutation.MigrateFixupLabelParentsArgs) (FixupResult, error) {
	var result FixupResult

	if args.StreamID == "" || args.ParentStreamID == "" {
		return result, fmt.Errorf("%w: stream id and parent stream id are required", ErrValidation)
	}
	if args.StreamID == args.ParentStreamID {
		return result, fmt.Errorf("%w: stream cannot be its own parent", ErrValidation)
	}
	pageSize := args.PageSize
	if pageSize <= 0 {
		pageSize = defaultFixupPageSize
	}

	labels, err := st.GetLabelList(ctx, q, store.LabelQuery{UserID: userID, StreamIDs: []string{args.StreamID}})
	if err != nil {
		return result, err
	}
	labelCache := make(map[string]*store.Label, len(labels))
	for i := range labels {
		labelCache[labels[i].ID] = &labels[i]
	}

	points := newPointPager(st, q, userID, args.StreamID, pageSize)
	parentPoints := newPointPager(st, q, userID, args.ParentStreamID, pageSize)

	var parentPoint *store.Point

	for {
		point, err := points.Next(ctx)
		if err != nil {
			return result, err
		}
		if point == nil {
			break
		}
		result.ProcessedPointCount++

		// Advance the parent stream up to this point's timestamp.
		for {
			next, err := parentPoints.Peek(ctx)
			if err != nil {
				return result, err
			}
			if next == nil || next.StartedAt > point.StartedAt {
				break
			}
			parentPoint = next
			if _, err := parentPoints.Next(ctx); err != nil {
				return result, err
			}
		}

		if parentPoint == nil || len(parentPoint.LabelIDList) == 0 {
			continue
		}
		parentLabelID := parentPoint.LabelIDList[0]

		for _, labelID := range point.LabelIDList {
			label, ok := labelCache[labelID]
			if !ok {
				return result, fmt.Errorf("fixup label parents: label %s not found on stream %s", labelID, args.StreamID)
			}
			result.ProcessedLabelCount++

			if slices.Contains(label.ParentLabelIDList, parentLabelID) {
				continue
			}

			if err := st.BulkUpsertLabelParent(ctx, q, []store.LabelParent{
				{UserID: userID, LabelID: labelID, ParentLabelID: parentLabelID},
			}); err != nil {
				return result, err
			}
			label.ParentLabelIDList = append(label.ParentLabelIDList, parentLabelID)
			result.UpdatedLabelCount++
		}
	}

	return result, nil
}

// FixupAllLabelParents runs the fixup for every stream that has a parent.
func FixupAllLabelParents(ctx context.Context, st *store.Store, q store.Queryer, userID string) error {
	streams, err := st.GetStreamList(ctx, q, store.StreamQuery{UserID: userID})
	if err != nil {
		return err
	}
	for _, stream := range streams {
		if stream.ParentID == "" {
			continue
		}
		if _, err := FixupLabelParents(ctx, st, q, userID, mutation.MigrateFixupLabelParentsArgs{
			StreamID:       stream.ID,
			ParentStreamID: stream.ParentID,
		}); err != nil {
			return err
		}
	}
	return nil
}
