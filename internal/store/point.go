package store

import (
	"context"
	"fmt"
	"strings"
)

// PointQuery narrows GetPointList. UserID is required; everything else is
// optional. Cursor/Limit page chronologically (started_at, id).
type PointQuery struct {
	UserID    string
	PointIDs  []string
	StreamIDs []string
	Cursor    *PointCursor
	Limit     int
}

// PointCursor marks the last point of the previous page.
type PointCursor struct {
	StartedAt int64
	ID        string
}

// GetPointList returns points ordered by (started_at, id), with label lists
// attached.
func (s *Store) GetPointList(ctx context.Context, q Queryer, query PointQuery) ([]Point, error) {
	if query.UserID == "" {
		return nil, fmt.Errorf("get point list: user id is required")
	}
	if query.PointIDs != nil && len(query.PointIDs) == 0 {
		return []Point{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, user_id, stream_id, description, started_at, version FROM point WHERE user_id = ?`)
	args := []any{query.UserID}

	if len(query.PointIDs) > 0 {
		sb.WriteString(` AND id IN (` + inPlaceholders(len(query.PointIDs)) + `)`)
		args = append(args, stringArgs(query.PointIDs)...)
	}
	if len(query.StreamIDs) > 0 {
		sb.WriteString(` AND stream_id IN (` + inPlaceholders(len(query.StreamIDs)) + `)`)
		args = append(args, stringArgs(query.StreamIDs)...)
	}
	if query.Cursor != nil {
		sb.WriteString(` AND (started_at, id) > (?, ?)`)
		args = append(args, query.Cursor.StartedAt, query.Cursor.ID)
	}
	sb.WriteString(` ORDER BY started_at, id`)
	if query.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, query.Limit)
	}

	rows, err := q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get point list: %w", err)
	}
	defer rows.Close()

	var points []Point
	var pointIDs []string
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.ID, &p.UserID, &p.StreamID, &p.Description, &p.StartedAt, &p.Version); err != nil {
			return nil, fmt.Errorf("get point list: %w", err)
		}
		p.LabelIDList = []string{}
		points = append(points, p)
		pointIDs = append(pointIDs, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get point list: %w", err)
	}
	if len(points) == 0 {
		return []Point{}, nil
	}

	if err := s.attachPointLabels(ctx, q, points, pointIDs); err != nil {
		return nil, err
	}
	return points, nil
}

// attachPointLabels fills LabelIDList for the given points, in stored
// position order.
func (s *Store) attachPointLabels(ctx context.Context, q Queryer, points []Point, pointIDs []string) error {
	rows, err := q.QueryContext(ctx,
		`SELECT point_id, label_id FROM point_label
		 WHERE point_id IN (`+inPlaceholders(len(pointIDs))+`)
		 ORDER BY point_id, position, label_id`,
		stringArgs(pointIDs)...)
	if err != nil {
		return fmt.Errorf("get point labels: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int, len(points))
	for i, p := range points {
		index[p.ID] = i
	}
	for rows.Next() {
		var pointID, labelID string
		if err := rows.Scan(&pointID, &labelID); err != nil {
			return fmt.Errorf("get point labels: %w", err)
		}
		i := index[pointID]
		points[i].LabelIDList = append(points[i].LabelIDList, labelID)
	}
	return rows.Err()
}

// GetPoint returns one point with its label list, or ErrNotFound.
func (s *Store) GetPoint(ctx context.Context, q Queryer, userID, pointID string) (*Point, error) {
	points, err := s.GetPointList(ctx, q, PointQuery{UserID: userID, PointIDs: []string{pointID}})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("point %s: %w", pointID, ErrNotFound)
	}
	return &points[0], nil
}

// InsertPoint writes a new point and its label links, stamping a fresh row
// version.
func (s *Store) InsertPoint(ctx context.Context, q Queryer, p Point) error {
	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO point (id, user_id, stream_id, description, started_at, version)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.StreamID, p.Description, p.StartedAt, version)
	if err != nil {
		return fmt.Errorf("insert point: %w", err)
	}
	return s.replacePointLabels(ctx, q, p, p.LabelIDList)
}

// PointUpdate carries the optional fields of UpdatePoint. Nil means leave
// unchanged.
type PointUpdate struct {
	Description *string
	StartedAt   *int64
	LabelIDList []string
}

// UpdatePoint applies the update and bumps the point's version.
// Returns ErrNotFound if the point does not exist for the user.
func (s *Store) UpdatePoint(ctx context.Context, q Queryer, userID, pointID string, set PointUpdate) error {
	p, err := s.GetPoint(ctx, q, userID, pointID)
	if err != nil {
		return err
	}

	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	description := p.Description
	if set.Description != nil {
		description = *set.Description
	}
	startedAt := p.StartedAt
	if set.StartedAt != nil {
		startedAt = *set.StartedAt
	}
	_, err = q.ExecContext(ctx,
		`UPDATE point SET description = ?, started_at = ?, version = ? WHERE id = ? AND user_id = ?`,
		description, startedAt, version, pointID, userID)
	if err != nil {
		return fmt.Errorf("update point: %w", err)
	}

	if set.LabelIDList != nil {
		if err := s.replacePointLabels(ctx, q, *p, set.LabelIDList); err != nil {
			return err
		}
	}
	return nil
}

// replacePointLabels replaces the point's label links with labelIDs, in order.
func (s *Store) replacePointLabels(ctx context.Context, q Queryer, p Point, labelIDs []string) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM point_label WHERE point_id = ?`, p.ID); err != nil {
		return fmt.Errorf("replace point labels: %w", err)
	}
	for i, labelID := range labelIDs {
		_, err := q.ExecContext(ctx,
			`INSERT INTO point_label (point_id, label_id, stream_id, user_id, position)
			 VALUES (?, ?, ?, ?, ?)`,
			p.ID, labelID, p.StreamID, p.UserID, i)
		if err != nil {
			return fmt.Errorf("replace point labels: %w", err)
		}
	}
	return nil
}

// DeletePoints removes points by id, cascading their label links.
func (s *Store) DeletePoints(ctx context.Context, q Queryer, userID string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx,
		`DELETE FROM point WHERE user_id = ? AND id IN (`+inPlaceholders(len(pointIDs))+`)`,
		append([]any{userID}, stringArgs(pointIDs)...)...)
	if err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

// DeletePointsByStream removes every point in the given streams.
func (s *Store) DeletePointsByStream(ctx context.Context, q Queryer, userID string, streamIDs []string) error {
	if len(streamIDs) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx,
		`DELETE FROM point WHERE user_id = ? AND stream_id IN (`+inPlaceholders(len(streamIDs))+`)`,
		append([]any{userID}, stringArgs(streamIDs)...)...)
	if err != nil {
		return fmt.Errorf("delete points by stream: %w", err)
	}
	return nil
}

// GetPointLabelList returns point/label links for the given labels within a
// stream.
func (s *Store) GetPointLabelList(ctx context.Context, q Queryer, userID, streamID string, labelIDs []string) ([]PointLabel, error) {
	if len(labelIDs) == 0 {
		return []PointLabel{}, nil
	}
	rows, err := q.QueryContext(ctx,
		`SELECT point_id, label_id, stream_id, user_id FROM point_label
		 WHERE user_id = ? AND stream_id = ? AND label_id IN (`+inPlaceholders(len(labelIDs))+`)`,
		append([]any{userID, streamID}, stringArgs(labelIDs)...)...)
	if err != nil {
		return nil, fmt.Errorf("get point label list: %w", err)
	}
	defer rows.Close()

	var list []PointLabel
	for rows.Next() {
		var pl PointLabel
		if err := rows.Scan(&pl.PointID, &pl.LabelID, &pl.StreamID, &pl.UserID); err != nil {
			return nil, fmt.Errorf("get point label list: %w", err)
		}
		list = append(list, pl)
	}
	return list, rows.Err()
}

// BulkUpsertPointLabel links each point to a label, appending after any
// existing labels. Existing links are left untouched. Affected points get a
// fresh version.
func (s *Store) BulkUpsertPointLabel(ctx context.Context, q Queryer, links []PointLabel) error {
	if len(links) == 0 {
		return nil
	}
	for _, link := range links {
		_, err := q.ExecContext(ctx,
			`INSERT INTO point_label (point_id, label_id, stream_id, user_id, position)
			 VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM point_label WHERE point_id = ?))
			 ON CONFLICT (point_id, label_id) DO NOTHING`,
			link.PointID, link.LabelID, link.StreamID, link.UserID, link.PointID)
		if err != nil {
			return fmt.Errorf("upsert point label: %w", err)
		}
	}
	pointIDs := make([]string, 0, len(links))
	for _, link := range links {
		pointIDs = append(pointIDs, link.PointID)
	}
	return s.touchPoints(ctx, q, pointIDs)
}

// BulkDeletePointLabel unlinks the given labels from every point in the
// stream, bumping the affected points' versions.
func (s *Store) BulkDeletePointLabel(ctx context.Context, q Queryer, userID, streamID string, labelIDs []string) error {
	if len(labelIDs) == 0 {
		return nil
	}
	links, err := s.GetPointLabelList(ctx, q, userID, streamID, labelIDs)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`DELETE FROM point_label
		 WHERE user_id = ? AND stream_id = ? AND label_id IN (`+inPlaceholders(len(labelIDs))+`)`,
		append([]any{userID, streamID}, stringArgs(labelIDs)...)...)
	if err != nil {
		return fmt.Errorf("delete point labels: %w", err)
	}
	pointIDs := make([]string, 0, len(links))
	for _, link := range links {
		pointIDs = append(pointIDs, link.PointID)
	}
	return s.touchPoints(ctx, q, pointIDs)
}

// touchPoints stamps a fresh version on the given point rows so the change
// is visible to the next CVR build.
func (s *Store) touchPoints(ctx context.Context, q Queryer, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`UPDATE point SET version = ? WHERE id IN (`+inPlaceholders(len(pointIDs))+`)`,
		append([]any{version}, stringArgs(pointIDs)...)...)
	if err != nil {
		return fmt.Errorf("touch points: %w", err)
	}
	return nil
}
