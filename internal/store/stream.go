package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// StreamQuery narrows GetStreamList. UserID is required.
type StreamQuery struct {
	UserID    string
	StreamIDs []string
}

// GetStreamList returns streams ordered by (sort_order, id).
func (s *Store) GetStreamList(ctx context.Context, q Queryer, query StreamQuery) ([]Stream, error) {
	if query.UserID == "" {
		return nil, fmt.Errorf("get stream list: user id is required")
	}
	if query.StreamIDs != nil && len(query.StreamIDs) == 0 {
		return []Stream{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, user_id, name, COALESCE(parent_id, ''), sort_order, version FROM stream WHERE user_id = ?`)
	args := []any{query.UserID}
	if len(query.StreamIDs) > 0 {
		sb.WriteString(` AND id IN (` + inPlaceholders(len(query.StreamIDs)) + `)`)
		args = append(args, stringArgs(query.StreamIDs)...)
	}
	sb.WriteString(` ORDER BY sort_order, id`)

	rows, err := q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get stream list: %w", err)
	}
	defer rows.Close()

	streams := []Stream{}
	for rows.Next() {
		var st Stream
		if err := rows.Scan(&st.ID, &st.UserID, &st.Name, &st.ParentID, &st.SortOrder, &st.Version); err != nil {
			return nil, fmt.Errorf("get stream list: %w", err)
		}
		streams = append(streams, st)
	}
	return streams, rows.Err()
}

// GetStream returns one stream or ErrNotFound.
func (s *Store) GetStream(ctx context.Context, q Queryer, userID, streamID string) (*Stream, error) {
	streams, err := s.GetStreamList(ctx, q, StreamQuery{UserID: userID, StreamIDs: []string{streamID}})
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("stream %s: %w", streamID, ErrNotFound)
	}
	return &streams[0], nil
}

// InsertStream writes a new stream with sort_order one past the user's
// current maximum.
func (s *Store) InsertStream(ctx context.Context, q Queryer, st Stream) error {
	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO stream (id, user_id, name, parent_id, sort_order, version)
		 VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(sort_order), -1) + 1 FROM stream WHERE user_id = ?), ?)`,
		st.ID, st.UserID, st.Name, nullableString(st.ParentID), st.UserID, version)
	if err != nil {
		return fmt.Errorf("insert stream: %w", err)
	}
	return nil
}

// StreamUpdate carries the optional fields of UpdateStream.
type StreamUpdate struct {
	Name      *string
	ParentID  *string
	SortOrder *int64
}

// UpdateStream applies the update and bumps the stream's version.
func (s *Store) UpdateStream(ctx context.Context, q Queryer, userID, streamID string, set StreamUpdate) error {
	st, err := s.GetStream(ctx, q, userID, streamID)
	if err != nil {
		return err
	}

	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	name := st.Name
	if set.Name != nil {
		name = *set.Name
	}
	parentID := st.ParentID
	if set.ParentID != nil {
		parentID = *set.ParentID
	}
	sortOrder := st.SortOrder
	if set.SortOrder != nil {
		sortOrder = *set.SortOrder
	}
	_, err = q.ExecContext(ctx,
		`UPDATE stream SET name = ?, parent_id = ?, sort_order = ?, version = ? WHERE id = ? AND user_id = ?`,
		name, nullableString(parentID), sortOrder, version, streamID, userID)
	if err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// SwapStreamSortOrder exchanges sort positions with the stream's nearest
// same-parent sibling in the given direction (-1 up, +1 down). No-op at the
// edges.
func (s *Store) SwapStreamSortOrder(ctx context.Context, q Queryer, userID, streamID string, delta int64) error {
	st, err := s.GetStream(ctx, q, userID, streamID)
	if err != nil {
		return err
	}

	cmp, order := "<", "DESC"
	if delta > 0 {
		cmp, order = ">", "ASC"
	}
	var neighbour Stream
	err = q.QueryRowContext(ctx,
		`SELECT id, sort_order FROM stream WHERE user_id = ? AND parent_id IS ? AND sort_order `+cmp+` ?
		 ORDER BY sort_order `+order+` LIMIT 1`,
		userID, nullableString(st.ParentID), st.SortOrder).Scan(&neighbour.ID, &neighbour.SortOrder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("swap stream sort order: %w", err)
	}

	if err := s.UpdateStream(ctx, q, userID, st.ID, StreamUpdate{SortOrder: &neighbour.SortOrder}); err != nil {
		return err
	}
	return s.UpdateStream(ctx, q, userID, neighbour.ID, StreamUpdate{SortOrder: &st.SortOrder})
}

// DeleteStreams removes streams by id. Points and labels must already be
// gone; foreign keys hold otherwise.
func (s *Store) DeleteStreams(ctx context.Context, q Queryer, userID string, streamIDs []string) error {
	if len(streamIDs) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx,
		`DELETE FROM stream WHERE user_id = ? AND id IN (`+inPlaceholders(len(streamIDs))+`)`,
		append([]any{userID}, stringArgs(streamIDs)...)...)
	if err != nil {
		return fmt.Errorf("delete streams: %w", err)
	}
	return nil
}
