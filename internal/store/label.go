package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// LabelQuery narrows GetLabelList. UserID is required.
type LabelQuery struct {
	UserID    string
	LabelIDs  []string
	StreamIDs []string
}

// GetLabelList returns labels with their parent label lists attached,
// ordered by id.
func (s *Store) GetLabelList(ctx context.Context, q Queryer, query LabelQuery) ([]Label, error) {
	if query.UserID == "" {
		return nil, fmt.Errorf("get label list: user id is required")
	}
	if query.LabelIDs != nil && len(query.LabelIDs) == 0 {
		return []Label{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, user_id, stream_id, name, COALESCE(color, ''), COALESCE(icon, ''), version FROM label WHERE user_id = ?`)
	args := []any{query.UserID}

	if len(query.LabelIDs) > 0 {
		sb.WriteString(` AND id IN (` + inPlaceholders(len(query.LabelIDs)) + `)`)
		args = append(args, stringArgs(query.LabelIDs)...)
	}
	if len(query.StreamIDs) > 0 {
		sb.WriteString(` AND stream_id IN (` + inPlaceholders(len(query.StreamIDs)) + `)`)
		args = append(args, stringArgs(query.StreamIDs)...)
	}
	sb.WriteString(` ORDER BY id`)

	rows, err := q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get label list: %w", err)
	}
	defer rows.Close()

	var labels []Label
	var labelIDs []string
	for rows.Next() {
		var l Label
		if err := rows.Scan(&l.ID, &l.UserID, &l.StreamID, &l.Name, &l.Color, &l.Icon, &l.Version); err != nil {
			return nil, fmt.Errorf("get label list: %w", err)
		}
		l.ParentLabelIDList = []string{}
		labels = append(labels, l)
		labelIDs = append(labelIDs, l.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get label list: %w", err)
	}
	if len(labels) == 0 {
		return []Label{}, nil
	}

	parentRows, err := q.QueryContext(ctx,
		`SELECT label_id, parent_label_id FROM label_parent
		 WHERE label_id IN (`+inPlaceholders(len(labelIDs))+`)
		 ORDER BY label_id, parent_label_id`,
		stringArgs(labelIDs)...)
	if err != nil {
		return nil, fmt.Errorf("get label parents: %w", err)
	}
	defer parentRows.Close()

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l.ID] = i
	}
	for parentRows.Next() {
		var labelID, parentID string
		if err := parentRows.Scan(&labelID, &parentID); err != nil {
			return nil, fmt.Errorf("get label parents: %w", err)
		}
		i := index[labelID]
		labels[i].ParentLabelIDList = append(labels[i].ParentLabelIDList, parentID)
	}
	return labels, parentRows.Err()
}

// GetLabel returns one label or ErrNotFound.
func (s *Store) GetLabel(ctx context.Context, q Queryer, userID, labelID string) (*Label, error) {
	labels, err := s.GetLabelList(ctx, q, LabelQuery{UserID: userID, LabelIDs: []string{labelID}})
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label %s: %w", labelID, ErrNotFound)
	}
	return &labels[0], nil
}

// InsertLabel writes a new label and its parent links.
func (s *Store) InsertLabel(ctx context.Context, q Queryer, l Label) error {
	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO label (id, user_id, stream_id, name, color, icon, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.StreamID, l.Name, nullableString(l.Color), nullableString(l.Icon), version)
	if err != nil {
		return fmt.Errorf("insert label: %w", err)
	}
	return s.replaceLabelParents(ctx, q, l.UserID, l.ID, l.ParentLabelIDList)
}

// LabelUpdate carries the optional fields of UpdateLabel. Nil means leave
// unchanged. Color and Icon use pointers so they can be cleared to empty.
type LabelUpdate struct {
	Name              *string
	Color             *string
	Icon              *string
	ParentLabelIDList []string
}

// UpdateLabel applies the update, rewrites parent links when given, and
// bumps the label's version.
func (s *Store) UpdateLabel(ctx context.Context, q Queryer, userID, labelID string, set LabelUpdate) error {
	l, err := s.GetLabel(ctx, q, userID, labelID)
	if err != nil {
		return err
	}

	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	name := l.Name
	if set.Name != nil {
		name = *set.Name
	}
	color := l.Color
	if set.Color != nil {
		color = *set.Color
	}
	icon := l.Icon
	if set.Icon != nil {
		icon = *set.Icon
	}
	_, err = q.ExecContext(ctx,
		`UPDATE label SET name = ?, color = ?, icon = ?, version = ? WHERE id = ? AND user_id = ?`,
		name, nullableString(color), nullableString(icon), version, labelID, userID)
	if err != nil {
		return fmt.Errorf("update label: %w", err)
	}

	if set.ParentLabelIDList != nil {
		if err := s.replaceLabelParents(ctx, q, userID, labelID, set.ParentLabelIDList); err != nil {
			return err
		}
	}
	return nil
}

// replaceLabelParents rewrites the label's parent links.
func (s *Store) replaceLabelParents(ctx context.Context, q Queryer, userID, labelID string, parentIDs []string) error {
	if _, err := q.ExecContext(ctx,
		`DELETE FROM label_parent WHERE label_id = ?`, labelID); err != nil {
		return fmt.Errorf("replace label parents: %w", err)
	}
	for _, parentID := range parentIDs {
		_, err := q.ExecContext(ctx,
			`INSERT INTO label_parent (label_id, parent_label_id, user_id) VALUES (?, ?, ?)`,
			labelID, parentID, userID)
		if err != nil {
			return fmt.Errorf("replace label parents: %w", err)
		}
	}
	return nil
}

// DeleteLabels removes labels by id, cascading parent and point links.
func (s *Store) DeleteLabels(ctx context.Context, q Queryer, userID string, labelIDs []string) error {
	if len(labelIDs) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx,
		`DELETE FROM label WHERE user_id = ? AND id IN (`+inPlaceholders(len(labelIDs))+`)`,
		append([]any{userID}, stringArgs(labelIDs)...)...)
	if err != nil {
		return fmt.Errorf("delete labels: %w", err)
	}
	return nil
}

// DeleteLabelsByStream removes every label in the given streams.
func (s *Store) DeleteLabelsByStream(ctx context.Context, q Queryer, userID string, streamIDs []string) error {
	if len(streamIDs) == 0 {
		return nil
	}
	_, err := q.ExecContext(ctx,
		`DELETE FROM label WHERE user_id = ? AND stream_id IN (`+inPlaceholders(len(streamIDs))+`)`,
		append([]any{userID}, stringArgs(streamIDs)...)...)
	if err != nil {
		return fmt.Errorf("delete labels by stream: %w", err)
	}
	return nil
}

// GetLabelParentList returns links whose parent is one of parentLabelIDs.
func (s *Store) GetLabelParentList(ctx context.Context, q Queryer, userID string, parentLabelIDs []string) ([]LabelParent, error) {
	if len(parentLabelIDs) == 0 {
		return []LabelParent{}, nil
	}
	rows, err := q.QueryContext(ctx,
		`SELECT label_id, parent_label_id, user_id FROM label_parent
		 WHERE user_id = ? AND parent_label_id IN (`+inPlaceholders(len(parentLabelIDs))+`)`,
		append([]any{userID}, stringArgs(parentLabelIDs)...)...)
	if err != nil {
		return nil, fmt.Errorf("get label parent list: %w", err)
	}
	defer rows.Close()

	var list []LabelParent
	for rows.Next() {
		var lp LabelParent
		if err := rows.Scan(&lp.LabelID, &lp.ParentLabelID, &lp.UserID); err != nil {
			return nil, fmt.Errorf("get label parent list: %w", err)
		}
		list = append(list, lp)
	}
	return list, rows.Err()
}

// BulkUpsertLabelParent adds parent links, ignoring ones that already exist,
// and bumps the child labels' versions.
func (s *Store) BulkUpsertLabelParent(ctx context.Context, q Queryer, links []LabelParent) error {
	if len(links) == 0 {
		return nil
	}
	labelIDs := make([]string, 0, len(links))
	for _, link := range links {
		_, err := q.ExecContext(ctx,
			`INSERT INTO label_parent (label_id, parent_label_id, user_id) VALUES (?, ?, ?)
			 ON CONFLICT (label_id, parent_label_id) DO NOTHING`,
			link.LabelID, link.ParentLabelID, link.UserID)
		if err != nil {
			return fmt.Errorf("upsert label parent: %w", err)
		}
		labelIDs = append(labelIDs, link.LabelID)
	}
	return s.touchLabels(ctx, q, labelIDs)
}

// BulkDeleteLabelParentByParent removes every link pointing at the given
// parent labels, bumping the child labels' versions.
func (s *Store) BulkDeleteLabelParentByParent(ctx context.Context, q Queryer, userID string, parentLabelIDs []string) error {
	links, err := s.GetLabelParentList(ctx, q, userID, parentLabelIDs)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}
	_, err = q.ExecContext(ctx,
		`DELETE FROM label_parent
		 WHERE user_id = ? AND parent_label_id IN (`+inPlaceholders(len(parentLabelIDs))+`)`,
		append([]any{userID}, stringArgs(parentLabelIDs)...)...)
	if err != nil {
		return fmt.Errorf("delete label parents: %w", err)
	}
	labelIDs := make([]string, 0, len(links))
	for _, link := range links {
		labelIDs = append(labelIDs, link.LabelID)
	}
	return s.touchLabels(ctx, q, labelIDs)
}

// touchLabels stamps a fresh version on the given label rows.
func (s *Store) touchLabels(ctx context.Context, q Queryer, labelIDs []string) error {
	if len(labelIDs) == 0 {
		return nil
	}
	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`UPDATE label SET version = ? WHERE id IN (`+inPlaceholders(len(labelIDs))+`)`,
		append([]any{version}, stringArgs(labelIDs)...)...)
	if err != nil {
		return fmt.Errorf("touch labels: %w", err)
	}
	return nil
}

// LabelUsageQuery narrows GetLabelUsageList. Since/Until bound started_at
// when non-zero.
type LabelUsageQuery struct {
	UserID   string
	LabelIDs []string
	Since    int64
	Until    int64
}

// GetLabelUsageList aggregates how many points carry each label and the most
// recent started_at among them.
func (s *Store) GetLabelUsageList(ctx context.Context, q Queryer, query LabelUsageQuery) ([]LabelUsage, error) {
	if len(query.LabelIDs) == 0 {
		return []LabelUsage{}, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT pl.label_id, COUNT(*), MAX(p.started_at)
		FROM point_label pl
		JOIN point p ON p.id = pl.point_id
		WHERE pl.user_id = ? AND pl.label_id IN (` + inPlaceholders(len(query.LabelIDs)) + `)`)
	args := append([]any{query.UserID}, stringArgs(query.LabelIDs)...)

	if query.Since != 0 {
		sb.WriteString(` AND p.started_at >= ?`)
		args = append(args, query.Since)
	}
	if query.Until != 0 {
		sb.WriteString(` AND p.started_at <= ?`)
		args = append(args, query.Until)
	}
	sb.WriteString(` GROUP BY pl.label_id`)

	rows, err := q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("get label usage list: %w", err)
	}
	defer rows.Close()

	var list []LabelUsage
	for rows.Next() {
		var u LabelUsage
		if err := rows.Scan(&u.LabelID, &u.Count, &u.MaxStartedAt); err != nil {
			return nil, fmt.Errorf("get label usage list: %w", err)
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// nullableString maps "" to NULL for columns where empty means unset.
func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
