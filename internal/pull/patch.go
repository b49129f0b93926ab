package pull

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/tempo/internal/cvr"
	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/internal/sync"
)

// popularityWindow bounds the "recent usage" aggregate sent with labels.
const popularityWindow = 7 * 24 * time.Hour

// Wire shapes. These deliberately omit user and row bookkeeping columns; the
// client only ever sees its own data, keyed by entity id.

type wirePoint struct {
	StreamID    string   `json:"streamId"`
	LabelIDList []string `json:"labelIdList"`
	Description string   `json:"description"`
	StartedAt   int64    `json:"startedAt"`
}

type wireLabel struct {
	StreamID          string   `json:"streamId"`
	Name              string   `json:"name"`
	Icon              string   `json:"icon,omitempty"`
	Color             string   `json:"color,omitempty"`
	ParentLabelIDList []string `json:"parentLabelIdList"`
	Popularity        int64    `json:"popularity"`
	PointCount        int64    `json:"pointCount"`
	LastStartedAt     int64    `json:"lastStartedAt,omitempty"`
}

type wireStream struct {
	Name      string `json:"name"`
	ParentID  string `json:"parentId,omitempty"`
	SortOrder int64  `json:"sortOrder"`
}

type wireUser struct {
	Email            string `json:"email"`
	SlackTokenMasked string `json:"slackTokenMasked,omitempty"`
}

type wireMetaTask struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	LastStartedAt  int64  `json:"lastStartedAt"`
	LastFinishedAt int64  `json:"lastFinishedAt,omitempty"`
}

type wireStatus struct {
	IsEnabled    bool     `json:"isEnabled"`
	Prompt       string   `json:"prompt"`
	StreamIDList []string `json:"streamIdList"`
	ExpiresAt    int64    `json:"expiresAt,omitempty"`
	Status       string   `json:"status"`
	Emoji        string   `json:"emoji"`
}

// buildPatch turns a CVR diff into the ordered patch a pull response
// carries. Within each table, dels come before puts; tables are emitted in
// EntityTableOrder.
func buildPatch(ctx context.Context, st *store.Store, tx store.Queryer, userID string, diff cvr.Diff) ([]sync.PatchOperation, error) {
	patch := []sync.PatchOperation{}

	for _, table := range sync.EntityTableOrder {
		entry := diff[table]

		for _, id := range entry.Dels {
			patch = append(patch, sync.PatchOperation{Op: sync.OpDel, Key: sync.EncodeKey(table, id)})
		}

		puts, err := buildPuts(ctx, st, tx, userID, table, entry.Puts)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", table, err)
		}
		patch = append(patch, puts...)
	}

	return patch, nil
}

func buildPuts(ctx context.Context, st *store.Store, tx store.Queryer, userID, table string, ids []string) ([]sync.PatchOperation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	switch table {
	case sync.TablePoint:
		return buildPointPuts(ctx, st, tx, userID, ids)
	case sync.TableLabel:
		return buildLabelPuts(ctx, st, tx, userID, ids)
	case sync.TableStream:
		return buildStreamPuts(ctx, st, tx, userID, ids)
	case sync.TableUser:
		return buildUserPuts(ctx, st, tx, userID)
	case sync.TableMetaTask:
		return buildMetaTaskPuts(ctx, st, tx, userID, ids)
	case sync.TableStatus:
		return buildStatusPuts(ctx, st, tx, userID)
	default:
		return nil, fmt.Errorf("no put builder for table %s", table)
	}
}

func appendPut(patch []sync.PatchOperation, table, id string, value any) ([]sync.PatchOperation, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", table, id, err)
	}
	return append(patch, sync.PatchOperation{Op: sync.OpPut, Key: sync.EncodeKey(table, id), Value: raw}), nil
}

func buildPointPuts(ctx context.Context, st *store.Store, tx store.Queryer, userID string, ids []string) ([]sync.PatchOperation, error) {
	points, err := st.GetPointList(ctx, tx, store.PointQuery{UserID: userID, PointIDs: ids})
	if err != nil {
		return nil, err
	}
	var patch []sync.PatchOperation
	for _, p := range points {
		patch, err = appendPut(patch, sync.TablePoint, p.ID, wirePoint{
			StreamID:    p.StreamID,
			LabelIDList: p.LabelIDList,
			Description: p.Description,
			StartedAt:   p.StartedAt,
		})
		if err != nil {
			return nil, err
		}
	}
	return patch, nil
}

func buildLabelPuts(ctx context.Context, st *store.Store, tx store.Queryer, userID string, ids []string) ([]sync.PatchOperation, error) {
	labels, err := st.GetLabelList(ctx, tx, store.LabelQuery{UserID: userID, LabelIDs: ids})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	popularity, err := st.GetLabelUsageList(ctx, tx, store.LabelUsageQuery{
		UserID:   userID,
		LabelIDs: ids,
		Since:    now.Add(-popularityWindow).UnixMilli(),
		Until:    now.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	usage, err := st.GetLabelUsageList(ctx, tx, store.LabelUsageQuery{UserID: userID, LabelIDs: ids})
	if err != nil {
		return nil, err
	}

	popularityByID := make(map[string]int64, len(popularity))
	for _, u := range popularity {
		popularityByID[u.LabelID] = u.Count
	}
	usageByID := make(map[string]store.LabelUsage, len(usage))
	for _, u := range usage {
		usageByID[u.LabelID] = u
	}

	var patch []sync.PatchOperation
	for _, l := range labels {
		patch, err = appendPut(patch, sync.TableLabel, l.ID, wireLabel{
			StreamID:          l.StreamID,
			Name:              l.Name,
			Icon:              l.Icon,
			Color:             l.Color,
			ParentLabelIDList: l.ParentLabelIDList,
			Popularity:        popularityByID[l.ID],
			PointCount:        usageByID[l.ID].Count,
			LastStartedAt:     usageByID[l.ID].MaxStartedAt,
		})
		if err != nil {
			return nil, err
		}
	}
	return patch, nil
}

func buildStreamPuts(ctx context.Context, st *store.Store, tx store.Queryer, userID string, ids []string) ([]sync.PatchOperation, error) {
	streams, err := st.GetStreamList(ctx, tx, store.StreamQuery{UserID: userID, StreamIDs: ids})
	if err != nil {
		return nil, err
	}
	var patch []sync.PatchOperation
	for _, s := range streams {
		patch, err = appendPut(patch, sync.TableStream, s.ID, wireStream{
			Name:      s.Name,
			ParentID:  s.ParentID,
			SortOrder: s.SortOrder,
		})
		if err != nil {
			return nil, err
		}
	}
	return patch, nil
}

func buildUserPuts(ctx context.Context, st *store.Store, tx store.Queryer, userID string) ([]sync.PatchOperation, error) {
	u, err := st.GetUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return appendPut(nil, sync.TableUser, u.ID, wireUser{
		Email:            u.Email,
		SlackTokenMasked: maskToken(u.SlackToken),
	})
}

func buildMetaTaskPuts(ctx context.Context, st *store.Store, tx store.Queryer, userID string, ids []string) ([]sync.PatchOperation, error) {
	tasks, err := st.GetMetaTaskList(ctx, tx, store.MetaTaskQuery{UserID: userID, MetaTaskIDs: ids})
	if err != nil {
		return nil, err
	}
	var patch []sync.PatchOperation
	for _, t := range tasks {
		patch, err = appendPut(patch, sync.TableMetaTask, t.ID, wireMetaTask{
			Name:           t.Name,
			Status:         t.Status,
			LastStartedAt:  t.LastStartedAt,
			LastFinishedAt: t.LastFinishedAt,
		})
		if err != nil {
			return nil, err
		}
	}
	return patch, nil
}

func buildStatusPuts(ctx context.Context, st *store.Store, tx store.Queryer, userID string) ([]sync.PatchOperation, error) {
	s, err := st.GetStatus(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return appendPut(nil, sync.TableStatus, s.UserID, wireStatus{
		IsEnabled:    s.EnabledAt != 0,
		Prompt:       s.Prompt,
		StreamIDList: s.StreamIDList,
		ExpiresAt:    s.ExpiresAt,
		Status:       s.Status,
		Emoji:        s.Emoji,
	})
}

// maskToken hides the middle of a secret, keeping the first and last four
// characters, capped at twenty characters of output.
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	const showFirst, showLast, maxLength = 4, 4, 20

	masked := token
	if len(token) > showFirst+showLast {
		masked = token[:showFirst] + strings.Repeat("*", len(token)-showFirst-showLast) + token[len(token)-showLast:]
	}
	if len(masked) <= maxLength {
		return masked
	}
	half := (maxLength - 1) / 2
	return masked[:half] + "…" + masked[len(masked)-half:]
}
