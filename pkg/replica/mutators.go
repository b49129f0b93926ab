package replica

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/hyperengineering/tempo/pkg/mutation"
)

// localTx is the optimistic mutators' window onto a working copy of the
// view tables. Mutators run against a clone; the clone replaces the live
// tables only if the whole mutation succeeds.
type localTx struct {
	tables map[string]map[string]json.RawMessage
	userID string
}

func (tx *localTx) get(table, id string, out any) (bool, error) {
	raw, ok := tx.tables[table][id]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", table, id, err)
	}
	return true, nil
}

func (tx *localTx) set(table, id string, entity any) error {
	raw, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", table, id, err)
	}
	if tx.tables[table] == nil {
		tx.tables[table] = make(map[string]json.RawMessage)
	}
	tx.tables[table][id] = raw
	return nil
}

func (tx *localTx) del(table, id string) {
	delete(tx.tables[table], id)
}

// applyLocal runs one mutation optimistically against the working copy.
// The client mutators approximate the server's authoritative ones; where
// the server derives extra state (label usage counters, generated status
// text) the optimistic result is corrected by the next pull.
func applyLocal(tx *localTx, name string, args json.RawMessage) error {
	switch name {
	case mutation.StreamCreate:
		return localStreamCreate(tx, args)
	case mutation.StreamRename:
		return localStreamRename(tx, args)
	case mutation.StreamSetParent:
		return localStreamSetParent(tx, args)
	case mutation.StreamSort:
		return localStreamSort(tx, args)
	case mutation.StreamDelete:
		return localStreamDelete(tx, args)
	case mutation.StreamSquash:
		return localStreamSquash(tx, args)
	case mutation.LabelCreate:
		return localLabelCreate(tx, args)
	case mutation.LabelRename:
		return localLabelRename(tx, args)
	case mutation.LabelSetColor:
		return localLabelSetColor(tx, args)
	case mutation.LabelSetIcon:
		return localLabelSetIcon(tx, args)
	case mutation.LabelAddParentLabel:
		return localLabelAddParentLabel(tx, args)
	case mutation.LabelRemoveParentLabel:
		return localLabelRemoveParentLabel(tx, args)
	case mutation.LabelSquash:
		return localLabelSquash(tx, args)
	case mutation.PointCreate:
		return localPointCreate(tx, args)
	case mutation.PointDelete:
		return localPointDelete(tx, args)
	case mutation.PointSetDescription:
		return localPointSetDescription(tx, args)
	case mutation.PointSetLabelIDList:
		return localPointSetLabelIDList(tx, args)
	case mutation.PointSetStartedAt:
		return localPointSetStartedAt(tx, args)
	case mutation.StatusSetPrompt:
		return localStatusSetPrompt(tx, args)
	case mutation.StatusToggleEnabled:
		return localStatusToggleEnabled(tx, args)
	case mutation.StatusToggleStream:
		return localStatusToggleStream(tx, args)
	case mutation.UserSetSlackToken:
		return localUserSetSlackToken(tx, args)
	case mutation.UserSetTimeZone:
		return nil // server-side only; the pull reflects nothing visible
	case mutation.MigrateFixupLabelParents:
		return nil // server-side maintenance; reconciled by pull
	default:
		return fmt.Errorf("unknown mutation %q", name)
	}
}

func decodeArgs[T any](args json.RawMessage) (T, error) {
	var a T
	if err := json.Unmarshal(args, &a); err != nil {
		return a, fmt.Errorf("decode args: %w", err)
	}
	return a, nil
}

func localStreamCreate(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.StreamCreateArgs](args)
	if err != nil {
		return err
	}
	if a.StreamID == "" || a.Name == "" {
		return fmt.Errorf("stream id and name required")
	}
	sortOrder := int64(0)
	streams, err := tablesStreams(tx)
	if err != nil {
		return err
	}
	for _, s := range streams {
		if s.SortOrder >= sortOrder {
			sortOrder = s.SortOrder + 1
		}
	}
	return tx.set(TableStream, a.StreamID, Stream{Name: a.Name, SortOrder: sortOrder})
}

func localStreamRename(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.StreamRenameArgs](args)
	if err != nil {
		return err
	}
	var s Stream
	ok, err := tx.get(TableStream, a.StreamID, &s)
	if err != nil || !ok {
		return orMissing(err, TableStream, a.StreamID)
	}
	s.Name = a.Name
	return tx.set(TableStream, a.StreamID, s)
}

func localStreamSetParent(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.StreamSetParentArgs](args)
	if err != nil {
		return err
	}
	if a.ParentID == a.StreamID {
		return fmt.Errorf("stream cannot parent itself")
	}
	var s Stream
	ok, err := tx.get(TableStream, a.StreamID, &s)
	if err != nil || !ok {
		return orMissing(err, TableStream, a.StreamID)
	}
	s.ParentID = a.ParentID
	return tx.set(TableStream, a.StreamID, s)
}

func localStreamSort(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.StreamSortArgs](args)
	if err != nil {
		return err
	}
	streams, err := tablesStreams(tx)
	if err != nil {
		return err
	}
	subject, ok := streams[a.StreamID]
	if !ok {
		return fmt.Errorf("missing %s/%s", TableStream, a.StreamID)
	}

	// Swap sort order with the nearest sibling in the requested direction.
	var neighbourID string
	var neighbour Stream
	for id, s := range streams {
		if id == a.StreamID || s.ParentID != subject.ParentID {
			continue
		}
		if a.Delta > 0 && s.SortOrder > subject.SortOrder {
			if neighbourID == "" || s.SortOrder < neighbour.SortOrder {
				neighbourID, neighbour = id, s
			}
		}
		if a.Delta < 0 && s.SortOrder < subject.SortOrder {
			if neighbourID == "" || s.SortOrder > neighbour.SortOrder {
				neighbourID, neighbour = id, s
			}
		}
	}
	if neighbourID == "" {
		return nil
	}
	subject.SortOrder, neighbour.SortOrder = neighbour.SortOrder, subject.SortOrder
	if err := tx.set(TableStream, a.StreamID, subject); err != nil {
		return err
	}
	return tx.set(TableStream, neighbourID, neighbour)
}

func localStreamDelete(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.StreamDeleteArgs](args)
	if err != nil {
		return err
	}
	deleteStreamContents(tx, a.StreamID)
	tx.del(TableStream, a.StreamID)
	return nil
}

func localStreamSquash(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.StreamSquashArgs](args)
	if err != nil {
		return err
	}
	if len(a.SourceStreamIDList) == 0 {
		return fmt.Errorf("no source streams")
	}
	if slices.Contains(a.SourceStreamIDList, a.DestinationStreamID) {
		return fmt.Errorf("destination stream cannot be a source")
	}
	var dest Stream
	ok, err := tx.get(TableStream, a.DestinationStreamID, &dest)
	if err != nil || !ok {
		return orMissing(err, TableStream, a.DestinationStreamID)
	}
	// The authoritative merge (label de-duplication, point relabelling)
	// happens server-side; optimistically the sources just disappear.
	for _, id := range a.SourceStreamIDList {
		deleteStreamContents(tx, id)
		tx.del(TableStream, id)
	}
	return nil
}

func deleteStreamContents(tx *localTx, streamID string) {
	for id, raw := range tx.tables[TablePoint] {
		var p Point
		if json.Unmarshal(raw, &p) == nil && p.StreamID == streamID {
			delete(tx.tables[TablePoint], id)
		}
	}
	for id, raw := range tx.tables[TableLabel] {
		var l Label
		if json.Unmarshal(raw, &l) == nil && l.StreamID == streamID {
			delete(tx.tables[TableLabel], id)
		}
	}
}

func localLabelCreate(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.LabelCreateArgs](args)
	if err != nil {
		return err
	}
	if a.LabelID == "" || a.StreamID == "" || a.Name == "" {
		return fmt.Errorf("label id, stream id and name required")
	}
	parents := a.ParentLabelIDList
	if parents == nil {
		parents = []string{}
	}
	return tx.set(TableLabel, a.LabelID, Label{
		StreamID:          a.StreamID,
		Name:              a.Name,
		Icon:              a.Icon,
		Color:             a.Color,
		ParentLabelIDList: parents,
	})
}

func localLabelRename(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.LabelRenameArgs](args)
	if err != nil {
		return err
	}
	return updateLabel(tx, a.LabelID, func(l *Label) { l.Name = a.Name })
}

func localLabelSetColor(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.LabelSetColorArgs](args)
	if err != nil {
		return err
	}
	return updateLabel(tx, a.LabelID, func(l *Label) { l.Color = a.Color })
}

func localLabelSetIcon(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.LabelSetIconArgs](args)
	if err != nil {
		return err
	}
	return updateLabel(tx, a.LabelID, func(l *Label) { l.Icon = a.Icon })
}

func localLabelAddParentLabel(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.LabelAddParentLabelArgs](args)
	if err != nil {
		return err
	}
	if a.LabelID == a.ParentLabelID {
		return fmt.Errorf("label cannot parent itself")
	}
	return updateLabel(tx, a.LabelID, func(l *Label) {
		if !slices.Contains(l.ParentLabelIDList, a.ParentLabelID) {
			l.ParentLabelIDList = append(l.ParentLabelIDList, a.ParentLabelID)
		}
	})
}

func localLabelRemoveParentLabel(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.LabelRemoveParentLabelArgs](args)
	if err != nil {
		return err
	}
	return updateLabel(tx, a.LabelID, func(l *Label) {
		l.ParentLabelIDList = slices.DeleteFunc(l.ParentLabelIDList, func(id string) bool {
			return id == a.ParentLabelID
		})
	})
}

func localLabelSquash(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.LabelSquashArgs](args)
	if err != nil {
		return err
	}
	if len(a.SourceLabelIDList) == 0 {
		return fmt.Errorf("no source labels")
	}
	if slices.Contains(a.SourceLabelIDList, a.DestinationLabelID) {
		return fmt.Errorf("destination label cannot be a source")
	}
	var dest Label
	ok, err := tx.get(TableLabel, a.DestinationLabelID, &dest)
	if err != nil || !ok {
		return orMissing(err, TableLabel, a.DestinationLabelID)
	}
	for _, id := range a.SourceLabelIDList {
		var src Label
		ok, err := tx.get(TableLabel, id, &src)
		if err != nil || !ok {
			return orMissing(err, TableLabel, id)
		}
		if src.StreamID != dest.StreamID {
			return fmt.Errorf("labels belong to different streams")
		}
	}
	// Point relabelling is authoritative server-side; locally the sources
	// just disappear and the next pull rewrites affected points.
	for _, id := range a.SourceLabelIDList {
		tx.del(TableLabel, id)
	}
	return nil
}

func updateLabel(tx *localTx, labelID string, fn func(*Label)) error {
	var l Label
	ok, err := tx.get(TableLabel, labelID, &l)
	if err != nil || !ok {
		return orMissing(err, TableLabel, labelID)
	}
	fn(&l)
	return tx.set(TableLabel, labelID, l)
}

func localPointCreate(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.PointCreateArgs](args)
	if err != nil {
		return err
	}
	if a.PointID == "" || a.StreamID == "" {
		return fmt.Errorf("point id and stream id required")
	}
	startedAt := a.StartedAt
	if startedAt == 0 {
		var env mutation.Envelope
		_ = json.Unmarshal(args, &env)
		startedAt = env.ActionedAt
	}
	labels := a.LabelIDList
	if labels == nil {
		labels = []string{}
	}
	return tx.set(TablePoint, a.PointID, Point{
		StreamID:    a.StreamID,
		LabelIDList: labels,
		Description: a.Description,
		StartedAt:   startedAt,
	})
}

func localPointDelete(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.PointDeleteArgs](args)
	if err != nil {
		return err
	}
	tx.del(TablePoint, a.PointID)
	return nil
}

func localPointSetDescription(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.PointSetDescriptionArgs](args)
	if err != nil {
		return err
	}
	return updatePoint(tx, a.PointID, func(p *Point) { p.Description = a.Description })
}

func localPointSetLabelIDList(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.PointSetLabelIDListArgs](args)
	if err != nil {
		return err
	}
	labels := a.LabelIDList
	if labels == nil {
		labels = []string{}
	}
	return updatePoint(tx, a.PointID, func(p *Point) { p.LabelIDList = labels })
}

func localPointSetStartedAt(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.PointSetStartedAtArgs](args)
	if err != nil {
		return err
	}
	if a.StartedAt <= 0 {
		return fmt.Errorf("startedAt must be positive")
	}
	return updatePoint(tx, a.PointID, func(p *Point) { p.StartedAt = a.StartedAt })
}

func updatePoint(tx *localTx, pointID string, fn func(*Point)) error {
	var p Point
	ok, err := tx.get(TablePoint, pointID, &p)
	if err != nil || !ok {
		return orMissing(err, TablePoint, pointID)
	}
	fn(&p)
	return tx.set(TablePoint, pointID, p)
}

func localStatusSetPrompt(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.StatusSetPromptArgs](args)
	if err != nil {
		return err
	}
	return updateStatus(tx, func(s *Status) { s.Prompt = a.Prompt })
}

func localStatusToggleEnabled(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.StatusToggleEnabledArgs](args)
	if err != nil {
		return err
	}
	return updateStatus(tx, func(s *Status) { s.IsEnabled = a.IsEnabled })
}

func localStatusToggleStream(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.StatusToggleStreamArgs](args)
	if err != nil {
		return err
	}
	return updateStatus(tx, func(s *Status) {
		s.StreamIDList = slices.DeleteFunc(s.StreamIDList, func(id string) bool {
			return id == a.StreamID
		})
		if a.IsEnabled {
			s.StreamIDList = append(s.StreamIDList, a.StreamID)
		}
	})
}

// updateStatus edits the user's status row, creating it when absent. The
// status table is keyed by user id.
func (tx *localTx) statusRow() (Status, bool, error) {
	var s Status
	ok, err := tx.get(TableStatus, tx.userID, &s)
	return s, ok, err
}

func updateStatus(tx *localTx, fn func(*Status)) error {
	s, _, err := tx.statusRow()
	if err != nil {
		return err
	}
	if s.StreamIDList == nil {
		s.StreamIDList = []string{}
	}
	fn(&s)
	return tx.set(TableStatus, tx.userID, s)
}

func localUserSetSlackToken(tx *localTx, args json.RawMessage) error {
	a, err := decodeArgs[mutation.UserSetSlackTokenArgs](args)
	if err != nil {
		return err
	}
	var u User
	ok, err := tx.get(TableUser, tx.userID, &u)
	if err != nil || !ok {
		return orMissing(err, TableUser, tx.userID)
	}
	// The server masks tokens before they reach the view; approximate here.
	u.SlackTokenMasked = ""
	if a.SlackToken != "" {
		u.SlackTokenMasked = "****"
	}
	return tx.set(TableUser, tx.userID, u)
}

func tablesStreams(tx *localTx) (map[string]Stream, error) {
	out := make(map[string]Stream, len(tx.tables[TableStream]))
	for id, raw := range tx.tables[TableStream] {
		var s Stream
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", TableStream, id, err)
		}
		out[id] = s
	}
	return out, nil
}

func orMissing(err error, table, id string) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("missing %s/%s", table, id)
}
