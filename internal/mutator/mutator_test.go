package mutator

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/pkg/mutation"
)

type fakeScheduler struct {
	scheduled []string
}

func (f *fakeScheduler) Schedule(name, dedupKey string) {
	f.scheduled = append(f.scheduled, name+":"+dedupKey)
}

func newTestContext(t *testing.T) (*Context, *store.Store, *fakeScheduler) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	err = s.InsertUser(context.Background(), s.DB(), store.User{
		ID: "usr_1", Email: "dev@example.com", TimeZone: "UTC",
	})
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}

	jobs := &fakeScheduler{}
	return &Context{
		Store:         s,
		Tx:            s.DB(),
		SessionUserID: "usr_1",
		ActionedAt:    1_700_000_000_000,
		Jobs:          jobs,
	}, s, jobs
}

func apply(t *testing.T, mc *Context, name string, args any) error {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return Apply(context.Background(), mc, name, raw)
}

func mustApply(t *testing.T, mc *Context, name string, args any) {
	t.Helper()
	if err := apply(t, mc, name, args); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
}

func TestApply_UnknownMutation(t *testing.T) {
	mc, _, _ := newTestContext(t)
	err := Apply(context.Background(), mc, "point_explode", json.RawMessage(`{}`))
	if !errors.Is(err, ErrUnknownMutation) {
		t.Errorf("err = %v, want ErrUnknownMutation", err)
	}
}

func TestStreamCreate_Validation(t *testing.T) {
	mc, _, _ := newTestContext(t)

	err := apply(t, mc, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("missing name: err = %v, want ErrValidation", err)
	}

	err = apply(t, mc, mutation.StreamCreate, mutation.StreamCreateArgs{
		StreamID: "str_1", Name: "bad\x00name",
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("null byte: err = %v, want ErrValidation", err)
	}
}

func TestPointCreate_DefaultsStartedAtToActionedAt(t *testing.T) {
	mc, s, jobs := newTestContext(t)
	mustApply(t, mc, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"})

	mustApply(t, mc, mutation.PointCreate, mutation.PointCreateArgs{
		PointID: "pt_1", StreamID: "str_1", Description: "standup",
	})

	point, err := s.GetPoint(context.Background(), s.DB(), "usr_1", "pt_1")
	if err != nil {
		t.Fatalf("get point: %v", err)
	}
	if point.StartedAt != mc.ActionedAt {
		t.Errorf("StartedAt = %d, want ActionedAt %d", point.StartedAt, mc.ActionedAt)
	}
	if !slices.Contains(jobs.scheduled, "status.refresh:usr_1") {
		t.Errorf("expected a status refresh, got %v", jobs.scheduled)
	}
}

func TestPointCreate_UnknownStream(t *testing.T) {
	mc, _, _ := newTestContext(t)
	err := apply(t, mc, mutation.PointCreate, mutation.PointCreateArgs{
		PointID: "pt_1", StreamID: "str_missing",
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLabelSquash_RejectsDestinationInSources(t *testing.T) {
	mc, _, _ := newTestContext(t)
	err := apply(t, mc, mutation.LabelSquash, mutation.LabelSquashArgs{
		SourceLabelIDList:  []string{"lbl_1", "lbl_2"},
		DestinationLabelID: "lbl_2",
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestLabelSquash_RejectsCrossStreamSources(t *testing.T) {
	mc, _, _ := newTestContext(t)
	mustApply(t, mc, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "A"})
	mustApply(t, mc, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_2", Name: "B"})
	mustApply(t, mc, mutation.LabelCreate, mutation.LabelCreateArgs{LabelID: "lbl_dst", StreamID: "str_1", Name: "calls"})
	mustApply(t, mc, mutation.LabelCreate, mutation.LabelCreateArgs{LabelID: "lbl_src", StreamID: "str_2", Name: "meetings"})

	err := apply(t, mc, mutation.LabelSquash, mutation.LabelSquashArgs{
		SourceLabelIDList:  []string{"lbl_src"},
		DestinationLabelID: "lbl_dst",
	})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestLabelSquash_RepointsPointsAndDeletesSources(t *testing.T) {
	mc, s, _ := newTestContext(t)
	ctx := context.Background()
	mustApply(t, mc, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"})
	mustApply(t, mc, mutation.LabelCreate, mutation.LabelCreateArgs{LabelID: "lbl_dst", StreamID: "str_1", Name: "calls"})
	mustApply(t, mc, mutation.LabelCreate, mutation.LabelCreateArgs{
		LabelID: "lbl_src", StreamID: "str_1", Name: "meetings", Color: "#ff0000",
	})
	mustApply(t, mc, mutation.PointCreate, mutation.PointCreateArgs{
		PointID: "pt_1", StreamID: "str_1", LabelIDList: []string{"lbl_src"}, StartedAt: 100,
	})

	mustApply(t, mc, mutation.LabelSquash, mutation.LabelSquashArgs{
		SourceLabelIDList:  []string{"lbl_src"},
		DestinationLabelID: "lbl_dst",
	})

	point, err := s.GetPoint(ctx, s.DB(), "usr_1", "pt_1")
	if err != nil {
		t.Fatalf("get point: %v", err)
	}
	if !slices.Equal(point.LabelIDList, []string{"lbl_dst"}) {
		t.Errorf("point labels = %v, want [lbl_dst]", point.LabelIDList)
	}

	if _, err := s.GetLabel(ctx, s.DB(), "usr_1", "lbl_src"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("source label should be gone, err = %v", err)
	}

	// Destination absorbs the source's color because its own was unset.
	dst, err := s.GetLabel(ctx, s.DB(), "usr_1", "lbl_dst")
	if err != nil {
		t.Fatalf("get label: %v", err)
	}
	if dst.Color != "#ff0000" {
		t.Errorf("color = %q, want gap-filled #ff0000", dst.Color)
	}
}

func TestStreamSquash_MergesAndDeletesSources(t *testing.T) {
	mc, s, _ := newTestContext(t)
	ctx := context.Background()
	mustApply(t, mc, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_dst", Name: "Keep"})
	mustApply(t, mc, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_src", Name: "Fold"})
	mustApply(t, mc, mutation.PointCreate, mutation.PointCreateArgs{
		PointID: "pt_src", StreamID: "str_src", Description: "from source", StartedAt: 100,
	})

	mustApply(t, mc, mutation.StreamSquash, mutation.StreamSquashArgs{
		SourceStreamIDList:  []string{"str_src"},
		DestinationStreamID: "str_dst",
	})

	if _, err := s.GetStream(ctx, s.DB(), "usr_1", "str_src"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("source stream should be gone, err = %v", err)
	}

	points, err := s.GetPointList(ctx, s.DB(), store.PointQuery{UserID: "usr_1", StreamIDs: []string{"str_dst"}})
	if err != nil {
		t.Fatalf("get point list: %v", err)
	}
	if len(points) != 1 || points[0].Description != "from source" {
		t.Errorf("destination points = %+v", points)
	}
}

func TestStatusToggleStream_AppendAndRemove(t *testing.T) {
	mc, s, _ := newTestContext(t)
	ctx := context.Background()

	mustApply(t, mc, mutation.StatusToggleStream, mutation.StatusToggleStreamArgs{StreamID: "str_1", IsEnabled: true})
	mustApply(t, mc, mutation.StatusToggleStream, mutation.StatusToggleStreamArgs{StreamID: "str_2", IsEnabled: true})
	mustApply(t, mc, mutation.StatusToggleStream, mutation.StatusToggleStreamArgs{StreamID: "str_1", IsEnabled: false})

	st, err := s.GetStatus(ctx, s.DB(), "usr_1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if !slices.Equal(st.StreamIDList, []string{"str_2"}) {
		t.Errorf("StreamIDList = %v, want [str_2]", st.StreamIDList)
	}
}

func TestStatusToggleEnabled_SchedulesOnlyWhenEnabling(t *testing.T) {
	mc, s, jobs := newTestContext(t)

	mustApply(t, mc, mutation.StatusToggleEnabled, mutation.StatusToggleEnabledArgs{IsEnabled: true})
	enabling := len(jobs.scheduled)
	if enabling == 0 {
		t.Error("enabling should schedule a refresh")
	}

	mustApply(t, mc, mutation.StatusToggleEnabled, mutation.StatusToggleEnabledArgs{IsEnabled: false})
	if len(jobs.scheduled) != enabling {
		t.Error("disabling should not schedule a refresh")
	}

	st, err := s.GetStatus(context.Background(), s.DB(), "usr_1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if st.EnabledAt != 0 {
		t.Errorf("EnabledAt = %d, want 0 after disable", st.EnabledAt)
	}
}

func TestUserSetTimeZone_Validation(t *testing.T) {
	mc, s, _ := newTestContext(t)

	err := apply(t, mc, mutation.UserSetTimeZone, mutation.UserSetTimeZoneArgs{TimeZone: "Mars/Olympus"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}

	mustApply(t, mc, mutation.UserSetTimeZone, mutation.UserSetTimeZoneArgs{TimeZone: "Europe/London"})
	user, err := s.GetUser(context.Background(), s.DB(), "usr_1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.TimeZone != "Europe/London" {
		t.Errorf("TimeZone = %q", user.TimeZone)
	}
}
