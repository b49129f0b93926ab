package push

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/internal/sync"
	"github.com/hyperengineering/tempo/pkg/mutation"
)

type fakePoker struct {
	poked []string
}

func (f *fakePoker) Poke(userID string) {
	f.poked = append(f.poked, userID)
}

func newTestPusher(t *testing.T) (*Pusher, *store.Store, *fakePoker) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	err = s.InsertUser(ctx, s.DB(), store.User{ID: "usr_1", Email: "dev@example.com", TimeZone: "UTC"})
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}

	poker := &fakePoker{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(s, nil, poker, logger), s, poker
}

func mut(t *testing.T, id int64, name string, args any) sync.Mutation {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return sync.Mutation{ID: id, ClientID: "c_1", Name: name, Args: raw}
}

func TestPush_AppliesBatchInOrder(t *testing.T) {
	p, s, poker := newTestPusher(t)
	ctx := context.Background()

	resp, err := p.Push(ctx, "usr_1", sync.PushRequest{
		ClientGroupID: "cg_1",
		Mutations: []sync.Mutation{
			mut(t, 1, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"}),
			mut(t, 2, mutation.PointCreate, mutation.PointCreateArgs{
				PointID: "pt_1", StreamID: "str_1", StartedAt: 100,
			}),
		},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if resp.Applied != 2 || resp.Skipped != 0 || resp.Failed != 0 {
		t.Errorf("resp = %+v, want 2 applied", resp)
	}

	if _, err := s.GetPoint(ctx, s.DB(), "usr_1", "pt_1"); err != nil {
		t.Errorf("point should exist after push: %v", err)
	}
	client, err := s.GetClient(ctx, s.DB(), "c_1", "cg_1")
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if client.LastMutationID != 2 {
		t.Errorf("LastMutationID = %d, want 2", client.LastMutationID)
	}
	if len(poker.poked) != 1 || poker.poked[0] != "usr_1" {
		t.Errorf("poked = %v, want one poke for usr_1", poker.poked)
	}
}

func TestPush_ReplayIsSkipped(t *testing.T) {
	p, _, poker := newTestPusher(t)
	ctx := context.Background()

	batch := sync.PushRequest{
		ClientGroupID: "cg_1",
		Mutations: []sync.Mutation{
			mut(t, 1, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"}),
		},
	}
	if _, err := p.Push(ctx, "usr_1", batch); err != nil {
		t.Fatalf("first push: %v", err)
	}

	resp, err := p.Push(ctx, "usr_1", batch)
	if err != nil {
		t.Fatalf("replay push: %v", err)
	}
	if resp.Applied != 0 || resp.Skipped != 1 {
		t.Errorf("resp = %+v, want 1 skipped", resp)
	}
	// A fully skipped batch changes nothing, so no extra poke.
	if len(poker.poked) != 1 {
		t.Errorf("poked = %v, want single poke from first push", poker.poked)
	}
}

func TestPush_GapFailsBatch(t *testing.T) {
	p, s, _ := newTestPusher(t)
	ctx := context.Background()

	_, err := p.Push(ctx, "usr_1", sync.PushRequest{
		ClientGroupID: "cg_1",
		Mutations: []sync.Mutation{
			mut(t, 3, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"}),
		},
	})
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}

	if _, err := s.GetStream(ctx, s.DB(), "usr_1", "str_1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("out-of-order mutation must not apply")
	}
}

func TestPush_FailedMutationAdvancesSequence(t *testing.T) {
	p, s, _ := newTestPusher(t)
	ctx := context.Background()

	// point_create against a missing stream fails, but its sequence number
	// must still be consumed so the client's queue drains.
	resp, err := p.Push(ctx, "usr_1", sync.PushRequest{
		ClientGroupID: "cg_1",
		Mutations: []sync.Mutation{
			mut(t, 1, mutation.PointCreate, mutation.PointCreateArgs{PointID: "pt_1", StreamID: "str_missing"}),
			mut(t, 2, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"}),
		},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if resp.Failed != 1 || resp.Applied != 1 {
		t.Errorf("resp = %+v, want 1 failed and 1 applied", resp)
	}

	if _, err := s.GetPoint(ctx, s.DB(), "usr_1", "pt_1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("failed mutation's writes must be rolled back")
	}
	client, err := s.GetClient(ctx, s.DB(), "c_1", "cg_1")
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if client.LastMutationID != 2 {
		t.Errorf("LastMutationID = %d, want 2", client.LastMutationID)
	}
}

func TestPush_UnknownMutationFailsWithoutWedging(t *testing.T) {
	p, s, _ := newTestPusher(t)
	ctx := context.Background()

	resp, err := p.Push(ctx, "usr_1", sync.PushRequest{
		ClientGroupID: "cg_1",
		Mutations: []sync.Mutation{
			mut(t, 1, "stream_teleport", map[string]any{}),
		},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if resp.Failed != 1 {
		t.Errorf("resp = %+v, want 1 failed", resp)
	}

	client, err := s.GetClient(ctx, s.DB(), "c_1", "cg_1")
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if client.LastMutationID != 1 {
		t.Errorf("LastMutationID = %d, want 1", client.LastMutationID)
	}
}

func TestPush_WrongUserRejected(t *testing.T) {
	p, s, _ := newTestPusher(t)
	ctx := context.Background()

	if err := s.InsertUser(ctx, s.DB(), store.User{ID: "usr_2", Email: "other@example.com", TimeZone: "UTC"}); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := s.UpsertClientGroup(ctx, s.DB(), store.ClientGroup{ID: "cg_1", UserID: "usr_1"}); err != nil {
		t.Fatalf("upsert client group: %v", err)
	}

	_, err := p.Push(ctx, "usr_2", sync.PushRequest{
		ClientGroupID: "cg_1",
		Mutations: []sync.Mutation{
			mut(t, 1, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"}),
		},
	})
	if err == nil {
		t.Error("pushing into another user's client group must fail")
	}
}

func TestPush_ActionedAtFlowsIntoDefaults(t *testing.T) {
	p, s, _ := newTestPusher(t)
	ctx := context.Background()

	args := map[string]any{
		"pointId": "pt_1", "streamId": "str_1", "actionedAt": 1_700_000_000_000,
	}
	_, err := p.Push(ctx, "usr_1", sync.PushRequest{
		ClientGroupID: "cg_1",
		Mutations: []sync.Mutation{
			mut(t, 1, mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"}),
			mut(t, 2, mutation.PointCreate, args),
		},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	point, err := s.GetPoint(ctx, s.DB(), "usr_1", "pt_1")
	if err != nil {
		t.Fatalf("get point: %v", err)
	}
	if point.StartedAt != 1_700_000_000_000 {
		t.Errorf("StartedAt = %d, want the mutation's actionedAt", point.StartedAt)
	}
}
