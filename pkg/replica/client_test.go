package replica

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	stdsync "sync"
	"testing"
	"time"

	"github.com/hyperengineering/tempo/pkg/mutation"
)

// fakeServer scripts the sync endpoints: it records push and pull bodies
// and answers pulls from a queue of canned responses.
type fakeServer struct {
	t *testing.T

	mu            stdsync.Mutex
	pushes        []PushRequest
	pulls         []PullRequest
	pullResponses []PullResponse

	srv *httptest.Server
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sync/push", func(w http.ResponseWriter, r *http.Request) {
		var req PushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.pushes = append(f.pushes, req)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(PushResponse{Applied: len(req.Mutations)})
	})
	mux.HandleFunc("/api/v1/sync/pull", func(w http.ResponseWriter, r *http.Request) {
		var req PullRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.pulls = append(f.pulls, req)
		if len(f.pullResponses) == 0 {
			f.mu.Unlock()
			http.Error(w, "no scripted pull response", http.StatusInternalServerError)
			return
		}
		resp := f.pullResponses[0]
		f.pullResponses = f.pullResponses[1:]
		f.mu.Unlock()
		json.NewEncoder(w).Encode(resp)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) queuePull(resp PullResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullResponses = append(f.pullResponses, resp)
}

func (f *fakeServer) lastPush(t *testing.T) PushRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pushes) == 0 {
		t.Fatal("no push received")
	}
	return f.pushes[len(f.pushes)-1]
}

func putOp(t *testing.T, table, id string, entity any) PatchOperation {
	t.Helper()
	raw, err := json.Marshal(entity)
	if err != nil {
		t.Fatalf("marshal entity: %v", err)
	}
	return PatchOperation{Op: OpPut, Key: EncodeKey(table, id), Value: raw}
}

func TestClientMutate_StampsActionedAt(t *testing.T) {
	f := newFakeServer(t)
	c := NewClient(f.srv.URL, "token-1", "usr_1")

	before := time.Now().UnixMilli()
	if err := c.Mutate(mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	if c.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want 1", c.PendingCount())
	}
	streams, err := c.View().Streams()
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	if streams["str_1"].Name != "Work" {
		t.Errorf("optimistic stream missing: %v", streams)
	}

	if err := c.Push(context.Background()); err != nil {
		t.Fatalf("push: %v", err)
	}
	push := f.lastPush(t)
	if push.ClientGroupID != c.ClientGroupID() {
		t.Errorf("push group = %q, want %q", push.ClientGroupID, c.ClientGroupID())
	}
	var env mutation.Envelope
	if err := json.Unmarshal(push.Mutations[0].Args, &env); err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if env.ActionedAt < before {
		t.Errorf("actionedAt = %d, want >= %d", env.ActionedAt, before)
	}
}

func TestClientPush_KeepsPendingUntilAck(t *testing.T) {
	f := newFakeServer(t)
	c := NewClient(f.srv.URL, "token-1", "usr_1")

	if err := c.Push(context.Background()); err != nil {
		t.Fatalf("empty push: %v", err)
	}
	f.mu.Lock()
	pushCount := len(f.pushes)
	f.mu.Unlock()
	if pushCount != 0 {
		t.Errorf("empty queue should not hit the server, got %d pushes", pushCount)
	}

	if err := c.Mutate(mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if err := c.Push(context.Background()); err != nil {
		t.Fatalf("push: %v", err)
	}
	if c.PendingCount() != 1 {
		t.Errorf("PendingCount = %d after push, want 1 until a pull acks", c.PendingCount())
	}
}

func TestClientPull_AppliesPatchAndDropsAcked(t *testing.T) {
	f := newFakeServer(t)
	c := NewClient(f.srv.URL, "token-1", "usr_1")

	if err := c.Mutate(mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	cookie := &Cookie{ClientViewID: "cvw_1", Order: 1}
	f.queuePull(PullResponse{
		Cookie:                cookie,
		LastMutationIDChanges: map[string]int64{c.ClientID(): 1},
		Patch: []PatchOperation{
			{Op: OpClear},
			putOp(t, TableStream, "str_1", Stream{Name: "Work (renamed)", SortOrder: 5}),
		},
	})

	if err := c.Pull(context.Background()); err != nil {
		t.Fatalf("pull: %v", err)
	}

	if c.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0 after ack", c.PendingCount())
	}
	got := c.Cookie()
	if got == nil || *got != *cookie {
		t.Errorf("Cookie = %v, want %v", got, cookie)
	}
	streams, err := c.View().Streams()
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	if streams["str_1"].Name != "Work (renamed)" || streams["str_1"].SortOrder != 5 {
		t.Errorf("server state should win after ack: %+v", streams["str_1"])
	}
}

func TestClientPull_RebasesUnackedPending(t *testing.T) {
	f := newFakeServer(t)
	c := NewClient(f.srv.URL, "token-1", "usr_1")

	if err := c.Mutate(mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"}); err != nil {
		t.Fatalf("mutate stream: %v", err)
	}
	if err := c.Mutate(mutation.PointCreate, mutation.PointCreateArgs{PointID: "pt_1", StreamID: "str_1", StartedAt: 100}); err != nil {
		t.Fatalf("mutate point: %v", err)
	}

	// Server has recorded the stream but not the point yet.
	f.queuePull(PullResponse{
		Cookie:                &Cookie{ClientViewID: "cvw_1", Order: 1},
		LastMutationIDChanges: map[string]int64{c.ClientID(): 1},
		Patch: []PatchOperation{
			{Op: OpClear},
			putOp(t, TableStream, "str_1", Stream{Name: "Work"}),
		},
	})
	if err := c.Pull(context.Background()); err != nil {
		t.Fatalf("pull: %v", err)
	}

	if c.PendingCount() != 1 {
		t.Fatalf("PendingCount = %d, want the point mutation still pending", c.PendingCount())
	}
	var p Point
	ok, err := c.View().Get(TablePoint, "pt_1", &p)
	if err != nil || !ok {
		t.Fatalf("rebased point missing: %v %v", ok, err)
	}
	if p.StartedAt != 100 {
		t.Errorf("StartedAt = %d, want 100", p.StartedAt)
	}
}

func TestClientPull_DeletionsReachTheView(t *testing.T) {
	f := newFakeServer(t)
	c := NewClient(f.srv.URL, "token-1", "usr_1")

	f.queuePull(PullResponse{
		Cookie: &Cookie{ClientViewID: "cvw_1", Order: 1},
		Patch: []PatchOperation{
			{Op: OpClear},
			putOp(t, TableStream, "str_1", Stream{Name: "Work"}),
			putOp(t, TableStream, "str_2", Stream{Name: "Play"}),
		},
	})
	f.queuePull(PullResponse{
		Cookie: &Cookie{ClientViewID: "cvw_1", Order: 2},
		Patch: []PatchOperation{
			{Op: OpDel, Key: EncodeKey(TableStream, "str_2")},
		},
	})

	for range 2 {
		if err := c.Pull(context.Background()); err != nil {
			t.Fatalf("pull: %v", err)
		}
	}

	streams, err := c.View().Streams()
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	if _, ok := streams["str_2"]; ok {
		t.Error("str_2 should be deleted")
	}
	if _, ok := streams["str_1"]; !ok {
		t.Error("str_1 should survive")
	}
}

func TestClientResume_SendsPersistedIdentity(t *testing.T) {
	f := newFakeServer(t)
	cookie := Cookie{ClientViewID: "cvw_7", Order: 41}
	c := NewClient(f.srv.URL, "token-1", "usr_1",
		WithIDs("cg_1", "c_1"),
		WithCookie(cookie),
	)

	if c.ClientGroupID() != "cg_1" || c.ClientID() != "c_1" {
		t.Fatalf("ids = %q/%q, want cg_1/c_1", c.ClientGroupID(), c.ClientID())
	}

	f.queuePull(PullResponse{Cookie: &Cookie{ClientViewID: "cvw_7", Order: 41}})
	if err := c.Pull(context.Background()); err != nil {
		t.Fatalf("pull: %v", err)
	}

	f.mu.Lock()
	req := f.pulls[0]
	f.mu.Unlock()
	if req.ClientGroupID != "cg_1" {
		t.Errorf("pull group = %q, want cg_1", req.ClientGroupID)
	}
	if req.Cookie == nil || *req.Cookie != cookie {
		t.Errorf("pull cookie = %v, want %v", req.Cookie, cookie)
	}
}

func TestClientResume_ContinuesMutationSequence(t *testing.T) {
	f := newFakeServer(t)
	c := NewClient(f.srv.URL, "token-1", "usr_1",
		WithIDs("cg_1", "c_1"),
		WithCookie(Cookie{ClientViewID: "cvw_1", Order: 12}),
	)

	// The server has already recorded mutations 1..5 for this client.
	f.queuePull(PullResponse{
		Cookie:                &Cookie{ClientViewID: "cvw_1", Order: 12},
		LastMutationIDChanges: map[string]int64{"c_1": 5},
	})
	if err := c.Pull(context.Background()); err != nil {
		t.Fatalf("pull: %v", err)
	}

	if err := c.Mutate(mutation.StreamCreate, mutation.StreamCreateArgs{StreamID: "str_1", Name: "Work"}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if err := c.Push(context.Background()); err != nil {
		t.Fatalf("push: %v", err)
	}

	push := f.lastPush(t)
	if got := push.Mutations[0].ID; got != 6 {
		t.Errorf("mutation ID = %d, want 6 (ids 1..5 are already recorded server-side)", got)
	}
}

func TestClientPull_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "conflict", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token-1", "usr_1")
	if err := c.Pull(context.Background()); err == nil {
		t.Error("non-200 pull should fail")
	}
}

func TestClientPoke_InvokesCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer must support flushing")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("event: poke\ndata: {}\n\n"))
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewClient(srv.URL, "token-1", "usr_1")
	poked := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Poke(ctx, func() {
			select {
			case poked <- struct{}{}:
			default:
			}
		})
	}()

	select {
	case <-poked:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poke")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Poke did not return after cancel")
	}
}
