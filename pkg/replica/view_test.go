package replica

import (
	"encoding/json"
	"slices"
	"testing"
)

func rawTables(entries map[string]map[string]string) map[string]map[string]json.RawMessage {
	out := make(map[string]map[string]json.RawMessage, len(entries))
	for table, rows := range entries {
		out[table] = make(map[string]json.RawMessage, len(rows))
		for id, raw := range rows {
			out[table][id] = json.RawMessage(raw)
		}
	}
	return out
}

func TestView_StateFlipsOnFirstSwap(t *testing.T) {
	v := NewView()
	if v.State() != Loading {
		t.Fatal("fresh view should be Loading")
	}

	v.swap(rawTables(nil))
	if v.State() != Ready {
		t.Error("view should be Ready after the first batch, even an empty one")
	}
}

func TestView_GetAndDecode(t *testing.T) {
	v := NewView()
	v.swap(rawTables(map[string]map[string]string{
		TableStream: {"str_1": `{"name":"Work","sortOrder":0}`},
	}))

	var s Stream
	ok, err := v.Get(TableStream, "str_1", &s)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if s.Name != "Work" {
		t.Errorf("stream = %+v", s)
	}

	ok, err = v.Get(TableStream, "str_ghost", &s)
	if err != nil || ok {
		t.Errorf("absent entity: ok = %v, err = %v", ok, err)
	}

	streams, err := v.Streams()
	if err != nil {
		t.Fatalf("Streams: %v", err)
	}
	if len(streams) != 1 || streams["str_1"].Name != "Work" {
		t.Errorf("Streams() = %v", streams)
	}
}

func TestView_SubscribersGetGroupedChanges(t *testing.T) {
	v := NewView()
	v.swap(rawTables(map[string]map[string]string{
		TablePoint:  {"pt_1": `{"startedAt":1}`, "pt_2": `{"startedAt":2}`},
		TableStream: {"str_1": `{"name":"Work"}`},
	}))

	var got ChangeSet
	v.Subscribe(func(changes ChangeSet) { got = changes })

	// pt_1 changes, pt_2 disappears, stream untouched.
	v.swap(rawTables(map[string]map[string]string{
		TablePoint:  {"pt_1": `{"startedAt":9}`},
		TableStream: {"str_1": `{"name":"Work"}`},
	}))

	points := append([]string{}, got[TablePoint]...)
	slices.Sort(points)
	if !slices.Equal(points, []string{"pt_1", "pt_2"}) {
		t.Errorf("point changes = %v, want [pt_1 pt_2]", points)
	}
	if _, ok := got[TableStream]; ok {
		t.Errorf("unchanged stream reported: %v", got[TableStream])
	}
}

func TestView_NoNotificationWithoutChanges(t *testing.T) {
	v := NewView()
	tables := rawTables(map[string]map[string]string{
		TableStream: {"str_1": `{"name":"Work"}`},
	})
	v.swap(tables)

	calls := 0
	v.Subscribe(func(ChangeSet) { calls++ })

	v.swap(rawTables(map[string]map[string]string{
		TableStream: {"str_1": `{"name":"Work"}`},
	}))
	if calls != 0 {
		t.Errorf("identical swap notified %d times, want 0", calls)
	}
}
