package session

import "testing"

func TestRegistry_PokeReachesAllUserSessions(t *testing.T) {
	r := NewRegistry()
	s1, release1 := r.Register("usr_1")
	s2, release2 := r.Register("usr_1")
	other, releaseOther := r.Register("usr_2")
	defer release1()
	defer release2()
	defer releaseOther()

	r.Poke("usr_1")

	for i, s := range []*Session{s1, s2} {
		select {
		case <-s.Poke():
		default:
			t.Errorf("session %d did not receive poke", i)
		}
	}
	select {
	case <-other.Poke():
		t.Error("other user's session should not be poked")
	default:
	}
}

func TestRegistry_PokesCoalesce(t *testing.T) {
	r := NewRegistry()
	s, release := r.Register("usr_1")
	defer release()

	r.Poke("usr_1")
	r.Poke("usr_1")
	r.Poke("usr_1")

	<-s.Poke()
	select {
	case <-s.Poke():
		t.Error("undrained pokes should coalesce into one")
	default:
	}
}

func TestRegistry_ReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry()
	_, release := r.Register("usr_1")

	if r.Lookup("usr_1") != 1 {
		t.Fatalf("Lookup = %d, want 1", r.Lookup("usr_1"))
	}
	release()
	release()
	if r.Lookup("usr_1") != 0 {
		t.Errorf("Lookup = %d, want 0 after release", r.Lookup("usr_1"))
	}
}

func TestRegistry_PokeUnknownUserIsNoOp(t *testing.T) {
	r := NewRegistry()
	r.Poke("usr_ghost")
}

func TestRegistry_DisposeAll(t *testing.T) {
	r := NewRegistry()
	s, release := r.Register("usr_1")
	defer release()

	r.DisposeAll()

	// Channel is closed, so receive succeeds immediately.
	select {
	case _, ok := <-s.Poke():
		if ok {
			t.Error("expected closed channel after dispose")
		}
	default:
		t.Error("expected closed channel after dispose")
	}

	// Registrations after dispose get a closed session straight away.
	late, lateRelease := r.Register("usr_1")
	defer lateRelease()
	if _, ok := <-late.Poke(); ok {
		t.Error("post-dispose session should be closed")
	}
	if r.Lookup("usr_1") != 0 {
		t.Errorf("Lookup = %d, want 0 after dispose", r.Lookup("usr_1"))
	}
}
