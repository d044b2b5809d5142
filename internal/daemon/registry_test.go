package daemon

import "testing"

func TestRegistryLookupInsertRemove(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Lookup("bastion"); ok {
		t.Fatal("expected empty registry to have no entry for bastion")
	}

	t1 := &Tunnel{Host: "bastion", PID: 111}
	r.Insert(t1)

	got, ok := r.Lookup("bastion")
	if !ok || got.PID != 111 {
		t.Fatalf("expected to find inserted tunnel, got %+v, ok=%v", got, ok)
	}

	r.Remove("bastion")
	if _, ok := r.Lookup("bastion"); ok {
		t.Fatal("expected tunnel to be gone after Remove")
	}
}

func TestRegistryRemoveIsNoOpWhenAbsent(t *testing.T) {
	r := NewRegistry()
	r.Remove("never-existed") // must not panic
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	r.Insert(&Tunnel{Host: "a", PID: 1})
	r.Insert(&Tunnel{Host: "b", PID: 2})

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}

	byHost := map[string]int{}
	for _, s := range snap {
		byHost[s.Host] = s.PID
	}
	if byHost["a"] != 1 || byHost["b"] != 2 {
		t.Fatalf("unexpected snapshot contents: %+v", snap)
	}
}
