package core

import "testing"

func TestInMemoryStoreSetGetDeleteIterator(t *testing.T) {
	s := NewInMemoryStore()
	must(t, s.Set([]byte("a:1"), []byte("x")))
	must(t, s.Set([]byte("a:2"), []byte("y")))
	must(t, s.Set([]byte("b:1"), []byte("z")))

	v, err := s.Get([]byte("a:1"))
	must(t, err)
	if string(v) != "x" {
		t.Fatalf("got %q, want x", v)
	}

	it := s.Iterator([]byte("a:"))
	defer it.Close()
	count := 0
	for it.Next() {
		count++
	}
	if count != 2 {
		t.Fatalf("iterator returned %d entries, want 2", count)
	}

	must(t, s.Delete([]byte("a:1")))
	if _, err := s.Get([]byte("a:1")); err == nil {
		t.Fatalf("expected error after delete")
	}
}

func TestContextAsOverridesCallerOnly(t *testing.T) {
	ctx := &Context{Caller: addr(1), Clock: SystemClock{}}
	derived := ctx.As(addr(2))
	if derived.Caller != addr(2) {
		t.Fatalf("As did not override caller")
	}
	if ctx.Caller != addr(1) {
		t.Fatalf("As mutated the original context")
	}
	if derived.Clock != ctx.Clock {
		t.Fatalf("As should preserve every other collaborator")
	}
}

func TestMemoryEventSinkFansOutToAllSubscribers(t *testing.T) {
	sink := NewMemoryEventSink()
	var a, b []string
	sink.Subscribe(func(topic string, payload []byte) { a = append(a, topic) })
	sink.Subscribe(func(topic string, payload []byte) { b = append(b, topic) })

	must(t, sink.Broadcast("topic:one", nil))
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected both subscribers notified, got %d and %d", len(a), len(b))
	}
}

func TestMemoryRoleStoreGrantAndRevoke(t *testing.T) {
	rs := NewMemoryRoleStore()
	if rs.HasRole(addr(1), "admin") {
		t.Fatalf("role should not be granted yet")
	}
	must(t, rs.GrantRole(addr(1), "admin"))
	if !rs.HasRole(addr(1), "admin") {
		t.Fatalf("role should now be granted")
	}
	must(t, rs.RevokeRole(addr(1), "admin"))
	if rs.HasRole(addr(1), "admin") {
		t.Fatalf("role should have been revoked")
	}
}
