package unit

import (
	"errors"
	"sync"
	"testing"
)

type fakeUnit struct{ name string }

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry[*fakeUnit]()
	if err := r.Register("a", &fakeUnit{"first"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	err := r.Register("a", &fakeUnit{"second"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	u, ok := r.Lookup("a")
	if !ok || u.name != "first" {
		t.Errorf("duplicate register replaced the unit: %+v", u)
	}
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := NewRegistry[*fakeUnit]()

	const workers = 32
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Register("same", &fakeUnit{})
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyExists):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != workers-1 {
		t.Errorf("expected 1 success and %d duplicates, got %d and %d", workers-1, ok, dup)
	}
}

func TestRegistry_RemoveAndReuse(t *testing.T) {
	r := NewRegistry[*fakeUnit]()
	first := &fakeUnit{"first"}
	if err := r.Register("a", first); err != nil {
		t.Fatal(err)
	}

	if got, ok := r.Remove("a"); !ok || got != first {
		t.Fatalf("Remove returned %v, %v", got, ok)
	}
	if _, ok := r.Remove("a"); ok {
		t.Error("second Remove should report not found")
	}
	if err := r.Register("a", &fakeUnit{"second"}); err != nil {
		t.Errorf("identifier should be reusable after removal: %v", err)
	}
}

func TestRegistry_RemoveIf(t *testing.T) {
	r := NewRegistry[*fakeUnit]()
	stale := &fakeUnit{"stale"}
	current := &fakeUnit{"current"}
	if err := r.Register("a", current); err != nil {
		t.Fatal(err)
	}

	if r.RemoveIf("a", stale) {
		t.Error("RemoveIf removed an entry owned by another unit")
	}
	if !r.RemoveIf("a", current) {
		t.Error("RemoveIf did not remove its own entry")
	}
	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_DrainAndIDs(t *testing.T) {
	r := NewRegistry[*fakeUnit]()
	for _, id := range []string{"c", "a", "b"} {
		if err := r.Register(id, &fakeUnit{id}); err != nil {
			t.Fatal(err)
		}
	}

	ids := r.IDs()
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("expected sorted ids [a b c], got %v", ids)
	}

	drained := r.Drain()
	if len(drained) != 3 {
		t.Errorf("expected 3 drained units, got %d", len(drained))
	}
	if r.Len() != 0 {
		t.Errorf("registry not empty after Drain: %v", r.IDs())
	}
	for _, id := range ids {
		if err := r.Register(id, &fakeUnit{id}); err != nil {
			t.Errorf("re-register %s after Drain: %v", id, err)
		}
	}
}
