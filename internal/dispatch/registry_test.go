package dispatch

import (
	"sync"
	"testing"

	"github.com/juju/errors"

	"subjectbus/internal/subject"
)

func closeRegistry(r *Registry) {
	for _, w := range r.Close() {
		w.Discard()
		_ = w.Wait()
	}
}

func TestRegistryMatchOrder(t *testing.T) {
	r := NewRegistry(8, &countingReporter{})
	defer closeRegistry(r)

	a, _ := r.Add(subject.MustParsePattern("greet.>"), newRecorder(), 0)
	b, _ := r.Add(subject.MustParsePattern("other.*"), newRecorder(), 0)
	c, _ := r.Add(subject.MustParsePattern("greet.*"), newRecorder(), 0)
	d, _ := r.Add(subject.MustParsePattern("greet.joe"), newRecorder(), 0)

	if !(a < b && b < c && c < d) {
		t.Fatalf("ids should increase in registration order: %d %d %d %d", a, b, c, d)
	}
	got := r.Match(subject.MustParseSubject("greet.joe"))
	want := []ID{a, c, d}
	if len(got) != len(want) {
		t.Fatalf("expected %v got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v got %v", want, got)
		}
	}
	if got := r.Match(subject.MustParseSubject("nobody.home")); len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
	if r.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", r.Len())
	}
}

func TestRegistryDefaultCapacity(t *testing.T) {
	r := NewRegistry(7, &countingReporter{})
	defer closeRegistry(r)
	id, _ := r.Add(subject.MustParsePattern("a"), newRecorder(), 0)
	other, _ := r.Add(subject.MustParsePattern("b"), newRecorder(), 3)
	w, _ := r.Lookup(id)
	o, _ := r.Lookup(other)
	if w.Stats().Capacity != 7 || o.Stats().Capacity != 3 {
		t.Fatalf("unexpected capacities %d %d", w.Stats().Capacity, o.Stats().Capacity)
	}
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry(8, &countingReporter{})
	defer closeRegistry(r)
	id, _ := r.Add(subject.MustParsePattern("greet.*"), newRecorder(), 0)

	w := r.Remove(id)
	if w == nil || w.ID() != id {
		t.Fatalf("expected worker %d, got %v", id, w)
	}
	w.Drain()
	_ = w.Wait()

	if r.Remove(id) != nil {
		t.Fatal("second remove should be a no-op")
	}
	if r.Remove(12345) != nil {
		t.Fatal("unknown id should be a no-op")
	}
	if _, ok := r.Lookup(id); ok {
		t.Fatal("removed id still visible")
	}
	if got := r.Match(subject.MustParseSubject("greet.joe")); len(got) != 0 {
		t.Fatalf("removed subscription still matches: %v", got)
	}
}

func TestRegistryClosed(t *testing.T) {
	r := NewRegistry(8, &countingReporter{})
	r.Add(subject.MustParsePattern("a"), newRecorder(), 0)
	r.Add(subject.MustParsePattern("b"), newRecorder(), 0)

	workers := r.Close()
	if len(workers) != 2 || workers[0].ID() > workers[1].ID() {
		t.Fatalf("expected two workers in registration order, got %v", workers)
	}
	for _, w := range workers {
		w.Drain()
		_ = w.Wait()
	}
	if _, err := r.Add(subject.MustParsePattern("c"), newRecorder(), 0); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("expected ErrRegistryClosed, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatal("closed registry should be empty")
	}
}

func TestRegistryConcurrentAddRemoveMatch(t *testing.T) {
	r := NewRegistry(8, &countingReporter{})
	defer closeRegistry(r)
	subj := subject.MustParseSubject("greet.joe")

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, w := range r.matching(subj) {
					if w == nil || !w.Pattern().Matches(subj) {
						t.Error("torn registry entry observed")
						return
					}
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for i := 0; i < 4; i++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for j := 0; j < 50; j++ {
				id, err := r.Add(subject.MustParsePattern("greet.*"), newRecorder(), 0)
				if err != nil {
					t.Error(err)
					return
				}
				if w := r.Remove(id); w != nil {
					w.Drain()
					_ = w.Wait()
				}
			}
		}()
	}
	writers.Wait()
	close(stop)
	readers.Wait()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}
