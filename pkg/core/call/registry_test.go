package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orderdial/orderdial/pkg/core/script"
	"github.com/orderdial/orderdial/pkg/core/tasks"
)

// recordingSink counts reports per call id.
type recordingSink struct {
	mu      sync.Mutex
	reports []Report
}

func (s *recordingSink) Report(_ context.Context, rep Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rep)
	return nil
}

func (s *recordingSink) count(callID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.reports {
		if r.CallID == callID {
			n++
		}
	}
	return n
}

func newTestRegistry(t *testing.T, cfg RegistryConfig) (*Registry, *recordingSink, *tasks.Supervisor) {
	t.Helper()
	sink := &recordingSink{}
	sup := tasks.NewSupervisor(nil)
	return NewRegistry(cfg, sink, sup, nil), sink, sup
}

func TestRegistry_CreateGetEnd(t *testing.T) {
	r, sink, sup := newTestRegistry(t, RegistryConfig{})

	s, created, err := r.Create("call-1", script.CallTypeVendorOrderConfirmation,
		script.DefaultOptions(), script.LangHindi, "female", "+911", "+912",
		Context{OrderID: "ORD-9"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !created {
		t.Error("first create should report created=true")
	}
	if s.State() != script.StateGreeting {
		t.Errorf("initial state = %v", s.State())
	}

	got, ok := r.Get("call-1")
	if !ok || got != s {
		t.Fatal("Get should return the created session")
	}

	s.Apply(script.DTMF("0")) // terminal rejected
	if err := r.End(context.Background(), "call-1", ""); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	_ = sup.Shutdown(context.Background())

	if n := sink.count("call-1"); n != 1 {
		t.Errorf("reports = %d, want 1", n)
	}
	if sink.reports[0].Status != script.StatusRejected {
		t.Errorf("reported status = %v, want rejected", sink.reports[0].Status)
	}
	if sink.reports[0].OrderID != "ORD-9" {
		t.Errorf("reported order id = %q, want ORD-9", sink.reports[0].OrderID)
	}
}

func TestRegistry_UnknownCallType(t *testing.T) {
	r, _, _ := newTestRegistry(t, RegistryConfig{})
	_, _, err := r.Create("call-1", "survey", script.DefaultOptions(),
		script.LangHindi, "f", "", "", Context{})
	if err == nil {
		t.Fatal("unknown call type must be rejected at creation")
	}
}

func TestRegistry_DuplicateCreateReturnsExisting(t *testing.T) {
	r, _, _ := newTestRegistry(t, RegistryConfig{})

	first, _, err := r.Create("call-1", script.CallTypeRiderAssignment,
		script.DefaultOptions(), script.LangEnglish, "m", "", "", Context{})
	if err != nil {
		t.Fatal(err)
	}
	second, created, err := r.Create("call-1", script.CallTypeRiderAssignment,
		script.DefaultOptions(), script.LangEnglish, "m", "", "", Context{})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("duplicate create should report created=false")
	}
	if first != second {
		t.Error("duplicate create must return the existing session")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_ConcurrentCreateFirstWriterWins(t *testing.T) {
	r, _, _ := newTestRegistry(t, RegistryConfig{})

	const n = 32
	var wg sync.WaitGroup
	var createdCount atomic.Int64
	sessions := make([]*Session, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, created, err := r.Create("call-race", script.CallTypeVendorPrepTime,
				script.DefaultOptions(), script.LangHindi, "f", "", "", Context{})
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			if created {
				createdCount.Add(1)
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	if createdCount.Load() != 1 {
		t.Errorf("created = %d, want exactly 1", createdCount.Load())
	}
	for i := 1; i < n; i++ {
		if sessions[i] != sessions[0] {
			t.Fatal("all racers must observe the same session")
		}
	}
}

func TestRegistry_CapacityCeiling(t *testing.T) {
	r, _, _ := newTestRegistry(t, RegistryConfig{MaxSessions: 2})

	for i, id := range []string{"a", "b"} {
		if _, _, err := r.Create(id, script.CallTypeRiderAssignment,
			script.DefaultOptions(), script.LangHindi, "f", "", "", Context{}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	_, _, err := r.Create("c", script.CallTypeRiderAssignment,
		script.DefaultOptions(), script.LangHindi, "f", "", "", Context{})
	if !errors.Is(err, ErrCapacity) {
		t.Errorf("err = %v, want ErrCapacity", err)
	}
}

func TestRegistry_DuplicateEndReportsOnce(t *testing.T) {
	r, sink, sup := newTestRegistry(t, RegistryConfig{})

	s, _, _ := r.Create("call-1", script.CallTypeVendorOrderConfirmation,
		script.DefaultOptions(), script.LangHindi, "f", "", "", Context{})
	s.Apply(script.DTMF("0"))

	if err := r.End(context.Background(), "call-1", ""); err != nil {
		t.Fatal(err)
	}
	// The vendor delivers a duplicate terminal callback.
	if err := r.End(context.Background(), "call-1", ""); err != nil {
		t.Fatalf("duplicate End should resolve to the lingering session: %v", err)
	}
	_ = sup.Shutdown(context.Background())

	if n := sink.count("call-1"); n != 1 {
		t.Errorf("reports = %d, want exactly 1", n)
	}
}

func TestRegistry_EndUnknown(t *testing.T) {
	r, _, _ := newTestRegistry(t, RegistryConfig{})
	if err := r.End(context.Background(), "ghost", ""); !errors.Is(err, ErrUnknown) {
		t.Errorf("err = %v, want ErrUnknown", err)
	}
}

func TestRegistry_DelayedRemoval(t *testing.T) {
	r, _, _ := newTestRegistry(t, RegistryConfig{RemoveAfter: 30 * time.Millisecond})

	s, _, _ := r.Create("call-1", script.CallTypeRiderAssignment,
		script.DefaultOptions(), script.LangHindi, "f", "", "", Context{})
	s.Apply(script.DTMF("1"))
	_ = r.End(context.Background(), "call-1", "")

	// Still resolvable during the linger window.
	if _, ok := r.Get("call-1"); !ok {
		t.Fatal("terminal session should linger")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := r.Get("call-1"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session was not removed after the linger window")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_StatusOverride(t *testing.T) {
	r, sink, sup := newTestRegistry(t, RegistryConfig{})

	_, _, _ = r.Create("call-1", script.CallTypeVendorOrderConfirmation,
		script.DefaultOptions(), script.LangHindi, "f", "", "", Context{})
	_ = r.End(context.Background(), "call-1", script.StatusBusy)
	_ = sup.Shutdown(context.Background())

	if sink.reports[0].Status != script.StatusBusy {
		t.Errorf("status = %v, want busy", sink.reports[0].Status)
	}
}

func TestSession_MonotonicStates(t *testing.T) {
	m := script.MustNew(script.CallTypeVendorOrderConfirmation, script.DefaultOptions())
	s := NewSession("call-1", m, script.LangHindi, "f", "", "", Context{})

	s.Apply(script.DTMF("0"))
	if s.State() != script.StateCompleted {
		t.Fatalf("state = %v", s.State())
	}

	// No event may move a terminal session back to a non-terminal state.
	for _, ev := range []script.Event{script.DTMF("1"), script.Intent("accept"), script.Timeout()} {
		res := s.Apply(ev)
		if !res.Ignored {
			t.Errorf("event %v not ignored after terminal", ev.Kind)
		}
		if s.State() != script.StateCompleted {
			t.Fatalf("terminal state mutated to %v", s.State())
		}
	}
}

func TestSession_CollectsAnswers(t *testing.T) {
	m := script.MustNew(script.CallTypeVendorOrderConfirmation, script.DefaultOptions())
	s := NewSession("call-1", m, script.LangHindi, "f", "", "", Context{})

	s.Apply(script.DTMF("1"))
	s.Apply(script.DTMF("3"))

	a := s.Answers()
	if a.PrepMinutes != 45 {
		t.Errorf("PrepMinutes = %d, want 45", a.PrepMinutes)
	}
	if a.Digits != "13" {
		t.Errorf("Digits = %q, want 13", a.Digits)
	}
	if s.Status() != script.StatusPrepTimeSet {
		t.Errorf("Status = %v", s.Status())
	}
}
