package agent

import (
	"testing"
	"time"
)

func TestAbortControllerIdempotentCancel(t *testing.T) {
	t.Parallel()

	ctrl := NewAbortController()
	if ctrl.Cancelled() {
		t.Fatalf("fresh controller must not be cancelled")
	}
	ctrl.Cancel()
	ctrl.Cancel()
	if !ctrl.Cancelled() {
		t.Fatalf("controller must stay cancelled")
	}
}

func TestAbortRegistrationSeesLateAndEarlySignals(t *testing.T) {
	t.Parallel()

	ctrl := NewAbortController()
	early := ctrl.Register()
	ctrl.Cancel()
	late := ctrl.Register()

	if !early.Cancelled() || !late.Cancelled() {
		t.Fatalf("both registrations must observe the cancellation")
	}
	select {
	case <-early.Done():
	default:
		t.Fatalf("done channel must be closed after cancel")
	}
	select {
	case <-late.Done():
	default:
		t.Fatalf("late registration must see a closed done channel")
	}
}

func TestAbortRegistrationRace(t *testing.T) {
	t.Parallel()

	ctrl := NewAbortController()
	reg := ctrl.Register()

	go func() {
		time.Sleep(10 * time.Millisecond)
		ctrl.Cancel()
	}()

	select {
	case <-reg.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("cancellation signal never arrived")
	}
}

func TestControllerSwapKeepsOldCancellable(t *testing.T) {
	t.Parallel()

	old := NewAbortController()
	oldReg := old.Register()

	// A new controller scopes the next task; the old one still works.
	fresh := NewAbortController()
	freshReg := fresh.Register()

	old.Cancel()
	if !oldReg.Cancelled() {
		t.Fatalf("old registration must observe old controller cancel")
	}
	if freshReg.Cancelled() {
		t.Fatalf("fresh controller must be unaffected by old cancel")
	}
}

func TestZeroRegistrationNeverCancels(t *testing.T) {
	t.Parallel()

	var reg AbortRegistration
	if reg.Cancelled() {
		t.Fatalf("zero registration must report not cancelled")
	}
	select {
	case <-reg.Done():
		t.Fatalf("zero registration done channel must never fire")
	default:
	}
}
