package output

import (
	"context"
	"log/slog"
)

// Output is the event sink consumed by the engine. Implementations must
// tolerate concurrent callers.
type Output interface {
	// EmitEvent delivers one event. Callers treat failures as
	// observability loss, not task failure.
	EmitEvent(ctx context.Context, ev Event) error

	// RequestConfirmation asks the user to approve a tool call. Errors
	// resolve to "not approved" at the call site.
	RequestConfirmation(ctx context.Context, req ConfirmationRequest) (ConfirmationDecision, error)

	// Flush blocks until buffered events are delivered.
	Flush(ctx context.Context) error
}

// Emitter wraps an Output so event emission never propagates errors.
// Failed emissions are logged and dropped.
type Emitter struct {
	out Output
	log *slog.Logger
}

func NewEmitter(out Output, log *slog.Logger) *Emitter {
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{out: out, log: log}
}

// Emit delivers ev, absorbing any failure locally.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || e.out == nil {
		return
	}
	if err := e.out.EmitEvent(ctx, ev); err != nil {
		e.log.Warn("event emission failed", "event_type", ev.Type, "error", err)
	}
}

// Confirm resolves a confirmation request fail-closed: a transport error
// or a nil sink both count as a denial.
func (e *Emitter) Confirm(ctx context.Context, req ConfirmationRequest) ConfirmationDecision {
	if e == nil || e.out == nil {
		return ConfirmationDecision{Approved: false, Note: "no output sink attached"}
	}
	decision, err := e.out.RequestConfirmation(ctx, req)
	if err != nil {
		e.log.Warn("confirmation request failed", "tool", req.ToolName, "error", err)
		return ConfirmationDecision{Approved: false, Note: "confirmation unavailable"}
	}
	return decision
}

// Flush forwards to the sink, absorbing failures.
func (e *Emitter) Flush(ctx context.Context) {
	if e == nil || e.out == nil {
		return
	}
	if err := e.out.Flush(ctx); err != nil {
		e.log.Warn("output flush failed", "error", err)
	}
}

// NullOutput discards all events and denies all confirmations.
type NullOutput struct{}

func (NullOutput) EmitEvent(context.Context, Event) error { return nil }

func (NullOutput) RequestConfirmation(context.Context, ConfirmationRequest) (ConfirmationDecision, error) {
	return ConfirmationDecision{Approved: false, Note: "non-interactive output"}, nil
}

func (NullOutput) Flush(context.Context) error { return nil }
