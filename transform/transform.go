// Package transform converts raw event payloads into outbound request
// bodies, either through declarative field mappings or by handing the
// payload to a sandboxed tenant script.
package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hookpipe/hookpipe/event"
	"github.com/hookpipe/hookpipe/rule"
)

// Output is the result of a transformation.
type Output struct {
	// Body is the outbound request body. Nil when Skip is set.
	Body json.RawMessage

	// Skip marks the delivery as intentionally skipped (a script returned
	// nil). A skip is a terminal non-failure state, not an error.
	Skip bool

	// Schedules holds deferred deliveries the script requested.
	Schedules []ScheduleRequest
}

// ScheduleRequest is a script-created deferred delivery.
type ScheduleRequest struct {
	Delay   time.Duration
	Payload json.RawMessage
}

// Error marks a transformation failure. Deliveries failing here are
// classified distinctly from network failures and never retried.
type Error struct {
	Stage string // "mapping", "script", "lookup"
	Err   error
}

func (e *Error) Error() string {
	return "transform: " + e.Stage + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// ScriptRunner executes tenant-supplied transform code. Implemented by the
// sandbox package.
type ScriptRunner interface {
	Run(ctx context.Context, script string, evt *event.Event) (*Output, error)
}

// Transformer dispatches over the rule's transform descriptor.
type Transformer struct {
	lookups LookupStore
	runner  ScriptRunner
	logger  *slog.Logger
}

// New creates a transformer. runner may be nil when script rules are not
// in use; applying a script rule without one is a transform error.
func New(lookups LookupStore, runner ScriptRunner, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{
		lookups: lookups,
		runner:  runner,
		logger:  logger,
	}
}

// Apply produces the outbound body for (rule, event).
// The switch is exhaustive over rule.TransformKind.
func (t *Transformer) Apply(ctx context.Context, r *rule.Rule, evt *event.Event) (*Output, error) {
	switch r.Transform.Kind {
	case rule.TransformNone, "":
		return &Output{Body: evt.Payload}, nil

	case rule.TransformMapping:
		body, err := t.applyMapping(ctx, r, evt)
		if err != nil {
			return nil, err
		}
		return &Output{Body: body}, nil

	case rule.TransformScript:
		if t.runner == nil {
			return nil, &Error{Stage: "script", Err: fmt.Errorf("no script runner configured")}
		}
		return t.runner.Run(ctx, r.Transform.Script, evt)

	default:
		return nil, &Error{Stage: "config", Err: fmt.Errorf("unknown transform kind %q", r.Transform.Kind)}
	}
}
