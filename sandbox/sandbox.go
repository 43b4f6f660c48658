// Package sandbox executes untrusted tenant transformation scripts inside
// a restricted embedded Lua interpreter.
//
// Each execution gets a fresh interpreter state with only the base,
// string, table, and math libraries opened. Code-loading primitives
// (load, loadstring, dofile, loadfile, require) are removed, so scripts
// cannot generate code from strings or touch the host filesystem. The
// only capabilities a script sees are the ones injected by the host:
//
//	payload                  -- the event payload as a Lua table
//	event                    -- tenant_id, type, source_id, occurred_at
//	http.get / http.post     -- restricted outbound HTTP (per-call timeout)
//	lookup(table, code)      -- tenant-scoped code mapping tables
//	schedule(delay, payload) -- create a deferred delivery
//	log(message)             -- structured host logging
//	json.encode / json.decode
//
// A wall-clock deadline and an instruction budget are enforced by an
// instruction-count debug hook; a host-side watchdog discards the result
// of any execution that outlives its deadline. The state is thrown away
// after every run, so pending script work never leaks into the next
// execution.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lua "github.com/Shopify/go-lua"

	"github.com/hookpipe/hookpipe/event"
	"github.com/hookpipe/hookpipe/transform"
)

// Config holds sandbox limits.
type Config struct {
	// Timeout is the hard wall-clock limit per execution.
	Timeout time.Duration

	// InstructionBudget caps the number of Lua VM instructions executed.
	InstructionBudget int64

	// HTTPTimeout bounds each script-initiated HTTP call.
	HTTPTimeout time.Duration

	// MaxHTTPCalls caps the number of outbound calls per execution.
	MaxHTTPCalls int

	// MaxResponseBytes caps each HTTP response body read.
	MaxResponseBytes int64
}

// DefaultConfig returns the default sandbox limits.
func DefaultConfig() Config {
	return Config{
		Timeout:           60 * time.Second,
		InstructionBudget: 50_000_000,
		HTTPTimeout:       10 * time.Second,
		MaxHTTPCalls:      32,
		MaxResponseBytes:  256 * 1024,
	}
}

// hookInterval is how many VM instructions run between budget checks.
const hookInterval = 10_000

// ErrTimeout is returned when a script exceeds its wall-clock deadline.
var ErrTimeout = errors.New("sandbox: execution deadline exceeded")

// ErrBudget is returned when a script exhausts its instruction budget.
var ErrBudget = errors.New("sandbox: instruction budget exceeded")

// Executor runs tenant scripts. It implements transform.ScriptRunner.
type Executor struct {
	config  Config
	lookups transform.LookupStore
	client  *restrictedClient
	logger  *slog.Logger
}

// New creates an executor. lookups may be nil when no lookup tables exist.
func New(cfg Config, lookups transform.LookupStore, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.InstructionBudget <= 0 {
		cfg.InstructionBudget = DefaultConfig().InstructionBudget
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultConfig().HTTPTimeout
	}
	if cfg.MaxHTTPCalls <= 0 {
		cfg.MaxHTTPCalls = DefaultConfig().MaxHTTPCalls
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultConfig().MaxResponseBytes
	}

	return &Executor{
		config:  cfg,
		lookups: lookups,
		client:  newRestrictedClient(cfg.HTTPTimeout, cfg.MaxResponseBytes),
		logger:  logger,
	}
}

// execution is the per-run mutable state shared between host bindings.
type execution struct {
	ctx       context.Context
	exec      *Executor
	tenantID  string
	schedules []transform.ScheduleRequest
	httpCalls int
	cancelled atomic.Bool
}

// Run executes a script against an event and returns the transform output.
// A script returning nil signals "skip this delivery"; a thrown Lua error,
// a timeout, or an exhausted budget surfaces as *transform.Error.
func (e *Executor) Run(ctx context.Context, script string, evt *event.Event) (*transform.Output, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	run := &execution{ctx: ctx, exec: e, tenantID: evt.TenantID}

	type result struct {
		out *transform.Output
		err error
	}
	done := make(chan result, 1)

	go func() {
		out, err := run.execute(script, evt)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, &transform.Error{Stage: "script", Err: res.err}
		}
		res.out.Schedules = run.schedules
		return res.out, nil

	case <-ctx.Done():
		// Signal the instruction hook, then wait for the interpreter to
		// unwind. The hook fires every hookInterval instructions, so a
		// busy-looping script aborts promptly; results of any in-flight
		// host call are discarded along with the state.
		run.cancelled.Store(true)
		<-done
		return nil, &transform.Error{Stage: "script", Err: ErrTimeout}
	}
}

// execute builds a fresh restricted state and runs the chunk on it.
// Runs on its own goroutine; the state is never reused.
func (run *execution) execute(script string, evt *event.Event) (out *transform.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sandbox: %v", r)
		}
	}()

	l := lua.NewState()
	run.openLibraries(l)
	run.installBindings(l, evt)
	run.armBudgetHook(l)

	if loadErr := lua.LoadString(l, script); loadErr != nil {
		return nil, fmt.Errorf("sandbox: load script: %w", loadErr)
	}
	if callErr := l.ProtectedCall(0, 1, 0); callErr != nil {
		return nil, fmt.Errorf("sandbox: %w", callErr)
	}

	return extractResult(l)
}

// openLibraries opens the safe standard libraries and strips the
// code-loading and process-facing primitives from the base library.
func (run *execution) openLibraries(l *lua.State) {
	lua.Require(l, "_G", lua.BaseOpen, true)
	l.Pop(1)
	lua.Require(l, "string", lua.StringOpen, true)
	l.Pop(1)
	lua.Require(l, "table", lua.TableOpen, true)
	l.Pop(1)
	lua.Require(l, "math", lua.MathOpen, true)
	l.Pop(1)

	for _, name := range []string{
		"dofile", "loadfile", "load", "loadstring", "require",
		"collectgarbage", "print",
	} {
		l.PushNil()
		l.SetGlobal(name)
	}
}

// armBudgetHook installs the instruction-count hook enforcing the
// wall-clock deadline, the instruction budget, and host cancellation.
func (run *execution) armBudgetHook(l *lua.State) {
	var steps int64
	budget := run.exec.config.InstructionBudget

	lua.SetDebugHook(l, func(state *lua.State, _ lua.Debug) {
		steps += hookInterval
		if run.cancelled.Load() || run.ctx.Err() != nil {
			lua.Errorf(state, "%s", ErrTimeout.Error())
		}
		if steps > budget {
			lua.Errorf(state, "%s", ErrBudget.Error())
		}
	}, lua.MaskCount, hookInterval)
}

// extractResult converts the value the chunk returned into an Output.
func extractResult(l *lua.State) (*transform.Output, error) {
	if l.Top() == 0 || l.IsNoneOrNil(-1) {
		return &transform.Output{Skip: true}, nil
	}

	value, err := toGoValue(l, l.Top())
	if err != nil {
		return nil, err
	}

	// A bare string is passed through as the raw body; anything else is
	// serialized as JSON.
	if s, ok := value.(string); ok {
		return &transform.Output{Body: []byte(s)}, nil
	}

	body, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("sandbox: encode result: %w", err)
	}
	return &transform.Output{Body: body}, nil
}
