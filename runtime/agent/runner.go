package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ahammer/shimmer/runtime/method"
	"github.com/ahammer/shimmer/runtime/service"
	"github.com/ahammer/shimmer/runtime/telemetry"
)

var (
	// ErrInvalidSteps is returned by Run when the step budget is not positive.
	ErrInvalidSteps = errors.New("agent: max steps must be positive")
	// ErrStepBudgetExhausted is returned by Run when no terminal method ran
	// within the budget and the target declares no parameterless terminal
	// method to fall back to.
	ErrStepBudgetExhausted = errors.New("agent: step budget exhausted")
)

type (
	// Outcome is the result of one dispatched step.
	Outcome struct {
		// Method is the invoked method.
		Method string
		// Args are the resolved arguments in declaration order.
		Args []any
		// Result is the method result.
		Result any
		// Terminal reports whether Method ends a run.
		Terminal bool
	}

	// Dispatcher invokes decisions against a target service.
	Dispatcher struct {
		target *service.Service
	}

	// Runner repeats decide-then-dispatch steps against a target service.
	Runner struct {
		decider    Decider
		dispatcher *Dispatcher
		target     *service.Service
		logger     telemetry.Logger

		mu         sync.Mutex
		exclusions []string
	}

	// RunnerOption configures a Runner.
	RunnerOption func(*Runner)
)

// NewDispatcher returns a dispatcher for target.
func NewDispatcher(target *service.Service) *Dispatcher {
	return &Dispatcher{target: target}
}

// Resolve maps the decision onto the declared method. Arguments are matched
// by parameter name; when the decision carries exactly one argument and the
// method declares exactly one parameter, that argument is used whatever its
// name. Unmatched parameters take their default, or nil when optional.
func (d *Dispatcher) Resolve(dec Decision) (method.Spec, []any, error) {
	table := d.target.Table()
	spec, ok := table.Lookup(dec.Method)
	if !ok {
		return method.Spec{}, nil, &UnknownMethodError{Method: dec.Method, Available: table.Names()}
	}
	byName := make(map[string]any, len(dec.Args))
	for _, a := range dec.Args {
		byName[a.Name] = a.Value
	}
	args := make([]any, len(spec.Params))
	for i, p := range spec.Params {
		if v, ok := byName[p.Name]; ok {
			args[i] = v
			continue
		}
		switch {
		case len(dec.Args) == 1 && len(spec.Params) == 1:
			args[i] = dec.Args[0].Value
		case p.Default != nil:
			args[i] = p.Default
		case p.Required():
			return method.Spec{}, nil, &method.ArgumentError{Method: spec.Name, Param: p.Name, Reason: "required argument missing from decision"}
		}
	}
	return spec, args, nil
}

// Dispatch resolves dec and invokes the method on the target.
func (d *Dispatcher) Dispatch(ctx context.Context, dec Decision) (Outcome, error) {
	spec, args, err := d.Resolve(dec)
	if err != nil {
		return Outcome{}, err
	}
	res, err := d.target.Invoke(ctx, spec.Name, args...)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Method: spec.Name, Args: args, Result: res, Terminal: spec.Terminal}, nil
}

// WithExclusions hides methods from the decider schema.
func WithExclusions(names ...string) RunnerOption {
	return func(r *Runner) { r.exclusions = append(r.exclusions, names...) }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l telemetry.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner returns a runner stepping target with decider.
func NewRunner(target *service.Service, decider Decider, opts ...RunnerOption) *Runner {
	r := &Runner{
		decider:    decider,
		dispatcher: NewDispatcher(target),
		target:     target,
		logger:     telemetry.NewNoopLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Exclude adds methods to the exclusion set shown to the decider.
func (r *Runner) Exclude(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exclusions = append(r.exclusions, names...)
}

// Exclusions returns the current exclusion set.
func (r *Runner) Exclusions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.exclusions)
}

// Step asks the decider for one decision and dispatches it.
func (r *Runner) Step(ctx context.Context) (Outcome, error) {
	schema := Schema(r.target.Table(), r.target.Memory().Snapshot(), r.Exclusions())
	dec, err := r.decider.Decide(ctx, schema)
	if err != nil {
		return Outcome{}, fmt.Errorf("decide: %w", err)
	}
	r.logger.Debug(ctx, "agent decision", "method", dec.Method, "args", len(dec.Args))
	return r.dispatcher.Dispatch(ctx, dec)
}

// Run steps until a terminal method runs or maxSteps steps were taken. On
// exhaustion it invokes the target's parameterless terminal method when
// exactly one is declared, otherwise it returns the last outcome with
// ErrStepBudgetExhausted.
func (r *Runner) Run(ctx context.Context, maxSteps int) (Outcome, error) {
	if maxSteps <= 0 {
		return Outcome{}, ErrInvalidSteps
	}
	var last Outcome
	for step := 1; step <= maxSteps; step++ {
		out, err := r.Step(ctx)
		if err != nil {
			return last, err
		}
		last = out
		if out.Terminal {
			return out, nil
		}
	}
	spec, ok := r.finalMethod()
	if !ok {
		return last, ErrStepBudgetExhausted
	}
	r.logger.Info(ctx, "agent step budget exhausted, finishing", "method", spec.Name, "steps", maxSteps)
	return r.dispatcher.Dispatch(ctx, Decision{Method: spec.Name})
}

// finalMethod returns the single terminal method that needs no arguments.
func (r *Runner) finalMethod() (method.Spec, bool) {
	var found []method.Spec
	for _, s := range r.target.Table().Specs() {
		if !s.Terminal || slices.ContainsFunc(s.Params, method.Param.Required) {
			continue
		}
		found = append(found, s)
	}
	if len(found) != 1 {
		return method.Spec{}, false
	}
	return found[0], true
}
