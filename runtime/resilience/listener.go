package resilience

import (
	"context"
	"time"

	"github.com/ahammer/shimmer/runtime/model"
)

type (
	// Listener observes executions. OnStart fires before the first attempt,
	// OnComplete exactly once on success and OnError exactly once on terminal
	// failure with the terminal error.
	Listener interface {
		OnStart(ctx context.Context, pc *model.PromptContext)
		OnComplete(ctx context.Context, pc *model.PromptContext, result any, elapsed time.Duration)
		OnError(ctx context.Context, pc *model.PromptContext, err error, elapsed time.Duration)
	}

	// CancelListener is optionally implemented by listeners that want to
	// observe executions abandoned because the caller's context ended.
	// Cancellation is not an error: OnError does not fire in that case.
	CancelListener interface {
		OnCancel(ctx context.Context, pc *model.PromptContext, err error, elapsed time.Duration)
	}

	// ListenerFuncs implements Listener and CancelListener with optional
	// callbacks.
	ListenerFuncs struct {
		Start    func(ctx context.Context, pc *model.PromptContext)
		Complete func(ctx context.Context, pc *model.PromptContext, result any, elapsed time.Duration)
		Error    func(ctx context.Context, pc *model.PromptContext, err error, elapsed time.Duration)
		Cancel   func(ctx context.Context, pc *model.PromptContext, err error, elapsed time.Duration)
	}

	// Listeners notifies listeners in registration order. A panicking
	// listener is isolated: the panic is reported to the onPanic hook and the
	// remaining listeners still run.
	Listeners []Listener
)

// OnStart implements Listener.
func (f ListenerFuncs) OnStart(ctx context.Context, pc *model.PromptContext) {
	if f.Start != nil {
		f.Start(ctx, pc)
	}
}

// OnComplete implements Listener.
func (f ListenerFuncs) OnComplete(ctx context.Context, pc *model.PromptContext, result any, elapsed time.Duration) {
	if f.Complete != nil {
		f.Complete(ctx, pc, result, elapsed)
	}
}

// OnError implements Listener.
func (f ListenerFuncs) OnError(ctx context.Context, pc *model.PromptContext, err error, elapsed time.Duration) {
	if f.Error != nil {
		f.Error(ctx, pc, err, elapsed)
	}
}

// OnCancel implements CancelListener.
func (f ListenerFuncs) OnCancel(ctx context.Context, pc *model.PromptContext, err error, elapsed time.Duration) {
	if f.Cancel != nil {
		f.Cancel(ctx, pc, err, elapsed)
	}
}

// each calls fn for every listener, isolating panics.
func (ls Listeners) each(fn func(Listener), onPanic func(any)) {
	for _, l := range ls {
		if l == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil && onPanic != nil {
					onPanic(r)
				}
			}()
			fn(l)
		}()
	}
}
