// Package model defines the contract between the shimmer runtime and the
// generative backends that answer declared-method calls. Adapters receive an
// immutable PromptContext together with the Shape the caller expects back and
// return a decoded result. Optional interfaces add tool calling and streaming;
// the Handle and Stream helpers apply the default behavior when an adapter does
// not implement them.
package model

import (
	"context"
	"errors"
	"io"

	"github.com/ahammer/shimmer/runtime/tools"
)

type (
	// Adapter performs a single backend request. Implementations translate the
	// prompt context into a provider request and decode the provider response
	// into a value created by shape.New. Adapters must be safe for concurrent
	// use and must honor ctx cancellation.
	Adapter interface {
		HandleRequest(ctx context.Context, pc *PromptContext, shape *Shape) (any, error)
	}

	// ToolAdapter is implemented by adapters that can run a multi-turn tool
	// exchange. The adapter advertises the tools of every provider, routes the
	// backend tool calls to them and returns once the backend produces a final
	// non-tool response.
	ToolAdapter interface {
		Adapter
		HandleRequestWithTools(ctx context.Context, pc *PromptContext, shape *Shape, providers []tools.Provider) (any, error)
	}

	// StreamingAdapter is implemented by adapters that can emit the response
	// text incrementally.
	StreamingAdapter interface {
		HandleRequestStreaming(ctx context.Context, pc *PromptContext) (Streamer, error)
	}

	// ToolStreamingAdapter is implemented by adapters that can stream while
	// tool providers are attached.
	ToolStreamingAdapter interface {
		HandleRequestStreamingWithTools(ctx context.Context, pc *PromptContext, providers []tools.Provider) (Streamer, error)
	}

	// Streamer delivers incremental text fragments. Recv returns io.EOF once
	// the sequence is exhausted. A Streamer is consumed by a single goroutine
	// and cannot be restarted; Close releases the backend resources and may be
	// called at any time, including before the sequence is exhausted.
	Streamer interface {
		Recv() (string, error)
		Close() error
	}

	// AdapterFunc adapts a function to the Adapter interface.
	AdapterFunc func(ctx context.Context, pc *PromptContext, shape *Shape) (any, error)

	// sliceStreamer replays a fixed set of fragments.
	sliceStreamer struct {
		fragments []string
		pos       int
		closed    bool
	}
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("model: stream closed")

// HandleRequest calls f.
func (f AdapterFunc) HandleRequest(ctx context.Context, pc *PromptContext, shape *Shape) (any, error) {
	return f(ctx, pc, shape)
}

// Handle dispatches a request to a, using the tool-calling form when
// providers are attached and a supports it. Adapters without tool support
// ignore the providers and serve the plain request.
func Handle(ctx context.Context, a Adapter, pc *PromptContext, shape *Shape, providers []tools.Provider) (any, error) {
	if a == nil {
		return nil, ErrNoAdapter
	}
	if len(providers) > 0 {
		if ta, ok := a.(ToolAdapter); ok {
			return ta.HandleRequestWithTools(ctx, pc, shape, providers)
		}
	}
	return a.HandleRequest(ctx, pc, shape)
}

// Stream opens a fragment stream against a. When providers are attached and a
// implements ToolStreamingAdapter that form is used; otherwise the plain
// streaming form is used. Adapters that do not stream at all serve a single
// request and the result is replayed as a one-element sequence.
func Stream(ctx context.Context, a Adapter, pc *PromptContext, providers []tools.Provider) (Streamer, error) {
	if a == nil {
		return nil, ErrNoAdapter
	}
	if len(providers) > 0 {
		if ts, ok := a.(ToolStreamingAdapter); ok {
			return ts.HandleRequestStreamingWithTools(ctx, pc, providers)
		}
	}
	if sa, ok := a.(StreamingAdapter); ok {
		return sa.HandleRequestStreaming(ctx, pc)
	}
	res, err := a.HandleRequest(ctx, pc, TextShape())
	if err != nil {
		return nil, err
	}
	text, err := Text(res)
	if err != nil {
		return nil, err
	}
	return NewSliceStreamer(text), nil
}

// NewSliceStreamer returns a Streamer that yields the given fragments in order.
func NewSliceStreamer(fragments ...string) Streamer {
	return &sliceStreamer{fragments: fragments}
}

// Collect drains s and returns the concatenated fragments. The streamer is
// closed before Collect returns.
func Collect(s Streamer) (string, error) {
	defer s.Close() //nolint:errcheck
	var out []byte
	for {
		frag, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
		out = append(out, frag...)
	}
}

func (s *sliceStreamer) Recv() (string, error) {
	if s.closed {
		return "", ErrStreamClosed
	}
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	frag := s.fragments[s.pos]
	s.pos++
	return frag, nil
}

func (s *sliceStreamer) Close() error {
	s.closed = true
	return nil
}
