// Package openai provides a model.Adapter backed by the OpenAI Chat
// Completions API using github.com/sashabaranov/go-openai. It supports
// structured results, tool calling through tools.Coordinator and streaming.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/tools"
)

const providerName = "openai"

type (
	// ChatClient captures the subset of the go-openai client used by the
	// adapter.
	ChatClient interface {
		CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	}

	// ChunkStream is a stream of chat completion deltas.
	// *openai.ChatCompletionStream implements it.
	ChunkStream interface {
		Recv() (openai.ChatCompletionStreamResponse, error)
		Close() error
	}

	// StreamFunc opens a chunk stream.
	StreamFunc func(ctx context.Context, request openai.ChatCompletionRequest) (ChunkStream, error)

	// Options configures the adapter.
	Options struct {
		// Client performs chat completions. Required.
		Client ChatClient
		// Stream opens streaming completions. When nil, streaming requests
		// are served by a single completion.
		Stream StreamFunc
		// Model is the model identifier. Required.
		Model string
		// Temperature is the sampling temperature. Zero uses the provider
		// default.
		Temperature float32
		// MaxTokens caps the completion length. Zero uses the provider
		// default.
		MaxTokens int
	}

	// Client implements model.Adapter, model.ToolAdapter and
	// model.StreamingAdapter.
	Client struct {
		chat        ChatClient
		stream      StreamFunc
		model       string
		temperature float32
		maxTokens   int
	}

	streamer struct {
		stream ChunkStream
	}
)

// New builds an adapter from opts.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model is required")
	}
	return &Client{
		chat:        opts.Client,
		stream:      opts.Stream,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

// NewFromAPIKey builds an adapter using the default go-openai HTTP client.
func NewFromAPIKey(apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	oc := openai.NewClient(apiKey)
	return New(Options{
		Client: oc,
		Stream: func(ctx context.Context, req openai.ChatCompletionRequest) (ChunkStream, error) {
			return oc.CreateChatCompletionStream(ctx, req)
		},
		Model: modelID,
	})
}

// HandleRequest implements model.Adapter.
func (c *Client) HandleRequest(ctx context.Context, pc *model.PromptContext, shape *model.Shape) (any, error) {
	resp, err := c.chat.CreateChatCompletion(ctx, c.request(c.messages(pc), shape))
	if err != nil {
		return nil, providerError(err)
	}
	msg, err := firstMessage(resp)
	if err != nil {
		return nil, err
	}
	return decode(shape, msg.Content)
}

// HandleRequestWithTools implements model.ToolAdapter. The backend sees the
// union of the providers' tools; each tool call is dispatched through a
// tools.Coordinator and its result fed back until the backend answers
// without tool calls.
func (c *Client) HandleRequestWithTools(ctx context.Context, pc *model.PromptContext, shape *model.Shape, providers []tools.Provider) (any, error) {
	coord, err := tools.NewCoordinator(ctx, providers...)
	if err != nil {
		var dup *tools.DuplicateToolError
		if errors.As(err, &dup) {
			return nil, &model.ConfigError{Method: pc.MethodName(), Reason: err.Error()}
		}
		return nil, err
	}
	defs, err := encodeTools(coord.Definitions())
	if err != nil {
		return nil, &model.ConfigError{Method: pc.MethodName(), Reason: err.Error()}
	}
	msgs := c.messages(pc)
	final, err := coord.Loop(ctx, func(ctx context.Context, results []tools.Result) (tools.Turn, error) {
		for _, r := range results {
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    toolContent(r),
				ToolCallID: r.ID,
			})
		}
		req := c.request(msgs, shape)
		req.Tools = defs
		resp, err := c.chat.CreateChatCompletion(ctx, req)
		if err != nil {
			return tools.Turn{}, providerError(err)
		}
		msg, err := firstMessage(resp)
		if err != nil {
			return tools.Turn{}, err
		}
		if len(msg.ToolCalls) == 0 {
			return tools.Turn{Final: msg.Content}, nil
		}
		calls := make([]tools.Call, len(msg.ToolCalls))
		for i := range msg.ToolCalls {
			tc := &msg.ToolCalls[i]
			if tc.ID == "" {
				tc.ID = uuid.NewString()
			}
			calls[i] = tools.Call{ID: tc.ID, Name: tc.Function.Name, Arguments: arguments(tc.Function.Arguments)}
		}
		msgs = append(msgs, msg)
		return tools.Turn{Calls: calls}, nil
	})
	if err != nil {
		return nil, err
	}
	return decode(shape, final)
}

// HandleRequestStreaming implements model.StreamingAdapter.
func (c *Client) HandleRequestStreaming(ctx context.Context, pc *model.PromptContext) (model.Streamer, error) {
	if c.stream == nil {
		res, err := c.HandleRequest(ctx, pc, model.TextShape())
		if err != nil {
			return nil, err
		}
		text, err := model.Text(res)
		if err != nil {
			return nil, err
		}
		return model.NewSliceStreamer(text), nil
	}
	req := c.request(c.messages(pc), model.TextShape())
	req.Stream = true
	s, err := c.stream(ctx, req)
	if err != nil {
		return nil, providerError(err)
	}
	return &streamer{stream: s}, nil
}

func (s *streamer) Recv() (string, error) {
	for {
		chunk, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", providerError(err)
		}
		var b strings.Builder
		for _, ch := range chunk.Choices {
			b.WriteString(ch.Delta.Content)
		}
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
}

func (s *streamer) Close() error { return s.stream.Close() }

func (c *Client) request(msgs []openai.ChatCompletionMessage, shape *model.Shape) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if shape != nil && shape.New != nil {
		if _, text := shape.New().(*string); !text {
			req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
		}
	}
	return req
}

// messages renders the prompt context: system instructions followed by the
// memory snapshot, the conversation history and the method invocation.
func (c *Client) messages(pc *model.PromptContext) []openai.ChatCompletionMessage {
	system := pc.SystemInstructions()
	if mem := pc.Memory(); len(mem) > 0 {
		labels := make([]string, 0, len(mem))
		for k := range mem {
			labels = append(labels, k)
		}
		sort.Strings(labels)
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nMemory:")
		for _, k := range labels {
			fmt.Fprintf(&b, "\n- %s: %s", k, mem[k])
		}
		system = b.String()
	}
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: system}}
	for _, m := range pc.History() {
		switch m.Role {
		case model.RoleTool:
			for _, r := range m.ToolResults {
				msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, Content: toolContent(r), ToolCallID: r.ID})
			}
		default:
			msg := openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
			for _, call := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:       call.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: call.Name, Arguments: string(call.Arguments)},
				})
			}
			msgs = append(msgs, msg)
		}
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: pc.MethodInvocation()})
}

func encodeTools(defs []tools.Definition) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		params := d.InputSchema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object"}`)
		}
		if !json.Valid(params) {
			return nil, fmt.Errorf("tool %s: input schema is not valid JSON", d.Name)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func toolContent(r tools.Result) string {
	if r.IsError {
		return "error: " + r.Content
	}
	return r.Content
}

func arguments(raw string) json.RawMessage {
	if raw == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(map[string]string{"raw": raw})
	return quoted
}

func firstMessage(resp openai.ChatCompletionResponse) (openai.ChatCompletionMessage, error) {
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, model.NewProviderError(providerName, model.ProviderErrorKindDecode, 0, "response has no choices", nil)
	}
	return resp.Choices[0].Message, nil
}

func decode(shape *model.Shape, content string) (any, error) {
	v, err := shape.Decode([]byte(trimFences(content)))
	if err != nil {
		return nil, model.NewProviderError(providerName, model.ProviderErrorKindDecode, 0, "", err)
	}
	return v, nil
}

// trimFences removes a surrounding markdown code fence.
func trimFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return s
	}
	t = strings.TrimSuffix(t[3:], "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 && !strings.ContainsAny(t[:i], "{[\"") {
		t = t[i+1:]
	}
	return strings.TrimSpace(t)
}

// providerError classifies go-openai errors. Context errors pass through
// unchanged so cancellation is never mistaken for a backend failure.
func providerError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	status := 0
	msg := ""
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, msg = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return model.NewProviderError(providerName, kindFor(status), status, msg, err)
}

func kindFor(status int) model.ProviderErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.ProviderErrorKindAuth
	case status == http.StatusTooManyRequests:
		return model.ProviderErrorKindRateLimited
	case status >= 500:
		return model.ProviderErrorKindUnavailable
	case status >= 400:
		return model.ProviderErrorKindInvalidRequest
	default:
		return model.ProviderErrorKindUnknown
	}
}
