package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// DefaultProtocolVersion is the MCP protocol version sent during initialize.
const DefaultProtocolVersion = "2024-11-05"

type (
	// HTTPOptions configures an HTTPCaller.
	HTTPOptions struct {
		Endpoint        string
		Client          *http.Client
		ProtocolVersion string
		ClientName      string
		ClientVersion   string
		InitTimeout     time.Duration
	}

	// HTTPCaller calls MCP tools over JSON-RPC on HTTP. It propagates the
	// trace context both as HTTP headers and in the request _meta field.
	HTTPCaller struct {
		endpoint string
		client   *http.Client
		id       atomic.Uint64
	}

	rpcRequest struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		ID      uint64 `json:"id"`
		Params  any    `json:"params"`
	}

	rpcResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
		ID      uint64          `json:"id"`
	}

	toolsCallResult struct {
		Content []struct {
			Type     string  `json:"type"`
			Text     *string `json:"text"`
			MimeType string  `json:"mimeType"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
)

// UnmarshalJSON decodes the JSON-RPC error object.
func (e *Error) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Code, e.Message = raw.Code, raw.Message
	return nil
}

// NewHTTPCaller returns a caller for endpoint after completing the MCP
// initialize handshake.
func NewHTTPCaller(ctx context.Context, opts HTTPOptions) (*HTTPCaller, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("mcp: endpoint is required")
	}
	c := &HTTPCaller{endpoint: opts.Endpoint, client: opts.Client}
	if c.client == nil {
		c.client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.InitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.InitTimeout)
		defer cancel()
	}
	handshake := map[string]any{
		"protocolVersion": orDefault(opts.ProtocolVersion, DefaultProtocolVersion),
		"clientInfo": map[string]any{
			"name":    orDefault(opts.ClientName, "shimmer"),
			"version": orDefault(opts.ClientVersion, "dev"),
		},
	}
	if err := c.call(ctx, "initialize", handshake, nil); err != nil {
		return nil, fmt.Errorf("mcp initialize: %w", err)
	}
	return c, nil
}

// ListTools calls tools/list.
func (c *HTTPCaller) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var res struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := c.call(ctx, "tools/list", map[string]any{}, &res); err != nil {
		return nil, err
	}
	return res.Tools, nil
}

// CallTool calls tools/call and normalizes the first content item.
func (c *HTTPCaller) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	params := map[string]any{"name": req.Tool, "arguments": req.Payload}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		params["_meta"] = map[string]string(carrier)
	}
	var res toolsCallResult
	if err := c.call(ctx, "tools/call", params, &res); err != nil {
		return CallResponse{}, err
	}
	if len(res.Content) == 0 || res.Content[0].Text == nil {
		return CallResponse{}, errors.New("mcp: tool returned no content")
	}
	text := []byte(*res.Content[0].Text)
	out := CallResponse{IsError: res.IsError}
	if json.Valid(text) {
		out.Result = text
		out.Structured = text
	} else {
		quoted, err := json.Marshal(string(text))
		if err != nil {
			return CallResponse{}, err
		}
		out.Result = quoted
	}
	return out, nil
}

func (c *HTTPCaller) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, ID: c.id.Add(1), Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp rpc status %d", resp.StatusCode)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil && len(rpcResp.Result) > 0 {
		return json.Unmarshal(rpcResp.Result, result)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
