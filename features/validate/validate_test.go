package validate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/tools"
)

type reading struct {
	City    string  `json:"city"`
	Celsius float64 `json:"celsius"`
}

func TestResultValidator(t *testing.T) {
	valid, err := ResultValidator(model.ShapeOf[reading]())
	require.NoError(t, err)
	require.True(t, valid(&reading{City: "Oslo", Celsius: 3.5}))
	require.False(t, valid("not an object"))
	require.False(t, valid(map[string]any{"city": "Oslo"}))
}

func TestResultValidatorRejectsBrokenShape(t *testing.T) {
	_, err := ResultValidator(nil)
	var cfg *model.ConfigError
	require.ErrorAs(t, err, &cfg)

	_, err = ResultValidator(&model.Shape{Name: "bad", Schema: json.RawMessage(`{"type":`), New: func() any { return new(string) }})
	require.ErrorAs(t, err, &cfg)
}

func TestProviderRejectsInvalidArguments(t *testing.T) {
	var called int
	inner := tools.NewStaticProvider(tools.Tool{
		Definition: tools.Definition{
			Name:        "convert",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"celsius":{"type":"number"}},"required":["celsius"]}`),
		},
		Handler: func(context.Context, json.RawMessage) (string, error) {
			called++
			return "37.4F", nil
		},
	})
	p := NewProvider(inner)
	ctx := context.Background()
	_, err := p.ListTools(ctx)
	require.NoError(t, err)

	res, err := p.CallTool(ctx, tools.Call{ID: "1", Name: "convert", Arguments: json.RawMessage(`{"celsius":"hot"}`)})
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, res.Content, `invalid arguments for tool "convert"`)
	require.Zero(t, called)

	res, err = p.CallTool(ctx, tools.Call{ID: "2", Name: "convert", Arguments: json.RawMessage(`{"celsius":3}`)})
	require.NoError(t, err)
	require.False(t, res.IsError)
	require.Equal(t, "37.4F", res.Content)
	require.Equal(t, 1, called)
}
