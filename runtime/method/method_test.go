package method

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahammer/shimmer/runtime/model"
	"github.com/ahammer/shimmer/runtime/tools"
)

type weather struct {
	Summary string `json:"summary"`
}

func forecastSpec() Spec {
	return Spec{
		Name:        "forecast",
		Summary:     "Forecast the weather",
		Description: "Returns tomorrow's weather for a city.",
		Params: []Param{
			{Name: "city", Description: "City name"},
			{Name: "units", Description: "metric or imperial", Default: "metric"},
			{Name: "note", Description: "Free-form note", Optional: true},
		},
		Result:              model.ShapeOf[weather](),
		ResponseDescription: "A short weather summary",
	}
}

func TestNewTableValidates(t *testing.T) {
	_, err := NewTable(forecastSpec(), forecastSpec())
	var cfg *model.ConfigError
	require.ErrorAs(t, err, &cfg)

	_, err = NewTable(Spec{Name: "broken"})
	require.ErrorAs(t, err, &cfg)
	require.Contains(t, cfg.Error(), "unresolvable result shape")

	_, err = NewTable(Spec{Name: "dup", Result: model.TextShape(), Params: []Param{{Name: "a"}, {Name: "a"}}})
	require.ErrorAs(t, err, &cfg)

	tbl, err := NewTable(forecastSpec(), Spec{Name: "done", Result: model.TextShape(), Terminal: true})
	require.NoError(t, err)
	require.Equal(t, []string{"forecast", "done"}, tbl.Names())
	s, ok := tbl.Lookup("done")
	require.True(t, ok)
	require.True(t, s.Terminal)
	_, ok = tbl.Lookup("nope")
	require.False(t, ok)
}

func TestBindAppliesDefaults(t *testing.T) {
	d, err := Bind(forecastSpec(), "Oslo")
	require.NoError(t, err)
	require.Equal(t, []any{"Oslo", "metric", nil}, d.Args())
}

func TestBindRejectsMissingRequired(t *testing.T) {
	_, err := Bind(forecastSpec())
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
	require.Equal(t, "city", argErr.Param)
}

func TestBindRejectsExtraArguments(t *testing.T) {
	_, err := Bind(forecastSpec(), "Oslo", "metric", "n", "extra")
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
}

func TestDescriptorStructuralEquality(t *testing.T) {
	a, err := Bind(forecastSpec(), "Oslo", "metric", map[string]any{"x": 1, "y": []int{1, 2}})
	require.NoError(t, err)
	b, err := Bind(forecastSpec(), "Oslo", "metric", map[string]any{"y": []int{1, 2}, "x": 1})
	require.NoError(t, err)
	c, err := Bind(forecastSpec(), "Bergen")
	require.NoError(t, err)

	require.True(t, a.Equal(b))
	require.Equal(t, a.Hash(), b.Hash())
	require.False(t, a.Equal(c))
	require.NotEqual(t, a.Hash(), c.Hash())
}

func TestAssemblerBuild(t *testing.T) {
	d, err := Bind(forecastSpec(), "Oslo")
	require.NoError(t, err)
	mem := map[string]string{"last": `{"summary":"rain"}`}
	defs := []tools.Definition{{Name: "lookup"}}
	pc, err := NewAssembler().Build(d, mem, defs, nil)
	require.NoError(t, err)

	require.Equal(t, "forecast", pc.MethodName())
	require.Equal(t, mem, pc.Memory())
	require.Len(t, pc.Tools(), 1)
	require.Contains(t, pc.SystemInstructions(), "type weather")
	require.Contains(t, pc.SystemInstructions(), "A short weather summary")

	var doc struct {
		Method     string      `json:"method"`
		Parameters []Parameter `json:"parameters"`
		Result     struct {
			Type   string          `json:"type"`
			Schema json.RawMessage `json:"schema"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(pc.MethodInvocation()), &doc))
	require.Equal(t, "forecast", doc.Method)
	require.Len(t, doc.Parameters, 3)
	require.Equal(t, "Oslo", doc.Parameters[0].Value)
	require.Equal(t, "City name", doc.Parameters[0].Description)
	require.Equal(t, "weather", doc.Result.Type)
	require.NotEmpty(t, doc.Result.Schema)
}

func TestAssemblerTextInstructions(t *testing.T) {
	d, err := Bind(Spec{Name: "poem", Result: model.TextShape()})
	require.NoError(t, err)
	pc, err := NewAssembler(WithPreamble("Be brief.")).Build(d, nil, nil, nil)
	require.NoError(t, err)
	require.Contains(t, pc.SystemInstructions(), "Be brief.")
	require.Contains(t, pc.SystemInstructions(), "plain text")
}

func TestAssemblerRejectsUnresolvableShape(t *testing.T) {
	_, err := NewAssembler().Build(Descriptor{Name: "broken"}, nil, nil, nil)
	var cfg *model.ConfigError
	require.ErrorAs(t, err, &cfg)
}

func TestAssemblerRejectsUnserializableArgs(t *testing.T) {
	d, err := Bind(Spec{Name: "m", Result: model.TextShape(), Params: []Param{{Name: "ch"}}}, make(chan int))
	require.NoError(t, err)
	_, err = NewAssembler().Build(d, nil, nil, nil)
	var cfg *model.ConfigError
	require.ErrorAs(t, err, &cfg)
}
