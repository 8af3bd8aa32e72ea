package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticDefinitions(t *testing.T) {
	defs := SyntheticDefinitions()
	require.Len(t, defs, 2)
	assert.Equal(t, ToolNameChart, defs[0].Name)
	assert.Equal(t, ToolNameMap, defs[1].Name)
	for _, d := range defs {
		assert.NotEmpty(t, d.Description)
		assert.NotNil(t, d.Schema)
	}
}

func TestIsSynthetic(t *testing.T) {
	assert.True(t, IsSynthetic(ToolNameChart))
	assert.True(t, IsSynthetic(ToolNameMap))
	assert.False(t, IsSynthetic("execute_query"))
}

func TestParseSyntheticArgsChart(t *testing.T) {
	args, err := ParseSyntheticArgs(Call{
		Name: ToolNameChart,
		Input: map[string]any{
			"type":  "bar",
			"title": "Revenue by region",
			"data":  []any{map[string]any{"region": "EMEA", "revenue": 42.0}},
			"xKey":  "region",
			"yKey":  "revenue",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, args.Chart)
	assert.Nil(t, args.Map)
	assert.Equal(t, "bar", args.Chart.Type)
	assert.Equal(t, "region", args.Chart.XKey)
	require.Len(t, args.Chart.Data, 1)
}

func TestParseSyntheticArgsChartValidation(t *testing.T) {
	_, err := ParseSyntheticArgs(Call{
		Name:  ToolNameChart,
		Input: map[string]any{"type": "bar", "xKey": "x", "yKey": "y"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-empty data")

	_, err = ParseSyntheticArgs(Call{
		Name:  ToolNameChart,
		Input: map[string]any{"data": []any{map[string]any{"x": 1.0}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xKey")
}

func TestParseSyntheticArgsMap(t *testing.T) {
	args, err := ParseSyntheticArgs(Call{
		Name: ToolNameMap,
		Input: map[string]any{
			"title": "Store locations",
			"data": []any{
				map[string]any{"lat": 52.52, "lng": 13.405, "label": "Berlin", "value": 10.0},
			},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, args.Map)
	assert.Nil(t, args.Chart)
	assert.Equal(t, "Berlin", args.Map.Data[0].Label)
}

func TestParseSyntheticArgsUnknownTool(t *testing.T) {
	_, err := ParseSyntheticArgs(Call{Name: "generate_hologram", Input: map[string]any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}
