package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/datachat-io/datachat/pkg/events"
)

const (
	ToolNameChart = "generate_chart"
	ToolNameMap   = "generate_map"
)

const (
	chartAck = "Chart generated and displayed to the user."
	mapAck   = "Map generated and displayed to the user."
)

// SyntheticArgs is the tagged union of validated synthetic tool arguments,
// keyed by tool name. Exactly one field is set; unknown tools never produce
// a SyntheticArgs value.
type SyntheticArgs struct {
	Chart *events.ChartSpec
	Map   *events.MapSpec
}

func reflectSchema(v any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	return reflector.Reflect(v)
}

// SyntheticDefinitions returns the two always-available local tools.
func SyntheticDefinitions() []Definition {
	return []Definition{
		{
			Name:        ToolNameChart,
			Description: "Render a chart from tabular data. Use after querying data whenever the user asks for a visualization.",
			Schema:      reflectSchema(&events.ChartSpec{}),
		},
		{
			Name:        ToolNameMap,
			Description: "Render a map with markers from geographic data points.",
			Schema:      reflectSchema(&events.MapSpec{}),
		},
	}
}

// IsSynthetic reports whether the named tool runs purely in-process.
func IsSynthetic(name string) bool {
	return name == ToolNameChart || name == ToolNameMap
}

// ParseSyntheticArgs validates the untyped call input against the typed
// schema for the named tool. Unknown tool names are a distinct variant that
// is always rejected.
func ParseSyntheticArgs(call Call) (SyntheticArgs, error) {
	raw, err := json.Marshal(call.Input)
	if err != nil {
		return SyntheticArgs{}, errors.Wrap(err, "marshal tool input")
	}

	switch call.Name {
	case ToolNameChart:
		var spec events.ChartSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return SyntheticArgs{}, errors.Wrapf(err, "invalid arguments for %s", call.Name)
		}
		if len(spec.Data) == 0 {
			return SyntheticArgs{}, errors.Errorf("%s requires a non-empty data array", call.Name)
		}
		if spec.XKey == "" || spec.YKey == "" {
			return SyntheticArgs{}, errors.Errorf("%s requires xKey and yKey", call.Name)
		}
		return SyntheticArgs{Chart: &spec}, nil

	case ToolNameMap:
		var spec events.MapSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return SyntheticArgs{}, errors.Wrapf(err, "invalid arguments for %s", call.Name)
		}
		if len(spec.Data) == 0 {
			return SyntheticArgs{}, errors.Errorf("%s requires a non-empty data array", call.Name)
		}
		return SyntheticArgs{Map: &spec}, nil

	default:
		return SyntheticArgs{}, errors.Errorf("unknown tool %q", call.Name)
	}
}
