// Package celrules provides a CEL-based implementation of proxy.Rule:
// operator-authored auto-decision expressions evaluated against a message
// crossing the pipeline, kept out of internal/domain/proxy to avoid a
// domain->adapter import.
package celrules

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// newRuleEnvironment builds the CEL environment auto-rules are compiled
// against. Variables mirror the fields a held message exposes to an
// operator: the envelope's method, direction, transport, tool name (when
// the call is tools/call), and its decoded top-level params/result map.
func newRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),

		cel.Variable("method", cel.StringType),
		cel.Variable("direction", cel.StringType),
		cel.Variable("transport", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("is_request", cel.BoolType),
		cel.Variable("is_response", cel.BoolType),
		cel.Variable("is_notification", cel.BoolType),
		cel.Variable("tool_name", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),

		// glob: shell-style glob matching, chiefly for method/tool_name.
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					n, ok2 := name.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// param: extract a key from the params map, null if absent.
		cel.Function("param",
			cel.Overload("param_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key, ok := keyVal.Value().(string)
					if !ok {
						return types.NullValue
					}
					if m, ok := mapVal.Value().(map[string]any); ok {
						if v, found := m[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					}
					return types.NullValue
				}),
			),
		),
	)
}

// activation is the CEL variable set built from an evaluationInput.
func activation(in evaluationInput) map[string]any {
	params := in.Params
	if params == nil {
		params = map[string]any{}
	}
	return map[string]any{
		"method":          in.Method,
		"direction":       in.Direction,
		"transport":       in.Transport,
		"kind":            in.Kind,
		"is_request":      in.IsRequest,
		"is_response":     in.IsResponse,
		"is_notification": in.IsNotification,
		"tool_name":       in.ToolName,
		"params":          params,
	}
}
