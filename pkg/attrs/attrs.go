// Package attrs evaluates embedded expressions in attribute values.
// String attributes may contain expressions delimited by {{ ... }},
// evaluated after commit against a read-only view of the cube. The
// expression language is CEL -- deliberately narrow, with helpers for
// deriving coordinate bounds; no general scripting runtime is exposed.
package attrs

import (
	"math"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/ajitpratap0/tessera/pkg/dataset"
	"github.com/ajitpratap0/tessera/pkg/errors"
)

// HasTemplates reports whether any string value in attrs contains a
// {{ ... }} expression. Used to reject templated attributes when
// evaluation is not permitted.
func HasTemplates(attrs map[string]interface{}) bool {
	for _, v := range attrs {
		if hasTemplate(v) {
			return true
		}
	}
	return false
}

func hasTemplate(v interface{}) bool {
	switch value := v.(type) {
	case string:
		return strings.Contains(value, "{{")
	case map[string]interface{}:
		return HasTemplates(value)
	case []interface{}:
		for _, item := range value {
			if hasTemplate(item) {
				return true
			}
		}
	}
	return false
}

// Evaluator evaluates attribute expressions against one cube view.
type Evaluator struct {
	env  *cel.Env
	vars map[string]interface{}
}

// NewEvaluator builds the evaluation environment over a cube view. The
// cube's variables are exposed as ds[name] lists of doubles, plus the
// helpers lower_bound(array, ref) and upper_bound(array, ref) with
// ref in {"lower", "upper", "center"}.
func NewEvaluator(ds *dataset.Dataset) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("ds", cel.MapType(cel.StringType, cel.ListType(cel.DoubleType))),
		cel.Function("lower_bound",
			cel.Overload("lower_bound_list_string",
				[]*cel.Type{cel.ListType(cel.DoubleType), cel.StringType},
				cel.DoubleType,
				cel.BinaryBinding(func(arr, refKind ref.Val) ref.Val {
					return boundFn(arr, refKind, false)
				}))),
		cel.Function("upper_bound",
			cel.Overload("upper_bound_list_string",
				[]*cel.Type{cel.ListType(cel.DoubleType), cel.StringType},
				cel.DoubleType,
				cel.BinaryBinding(func(arr, refKind ref.Val) ref.Val {
					return boundFn(arr, refKind, true)
				}))),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "cannot build expression environment")
	}

	view := map[string]interface{}{}
	for name, v := range ds.Vars {
		view[name] = v.Floats()
	}
	return &Evaluator{env: env, vars: map[string]interface{}{"ds": view}}, nil
}

// boundFn computes the lower or upper edge of the cells described by a
// coordinate array. refKind states what each label marks within its
// cell: its lower edge, its upper edge, or its center.
func boundFn(arr, refKind ref.Val, upper bool) ref.Val {
	rawList, err := arr.ConvertToNative(floatSliceType)
	if err != nil {
		return types.NewErr("lower/upper_bound expects a numeric array: %v", err)
	}
	labels := rawList.([]float64)
	kind, ok := refKind.Value().(string)
	if !ok {
		return types.NewErr("reference must be a string")
	}
	value, bErr := bound(labels, kind, upper)
	if bErr != nil {
		return types.NewErr("%s", bErr.Error())
	}
	return types.Double(value)
}

// bound derives the requested edge. The label step is taken from the
// array's ends; single-label arrays have step zero.
func bound(labels []float64, kind string, upper bool) (float64, error) {
	if len(labels) == 0 {
		return 0, errors.New(errors.ErrorTypeConfig, "cannot take bounds of an empty array")
	}
	step := 0.0
	if len(labels) > 1 {
		step = (labels[len(labels)-1] - labels[0]) / float64(len(labels)-1)
	}
	first, last := labels[0], labels[len(labels)-1]
	var lo, hi float64
	switch kind {
	case "lower":
		lo, hi = first, last+step
	case "upper":
		lo, hi = first-step, last
	case "center":
		lo, hi = first-step/2, last+step/2
	default:
		return 0, errors.Newf(errors.ErrorTypeConfig,
			`reference must be "lower", "upper" or "center"; got %q`, kind)
	}
	if upper {
		return math.Max(lo, hi), nil
	}
	return math.Min(lo, hi), nil
}

// Evaluate returns attrs with every embedded expression replaced by its
// value. A value that is exactly one expression keeps the expression's
// type; mixed text renders to a string.
func (e *Evaluator) Evaluate(attrs map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		value, err := e.evalValue(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig,
				"cannot evaluate attribute "+k)
		}
		out[k] = value
	}
	return out, nil
}

func (e *Evaluator) evalValue(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case string:
		return e.evalString(value)
	case map[string]interface{}:
		return e.Evaluate(value)
	case []interface{}:
		out := make([]interface{}, len(value))
		for i, item := range value {
			evaluated, err := e.evalValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = evaluated
		}
		return out, nil
	}
	return v, nil
}

func (e *Evaluator) evalString(s string) (interface{}, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	type part struct {
		text   string
		value  interface{}
		isExpr bool
	}
	var parts []part

	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if rest != "" {
				parts = append(parts, part{text: rest})
			}
			break
		}
		if start > 0 {
			parts = append(parts, part{text: rest[:start]})
		}
		endRel := strings.Index(rest[start+2:], "}}")
		if endRel < 0 {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"unterminated expression in %q", s)
		}
		expr := strings.TrimSpace(rest[start+2 : start+2+endRel])
		value, err := e.evalExpr(expr)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part{value: value, isExpr: true})
		rest = rest[start+2+endRel+2:]
	}

	// A value that is exactly one expression keeps its type.
	if len(parts) == 1 && parts[0].isExpr {
		return parts[0].value, nil
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.isExpr {
			sb.WriteString(formatValue(p.value))
		} else {
			sb.WriteString(p.text)
		}
	}
	return sb.String(), nil
}

func (e *Evaluator) evalExpr(expr string) (interface{}, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrap(issues.Err(), errors.ErrorTypeConfig,
			"invalid expression "+expr)
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "cannot build expression program")
	}
	out, _, err := program.Eval(e.vars)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig,
			"cannot evaluate expression "+expr)
	}
	return out.Value(), nil
}
