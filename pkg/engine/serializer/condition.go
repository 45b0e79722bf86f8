package serializer

import (
	"fmt"

	"github.com/davidthor/taskgraph/pkg/cluster"
	"github.com/davidthor/taskgraph/pkg/errors"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/tryfunc"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// ConditionEvaluator evaluates template conditions against a cluster.
//
// Conditions are HCL expressions, for example
//
//	settings.storage.ceph && contains(plugins, "contrail")
//
// with the variables cluster (id, name, mode, release), settings and plugins.
type ConditionEvaluator struct {
	ctx   *hcl.EvalContext
	cache map[string]hcl.Expression
}

// NewConditionEvaluator creates an evaluator for the given cluster.
func NewConditionEvaluator(c *cluster.Cluster) *ConditionEvaluator {
	vars := map[string]cty.Value{
		"cluster":  cty.EmptyObjectVal,
		"settings": cty.EmptyObjectVal,
		"plugins":  cty.ListValEmpty(cty.String),
	}
	if c != nil {
		vars["cluster"] = cty.ObjectVal(map[string]cty.Value{
			"id":      cty.StringVal(c.ID),
			"name":    cty.StringVal(c.Name),
			"mode":    cty.StringVal(c.Mode),
			"release": cty.StringVal(c.ReleaseVersion),
		})
		if len(c.Settings) > 0 {
			vars["settings"] = toCtyValue(c.Settings)
		}
		if names := c.PluginNames(); len(names) > 0 {
			vars["plugins"] = toCtyValue(names)
		}
	}
	return &ConditionEvaluator{
		ctx: &hcl.EvalContext{
			Variables: vars,
			Functions: conditionFunctions(),
		},
		cache: make(map[string]hcl.Expression),
	}
}

// Evaluate reports whether a condition holds. An empty condition always
// holds. Strings are true when non-empty; other values when not null.
func (e *ConditionEvaluator) Evaluate(condition string) (bool, error) {
	if condition == "" {
		return true, nil
	}

	expr, ok := e.cache[condition]
	if !ok {
		var diags hcl.Diagnostics
		expr, diags = hclsyntax.ParseExpression([]byte(condition), "condition", hcl.InitialPos)
		if diags.HasErrors() {
			return false, errors.ExpressionError(condition, fmt.Errorf("%s", diags.Error()))
		}
		e.cache[condition] = expr
	}

	val, diags := expr.Value(e.ctx)
	if diags.HasErrors() {
		return false, errors.ExpressionError(condition, fmt.Errorf("%s", diags.Error()))
	}
	if !val.IsKnown() {
		return false, errors.ExpressionError(condition, fmt.Errorf("value is unknown"))
	}
	if val.IsNull() {
		return false, nil
	}

	if val.Type() == cty.Bool {
		return val.True(), nil
	}
	if val.Type() == cty.String {
		return val.AsString() != "", nil
	}
	return true, nil
}

func conditionFunctions() map[string]function.Function {
	return map[string]function.Function{
		"contains": stdlib.ContainsFunc,
		"length":   stdlib.LengthFunc,
		"lower":    stdlib.LowerFunc,
		"upper":    stdlib.UpperFunc,
		"coalesce": stdlib.CoalesceFunc,
		"try":      tryfunc.TryFunc,
		"can":      tryfunc.CanFunc,
	}
}

// toCtyValue converts plain Go values decoded from YAML into cty values.
func toCtyValue(v interface{}) cty.Value {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case string:
		return cty.StringVal(val)
	case bool:
		return cty.BoolVal(val)
	case int:
		return cty.NumberIntVal(int64(val))
	case int64:
		return cty.NumberIntVal(val)
	case float64:
		return cty.NumberFloatVal(val)
	case []string:
		if len(val) == 0 {
			return cty.ListValEmpty(cty.String)
		}
		elems := make([]cty.Value, len(val))
		for i, s := range val {
			elems[i] = cty.StringVal(s)
		}
		return cty.ListVal(elems)
	case []interface{}:
		if len(val) == 0 {
			return cty.EmptyTupleVal
		}
		elems := make([]cty.Value, len(val))
		for i, item := range val {
			elems[i] = toCtyValue(item)
		}
		return cty.TupleVal(elems)
	case map[string]interface{}:
		if len(val) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, item := range val {
			attrs[k] = toCtyValue(item)
		}
		return cty.ObjectVal(attrs)
	default:
		return cty.StringVal(fmt.Sprint(val))
	}
}
