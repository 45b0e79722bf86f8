package catalog

import (
	"fmt"
	"math/big"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// HCLParser parses catalogs written as HCL task blocks:
//
//	task "netconfig" {
//	  type     = "puppet"
//	  version  = "2.0.0"
//	  role     = ["controller", "compute"]
//	  requires = ["tools"]
//
//	  cross_depends {
//	    name   = "hiera"
//	    role   = "self"
//	  }
//	}
type HCLParser struct {
	parser *hclparse.Parser
	ctx    *hcl.EvalContext
}

// NewHCLParser creates a parser with the standard string and collection functions.
func NewHCLParser() *HCLParser {
	return &HCLParser{
		parser: hclparse.NewParser(),
		ctx: &hcl.EvalContext{
			Functions: catalogFunctions(),
		},
	}
}

var catalogSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "task", LabelNames: []string{"id"}},
	},
}

var taskSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "type", Required: true},
		{Name: "version"},
		{Name: "role"},
		{Name: "roles"},
		{Name: "groups"},
		{Name: "tasks"},
		{Name: "requires"},
		{Name: "required_for"},
		{Name: "parameters"},
		{Name: "reexecute_on"},
		{Name: "condition"},
		{Name: "fail_on_error"},
		{Name: "skipped"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "strategy"},
		{Type: "cross_depends"},
		{Type: "cross_depended_by"},
	},
}

var strategySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "type", Required: true},
		{Name: "amount"},
	},
}

var crossDependencySchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "name", Required: true},
		{Name: "role"},
		{Name: "policy"},
	},
}

// ParseBytes parses an HCL catalog.
func (p *HCLParser) ParseBytes(data []byte, filename string) ([]*Template, hcl.Diagnostics, error) {
	file, diags := p.parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, diags, fmt.Errorf("failed to parse HCL: %s", diags.Error())
	}

	content, moreDiags := file.Body.Content(catalogSchema)
	diags = append(diags, moreDiags...)

	var templates []*Template
	for _, block := range content.Blocks.OfType("task") {
		t, blockDiags := p.parseTask(block)
		diags = append(diags, blockDiags...)
		if t != nil {
			templates = append(templates, t)
		}
	}

	return templates, diags, nil
}

func (p *HCLParser) parseTask(block *hcl.Block) (*Template, hcl.Diagnostics) {
	content, diags := block.Body.Content(taskSchema)
	if diags.HasErrors() {
		return nil, diags
	}

	t := &Template{ID: block.Labels[0]}

	stringAttr := func(name string, dst *string) {
		if attr, ok := content.Attributes[name]; ok {
			val, valDiags := attr.Expr.Value(p.ctx)
			diags = append(diags, valDiags...)
			if !valDiags.HasErrors() && !val.IsNull() {
				if val.Type() != cty.String {
					diags = append(diags, attrError(attr, "must be a string"))
					return
				}
				*dst = val.AsString()
			}
		}
	}
	listAttr := func(name string, dst *[]string) {
		if attr, ok := content.Attributes[name]; ok {
			val, valDiags := attr.Expr.Value(p.ctx)
			diags = append(diags, valDiags...)
			if valDiags.HasErrors() {
				return
			}
			list, err := ctyStrings(val)
			if err != nil {
				diags = append(diags, attrError(attr, err.Error()))
				return
			}
			*dst = list
		}
	}
	boolAttr := func(name string, dst func(bool)) {
		if attr, ok := content.Attributes[name]; ok {
			val, valDiags := attr.Expr.Value(p.ctx)
			diags = append(diags, valDiags...)
			if !valDiags.HasErrors() && !val.IsNull() {
				if val.Type() != cty.Bool {
					diags = append(diags, attrError(attr, "must be a bool"))
					return
				}
				dst(val.True())
			}
		}
	}

	stringAttr("type", &t.Type)
	stringAttr("version", &t.Version)
	stringAttr("condition", &t.Condition)
	listAttr("groups", &t.Groups)
	listAttr("tasks", &t.Tasks)
	listAttr("requires", &t.Requires)
	listAttr("required_for", &t.RequiredFor)
	listAttr("reexecute_on", &t.ReexecuteOn)
	boolAttr("fail_on_error", func(v bool) { t.FailOnError = &v })
	boolAttr("skipped", func(v bool) { t.Skipped = v })

	for _, name := range []string{"role", "roles"} {
		attr, ok := content.Attributes[name]
		if !ok || !t.Role.IsZero() {
			continue
		}
		sel, roleDiags := p.roleSelector(attr)
		diags = append(diags, roleDiags...)
		t.Role = sel
	}

	if attr, ok := content.Attributes["parameters"]; ok {
		val, valDiags := attr.Expr.Value(p.ctx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && !val.IsNull() {
			params, ok := ctyToGo(val).(map[string]interface{})
			if !ok {
				diags = append(diags, attrError(attr, "must be an object"))
			} else {
				t.Parameters = params
			}
		}
	}

	for _, sb := range content.Blocks.OfType("strategy") {
		s, sDiags := p.parseStrategy(sb)
		diags = append(diags, sDiags...)
		t.Strategy = s
	}
	for _, cb := range content.Blocks.OfType("cross_depends") {
		d, dDiags := p.parseCrossDependency(cb)
		diags = append(diags, dDiags...)
		if d != nil {
			t.CrossDepends = append(t.CrossDepends, *d)
		}
	}
	for _, cb := range content.Blocks.OfType("cross_depended_by") {
		d, dDiags := p.parseCrossDependency(cb)
		diags = append(diags, dDiags...)
		if d != nil {
			t.CrossDependedBy = append(t.CrossDependedBy, *d)
		}
	}

	return t, diags
}

func (p *HCLParser) parseStrategy(block *hcl.Block) (*Strategy, hcl.Diagnostics) {
	content, diags := block.Body.Content(strategySchema)
	if diags.HasErrors() {
		return nil, diags
	}
	s := &Strategy{}
	if attr, ok := content.Attributes["type"]; ok {
		val, valDiags := attr.Expr.Value(p.ctx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.String {
			s.Type = val.AsString()
		}
	}
	if attr, ok := content.Attributes["amount"]; ok {
		val, valDiags := attr.Expr.Value(p.ctx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.Number {
			n, acc := val.AsBigFloat().Int64()
			if acc != big.Exact {
				return nil, append(diags, attrError(attr, "must be a whole number"))
			}
			s.Amount = int(n)
		}
	}
	return s, diags
}

func (p *HCLParser) parseCrossDependency(block *hcl.Block) (*CrossDependency, hcl.Diagnostics) {
	content, diags := block.Body.Content(crossDependencySchema)
	if diags.HasErrors() {
		return nil, diags
	}
	d := &CrossDependency{}
	if attr, ok := content.Attributes["name"]; ok {
		val, valDiags := attr.Expr.Value(p.ctx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.String {
			d.Name = val.AsString()
		}
	}
	if attr, ok := content.Attributes["role"]; ok {
		sel, roleDiags := p.roleSelector(attr)
		diags = append(diags, roleDiags...)
		d.Role = sel
	}
	if attr, ok := content.Attributes["policy"]; ok {
		val, valDiags := attr.Expr.Value(p.ctx)
		diags = append(diags, valDiags...)
		if !valDiags.HasErrors() && val.Type() == cty.String {
			d.Policy = Policy(val.AsString())
		}
	}
	return d, diags
}

func (p *HCLParser) roleSelector(attr *hcl.Attribute) (RoleSelector, hcl.Diagnostics) {
	val, diags := attr.Expr.Value(p.ctx)
	if diags.HasErrors() {
		return RoleSelector{}, diags
	}
	if val.IsNull() {
		return NullRole(), diags
	}
	if val.Type() == cty.String {
		return Roles(val.AsString()), diags
	}
	names, err := ctyStrings(val)
	if err != nil {
		return RoleSelector{}, append(diags, attrError(attr, err.Error()))
	}
	return Roles(names...), diags
}

func attrError(attr *hcl.Attribute, detail string) *hcl.Diagnostic {
	return &hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  fmt.Sprintf("Invalid %s", attr.Name),
		Detail:   fmt.Sprintf("%s %s", attr.Name, detail),
		Subject:  attr.Expr.Range().Ptr(),
	}
}

func ctyStrings(val cty.Value) ([]string, error) {
	if val.IsNull() {
		return nil, nil
	}
	if val.Type() == cty.String {
		return []string{val.AsString()}, nil
	}
	if !val.Type().IsListType() && !val.Type().IsTupleType() && !val.Type().IsSetType() {
		return nil, fmt.Errorf("must be a list of strings")
	}
	var out []string
	for it := val.ElementIterator(); it.Next(); {
		_, v := it.Element()
		if v.IsNull() || v.Type() != cty.String {
			return nil, fmt.Errorf("must be a list of strings")
		}
		out = append(out, v.AsString())
	}
	return out, nil
}

// ctyToGo converts an evaluated HCL value to plain Go values.
func ctyToGo(val cty.Value) interface{} {
	if val.IsNull() || !val.IsKnown() {
		return nil
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString()
	case ty == cty.Bool:
		return val.True()
	case ty == cty.Number:
		bf := val.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return int(i)
			}
		}
		f, _ := bf.Float64()
		return f
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		var out []interface{}
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			out = append(out, ctyToGo(v))
		}
		return out
	case ty.IsMapType() || ty.IsObjectType():
		values := val.AsValueMap()
		out := make(map[string]interface{}, len(values))
		for k, v := range values {
			out[k] = ctyToGo(v)
		}
		return out
	default:
		return nil
	}
}

func catalogFunctions() map[string]function.Function {
	return map[string]function.Function{
		"upper":    stdlib.UpperFunc,
		"lower":    stdlib.LowerFunc,
		"format":   stdlib.FormatFunc,
		"join":     stdlib.JoinFunc,
		"concat":   stdlib.ConcatFunc,
		"distinct": stdlib.DistinctFunc,
		"flatten":  stdlib.FlattenFunc,
		"merge":    stdlib.MergeFunc,
	}
}
