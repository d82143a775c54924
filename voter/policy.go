package voter

import (
	"github.com/dotrongnhan/saplgo/expr"
	"github.com/dotrongnhan/saplgo/value"
)

// Voter evaluates a subscription context to a Vote. Policy, PolicySet, and
// the PDP-level root all implement it.
type Voter interface {
	Evaluate(ec *expr.EvalContext) Vote
}

// Statement is one entry of a policy body: either a local variable binding
// (VarName set) or a plain condition (VarName empty).
type Statement struct {
	VarName string
	Expr    expr.Expr
}

// Policy is one SAPL-equivalent policy document (spec.md §3 "Policy").
type Policy struct {
	Name        string
	Target      expr.Expr
	Body        []Statement
	Effect      Decision // Permit or Deny
	Obligations []expr.Expr
	Advice      []expr.Expr
	Transform   expr.Expr
	PdpID       string
	ConfigurationID string
}

// PolicyVoter evaluates a single Policy (spec.md §4.3.1).
type PolicyVoter struct {
	Policy *Policy
}

func (pv *PolicyVoter) meta() VoterMetadata {
	return VoterMetadata{
		Kind:            PolicyVoterKind,
		Name:            pv.Policy.Name,
		PdpID:           pv.Policy.PdpID,
		ConfigurationID: pv.Policy.ConfigurationID,
	}
}

// Evaluate runs the five evaluation steps of spec.md §4.3.1.
func (pv *PolicyVoter) Evaluate(ec *expr.EvalContext) Vote {
	meta := pv.meta()
	var attrs []expr.AttributeRecord
	child := ec.Child()
	child.OnAttribute = func(r expr.AttributeRecord) { attrs = append(attrs, r) }

	// Step 1: target.
	target := pv.Policy.Target.Eval(child)
	if target.IsError() {
		v := indeterminate(meta, target)
		v.ContributingAttributes = attrs
		return v
	}

	// Step 2: target must be true, else Abstain (NotApplicable).
	if !target.IsTrue() {
		v := abstain(meta)
		v.ContributingAttributes = attrs
		return v
	}

	// Step 3: body statements.
	bodyCtx := child
	for _, stmt := range pv.Policy.Body {
		result := stmt.Expr.Eval(bodyCtx)
		if result.IsError() {
			v := indeterminate(meta, result)
			v.ContributingAttributes = attrs
			return v
		}
		if stmt.VarName != "" {
			bodyCtx = bodyCtx.WithVariable(stmt.VarName, result)
			continue
		}
		if !result.IsTrue() {
			v := abstain(meta)
			v.ContributingAttributes = attrs
			return v
		}
	}

	// Step 4: obligations, advice, transform.
	obligations, err := evalAll(bodyCtx, pv.Policy.Obligations)
	if err.IsError() {
		v := indeterminate(meta, err)
		v.ContributingAttributes = attrs
		return v
	}
	advice, err := evalAll(bodyCtx, pv.Policy.Advice)
	if err.IsError() {
		v := indeterminate(meta, err)
		v.ContributingAttributes = attrs
		return v
	}
	resource := value.UNDEFINED
	if pv.Policy.Transform != nil {
		resource = pv.Policy.Transform.Eval(bodyCtx)
		if resource.IsError() {
			v := indeterminate(meta, resource)
			v.ContributingAttributes = attrs
			return v
		}
	}

	// Step 5: return the policy's effect.
	meta.Outcome = pv.Policy.Effect
	return Vote{
		Decision:               pv.Policy.Effect,
		Obligations:            obligations,
		Advice:                 advice,
		Resource:               resource,
		Voter:                  meta,
		Outcome:                pv.Policy.Effect,
		ContributingAttributes: attrs,
	}
}

// evalAll evaluates every expression, short-circuiting on the first error.
func evalAll(ec *expr.EvalContext, exprs []expr.Expr) ([]value.Value, value.Value) {
	if len(exprs) == 0 {
		return nil, value.Value{}
	}
	out := make([]value.Value, 0, len(exprs))
	for _, e := range exprs {
		v := e.Eval(ec)
		if v.IsError() {
			return nil, v
		}
		out = append(out, v)
	}
	return out, value.Value{}
}
