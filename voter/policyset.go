package voter

import (
	"github.com/dotrongnhan/saplgo/expr"
)

// PolicySet groups child voters under one target and combining algorithm
// (spec.md §3 "PolicySet").
type PolicySet struct {
	Name            string
	Target          expr.Expr
	Policies        []Voter
	Algorithm       CombiningAlgorithm
	PdpID           string
	ConfigurationID string
}

// PolicySetVoter evaluates a PolicySet (spec.md §4.3.2).
type PolicySetVoter struct {
	Set *PolicySet
}

func (sv *PolicySetVoter) meta() VoterMetadata {
	return VoterMetadata{
		Kind:            PolicySetVoterKind,
		Name:            sv.Set.Name,
		PdpID:           sv.Set.PdpID,
		ConfigurationID: sv.Set.ConfigurationID,
	}
}

// Evaluate runs the set's target, then every child voter, then combines.
func (sv *PolicySetVoter) Evaluate(ec *expr.EvalContext) Vote {
	meta := sv.meta()
	child := ec.Child()
	var attrs []expr.AttributeRecord
	child.OnAttribute = func(r expr.AttributeRecord) { attrs = append(attrs, r) }

	target := sv.Set.Target.Eval(child)
	if target.IsError() {
		v := indeterminate(meta, target)
		v.ContributingAttributes = attrs
		return v
	}
	if !target.IsTrue() {
		v := abstain(meta)
		v.ContributingAttributes = attrs
		return v
	}

	votes := make([]Vote, len(sv.Set.Policies))
	for i, p := range sv.Set.Policies {
		votes[i] = p.Evaluate(child)
	}

	combined := Combine(sv.Set.Algorithm, votes, meta)
	combined.ContributingAttributes = append(combined.ContributingAttributes, attrs...)
	return combined
}

// PDPVoter is the root voter for one PDPConfiguration: it combines every
// top-level policy/policy-set voter compiled from that configuration's SAPL
// documents using the configuration's top-level algorithm, then finalises
// (spec.md §4.5 step 2).
type PDPVoter struct {
	Children        []Voter
	Algorithm       CombiningAlgorithm
	PdpID           string
	ConfigurationID string
}

func (pv *PDPVoter) meta() VoterMetadata {
	return VoterMetadata{
		Kind:            PDPVoterKind,
		Name:            pv.PdpID,
		PdpID:           pv.PdpID,
		ConfigurationID: pv.ConfigurationID,
	}
}

// Evaluate combines every child voter and applies finalisation, yielding the
// vote that decide() projects into an AuthorizationDecision.
func (pv *PDPVoter) Evaluate(ec *expr.EvalContext) Vote {
	meta := pv.meta()
	votes := make([]Vote, len(pv.Children))
	for i, c := range pv.Children {
		votes[i] = c.Evaluate(ec)
	}
	combined := Combine(pv.Algorithm, votes, meta)
	return Finalize(combined, pv.Algorithm)
}
