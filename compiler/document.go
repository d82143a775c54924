// Package compiler turns the JSON document shape produced by the external
// SAPL-text compiler (spec.md §6.1) into a voter.Voter tree: one policy or
// policy set per document, recursively for nested policy sets.
package compiler

import (
	"encoding/json"
	"fmt"

	"github.com/dotrongnhan/saplgo/expr"
	"github.com/dotrongnhan/saplgo/voter"
)

// literalTrue stands in for an omitted target, which spec.md §3 defines as
// "applicable to every subscription".
var literalTrue = &expr.Node{Op: "literal", Value: json.RawMessage("true")}

// AlgorithmJSON is a policy set's optional "algorithm" object, reusing the
// same wire vocabulary as pdp.json's top-level algorithm (spec.md §6.3).
type AlgorithmJSON struct {
	VotingMode      string `json:"votingMode,omitempty"`
	DefaultDecision string `json:"defaultDecision,omitempty"`
	ErrorHandling   string `json:"errorHandling,omitempty"`
}

// decode overlays a onto base, leaving fields base already set when a is nil
// or a field is empty.
func (a *AlgorithmJSON) decode(base voter.CombiningAlgorithm) (voter.CombiningAlgorithm, error) {
	if a == nil {
		return base, nil
	}
	algo := base
	if a.VotingMode != "" {
		mode, ok := voter.VotingModeByName[a.VotingMode]
		if !ok {
			return algo, fmt.Errorf("compiler: unknown votingMode %q", a.VotingMode)
		}
		algo.VotingMode = mode
	}
	if a.DefaultDecision != "" {
		d, ok := voter.DecisionByName[a.DefaultDecision]
		if !ok {
			return algo, fmt.Errorf("compiler: unknown defaultDecision %q", a.DefaultDecision)
		}
		algo.DefaultDecision = d
	}
	if a.ErrorHandling != "" {
		eh, ok := voter.ErrorHandlingByName[a.ErrorHandling]
		if !ok {
			return algo, fmt.Errorf("compiler: unknown errorHandling %q", a.ErrorHandling)
		}
		algo.ErrorHandling = eh
	}
	return algo, nil
}

// StatementJSON is one entry of a policy body (spec.md §3 "Policy body").
type StatementJSON struct {
	Var  string     `json:"var,omitempty"`
	Expr *expr.Node `json:"expr"`
}

// DocumentJSON is the top-level shape of one *.sapl document: either a
// policy ("type":"policy") or a policy set ("type":"policySet").
type DocumentJSON struct {
	Type   string     `json:"type"`
	Name   string     `json:"name"`
	Target *expr.Node `json:"target,omitempty"`

	// policy fields
	Body        []StatementJSON `json:"body,omitempty"`
	Effect      string          `json:"effect,omitempty"`
	Obligations []*expr.Node    `json:"obligations,omitempty"`
	Advice      []*expr.Node    `json:"advice,omitempty"`
	Transform   *expr.Node      `json:"transform,omitempty"`

	// policy set fields
	Algorithm *AlgorithmJSON  `json:"algorithm,omitempty"`
	Policies  []DocumentJSON  `json:"policies,omitempty"`
}

// ParseDocument decodes one *.sapl document's raw JSON bytes.
func ParseDocument(data []byte) (DocumentJSON, error) {
	var doc DocumentJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return DocumentJSON{}, fmt.Errorf("compiler: parse document: %w", err)
	}
	if doc.Type != "policy" && doc.Type != "policySet" {
		return DocumentJSON{}, fmt.Errorf("compiler: unknown document type %q", doc.Type)
	}
	return doc, nil
}

// Compile turns doc into a voter.Voter, resolving every embedded expression
// node against cc. inheritedAlgo is the algorithm a nested policy set falls
// back to when it declares no "algorithm" of its own (the enclosing policy
// set's, or the PDPConfiguration's top-level algorithm for a document at the
// root).
func Compile(doc DocumentJSON, cc *expr.CompilationContext, pdpID, configurationID string, inheritedAlgo voter.CombiningAlgorithm) (voter.Voter, error) {
	target := doc.Target
	if target == nil {
		target = literalTrue
	}
	targetExpr, err := expr.Compile(target, cc)
	if err != nil {
		return nil, fmt.Errorf("compiler: document %q target: %w", doc.Name, err)
	}

	switch doc.Type {
	case "policy":
		return compilePolicy(doc, cc, targetExpr, pdpID, configurationID)
	case "policySet":
		return compilePolicySet(doc, cc, targetExpr, pdpID, configurationID, inheritedAlgo)
	default:
		return nil, fmt.Errorf("compiler: unknown document type %q", doc.Type)
	}
}

func compilePolicy(doc DocumentJSON, cc *expr.CompilationContext, targetExpr expr.Expr, pdpID, configurationID string) (voter.Voter, error) {
	effect, ok := voter.DecisionByName[doc.Effect]
	if !ok || (effect != voter.Permit && effect != voter.Deny) {
		return nil, fmt.Errorf("compiler: policy %q has invalid effect %q", doc.Name, doc.Effect)
	}

	body := make([]voter.Statement, 0, len(doc.Body))
	for i, st := range doc.Body {
		e, err := expr.Compile(st.Expr, cc)
		if err != nil {
			return nil, fmt.Errorf("compiler: policy %q body[%d]: %w", doc.Name, i, err)
		}
		body = append(body, voter.Statement{VarName: st.Var, Expr: e})
	}

	obligations, err := compileAll(doc.Obligations, cc, fmt.Sprintf("policy %q obligations", doc.Name))
	if err != nil {
		return nil, err
	}
	advice, err := compileAll(doc.Advice, cc, fmt.Sprintf("policy %q advice", doc.Name))
	if err != nil {
		return nil, err
	}

	var transform expr.Expr
	if doc.Transform != nil {
		transform, err = expr.Compile(doc.Transform, cc)
		if err != nil {
			return nil, fmt.Errorf("compiler: policy %q transform: %w", doc.Name, err)
		}
	}

	return &voter.PolicyVoter{Policy: &voter.Policy{
		Name:            doc.Name,
		Target:          targetExpr,
		Body:            body,
		Effect:          effect,
		Obligations:     obligations,
		Advice:          advice,
		Transform:       transform,
		PdpID:           pdpID,
		ConfigurationID: configurationID,
	}}, nil
}

func compilePolicySet(doc DocumentJSON, cc *expr.CompilationContext, targetExpr expr.Expr, pdpID, configurationID string, inheritedAlgo voter.CombiningAlgorithm) (voter.Voter, error) {
	algo, err := doc.Algorithm.decode(inheritedAlgo)
	if err != nil {
		return nil, fmt.Errorf("compiler: policy set %q: %w", doc.Name, err)
	}

	children := make([]voter.Voter, 0, len(doc.Policies))
	for i, child := range doc.Policies {
		v, err := Compile(child, cc, pdpID, configurationID, algo)
		if err != nil {
			return nil, fmt.Errorf("compiler: policy set %q child[%d]: %w", doc.Name, i, err)
		}
		children = append(children, v)
	}

	return &voter.PolicySetVoter{Set: &voter.PolicySet{
		Name:            doc.Name,
		Target:          targetExpr,
		Policies:        children,
		Algorithm:       algo,
		PdpID:           pdpID,
		ConfigurationID: configurationID,
	}}, nil
}

func compileAll(nodes []*expr.Node, cc *expr.CompilationContext, what string) ([]expr.Expr, error) {
	if len(nodes) == 0 {
		return nil, nil
	}
	out := make([]expr.Expr, 0, len(nodes))
	for i, n := range nodes {
		e, err := expr.Compile(n, cc)
		if err != nil {
			return nil, fmt.Errorf("compiler: %s[%d]: %w", what, i, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// CompileRoot compiles every top-level document in cfg's SaplDocuments into
// a single voter.PDPVoter (spec.md §4.5 step 2).
func CompileRoot(pdpID, configurationID string, rawDocs []string, cc *expr.CompilationContext, algo voter.CombiningAlgorithm) (*voter.PDPVoter, error) {
	children := make([]voter.Voter, 0, len(rawDocs))
	for i, raw := range rawDocs {
		doc, err := ParseDocument([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("compiler: document[%d]: %w", i, err)
		}
		v, err := Compile(doc, cc, pdpID, configurationID, algo)
		if err != nil {
			return nil, fmt.Errorf("compiler: document[%d]: %w", i, err)
		}
		children = append(children, v)
	}
	return &voter.PDPVoter{
		Children:        children,
		Algorithm:       algo,
		PdpID:           pdpID,
		ConfigurationID: configurationID,
	}, nil
}
