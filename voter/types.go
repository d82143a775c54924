// Package voter implements policy and policy-set evaluation and the
// combining algorithms that fuse per-policy votes into an authorization
// decision (spec component C3).
package voter

import (
	"github.com/dotrongnhan/saplgo/expr"
	"github.com/dotrongnhan/saplgo/value"
)

// Decision is the outcome of a voter or a combined vote.
type Decision int

const (
	NotApplicable Decision = iota
	Permit
	Deny
	Indeterminate
)

func (d Decision) String() string {
	switch d {
	case NotApplicable:
		return "NotApplicable"
	case Permit:
		return "Permit"
	case Deny:
		return "Deny"
	case Indeterminate:
		return "Indeterminate"
	default:
		return "Unknown"
	}
}

// VoterKind tags what kind of entity produced a Vote.
type VoterKind int

const (
	PolicyVoterKind VoterKind = iota
	PolicySetVoterKind
	PDPVoterKind
)

func (k VoterKind) String() string {
	switch k {
	case PolicyVoterKind:
		return "policy"
	case PolicySetVoterKind:
		return "policySet"
	case PDPVoterKind:
		return "pdp"
	default:
		return "unknown"
	}
}

// VoterMetadata identifies the voter that produced a Vote.
type VoterMetadata struct {
	Kind            VoterKind
	Name            string
	PdpID           string
	ConfigurationID string
	Outcome         Decision
}

// Vote is the result of evaluating one policy, policy set, or PDP-level
// voter tree.
type Vote struct {
	Decision               Decision
	Obligations            []value.Value
	Advice                 []value.Value
	Resource               value.Value
	Errors                 []value.ErrorInfo
	ContributingAttributes []expr.AttributeRecord
	ContributingVotes      []Vote
	Voter                  VoterMetadata
	Outcome                Decision
}

// abstain builds a NotApplicable vote from voter meta, used whenever a
// target evaluates to non-true with no error.
func abstain(meta VoterMetadata) Vote {
	meta.Outcome = NotApplicable
	return Vote{Decision: NotApplicable, Voter: meta, Outcome: NotApplicable, Resource: value.UNDEFINED}
}

// indeterminate builds an Indeterminate vote carrying errVal (expected to be
// an Error Value), used whenever target/body/obligation/advice/transform
// evaluation fails.
func indeterminate(meta VoterMetadata, errVal value.Value) Vote {
	meta.Outcome = Indeterminate
	var errs []value.ErrorInfo
	if info := errVal.ErrorInfo(); info != nil {
		errs = append(errs, *info)
	}
	return Vote{Decision: Indeterminate, Errors: errs, Voter: meta, Outcome: Indeterminate, Resource: value.UNDEFINED}
}

// AuthorizationDecision is the caller-facing result of a decide() call
// (spec.md §3 "AuthorizationDecision").
type AuthorizationDecision struct {
	Decision    Decision
	Obligations []value.Value
	Advice      []value.Value
	Resource    value.Value
}

// Sentinel decisions with empty obligations/advice and Undefined resource.
var (
	PERMIT         = AuthorizationDecision{Decision: Permit, Resource: value.UNDEFINED}
	DENY           = AuthorizationDecision{Decision: Deny, Resource: value.UNDEFINED}
	NOT_APPLICABLE = AuthorizationDecision{Decision: NotApplicable, Resource: value.UNDEFINED}
	INDETERMINATE  = AuthorizationDecision{Decision: Indeterminate, Resource: value.UNDEFINED}
)

// FromVote projects a finalised top-level Vote into the caller-facing shape.
func FromVote(v Vote) AuthorizationDecision {
	return AuthorizationDecision{
		Decision:    v.Decision,
		Obligations: v.Obligations,
		Advice:      v.Advice,
		Resource:    v.Resource,
	}
}

// VotingMode selects a combining algorithm (spec.md §4.3.3).
type VotingMode int

const (
	PriorityDeny VotingMode = iota
	PriorityPermit
	Unanimous
	Unique
	First
)

// ErrorHandling controls finalisation of an Indeterminate vote (spec.md
// §4.3.4).
type ErrorHandling int

const (
	Propagate ErrorHandling = iota
	Abstain
)

// CombiningAlgorithm is the algorithm attached to a PolicySet or a PDP-level
// configuration.
type CombiningAlgorithm struct {
	VotingMode      VotingMode
	DefaultDecision Decision // Permit, Deny, or NotApplicable standing in for Abstain
	ErrorHandling   ErrorHandling
}

// DefaultCombiningAlgorithm is pdp.json's documented default when
// "algorithm" is omitted: {PRIORITY_DENY, DENY, PROPAGATE}.
var DefaultCombiningAlgorithm = CombiningAlgorithm{
	VotingMode:      PriorityDeny,
	DefaultDecision: Deny,
	ErrorHandling:   Propagate,
}

// VotingModeByName/VotingModeName, DecisionByName/DecisionName, and
// ErrorHandlingByName/ErrorHandlingName are the shared JSON-string codecs
// for the three enums above, used by both pdp.json parsing (pdpconfig) and
// SAPL document compilation so the wire vocabulary is defined exactly once.
var VotingModeByName = map[string]VotingMode{
	"PRIORITY_DENY":   PriorityDeny,
	"PRIORITY_PERMIT": PriorityPermit,
	"UNANIMOUS":       Unanimous,
	"UNIQUE":          Unique,
	"FIRST":           First,
}

var VotingModeName = map[VotingMode]string{
	PriorityDeny:   "PRIORITY_DENY",
	PriorityPermit: "PRIORITY_PERMIT",
	Unanimous:      "UNANIMOUS",
	Unique:         "UNIQUE",
	First:          "FIRST",
}

// DecisionByName covers only the three decision names valid in pdp.json's
// defaultDecision / a policy's effect field; Indeterminate is never a legal
// wire value for either.
var DecisionByName = map[string]Decision{
	"PERMIT":  Permit,
	"DENY":    Deny,
	"ABSTAIN": NotApplicable,
}

var DecisionName = map[Decision]string{
	Permit:        "PERMIT",
	Deny:          "DENY",
	NotApplicable: "ABSTAIN",
}

var ErrorHandlingByName = map[string]ErrorHandling{
	"PROPAGATE": Propagate,
	"ABSTAIN":   Abstain,
}

var ErrorHandlingName = map[ErrorHandling]string{
	Propagate: "PROPAGATE",
	Abstain:   "ABSTAIN",
}
