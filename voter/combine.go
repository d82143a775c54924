package voter

import "github.com/dotrongnhan/saplgo/value"

// Combine fuses child votes into one parent vote per the selected voting
// mode (spec.md §4.3.3), attaching meta as the parent voter descriptor.
// Combine does not apply finalisation (§4.3.4); callers do that once, at
// the outermost combination.
func Combine(algo CombiningAlgorithm, votes []Vote, meta VoterMetadata) Vote {
	parent := combineByMode(algo.VotingMode, votes)
	parent.ContributingVotes = votes
	meta.Outcome = parent.Outcome
	parent.Voter = meta
	return parent
}

func combineByMode(mode VotingMode, votes []Vote) Vote {
	switch mode {
	case PriorityPermit:
		return combinePriority(votes, Permit, Deny)
	case PriorityDeny:
		return combinePriority(votes, Deny, Permit)
	case Unanimous:
		return combineUnanimous(votes)
	case Unique:
		return combineUnique(votes)
	case First:
		return combineFirst(votes)
	default:
		return combinePriority(votes, Deny, Permit)
	}
}

// combinePriority implements both PriorityPermit and PriorityDeny: winner is
// returned if present (combined across all votes reaching that decision),
// else Indeterminate if any vote is Indeterminate, else runnerUp (combined
// likewise), else NotApplicable.
func combinePriority(votes []Vote, winner, runnerUp Decision) Vote {
	if v, ok := combineDecision(votes, winner); ok {
		return v
	}
	if hasIndeterminate(votes) {
		return Vote{Decision: Indeterminate, Outcome: Indeterminate, Resource: value.UNDEFINED}
	}
	if v, ok := combineDecision(votes, runnerUp); ok {
		return v
	}
	return Vote{Decision: NotApplicable, Outcome: NotApplicable, Resource: value.UNDEFINED}
}

// combineDecision combines every vote with the given decision, returning
// ok=false when none match.
func combineDecision(votes []Vote, decision Decision) (Vote, bool) {
	var matching []Vote
	for _, v := range votes {
		if v.Decision == decision {
			matching = append(matching, v)
		}
	}
	if len(matching) == 0 {
		return Vote{}, false
	}
	return combineMatching(matching, decision), true
}

// combineMatching concatenates obligations/advice in corpus order and
// enforces the at-most-one-transform rule.
func combineMatching(votes []Vote, decision Decision) Vote {
	var obligations, advice []value.Value
	resource := value.UNDEFINED
	transformCount := 0
	var errs []value.ErrorInfo
	for _, v := range votes {
		obligations = append(obligations, v.Obligations...)
		advice = append(advice, v.Advice...)
		errs = append(errs, v.Errors...)
		if !v.Resource.IsUndefined() {
			transformCount++
			resource = v.Resource
		}
	}
	if transformCount > 1 {
		return Vote{
			Decision: Indeterminate,
			Outcome:  Indeterminate,
			Resource: value.UNDEFINED,
			Errors:   append(errs, value.ErrorInfo{Kind: "combining", Message: "multiple transformations"}),
		}
	}
	return Vote{
		Decision:    decision,
		Obligations: obligations,
		Advice:      advice,
		Resource:    resource,
		Outcome:     decision,
		Errors:      errs,
	}
}

func hasIndeterminate(votes []Vote) bool {
	for _, v := range votes {
		if v.Decision == Indeterminate {
			return true
		}
	}
	return false
}

// combineUnanimous requires every applicable (non-NotApplicable) vote to
// agree; any Indeterminate or a Permit/Deny mix is Indeterminate.
func combineUnanimous(votes []Vote) Vote {
	var applicable []Vote
	for _, v := range votes {
		if v.Decision != NotApplicable {
			applicable = append(applicable, v)
		}
	}
	if len(applicable) == 0 {
		return Vote{Decision: NotApplicable, Outcome: NotApplicable, Resource: value.UNDEFINED}
	}
	if hasIndeterminate(applicable) {
		return Vote{Decision: Indeterminate, Outcome: Indeterminate, Resource: value.UNDEFINED}
	}
	allPermit, allDeny := true, true
	for _, v := range applicable {
		if v.Decision != Permit {
			allPermit = false
		}
		if v.Decision != Deny {
			allDeny = false
		}
	}
	switch {
	case allPermit:
		return combineMatching(applicable, Permit)
	case allDeny:
		return combineMatching(applicable, Deny)
	default:
		return Vote{Decision: Indeterminate, Outcome: Indeterminate, Resource: value.UNDEFINED}
	}
}

// combineUnique requires exactly one applicable vote; more than one, even
// with matching decisions, is Indeterminate.
func combineUnique(votes []Vote) Vote {
	var applicable []Vote
	for _, v := range votes {
		if v.Decision != NotApplicable {
			applicable = append(applicable, v)
		}
	}
	switch len(applicable) {
	case 0:
		return Vote{Decision: NotApplicable, Outcome: NotApplicable, Resource: value.UNDEFINED}
	case 1:
		return combineMatching(applicable, applicable[0].Decision)
	default:
		return Vote{Decision: Indeterminate, Outcome: Indeterminate, Resource: value.UNDEFINED}
	}
}

// combineFirst returns the first applicable vote (corpus insertion order),
// or NotApplicable if none are.
func combineFirst(votes []Vote) Vote {
	for _, v := range votes {
		if v.Decision != NotApplicable {
			return combineMatching([]Vote{v}, v.Decision)
		}
	}
	return Vote{Decision: NotApplicable, Outcome: NotApplicable, Resource: value.UNDEFINED}
}

// Finalize applies the defaultDecision/errorHandling table of spec.md
// §4.3.4 to a vote leaving the outermost combination.
func Finalize(v Vote, algo CombiningAlgorithm) Vote {
	switch v.Decision {
	case NotApplicable:
		switch algo.DefaultDecision {
		case Permit:
			v.Decision = Permit
			v.Outcome = Permit
		case Deny:
			v.Decision = Deny
			v.Outcome = Deny
		}
		return v
	case Indeterminate:
		if algo.ErrorHandling == Abstain {
			outcome := v.Outcome
			v.Decision = NotApplicable
			v.Outcome = outcome
			return v
		}
		return v
	default:
		return v
	}
}
