package voter

import (
	"github.com/dotrongnhan/saplgo/expr"
	"github.com/dotrongnhan/saplgo/value"
)

// ToTrace renders a Vote as the Object shape documented for this engine: the
// decision, obligations, advice, resource (if defined), voter descriptor,
// errors, contributing attributes (with retrieval timestamp and arguments),
// and child votes recursively (spec.md §4.3.5).
func (v Vote) ToTrace() value.Value {
	b := value.NewObjectBuilder()
	b.Set("decision", value.Text(v.Decision.String()))
	b.Set("obligations", value.Array(v.Obligations...))
	b.Set("advice", value.Array(v.Advice...))
	if !v.Resource.IsUndefined() {
		b.Set("resource", v.Resource)
	}
	b.Set("voter", voterMetadataTrace(v.Voter))
	b.Set("errors", errorsTrace(v.Errors))
	b.Set("attributes", attributesTrace(v.ContributingAttributes))
	if len(v.ContributingVotes) > 0 {
		children := make([]value.Value, len(v.ContributingVotes))
		for i, c := range v.ContributingVotes {
			children[i] = c.ToTrace()
		}
		b.Set("children", value.Array(children...))
	} else {
		b.Set("children", value.EMPTY_ARRAY)
	}
	return b.Build()
}

func voterMetadataTrace(m VoterMetadata) value.Value {
	return value.Object(
		value.KV{Key: "name", Val: value.Text(m.Name)},
		value.KV{Key: "pdpId", Val: value.Text(m.PdpID)},
		value.KV{Key: "configurationId", Val: value.Text(m.ConfigurationID)},
		value.KV{Key: "outcome", Val: value.Text(m.Outcome.String())},
		value.KV{Key: "type", Val: value.Text(m.Kind.String())},
	)
}

func errorsTrace(errs []value.ErrorInfo) value.Value {
	if len(errs) == 0 {
		return value.EMPTY_ARRAY
	}
	out := make([]value.Value, len(errs))
	for i, e := range errs {
		pairs := []value.KV{
			{Key: "kind", Val: value.Text(e.Kind)},
			{Key: "message", Val: value.Text(e.Message)},
		}
		if e.Location != nil {
			pairs = append(pairs, value.KV{Key: "location", Val: value.Object(
				value.KV{Key: "document", Val: value.Text(e.Location.Document)},
				value.KV{Key: "line", Val: value.NumberFromInt(int64(e.Location.Line))},
				value.KV{Key: "column", Val: value.NumberFromInt(int64(e.Location.Column))},
			)})
		}
		out[i] = value.Object(pairs...)
	}
	return value.Array(out...)
}

func attributesTrace(records []expr.AttributeRecord) value.Value {
	if len(records) == 0 {
		return value.EMPTY_ARRAY
	}
	out := make([]value.Value, len(records))
	for i, r := range records {
		out[i] = value.Object(
			value.KV{Key: "name", Val: value.Text(r.Name)},
			value.KV{Key: "entity", Val: r.Entity},
			value.KV{Key: "arguments", Val: value.Array(r.Arguments...)},
			value.KV{Key: "retrievedAt", Val: value.Text(r.RetrievedAt.Format("2006-01-02T15:04:05.000Z07:00"))},
			value.KV{Key: "value", Val: r.Value},
		)
	}
	return value.Array(out...)
}
