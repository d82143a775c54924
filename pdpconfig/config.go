// Package pdpconfig implements the PDPConfiguration record, the
// CombiningAlgorithm JSON codec, and pdp.json parsing with defaults (spec
// component C4's data model, spec.md §3 "PDPConfiguration").
package pdpconfig

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/dotrongnhan/saplgo/value"
	"github.com/dotrongnhan/saplgo/voter"
)

// pdpIDPattern is the validation rule for pdpId (spec.md §3 invariant).
var pdpIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,255}$`)

// ValidatePdpID reports whether id satisfies the pdpId invariant.
func ValidatePdpID(id string) error {
	if !pdpIDPattern.MatchString(id) {
		return fmt.Errorf("invalid pdpId %q: invalid characters", id)
	}
	return nil
}

// PDPConfiguration is the logical record produced by a configuration source
// and consumed by the voter source (spec.md §3 "PDPConfiguration").
type PDPConfiguration struct {
	PdpID           string
	ConfigurationID string
	CombiningAlgorithm voter.CombiningAlgorithm
	Variables       map[string]value.Value
	SaplDocuments   []string
}

// algorithmJSON is the wire shape of pdp.json's "algorithm" object (§6.3).
type algorithmJSON struct {
	VotingMode      string `json:"votingMode"`
	DefaultDecision string `json:"defaultDecision"`
	ErrorHandling   string `json:"errorHandling"`
}

// pdpJSON is the wire shape of pdp.json (spec.md §6.3). All fields optional
// except that malformed JSON fails parse; a missing "algorithm" defaults to
// {PRIORITY_DENY, DENY, PROPAGATE}.
type pdpJSON struct {
	Algorithm       *algorithmJSON             `json:"algorithm,omitempty"`
	ConfigurationID string                     `json:"configurationId,omitempty"`
	Variables       map[string]json.RawMessage `json:"variables,omitempty"`
}

// PdpJSONDocument is the parsed, validated result of reading one pdp.json
// file: an algorithm and a variable set, independent of the documents it
// will be paired with (a directory source supplies those separately).
type PdpJSONDocument struct {
	CombiningAlgorithm voter.CombiningAlgorithm
	ConfigurationID    string
	Variables          map[string]value.Value
}

// ParsePdpJSON decodes pdp.json bytes, applying spec.md §6.3's defaults for
// an absent "algorithm" and rejecting malformed JSON or unknown enum
// members.
func ParsePdpJSON(data []byte) (PdpJSONDocument, error) {
	var raw pdpJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return PdpJSONDocument{}, fmt.Errorf("pdpconfig: parse pdp.json: %w", err)
	}

	algo := voter.DefaultCombiningAlgorithm
	if raw.Algorithm != nil {
		var err error
		algo, err = decodeAlgorithm(*raw.Algorithm)
		if err != nil {
			return PdpJSONDocument{}, err
		}
	}

	vars := make(map[string]value.Value, len(raw.Variables))
	for k, rawVal := range raw.Variables {
		v, err := value.FromJSON(rawVal)
		if err != nil {
			return PdpJSONDocument{}, fmt.Errorf("pdpconfig: variable %q: %w", k, err)
		}
		vars[k] = v
	}

	return PdpJSONDocument{
		CombiningAlgorithm: algo,
		ConfigurationID:    raw.ConfigurationID,
		Variables:          vars,
	}, nil
}

func decodeAlgorithm(a algorithmJSON) (voter.CombiningAlgorithm, error) {
	algo := voter.DefaultCombiningAlgorithm
	if a.VotingMode != "" {
		mode, ok := voter.VotingModeByName[a.VotingMode]
		if !ok {
			return algo, fmt.Errorf("pdpconfig: unknown votingMode %q", a.VotingMode)
		}
		algo.VotingMode = mode
	}
	if a.DefaultDecision != "" {
		d, ok := voter.DecisionByName[a.DefaultDecision]
		if !ok {
			return algo, fmt.Errorf("pdpconfig: unknown defaultDecision %q", a.DefaultDecision)
		}
		algo.DefaultDecision = d
	}
	if a.ErrorHandling != "" {
		eh, ok := voter.ErrorHandlingByName[a.ErrorHandling]
		if !ok {
			return algo, fmt.Errorf("pdpconfig: unknown errorHandling %q", a.ErrorHandling)
		}
		algo.ErrorHandling = eh
	}
	return algo, nil
}

// SerializePdpJSON renders doc back to pdp.json bytes, used both for
// round-trip testing (spec.md §8 invariant 4) and for bundle building.
func SerializePdpJSON(doc PdpJSONDocument) ([]byte, error) {
	vars := make(map[string]json.RawMessage, len(doc.Variables))
	for k, v := range doc.Variables {
		raw, err := value.ToJSON(v)
		if err != nil {
			return nil, fmt.Errorf("pdpconfig: serialize variable %q: %w", k, err)
		}
		vars[k] = raw
	}
	raw := pdpJSON{
		Algorithm: &algorithmJSON{
			VotingMode:      voter.VotingModeName[doc.CombiningAlgorithm.VotingMode],
			DefaultDecision: voter.DecisionName[doc.CombiningAlgorithm.DefaultDecision],
			ErrorHandling:   voter.ErrorHandlingName[doc.CombiningAlgorithm.ErrorHandling],
		},
		ConfigurationID: doc.ConfigurationID,
		Variables:       vars,
	}
	return json.Marshal(raw)
}
