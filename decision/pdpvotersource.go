// Package decision implements the decision point: the atomic pdpId->voter
// map fed by configuration sources, and the reactive decide() stream
// consumed by policy enforcement points (spec component C5).
package decision

import (
	"sync"

	"github.com/dotrongnhan/saplgo/compiler"
	"github.com/dotrongnhan/saplgo/expr"
	"github.com/dotrongnhan/saplgo/pdpconfig"
	"github.com/dotrongnhan/saplgo/pdplog"
	"github.com/dotrongnhan/saplgo/voter"
)

// PdpVoterSource holds the currently active voter tree for every known
// pdpId, rebuilt whenever a configuration source publishes a new
// PDPConfiguration (spec.md §4.5). It implements source.VoterSink.
type PdpVoterSource struct {
	functions  expr.FunctionBroker
	attributes expr.AttributeBroker
	log        *pdplog.Logger

	mu    sync.RWMutex
	trees map[string]*voter.PDPVoter
	// onChanged is invoked (outside the lock) whenever a pdpId's
	// configuration is installed or removed, letting the decision point
	// complete any active subscriptions for a pdpId whose tree was removed.
	onChanged func(pdpID string)
}

// NewPdpVoterSource builds an empty voter source. functions/attributes are
// the brokers every compiled document resolves its function/attribute
// references against.
func NewPdpVoterSource(functions expr.FunctionBroker, attributes expr.AttributeBroker) *PdpVoterSource {
	return &PdpVoterSource{
		functions:  functions,
		attributes: attributes,
		log:        pdplog.New("decision.pdpvotersource"),
		trees:      make(map[string]*voter.PDPVoter),
	}
}

// OnChanged registers a callback invoked every time a pdpId's active voter
// tree is installed or removed, after the change is visible to Tree.
func (s *PdpVoterSource) OnChanged(fn func(pdpID string)) {
	s.mu.Lock()
	s.onChanged = fn
	s.mu.Unlock()
}

// Tree returns the currently active voter tree for pdpID, if any.
func (s *PdpVoterSource) Tree(pdpID string) (*voter.PDPVoter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[pdpID]
	return t, ok
}

// LoadConfiguration compiles cfg's SAPL documents and installs the result as
// the active voter tree for cfg.PdpID, implementing source.VoterSink. A
// compile error is logged and the previous tree (if any) is left in place,
// mirroring spec.md §4.4's "skip this publication, keep serving the last
// good configuration" rule. When replace is false and a tree is already
// installed, the publication is ignored.
func (s *PdpVoterSource) LoadConfiguration(cfg pdpconfig.PDPConfiguration, replace bool) {
	cc := &expr.CompilationContext{Functions: s.functions, Attributes: s.attributes}
	tree, err := compiler.CompileRoot(cfg.PdpID, cfg.ConfigurationID, cfg.SaplDocuments, cc, cfg.CombiningAlgorithm)
	if err != nil {
		s.log.Errorf("compile configuration for pdpId %q: %v", cfg.PdpID, err)
		return
	}

	s.mu.Lock()
	if !replace {
		if _, exists := s.trees[cfg.PdpID]; exists {
			s.mu.Unlock()
			return
		}
	}
	s.trees[cfg.PdpID] = tree
	onChanged := s.onChanged
	s.mu.Unlock()

	if onChanged != nil {
		onChanged(cfg.PdpID)
	}
}

// RemoveConfigurationForPdp unloads pdpID's active tree, implementing
// source.VoterSink.
func (s *PdpVoterSource) RemoveConfigurationForPdp(pdpID string) {
	s.mu.Lock()
	delete(s.trees, pdpID)
	onChanged := s.onChanged
	s.mu.Unlock()

	if onChanged != nil {
		onChanged(pdpID)
	}
}
