package decision

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dotrongnhan/saplgo/expr"
	"github.com/dotrongnhan/saplgo/value"
	"github.com/dotrongnhan/saplgo/voter"
)

// Subscription is one decide() request's subscription context (spec.md §3
// "AuthorizationSubscription").
type Subscription struct {
	PdpID       string
	Subject     value.Value
	Action      value.Value
	Resource    value.Value
	Environment value.Value
	Variables   map[string]value.Value
}

// VoteInterceptor observes every Vote a subscription produces, before it is
// projected to an AuthorizationDecision and delivered to the caller, plus
// the subscription's own lifecycle (spec.md §4.5.3: "interceptors also
// receive onSubscribe/onUnsubscribe callbacks bound to a generated stable
// subscription identifier"). The audit sink is the production
// implementation.
type VoteInterceptor interface {
	OnVote(sub Subscription, vote voter.Vote)
	OnSubscribe(id uuid.UUID, sub Subscription)
	OnUnsubscribe(id uuid.UUID)
}

// DecisionPoint evaluates subscriptions against the trees held by a
// PdpVoterSource, emitting a new AuthorizationDecision every time an
// evaluation completes and on every subsequent push from an attribute this
// subscription's evaluation touched (spec.md §4.5 "Reactive decision
// stream").
type DecisionPoint struct {
	source       *PdpVoterSource
	interceptors []VoteInterceptor

	mu     sync.Mutex
	active map[uuid.UUID]*liveSubscription
}

// liveSubscription tracks one outstanding decide() call's cleanup state.
// removed is closed, before cancel is called, specifically when the owning
// configuration is removed out from under the subscription — run() uses it
// to tell that case apart from plain caller cancellation.
type liveSubscription struct {
	pdpID      string
	cancel     context.CancelFunc
	removed    chan struct{}
	removeOnce sync.Once
}

// markRemoved closes removed exactly once, so a pdpId that is removed more
// than once (e.g. a second RemoveConfigurationForPdp call while run() is
// still unwinding from the first) never double-closes the channel.
func (ls *liveSubscription) markRemoved() {
	ls.removeOnce.Do(func() { close(ls.removed) })
}

// NewDecisionPoint builds a DecisionPoint backed by source.
func NewDecisionPoint(source *PdpVoterSource, interceptors ...VoteInterceptor) *DecisionPoint {
	dp := &DecisionPoint{
		source:       source,
		interceptors: interceptors,
		active:       make(map[uuid.UUID]*liveSubscription),
	}
	source.OnChanged(dp.handleConfigurationChanged)
	return dp
}

// CancelFunc stops a decide() stream, releasing every attribute subscription
// it opened. Calling it more than once is a no-op (spec.md §8 invariant 6).
type CancelFunc func()

// Decide starts evaluating sub against its pdpId's active voter tree,
// returning a channel of decisions and a cancellation function. The channel
// receives one value immediately (the initial evaluation), then one more
// value each time a contributing attribute pushes a new value, until
// cancelled or the pdpId's configuration is removed. On cancellation the
// channel is closed with no further value; on removal it receives one final
// Indeterminate decision and is then closed.
func (dp *DecisionPoint) Decide(ctx context.Context, sub Subscription) (<-chan voter.AuthorizationDecision, CancelFunc) {
	id := uuid.New()
	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan voter.AuthorizationDecision, 1)
	removed := make(chan struct{})

	dp.mu.Lock()
	dp.active[id] = &liveSubscription{pdpID: sub.PdpID, cancel: cancel, removed: removed}
	dp.mu.Unlock()

	for _, ic := range dp.interceptors {
		ic.OnSubscribe(id, sub)
	}

	stop := func() {
		cancel()
	}

	go dp.run(subCtx, id, sub, out, removed)

	return out, CancelFunc(stop)
}

// run performs the initial evaluation and re-evaluates on every subsequent
// push from an attribute the latest evaluation depended on, until subCtx is
// done. It always removes id from the active-subscription registry on exit,
// whether that exit was caller-initiated (CancelFunc) or forced by the
// owning configuration's removal (spec.md §8 invariant 6). In the latter
// case (removed closed) it emits one final Indeterminate decision, reason
// "configuration removed", before closing out (spec.md §4.5).
func (dp *DecisionPoint) run(subCtx context.Context, id uuid.UUID, sub Subscription, out chan<- voter.AuthorizationDecision, removed <-chan struct{}) {
	defer close(out)
	defer func() {
		dp.mu.Lock()
		delete(dp.active, id)
		dp.mu.Unlock()
	}()
	defer func() {
		for _, ic := range dp.interceptors {
			ic.OnUnsubscribe(id)
		}
	}()

	finish := func() {
		select {
		case <-removed:
			select {
			case out <- voter.AuthorizationDecision{
				Decision: voter.Indeterminate,
				Resource: value.Err("configurationRemoved", "configuration removed"),
			}:
			default:
			}
		default:
		}
	}

	bag := &cancelBag{}
	defer bag.cancelAll()

	trigger := make(chan struct{}, 1)
	notify := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	evaluate := func() (voter.AuthorizationDecision, bool) {
		tree, ok := dp.source.Tree(sub.PdpID)
		if !ok {
			return voter.INDETERMINATE, false
		}

		bag.cancelAll()

		ec := &expr.EvalContext{
			Subject:         sub.Subject,
			Action:          sub.Action,
			Resource:        sub.Resource,
			Environment:     sub.Environment,
			Variables:       sub.Variables,
			Functions:       dp.source.functions,
			Attributes:      reactiveBroker{inner: dp.source.attributes, sub: subCtx, onPush: notify, cancels: bag},
			ConfigurationID: tree.ConfigurationID,
			PdpID:           tree.PdpID,
			Sub:             subCtx,
		}

		v := tree.Evaluate(ec)
		for _, ic := range dp.interceptors {
			ic.OnVote(sub, v)
		}
		return voter.FromVote(v), true
	}

	decision, ok := evaluate()
	select {
	case out <- decision:
	case <-subCtx.Done():
		finish()
		return
	}
	if !ok {
		return
	}

	for {
		select {
		case <-subCtx.Done():
			finish()
			return
		case <-trigger:
			decision, ok := evaluate()
			select {
			case out <- decision:
			case <-subCtx.Done():
				finish()
				return
			}
			if !ok {
				return
			}
		}
	}
}

// handleConfigurationChanged marks removed and cancels every active
// subscription for a pdpID whose configuration was just removed (its tree is
// no longer present); run() observes removed and emits a final Indeterminate
// decision before the channel closes. A configuration *replacement* does not
// cancel anything: existing attribute subscriptions remain valid and the
// next natural trigger re-evaluates against the new tree.
func (dp *DecisionPoint) handleConfigurationChanged(pdpID string) {
	dp.mu.Lock()
	var toRemove []*liveSubscription
	if _, stillPresent := dp.source.Tree(pdpID); !stillPresent {
		for _, ls := range dp.active {
			if ls.pdpID == pdpID {
				toRemove = append(toRemove, ls)
			}
		}
	}
	dp.mu.Unlock()

	for _, ls := range toRemove {
		ls.markRemoved()
		ls.cancel()
	}
}

// ActiveSubscriptionCount reports how many decide() calls are currently
// live, for tests asserting spec.md §8 invariant 6 (cancelling every
// subscription leaves none outstanding).
func (dp *DecisionPoint) ActiveSubscriptionCount() int {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	return len(dp.active)
}
