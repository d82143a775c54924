package decision

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotrongnhan/saplgo/expr"
	"github.com/dotrongnhan/saplgo/pdpconfig"
	"github.com/dotrongnhan/saplgo/value"
	"github.com/dotrongnhan/saplgo/voter"
)

// pushStream is an AttributeStream whose value can be changed after the
// fact via push, to exercise the reactive re-evaluation path.
type pushStream struct {
	mu   sync.Mutex
	v    value.Value
	subs []func(value.Value)
}

func (s *pushStream) Subscribe(ctx expr.SubscriptionContext, onValue func(value.Value)) func() {
	s.mu.Lock()
	s.subs = append(s.subs, onValue)
	cur := s.v
	s.mu.Unlock()
	onValue(cur)
	return func() {}
}

func (s *pushStream) push(v value.Value) {
	s.mu.Lock()
	s.v = v
	subs := append([]func(value.Value){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(v)
	}
}

type roleAttrBroker struct{ stream *pushStream }

func (b roleAttrBroker) Resolve(name string, entity value.Value, args []value.Value) (expr.AttributeStream, bool) {
	if name != "test.role" {
		return nil, false
	}
	return b.stream, true
}

func policyDoc(t *testing.T, name, effect string) string {
	t.Helper()
	return `{
		"type": "policy",
		"name": "` + name + `",
		"target": {"op": "==", "left": {"op": "attr", "entity": {"op": "var", "name": "subject"}, "name": "test.role", "args": []}, "right": {"op": "literal", "value": "admin"}},
		"body": [],
		"effect": "` + effect + `"
	}`
}

func TestDecisionPointInitialEvaluation(t *testing.T) {
	stream := &pushStream{v: value.Text("admin")}
	attrs := roleAttrBroker{stream: stream}
	source := NewPdpVoterSource(expr.NewStdFunctionBroker(), attrs)
	source.LoadConfiguration(pdpconfig.PDPConfiguration{
		PdpID:              "app1",
		CombiningAlgorithm: voter.DefaultCombiningAlgorithm,
		SaplDocuments:      []string{policyDoc(t, "p1", "PERMIT")},
	}, true)

	dp := NewDecisionPoint(source)
	stream2, cancel := dp.Decide(context.Background(), Subscription{PdpID: "app1", Subject: value.UNDEFINED})
	defer cancel()

	select {
	case d := <-stream2:
		assert.Equal(t, voter.Permit, d.Decision)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial decision")
	}
}

func TestDecisionPointUnknownPdpIDIsIndeterminate(t *testing.T) {
	source := NewPdpVoterSource(expr.NewStdFunctionBroker(), roleAttrBroker{stream: &pushStream{v: value.UNDEFINED}})
	dp := NewDecisionPoint(source)
	stream, cancel := dp.Decide(context.Background(), Subscription{PdpID: "missing"})
	defer cancel()

	select {
	case d := <-stream:
		assert.Equal(t, voter.Indeterminate, d.Decision)
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestDecisionPointReEvaluatesOnAttributePush(t *testing.T) {
	stream := &pushStream{v: value.Text("guest")}
	attrs := roleAttrBroker{stream: stream}
	source := NewPdpVoterSource(expr.NewStdFunctionBroker(), attrs)
	source.LoadConfiguration(pdpconfig.PDPConfiguration{
		PdpID:              "app1",
		CombiningAlgorithm: voter.DefaultCombiningAlgorithm,
		SaplDocuments:      []string{policyDoc(t, "p1", "PERMIT")},
	}, true)

	dp := NewDecisionPoint(source)
	out, cancel := dp.Decide(context.Background(), Subscription{PdpID: "app1"})
	defer cancel()

	first := <-out
	assert.Equal(t, voter.Deny, first.Decision)

	stream.push(value.Text("admin"))

	select {
	case d := <-out:
		assert.Equal(t, voter.Permit, d.Decision)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reactive decision")
	}
}

func TestDecisionPointCancelLeavesNoActiveSubscriptions(t *testing.T) {
	source := NewPdpVoterSource(expr.NewStdFunctionBroker(), roleAttrBroker{stream: &pushStream{v: value.UNDEFINED}})
	dp := NewDecisionPoint(source)

	_, cancel1 := dp.Decide(context.Background(), Subscription{PdpID: "missing"})
	_, cancel2 := dp.Decide(context.Background(), Subscription{PdpID: "missing"})
	cancel1()
	cancel2()

	require.Eventually(t, func() bool { return dp.ActiveSubscriptionCount() == 0 }, time.Second, 10*time.Millisecond)
}

type recordingInterceptor struct {
	mu           sync.Mutex
	votes        []voter.Vote
	subscribes   []uuid.UUID
	unsubscribes []uuid.UUID
}

func (r *recordingInterceptor) OnVote(sub Subscription, v voter.Vote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.votes = append(r.votes, v)
}

func (r *recordingInterceptor) OnSubscribe(id uuid.UUID, sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribes = append(r.subscribes, id)
}

func (r *recordingInterceptor) OnUnsubscribe(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribes = append(r.unsubscribes, id)
}

func TestVoteInterceptorObservesEveryEvaluation(t *testing.T) {
	stream := &pushStream{v: value.Text("admin")}
	source := NewPdpVoterSource(expr.NewStdFunctionBroker(), roleAttrBroker{stream: stream})
	source.LoadConfiguration(pdpconfig.PDPConfiguration{
		PdpID:              "app1",
		CombiningAlgorithm: voter.DefaultCombiningAlgorithm,
		SaplDocuments:      []string{policyDoc(t, "p1", "PERMIT")},
	}, true)

	interceptor := &recordingInterceptor{}
	dp := NewDecisionPoint(source, interceptor)
	out, cancel := dp.Decide(context.Background(), Subscription{PdpID: "app1"})
	defer cancel()
	<-out

	require.Eventually(t, func() bool {
		interceptor.mu.Lock()
		defer interceptor.mu.Unlock()
		return len(interceptor.votes) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRemoveConfigurationCompletesActiveSubscriptions(t *testing.T) {
	stream := &pushStream{v: value.Text("admin")}
	source := NewPdpVoterSource(expr.NewStdFunctionBroker(), roleAttrBroker{stream: stream})
	source.LoadConfiguration(pdpconfig.PDPConfiguration{
		PdpID:              "app1",
		CombiningAlgorithm: voter.DefaultCombiningAlgorithm,
		SaplDocuments:      []string{policyDoc(t, "p1", "PERMIT")},
	}, true)

	interceptor := &recordingInterceptor{}
	dp := NewDecisionPoint(source, interceptor)
	out, cancel := dp.Decide(context.Background(), Subscription{PdpID: "app1"})
	defer cancel()
	<-out

	source.RemoveConfigurationForPdp("app1")

	select {
	case d, ok := <-out:
		require.True(t, ok, "expected a final Indeterminate decision before the channel closes")
		assert.Equal(t, voter.Indeterminate, d.Decision)
		assert.True(t, d.Resource.IsError())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for final decision")
	}

	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	require.Eventually(t, func() bool {
		interceptor.mu.Lock()
		defer interceptor.mu.Unlock()
		return len(interceptor.subscribes) == 1 && len(interceptor.unsubscribes) == 1
	}, time.Second, 10*time.Millisecond)
}
