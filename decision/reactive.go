package decision

import (
	"sync"

	"github.com/dotrongnhan/saplgo/expr"
	"github.com/dotrongnhan/saplgo/value"
)

// cancelBag collects the unsubscribe functions one evaluation's attribute
// calls open, so run() can cancel them all before the next re-evaluation.
type cancelBag struct {
	mu  sync.Mutex
	fns []func()
}

func (b *cancelBag) add(fn func()) {
	b.mu.Lock()
	b.fns = append(b.fns, fn)
	b.mu.Unlock()
}

func (b *cancelBag) cancelAll() {
	b.mu.Lock()
	fns := b.fns
	b.fns = nil
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// reactiveBroker wraps an expr.AttributeBroker so every resolved stream's
// pushes past the first are reported to onPush, which schedules a
// re-evaluation of the owning subscription (spec.md §4.5 "Reactive decision
// stream").
type reactiveBroker struct {
	inner   expr.AttributeBroker
	sub     expr.SubscriptionContext
	onPush  func()
	cancels *cancelBag
}

func (b reactiveBroker) Resolve(name string, entity value.Value, args []value.Value) (expr.AttributeStream, bool) {
	stream, ok := b.inner.Resolve(name, entity, args)
	if !ok {
		return nil, false
	}
	return reactiveStream{inner: stream, onPush: b.onPush, cancels: b.cancels}, true
}

// reactiveStream delivers every value synchronously to the caller's
// onValue (so the synchronous Eval of AttrCall still observes the current
// value) and additionally schedules a re-evaluation for every push after
// the first.
type reactiveStream struct {
	inner   expr.AttributeStream
	onPush  func()
	cancels *cancelBag
}

func (s reactiveStream) Subscribe(ctx expr.SubscriptionContext, onValue func(value.Value)) func() {
	first := true
	cancel := s.inner.Subscribe(ctx, func(v value.Value) {
		onValue(v)
		if !first {
			s.onPush()
		}
		first = false
	})
	s.cancels.add(cancel)
	return cancel
}
