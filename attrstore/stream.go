package attrstore

import (
	"sync"
	"time"

	"github.com/dotrongnhan/saplgo/expr"
	"github.com/dotrongnhan/saplgo/value"
)

// dbStream is the expr.AttributeStream returned by Store.Resolve. It
// delivers the row's current value synchronously on Subscribe, then polls
// for changes every pollInterval, delivering again only when the encoded
// value actually changed (spec.md §9: "deliver the latest value to every
// subscriber and drop superseded ones").
type dbStream struct {
	store     *Store
	name      string
	entityKey string
}

func (s *dbStream) Subscribe(ctx expr.SubscriptionContext, onValue func(value.Value)) func() {
	v, err := s.store.load(s.entityKey, s.name)
	if err != nil {
		s.store.log.Warnf("subscribe %s/%s: %v", s.entityKey, s.name, err)
		v = value.UNDEFINED
	}
	onValue(v)

	done := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }

	go s.poll(ctx, done, v, onValue)

	return cancel
}

func (s *dbStream) poll(ctx expr.SubscriptionContext, done chan struct{}, last value.Value, onValue func(value.Value)) {
	ticker := time.NewTicker(s.store.pollInterval)
	defer ticker.Stop()

	lastJSON, _ := value.ToJSON(last)

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			v, err := s.store.load(s.entityKey, s.name)
			if err != nil {
				s.store.log.Warnf("poll %s/%s: %v", s.entityKey, s.name, err)
				continue
			}
			raw, err := value.ToJSON(v)
			if err != nil {
				continue
			}
			if string(raw) == string(lastJSON) {
				continue
			}
			lastJSON = raw
			onValue(v)
		}
	}
}
