package replayshare

import "github.com/skysoft-atm/replayshare/stream"

// lastSeenObservable replays the cached value to every newly attached observer
// before live values from the shared source. The replay goes through the
// regular OnNext path, so a downstream cannot tell a replayed value from a
// live one.
type lastSeenObservable[T any] struct {
	shared  stream.Observable[T]
	last    *lastSeen[T]
	metrics *shareMetrics
}

func (o *lastSeenObservable[T]) Subscribe(downstream stream.Observer[T]) {
	if terminated(o.shared) {
		// the shared source is done, it will deliver its terminal signal
		// immediately and nothing must be replayed before it
		o.shared.Subscribe(downstream)
		return
	}
	o.shared.Subscribe(&lastSeenObserver[T]{downstream: downstream, last: o.last, metrics: o.metrics})
}

type lastSeenObserver[T any] struct {
	downstream stream.Observer[T]
	last       *lastSeen[T]
	metrics    *shareMetrics
}

// OnSubscribe hands the cancellation handle downstream first, so the consumer
// can cancel before receiving anything, then replays the cached value if there
// is one.
func (o *lastSeenObserver[T]) OnSubscribe(c stream.Cancellation) {
	o.downstream.OnSubscribe(c)

	if value, ok := o.last.load(); ok {
		o.metrics.incCacheHit()
		o.downstream.OnNext(value)
	}
}

func (o *lastSeenObserver[T]) OnNext(value T) {
	o.downstream.OnNext(value)
}

func (o *lastSeenObserver[T]) OnError(err error) {
	o.downstream.OnError(err)
}

func (o *lastSeenObserver[T]) OnComplete() {
	o.downstream.OnComplete()
}
