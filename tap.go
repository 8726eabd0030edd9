package replayshare

import "github.com/skysoft-atm/replayshare/stream"

// tapObservable sits between the upstream source and the shared broadcaster
// and records every value into the lastSeen cache before passing it on.
// Terminal signals and the cancellation handle go through untouched.
type tapObservable[T any] struct {
	upstream stream.Observable[T]
	last     *lastSeen[T]
	metrics  *shareMetrics
}

func (t *tapObservable[T]) Subscribe(downstream stream.Observer[T]) {
	t.upstream.Subscribe(&tapObserver[T]{downstream: downstream, last: t.last, metrics: t.metrics})
}

type tapObserver[T any] struct {
	downstream stream.Observer[T]
	last       *lastSeen[T]
	metrics    *shareMetrics
}

func (t *tapObserver[T]) OnSubscribe(c stream.Cancellation) {
	t.downstream.OnSubscribe(c)
}

func (t *tapObserver[T]) OnNext(value T) {
	t.last.store(value)
	t.metrics.incTapped()
	t.downstream.OnNext(value)
}

func (t *tapObserver[T]) OnError(err error) {
	t.downstream.OnError(err)
}

func (t *tapObserver[T]) OnComplete() {
	t.downstream.OnComplete()
}

// tapFlow is the pull style counterpart of tapObservable. The demand handle is
// forwarded as-is: tapping costs no demand.
type tapFlow[T any] struct {
	upstream stream.Flow[T]
	last     *lastSeen[T]
	metrics  *shareMetrics
}

func (t *tapFlow[T]) Subscribe(downstream stream.Subscriber[T]) {
	t.upstream.Subscribe(&tapSubscriber[T]{downstream: downstream, last: t.last, metrics: t.metrics})
}

type tapSubscriber[T any] struct {
	downstream stream.Subscriber[T]
	last       *lastSeen[T]
	metrics    *shareMetrics
}

func (t *tapSubscriber[T]) OnSubscribe(subscription stream.Subscription) {
	t.downstream.OnSubscribe(subscription)
}

func (t *tapSubscriber[T]) OnNext(value T) {
	t.last.store(value)
	t.metrics.incTapped()
	t.downstream.OnNext(value)
}

func (t *tapSubscriber[T]) OnError(err error) {
	t.downstream.OnError(err)
}

func (t *tapSubscriber[T]) OnComplete() {
	t.downstream.OnComplete()
}
