// Package stream defines the subscription contracts shared by sources and
// consumers: a push style protocol (Observable/Observer) where the source
// paces delivery, and a pull style protocol (Flow/Subscriber/Subscription)
// where the consumer regulates delivery by requesting demand.
//
// For both protocols, signal and request calls belonging to one attachment
// are never concurrent with each other; only distinct attachments may run
// concurrently. Sources and operators rely on this.
package stream

import "math"

// Unbounded is the demand sentinel meaning "deliver values as fast as they are
// produced". It is a distinct case, not a big number: operators must never
// decrement it.
const Unbounded = int64(math.MaxInt64)

// Observable is a push style source.
type Observable[T any] interface {
	// Subscribe attaches the observer to this source. The observer receives
	// its Cancellation synchronously, before any other signal.
	Subscribe(Observer[T])
}

// Observer receives the signals of one push style attachment: OnSubscribe
// first, then zero or more values, then at most one terminal signal.
type Observer[T any] interface {
	OnSubscribe(Cancellation)
	OnNext(value T)
	OnError(err error) // called at most once
	OnComplete()       // called at most once if the subscription is not canceled before the stream completes
}

// Cancellation detaches one consumer from its source. Canceling more than once
// has no further effect.
type Cancellation interface {
	Cancel()
}

// CancelFunc adapts a plain func to the Cancellation interface.
type CancelFunc func()

func (f CancelFunc) Cancel() { f() }

// Flow is a pull style source: no value is delivered to a subscriber before it
// requests demand on its Subscription.
type Flow[T any] interface {
	Subscribe(Subscriber[T])
}

// Subscriber receives the signals of one pull style attachment. OnSubscribe is
// called synchronously at attach time with the demand handle.
type Subscriber[T any] interface {
	OnSubscribe(Subscription)
	OnNext(value T)
	OnError(err error) // called at most once
	OnComplete()       // called at most once if the subscription is not canceled before the stream completes
}

// Subscription controls demand and lifetime of one pull style attachment.
type Subscription interface {
	// Request adds n to the outstanding demand of this attachment. Requests
	// are cumulative. Requesting zero (or less) does nothing.
	Request(n int64)
	// Cancel stops all further delivery to this attachment. It is safe to
	// call after a terminal signal or after a previous Cancel.
	Cancel()
}

type observer[T any] struct {
	onSubscribe func(Cancellation)
	onNext      func(T)
	onError     func(error)
	onComplete  func()
}

func (o observer[T]) OnSubscribe(c Cancellation) {
	o.onSubscribe(c)
}

func (o observer[T]) OnNext(value T) {
	o.onNext(value)
}

func (o observer[T]) OnError(err error) {
	o.onError(err)
}

func (o observer[T]) OnComplete() {
	o.onComplete()
}

func CreateObserver[T any](onSubscribe func(Cancellation), onNext func(T), onError func(error), onComplete func()) Observer[T] {
	return observer[T]{
		onSubscribe: onSubscribe,
		onNext:      onNext,
		onError:     onError,
		onComplete:  onComplete,
	}
}

type subscriber[T any] struct {
	onSubscribe func(Subscription)
	onNext      func(T)
	onError     func(error)
	onComplete  func()
}

func (s subscriber[T]) OnSubscribe(sub Subscription) {
	s.onSubscribe(sub)
}

func (s subscriber[T]) OnNext(value T) {
	s.onNext(value)
}

func (s subscriber[T]) OnError(err error) {
	s.onError(err)
}

func (s subscriber[T]) OnComplete() {
	s.onComplete()
}

func CreateSubscriber[T any](onSubscribe func(Subscription), onNext func(T), onError func(error), onComplete func()) Subscriber[T] {
	return subscriber[T]{
		onSubscribe: onSubscribe,
		onNext:      onNext,
		onError:     onError,
		onComplete:  onComplete,
	}
}
