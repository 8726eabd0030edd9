package replayshare

import "github.com/skysoft-atm/replayshare/stream"

// lastSeenFlow is the demand-regulated counterpart of lastSeenObservable: the
// cached value is not pushed at attach time but delivered against the first
// unit of demand the new subscriber requests.
type lastSeenFlow[T any] struct {
	shared  stream.Flow[T]
	last    *lastSeen[T]
	metrics *shareMetrics
}

func (f *lastSeenFlow[T]) Subscribe(downstream stream.Subscriber[T]) {
	if terminated(f.shared) {
		f.shared.Subscribe(downstream)
		return
	}
	f.shared.Subscribe(&lastSeenSubscriber[T]{downstream: downstream, last: f.last, metrics: f.metrics, first: true})
}

// lastSeenSubscriber forwards signals downstream and doubles as the
// downstream's demand handle so it can intercept the first request of the
// attachment. The first flag needs no synchronization: request calls for one
// attachment are never concurrent, per the stream package contract.
type lastSeenSubscriber[T any] struct {
	downstream   stream.Subscriber[T]
	last         *lastSeen[T]
	metrics      *shareMetrics
	subscription stream.Subscription
	first        bool
}

func (s *lastSeenSubscriber[T]) OnSubscribe(subscription stream.Subscription) {
	s.subscription = subscription
	s.downstream.OnSubscribe(s)
}

// Request serves the first request of the attachment from the cache when it
// holds a value: the cached value is delivered immediately and consumes one
// unit of finite demand, and only the remainder is forwarded upstream.
// Unbounded demand is never decremented, unbounded stays unbounded.
func (s *lastSeenSubscriber[T]) Request(n int64) {
	if n <= 0 {
		return
	}

	if s.first {
		s.first = false

		if value, ok := s.last.load(); ok {
			s.metrics.incCacheHit()
			s.downstream.OnNext(value)

			if n != stream.Unbounded {
				n--
				if n == 0 {
					return
				}
			}
		}
	}
	s.subscription.Request(n)
}

func (s *lastSeenSubscriber[T]) Cancel() {
	s.subscription.Cancel()
}

func (s *lastSeenSubscriber[T]) OnNext(value T) {
	s.downstream.OnNext(value)
}

func (s *lastSeenSubscriber[T]) OnError(err error) {
	s.downstream.OnError(err)
}

func (s *lastSeenSubscriber[T]) OnComplete() {
	s.downstream.OnComplete()
}
