package replayshare

import (
	"sync"
	"sync/atomic"

	"github.com/skysoft-atm/replayshare/mux"
	"github.com/skysoft-atm/replayshare/stream"
	"go.uber.org/zap"
)

// The share connectors turn one upstream source into a reference counted
// multicast source: upstream is subscribed when the first consumer attaches
// and the subscription is cancelled when the last one detaches. Every upstream
// signal is fanned out through a mux.Broadcaster to all attached consumers, in
// emission order, each consumer on its own delivery goroutine.
//
// The first terminal signal is latched: a consumer attaching afterwards
// receives that terminal immediately and nothing else.
//
// In the pull style share, upstream is consumed at the pace it produces and
// each attachment is regulated by its own demand. A consumer that neither
// requests nor drains fast enough overflows its buffer and values are dropped
// for this consumer (see the mux package); pass WithOnBackpressure to observe
// the drops.

// message is what flows through a share broadcaster: a live value or the
// terminal signal of the upstream subscription.
type message[T any] struct {
	value    T
	err      error
	terminal bool
}

// connection identifies one upstream subscription of a share, so that signals
// from an already disconnected upstream cannot leak into a later connection.
type connection struct {
	mu     sync.Mutex
	cancel stream.Cancellation
	dead   bool
}

func (c *connection) setCancel(cancel stream.Cancellation) {
	c.mu.Lock()
	if c.dead {
		c.mu.Unlock()
		// disconnected before the upstream handed out its cancellation
		cancel.Cancel()
		return
	}
	c.cancel = cancel
	c.mu.Unlock()
}

func (c *connection) disconnect() {
	c.mu.Lock()
	c.dead = true
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel.Cancel()
	}
}

type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}

// shareObservable is the push style share.
type shareObservable[T any] struct {
	upstream stream.Observable[T]
	config   *shareConfig
	metrics  *shareMetrics

	mu          sync.Mutex
	subscribers int
	broadcaster *mux.Broadcaster[message[T]]
	conn        *connection
	done        bool
	err         error
}

func (s *shareObservable[T]) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *shareObservable[T]) Subscribe(observer stream.Observer[T]) {
	var b *mux.Broadcaster[message[T]]
	var conn *connection
	var first bool
	out := make(chan message[T], s.config.bufferLen)

	for {
		s.mu.Lock()
		if s.done {
			err := s.err
			s.mu.Unlock()
			observer.OnSubscribe(stream.CancelFunc(func() {}))
			if err != nil {
				observer.OnError(err)
			} else {
				observer.OnComplete()
			}
			return
		}
		if s.broadcaster == nil {
			nb, err := mux.NewNonBlockingBroadcaster[message[T]](s.config.bufferLen)
			if err != nil {
				s.mu.Unlock()
				observer.OnSubscribe(stream.CancelFunc(func() {}))
				observer.OnError(err)
				return
			}
			s.broadcaster = nb
			s.conn = &connection{}
		}
		b = s.broadcaster
		conn = s.conn
		if err := b.Register(out, s.consumerOptions()...); err != nil {
			// lost a race against a terminating upstream, try again
			s.mu.Unlock()
			continue
		}
		first = s.subscribers == 0
		s.subscribers++
		s.mu.Unlock()
		break
	}

	s.metrics.addConsumers(1)
	Log.Debug("consumer attached", zap.String("share", s.config.name))

	cancel := &shareCancellation[T]{s: s, ch: out}
	observer.OnSubscribe(cancel)

	go func() {
		terminalDelivered := false
		for m := range out {
			if cancel.cancelled.Load() {
				break
			}
			if m.terminal {
				terminalDelivered = true
				if m.err != nil {
					observer.OnError(m.err)
				} else {
					observer.OnComplete()
				}
				continue
			}
			observer.OnNext(m.value)
		}
		if !terminalDelivered && !cancel.cancelled.Load() {
			s.deliverLateTerminal(observer.OnError, observer.OnComplete)
		}
		s.metrics.addConsumers(-1)
	}()

	if first {
		Log.Debug("first consumer attached, connecting upstream", zap.String("share", s.config.name))
		s.upstream.Subscribe(&connectorObserver[T]{s: s, conn: conn})
	}
}

// deliverLateTerminal covers the consumer whose terminal message was dropped
// because its buffer was full when the upstream terminated.
func (s *shareObservable[T]) deliverLateTerminal(onError func(error), onComplete func()) {
	s.mu.Lock()
	done, err := s.done, s.err
	s.mu.Unlock()
	if !done {
		return
	}
	if err != nil {
		onError(err)
	} else {
		onComplete()
	}
}

func (s *shareObservable[T]) consumerOptions() []mux.ConsumerOptionFunc[message[T]] {
	if s.metrics == nil && s.config.onBackpressure == nil {
		return nil
	}
	return []mux.ConsumerOptionFunc[message[T]]{func(c *mux.ConsumerConfig[message[T]]) error {
		c.OnBackpressure(func(m message[T]) {
			s.metrics.incDropped()
			if s.config.onBackpressure != nil && !m.terminal {
				s.config.onBackpressure(m.value)
			}
		})
		return nil
	}}
}

func (s *shareObservable[T]) detach(ch chan message[T]) {
	s.mu.Lock()
	b := s.broadcaster
	s.subscribers--
	last := s.subscribers == 0 && b != nil
	var conn *connection
	if last {
		conn = s.conn
		s.conn = nil
		s.broadcaster = nil
	}
	s.mu.Unlock()

	if b != nil {
		b.Unregister(ch)
	}
	Log.Debug("consumer detached", zap.String("share", s.config.name))
	if last {
		Log.Debug("last consumer detached, disconnecting upstream", zap.String("share", s.config.name))
		conn.disconnect()
		b.Close()
	}
}

func (s *shareObservable[T]) terminate(conn *connection, err error) {
	s.mu.Lock()
	if s.conn != conn || s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.err = err
	b := s.broadcaster
	s.broadcaster = nil
	s.conn = nil
	s.mu.Unlock()

	if err != nil {
		Log.Debug("upstream failed", zap.String("share", s.config.name), zap.Error(err))
	} else {
		Log.Debug("upstream completed", zap.String("share", s.config.name))
	}
	if b != nil {
		b.SubmitBlocking(message[T]{err: err, terminal: true})
		b.Close()
	}
}

type shareCancellation[T any] struct {
	s         *shareObservable[T]
	ch        chan message[T]
	once      sync.Once
	cancelled atomic.Bool
}

func (c *shareCancellation[T]) Cancel() {
	c.once.Do(func() {
		c.cancelled.Store(true)
		c.s.detach(c.ch)
	})
}

// connectorObserver is the single observer the share keeps attached to
// upstream while at least one consumer is attached.
type connectorObserver[T any] struct {
	s    *shareObservable[T]
	conn *connection
}

func (c *connectorObserver[T]) OnSubscribe(cancel stream.Cancellation) {
	c.conn.setCancel(cancel)
}

func (c *connectorObserver[T]) OnNext(value T) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.conn != c.conn || c.s.broadcaster == nil {
		return
	}
	c.s.broadcaster.SubmitBlocking(message[T]{value: value})
}

func (c *connectorObserver[T]) OnError(err error) {
	c.s.terminate(c.conn, err)
}

func (c *connectorObserver[T]) OnComplete() {
	c.s.terminate(c.conn, nil)
}

// shareFlow is the pull style share.
type shareFlow[T any] struct {
	upstream stream.Flow[T]
	config   *shareConfig
	metrics  *shareMetrics

	mu          sync.Mutex
	subscribers int
	broadcaster *mux.Broadcaster[message[T]]
	conn        *connection
	done        bool
	err         error
}

func (s *shareFlow[T]) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *shareFlow[T]) Subscribe(subscriber stream.Subscriber[T]) {
	var b *mux.Broadcaster[message[T]]
	var conn *connection
	var first bool
	out := make(chan message[T], s.config.bufferLen)

	for {
		s.mu.Lock()
		if s.done {
			err := s.err
			s.mu.Unlock()
			subscriber.OnSubscribe(noopSubscription{})
			if err != nil {
				subscriber.OnError(err)
			} else {
				subscriber.OnComplete()
			}
			return
		}
		if s.broadcaster == nil {
			nb, err := mux.NewNonBlockingBroadcaster[message[T]](s.config.bufferLen)
			if err != nil {
				s.mu.Unlock()
				subscriber.OnSubscribe(noopSubscription{})
				subscriber.OnError(err)
				return
			}
			s.broadcaster = nb
			s.conn = &connection{}
		}
		b = s.broadcaster
		conn = s.conn
		if err := b.Register(out, s.consumerOptions()...); err != nil {
			// lost a race against a terminating upstream, try again
			s.mu.Unlock()
			continue
		}
		first = s.subscribers == 0
		s.subscribers++
		s.mu.Unlock()
		break
	}

	s.metrics.addConsumers(1)
	Log.Debug("consumer attached", zap.String("share", s.config.name))

	att := &flowAttachment[T]{s: s, ch: out}
	att.cond = sync.NewCond(&att.mu)
	subscriber.OnSubscribe(att)

	go func() {
		terminalDelivered := false
		for m := range out {
			if m.terminal {
				if att.isCancelled() {
					break
				}
				terminalDelivered = true
				if m.err != nil {
					subscriber.OnError(m.err)
				} else {
					subscriber.OnComplete()
				}
				continue
			}
			if !att.waitDemand() {
				break
			}
			subscriber.OnNext(m.value)
		}
		if !terminalDelivered && !att.isCancelled() {
			s.deliverLateTerminal(subscriber.OnError, subscriber.OnComplete)
		}
		s.metrics.addConsumers(-1)
	}()

	if first {
		Log.Debug("first consumer attached, connecting upstream", zap.String("share", s.config.name))
		s.upstream.Subscribe(&connectorSubscriber[T]{s: s, conn: conn})
	}
}

func (s *shareFlow[T]) deliverLateTerminal(onError func(error), onComplete func()) {
	s.mu.Lock()
	done, err := s.done, s.err
	s.mu.Unlock()
	if !done {
		return
	}
	if err != nil {
		onError(err)
	} else {
		onComplete()
	}
}

func (s *shareFlow[T]) consumerOptions() []mux.ConsumerOptionFunc[message[T]] {
	if s.metrics == nil && s.config.onBackpressure == nil {
		return nil
	}
	return []mux.ConsumerOptionFunc[message[T]]{func(c *mux.ConsumerConfig[message[T]]) error {
		c.OnBackpressure(func(m message[T]) {
			s.metrics.incDropped()
			if s.config.onBackpressure != nil && !m.terminal {
				s.config.onBackpressure(m.value)
			}
		})
		return nil
	}}
}

func (s *shareFlow[T]) detach(ch chan message[T]) {
	s.mu.Lock()
	b := s.broadcaster
	s.subscribers--
	last := s.subscribers == 0 && b != nil
	var conn *connection
	if last {
		conn = s.conn
		s.conn = nil
		s.broadcaster = nil
	}
	s.mu.Unlock()

	if b != nil {
		b.Unregister(ch)
	}
	Log.Debug("consumer detached", zap.String("share", s.config.name))
	if last {
		Log.Debug("last consumer detached, disconnecting upstream", zap.String("share", s.config.name))
		conn.disconnect()
		b.Close()
	}
}

func (s *shareFlow[T]) terminate(conn *connection, err error) {
	s.mu.Lock()
	if s.conn != conn || s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	s.err = err
	b := s.broadcaster
	s.broadcaster = nil
	s.conn = nil
	s.mu.Unlock()

	if err != nil {
		Log.Debug("upstream failed", zap.String("share", s.config.name), zap.Error(err))
	} else {
		Log.Debug("upstream completed", zap.String("share", s.config.name))
	}
	if b != nil {
		b.SubmitBlocking(message[T]{err: err, terminal: true})
		b.Close()
	}
}

// flowAttachment is the demand handle of one pull style consumer. Demand is
// accumulated here and consumed by the delivery goroutine; the upstream side
// of the share runs unbounded.
type flowAttachment[T any] struct {
	s    *shareFlow[T]
	ch   chan message[T]
	once sync.Once

	mu        sync.Mutex
	cond      *sync.Cond
	demand    int64
	cancelled bool
}

func (a *flowAttachment[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	if n == stream.Unbounded || a.demand == stream.Unbounded || a.demand > stream.Unbounded-n {
		a.demand = stream.Unbounded
	} else {
		a.demand += n
	}
	a.cond.Signal()
	a.mu.Unlock()
}

func (a *flowAttachment[T]) Cancel() {
	a.once.Do(func() {
		a.mu.Lock()
		a.cancelled = true
		a.cond.Signal()
		a.mu.Unlock()
		a.s.detach(a.ch)
	})
}

func (a *flowAttachment[T]) isCancelled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled
}

// waitDemand blocks until one unit of demand can be consumed. It reports false
// when the attachment was cancelled instead.
func (a *flowAttachment[T]) waitDemand() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.demand == 0 && !a.cancelled {
		a.cond.Wait()
	}
	if a.cancelled {
		return false
	}
	if a.demand != stream.Unbounded {
		a.demand--
	}
	return true
}

// connectorSubscriber consumes upstream on behalf of a pull style share. It
// requests unbounded demand: pacing per consumer is the attachments' job.
type connectorSubscriber[T any] struct {
	s    *shareFlow[T]
	conn *connection
}

func (c *connectorSubscriber[T]) OnSubscribe(subscription stream.Subscription) {
	c.conn.setCancel(subscription)
	subscription.Request(stream.Unbounded)
}

func (c *connectorSubscriber[T]) OnNext(value T) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.conn != c.conn || c.s.broadcaster == nil {
		return
	}
	c.s.broadcaster.SubmitBlocking(message[T]{value: value})
}

func (c *connectorSubscriber[T]) OnError(err error) {
	c.s.terminate(c.conn, err)
}

func (c *connectorSubscriber[T]) OnComplete() {
	c.s.terminate(c.conn, nil)
}

type terminalAware interface {
	Terminated() bool
}

func terminated(source any) bool {
	t, ok := source.(terminalAware)
	return ok && t.Terminated()
}
