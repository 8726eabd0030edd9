/*
Package mux provides pubsub of messages over channels.
A provider has a broadcaster into which it Submits messages and into
which subscribers Register to pick up those messages.

If one of the subscribers is not able to consume the message, then messages will be dropped for this consumer.
It is possible to pass a function to handle dropped messages.

Once a broadcaster is closed, SubmitBlocking will panic and SubmitNonBlocking returns an error.
*/
package mux

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

type Broadcaster[T any] struct {
	closing  uint32
	closeReq chan struct{}
	input    chan T
	reg      chan registration[T]
	unreg    chan unregistration[T]
	outputs  map[chan<- T]ConsumerConfig[T]
	*BroadcasterConfig[T]
	closed chan struct{}
}

// Register a new channel to receive broadcasts. The channel is closed when the
// consumer is unregistered or when the broadcaster shuts down.
func (b *Broadcaster[T]) Register(newch chan<- T, options ...ConsumerOptionFunc[T]) error {
	config := &ConsumerConfig[T]{}
	for _, option := range options {
		if err := option(config); err != nil {
			return errors.Wrap(err, "failed to register to broadcaster")
		}
	}
	done := make(chan struct{})
	select {
	case b.reg <- registration[T]{consumer[T]{*config, newch}, done}:
		<-done
		return nil
	case <-b.closed:
		return errors.New("broadcaster is closed")
	}
}

// Unregister a channel so that it no longer receives broadcasts.
func (b *Broadcaster[T]) Unregister(newch chan<- T) {
	done := make(chan struct{})
	select {
	case b.unreg <- unregistration[T]{newch, done}:
		<-done
	case <-b.closed:
		return
	}
}

// Close shuts the broadcaster down. Values still sitting in the input buffer
// are delivered before the consumer channels are closed.
func (b *Broadcaster[T]) Close() {
	// mark the broadcaster as closing, so we don't attempt to close it twice
	alreadyClosing := !atomic.CompareAndSwapUint32(&b.closing, 0, 1)
	if alreadyClosing {
		<-b.closed
		return
	}
	b.closeReq <- struct{}{}
	<-b.closed
}

func (b *Broadcaster[T]) Closed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// SubmitBlocking submits a new value to all subscribers, this call can block if the input channel is full
func (b *Broadcaster[T]) SubmitBlocking(v T) {
	if closing := atomic.LoadUint32(&b.closing); closing > 0 {
		panic("writing to a closing broadcaster")
	}
	b.input <- v
}

// SubmitNonBlocking submits a new value to all subscribers, this call will drop the value if the input channel is full
func (b *Broadcaster[T]) SubmitNonBlocking(v T) error {
	if closing := atomic.LoadUint32(&b.closing); closing > 0 {
		return errors.New("writing to a closing broadcaster")
	}
	select {
	case b.input <- v:
		return nil
	default:
		return errors.New("value dropped")
	}
}

func (b *Broadcaster[T]) broadcast(m T) {
	for ch := range b.outputs {
		select {
		case ch <- m:
			//message sent
		default:
			//consumer is not ready to receive a message, drop it and execute provided action on backpressure
			subConfig := b.outputs[ch]
			if subConfig.onBackpressure != nil {
				subConfig.onBackpressure(m)
			}
			if b.onBackpressure != nil {
				b.onBackpressure(m)
			}
			if subConfig.disconnectOnBackpressure {
				b.unregister(ch)
			}
		}
	}
	if b.postBroadcast != nil {
		b.postBroadcast(m)
	}
}

func (b *Broadcaster[T]) run() {
	for {
		// if lazy, if there is no more subscriber, do not consume any value until there is at least 1 subscriber
		if !b.eagerBroadcast && len(b.outputs) == 0 {
			select {
			case u := <-b.unreg:
				// there is currently no registration
				u.done <- struct{}{}
			case r := <-b.reg:
				b.addSubscriber(r)
			case <-b.closeReq:
				close(b.closed)
				return
			}
		} else {
			select {
			case <-b.closeReq:
				// notify all listeners that the broadcaster is now closed
				close(b.closed)

				// finish delivering buffered messages to subscribers before terminating
				for {
					select {
					case m := <-b.input:
						b.broadcast(m)
						continue
					default:
					}
					break
				}
				for sub := range b.outputs {
					close(sub)
					delete(b.outputs, sub)
				}
				return
			case r := <-b.reg:
				b.addSubscriber(r)
			case u := <-b.unreg:
				b.unregister(u.channel)
				u.done <- struct{}{}
			case m := <-b.input:
				b.broadcast(m)
			}
		}
	}
}

func (b *Broadcaster[T]) unregister(ch chan<- T) {
	// check if the channel was not already unregistered
	if _, ok := b.outputs[ch]; ok {
		delete(b.outputs, ch)
		close(ch)
	}
}

func (b *Broadcaster[T]) addSubscriber(r registration[T]) {
	b.outputs[r.consumer.channel] = r.consumer.config
	r.done <- struct{}{}
}

// NewNonBlockingBroadcaster creates a new Broadcaster with the given input channel buffer length.
func NewNonBlockingBroadcaster[T any](bufLen int, options ...BroadcasterOptionFunc[T]) (*Broadcaster[T], error) {
	b := &Broadcaster[T]{
		closing:           0,
		closeReq:          make(chan struct{}),
		input:             make(chan T, bufLen),
		reg:               make(chan registration[T]),
		unreg:             make(chan unregistration[T]),
		outputs:           make(map[chan<- T]ConsumerConfig[T]),
		BroadcasterConfig: &BroadcasterConfig[T]{eagerBroadcast: true},
		closed:            make(chan struct{}),
	}

	for _, option := range options {
		if err := option(b.BroadcasterConfig); err != nil {
			return nil, errors.Wrap(err, "failed to create broadcaster")
		}
	}

	go b.run()
	return b, nil
}
