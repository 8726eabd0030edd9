package mux

type registration[T any] struct {
	consumer consumer[T]
	done     chan<- struct{}
}

type unregistration[T any] struct {
	channel chan<- T
	done    chan<- struct{}
}

type consumer[T any] struct {
	config  ConsumerConfig[T]
	channel chan<- T
}

type ConsumerConfig[T any] struct {
	onBackpressure           func(value T)
	disconnectOnBackpressure bool
}

type ConsumerOptionFunc[T any] func(*ConsumerConfig[T]) error

func (c *ConsumerConfig[T]) OnBackpressure(onBackpressure func(value T)) {
	c.onBackpressure = onBackpressure
}

func (c *ConsumerConfig[T]) DisconnectOnBackpressure() {
	c.disconnectOnBackpressure = true
}

type BroadcasterConfig[T any] struct {
	eagerBroadcast bool
	onBackpressure func(value T)
	postBroadcast  func(T)
}

type BroadcasterOptionFunc[T any] func(*BroadcasterConfig[T]) error

func (b *BroadcasterConfig[T]) OnBackpressure(onBackpressure func(value T)) {
	b.onBackpressure = onBackpressure
}

func (b *BroadcasterConfig[T]) PostBroadcast(postBroadcast func(T)) {
	b.postBroadcast = postBroadcast
}

// LazyBroadcast makes the broadcaster buffer submitted values until at least
// one consumer is registered, instead of broadcasting into the void.
func LazyBroadcast[T any](config *BroadcasterConfig[T]) error {
	config.eagerBroadcast = false
	return nil
}
