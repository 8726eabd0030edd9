/*
Package replayshare decorates a stream so that one upstream subscription is
shared by any number of downstream consumers, and the most recently emitted
value is replayed to every consumer that attaches later, without touching
upstream again.

The cached value survives periods with no consumer at all: as long as the
decorated source itself is referenced, a consumer attaching after the last one
left still receives the last value seen before, while the expensive upstream
connection stays down in between.
*/
package replayshare

import (
	"github.com/pkg/errors"
	"github.com/skysoft-atm/replayshare/stream"
	"github.com/spf13/viper"
)

// DefaultBufferLen is the per-consumer channel buffer used when neither the
// WithBufferLen option nor the replay.buffer.len property is set.
const DefaultBufferLen = 1024

type shareConfig struct {
	name           string
	bufferLen      int
	onBackpressure func(value interface{})
}

type Option func(*shareConfig) error

// WithName names the share. A named share logs with its name and exposes
// replay_* metrics labeled with it. Names must be unique per process.
func WithName(name string) Option {
	return func(c *shareConfig) error {
		c.name = name
		return nil
	}
}

// WithBufferLen sets the channel buffer of each attached consumer.
func WithBufferLen(n int) Option {
	return func(c *shareConfig) error {
		if n < 0 {
			return errors.Errorf("negative buffer length %d", n)
		}
		c.bufferLen = n
		return nil
	}
}

// WithOnBackpressure registers a callback invoked with every value dropped
// because a consumer could not keep up.
func WithOnBackpressure(f func(value interface{})) Option {
	return func(c *shareConfig) error {
		c.onBackpressure = f
		return nil
	}
}

func newShareConfig(options []Option) (*shareConfig, error) {
	c := &shareConfig{bufferLen: DefaultBufferLen}
	if v := viper.GetInt("replay.buffer.len"); v > 0 {
		c.bufferLen = v
	}
	for _, option := range options {
		if err := option(c); err != nil {
			return nil, errors.Wrap(err, "invalid share option")
		}
	}
	return c, nil
}

// ReplayingShare returns a push style source that multiplexes one upstream
// subscription across all its consumers and replays the last value seen to
// each newly attached one. Each call assembles an independent pipeline with
// its own cache; the returned source is safe to subscribe to repeatedly and
// concurrently.
func ReplayingShare[T any](upstream stream.Observable[T], options ...Option) (stream.Observable[T], error) {
	config, err := newShareConfig(options)
	if err != nil {
		return nil, err
	}
	metrics := newShareMetrics(config.name)
	last := &lastSeen[T]{}
	shared := &shareObservable[T]{
		upstream: &tapObservable[T]{upstream: upstream, last: last, metrics: metrics},
		config:   config,
		metrics:  metrics,
	}
	return &lastSeenObservable[T]{shared: shared, last: last, metrics: metrics}, nil
}

// ReplayingFlow is the demand-regulated counterpart of ReplayingShare: the
// replayed value is delivered against the first unit of demand a new
// subscriber requests, and only the remaining demand reaches the shared
// source.
func ReplayingFlow[T any](upstream stream.Flow[T], options ...Option) (stream.Flow[T], error) {
	config, err := newShareConfig(options)
	if err != nil {
		return nil, err
	}
	metrics := newShareMetrics(config.name)
	last := &lastSeen[T]{}
	shared := &shareFlow[T]{
		upstream: &tapFlow[T]{upstream: upstream, last: last, metrics: metrics},
		config:   config,
		metrics:  metrics,
	}
	return &lastSeenFlow[T]{shared: shared, last: last, metrics: metrics}, nil
}

// Share returns the bare reference counted multicast source without the
// replay decoration.
func Share[T any](upstream stream.Observable[T], options ...Option) (stream.Observable[T], error) {
	config, err := newShareConfig(options)
	if err != nil {
		return nil, err
	}
	return &shareObservable[T]{upstream: upstream, config: config, metrics: newShareMetrics(config.name)}, nil
}

// ShareFlow returns the bare reference counted multicast flow without the
// replay decoration.
func ShareFlow[T any](upstream stream.Flow[T], options ...Option) (stream.Flow[T], error) {
	config, err := newShareConfig(options)
	if err != nil {
		return nil, err
	}
	return &shareFlow[T]{upstream: upstream, config: config, metrics: newShareMetrics(config.name)}, nil
}
