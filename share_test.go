package replayshare

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/skysoft-atm/replayshare/stream"
	"github.com/stretchr/testify/assert"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// testUpstream is a push source driven by the test, counting subscriptions and
// cancellations so refcounting can be observed.
type testUpstream[T any] struct {
	mu         sync.Mutex
	subscribes int
	cancels    int
	observer   stream.Observer[T]
}

func (u *testUpstream[T]) Subscribe(o stream.Observer[T]) {
	u.mu.Lock()
	u.subscribes++
	u.observer = o
	u.mu.Unlock()
	o.OnSubscribe(stream.CancelFunc(func() {
		u.mu.Lock()
		u.cancels++
		u.mu.Unlock()
	}))
}

func (u *testUpstream[T]) emit(v T) {
	u.mu.Lock()
	o := u.observer
	u.mu.Unlock()
	o.OnNext(v)
}

func (u *testUpstream[T]) fail(err error) {
	u.mu.Lock()
	o := u.observer
	u.mu.Unlock()
	o.OnError(err)
}

func (u *testUpstream[T]) complete() {
	u.mu.Lock()
	o := u.observer
	u.mu.Unlock()
	o.OnComplete()
}

func (u *testUpstream[T]) counts() (subscribes, cancels int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.subscribes, u.cancels
}

// syncRecorder is a thread safe push consumer for the end to end tests.
type syncRecorder[T any] struct {
	mu        sync.Mutex
	cancel    stream.Cancellation
	values    []T
	err       error
	completed bool
}

func (r *syncRecorder[T]) OnSubscribe(c stream.Cancellation) {
	r.mu.Lock()
	r.cancel = c
	r.mu.Unlock()
}

func (r *syncRecorder[T]) OnNext(v T) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
}

func (r *syncRecorder[T]) OnError(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *syncRecorder[T]) OnComplete() {
	r.mu.Lock()
	r.completed = true
	r.mu.Unlock()
}

func (r *syncRecorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

func (r *syncRecorder[T]) terminal() (error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err, r.completed
}

func (r *syncRecorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

func TestShareSubscribesUpstreamOnlyOnce(t *testing.T) {
	upstream := &testUpstream[string]{}
	shared, err := Share[string](upstream)
	if err != nil {
		t.Fatalf("cannot create share, %v", err)
	}

	c1 := &syncRecorder[string]{}
	c2 := &syncRecorder[string]{}
	shared.Subscribe(c1)
	shared.Subscribe(c2)

	subscribes, _ := upstream.counts()
	assert.Equal(t, 1, subscribes)

	upstream.emit("v1")
	waitFor(t, func() bool { return c1.count() == 1 && c2.count() == 1 }, "both consumers should receive the value")
	assert.Equal(t, []string{"v1"}, c1.snapshot())
	assert.Equal(t, []string{"v1"}, c2.snapshot())
}

func TestShareDisconnectsUpstreamWithLastConsumer(t *testing.T) {
	upstream := &testUpstream[string]{}
	shared, err := Share[string](upstream)
	if err != nil {
		t.Fatalf("cannot create share, %v", err)
	}

	c1 := &syncRecorder[string]{}
	c2 := &syncRecorder[string]{}
	shared.Subscribe(c1)
	shared.Subscribe(c2)

	c1.cancel.Cancel()
	_, cancels := upstream.counts()
	assert.Equal(t, 0, cancels, "upstream must stay connected while a consumer remains")

	c2.cancel.Cancel()
	_, cancels = upstream.counts()
	assert.Equal(t, 1, cancels)

	// the next consumer reconnects upstream
	c3 := &syncRecorder[string]{}
	shared.Subscribe(c3)
	subscribes, _ := upstream.counts()
	assert.Equal(t, 2, subscribes)
}

func TestReplayingShareReplaysToLateConsumer(t *testing.T) {
	upstream := &testUpstream[string]{}
	source, err := ReplayingShare[string](upstream)
	if err != nil {
		t.Fatalf("cannot create source, %v", err)
	}

	c1 := &syncRecorder[string]{}
	source.Subscribe(c1)
	if c1.count() != 0 {
		t.Fatalf("nothing was emitted yet, got %v", c1.snapshot())
	}

	upstream.emit("v1")
	waitFor(t, func() bool { return c1.count() == 1 }, "first consumer should receive the live value")

	// the late consumer gets the cached value synchronously at attach time
	c2 := &syncRecorder[string]{}
	source.Subscribe(c2)
	assert.Equal(t, []string{"v1"}, c2.snapshot())

	upstream.emit("v2")
	waitFor(t, func() bool { return c1.count() == 2 && c2.count() == 2 }, "both consumers should receive the next live value")
	assert.Equal(t, []string{"v1", "v2"}, c1.snapshot())
	assert.Equal(t, []string{"v1", "v2"}, c2.snapshot())
}

func TestReplayCacheSurvivesZeroConsumerPeriods(t *testing.T) {
	upstream := &testUpstream[string]{}
	source, err := ReplayingShare[string](upstream)
	if err != nil {
		t.Fatalf("cannot create source, %v", err)
	}

	c1 := &syncRecorder[string]{}
	source.Subscribe(c1)
	upstream.emit("precious")
	waitFor(t, func() bool { return c1.count() == 1 }, "consumer should receive the value")

	c1.cancel.Cancel()
	_, cancels := upstream.counts()
	assert.Equal(t, 1, cancels)

	// upstream is down, yet a fresh consumer still gets the last value
	c2 := &syncRecorder[string]{}
	source.Subscribe(c2)
	assert.Equal(t, []string{"precious"}, c2.snapshot())

	subscribes, _ := upstream.counts()
	assert.Equal(t, 2, subscribes)
}

func TestErrorReachesAllConsumersAndLatches(t *testing.T) {
	upstream := &testUpstream[string]{}
	source, err := ReplayingShare[string](upstream)
	if err != nil {
		t.Fatalf("cannot create source, %v", err)
	}

	c1 := &syncRecorder[string]{}
	c2 := &syncRecorder[string]{}
	source.Subscribe(c1)
	source.Subscribe(c2)

	upstream.emit("v1")
	waitFor(t, func() bool { return c1.count() == 1 && c2.count() == 1 }, "consumers should receive the value")

	boom := errors.New("boom")
	upstream.fail(boom)
	waitFor(t, func() bool {
		e1, _ := c1.terminal()
		e2, _ := c2.terminal()
		return e1 != nil && e2 != nil
	}, "both consumers should observe the error")

	// attaching after the error: terminal only, no replay despite the cache
	c3 := &syncRecorder[string]{}
	source.Subscribe(c3)
	e3, _ := c3.terminal()
	assert.Equal(t, boom, e3)
	assert.Equal(t, 0, c3.count())
}

func TestCompletionLatches(t *testing.T) {
	upstream := &testUpstream[string]{}
	source, err := ReplayingShare[string](upstream)
	if err != nil {
		t.Fatalf("cannot create source, %v", err)
	}

	c1 := &syncRecorder[string]{}
	source.Subscribe(c1)
	upstream.emit("v1")
	upstream.complete()
	waitFor(t, func() bool { _, done := c1.terminal(); return done }, "consumer should observe completion")

	c2 := &syncRecorder[string]{}
	source.Subscribe(c2)
	_, done := c2.terminal()
	assert.True(t, done)
	assert.Equal(t, 0, c2.count())
}

func TestConcurrentConsumersAreIndependent(t *testing.T) {
	upstream := &testUpstream[string]{}
	source, err := ReplayingShare[string](upstream)
	if err != nil {
		t.Fatalf("cannot create source, %v", err)
	}

	seed := &syncRecorder[string]{}
	source.Subscribe(seed)
	upstream.emit("v1")
	waitFor(t, func() bool { return seed.count() == 1 }, "seed consumer should receive the value")

	const n = 8
	recorders := make([]*syncRecorder[string], n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		recorders[i] = &syncRecorder[string]{}
		wg.Add(1)
		go func(r *syncRecorder[string]) {
			defer wg.Done()
			source.Subscribe(r)
		}(recorders[i])
	}
	wg.Wait()

	for i, r := range recorders {
		values := r.snapshot()
		if len(values) == 0 || values[0] != "v1" {
			t.Fatalf("consumer %d did not get the replay first, got %v", i, values)
		}
	}

	upstream.emit("v2")
	waitFor(t, func() bool {
		for _, r := range recorders {
			if r.count() < 2 {
				return false
			}
		}
		return true
	}, "all consumers should receive the live value")

	// cancelling half of them does not disturb the others
	for i := 0; i < n; i += 2 {
		recorders[i].cancel.Cancel()
	}
	upstream.emit("v3")
	waitFor(t, func() bool {
		for i := 1; i < n; i += 2 {
			if recorders[i].count() < 3 {
				return false
			}
		}
		return true
	}, "remaining consumers should receive values after others cancelled")

	for i := 0; i < n; i += 2 {
		assert.Equal(t, []string{"v1", "v2"}, recorders[i].snapshot())
	}
}

func TestShareBackpressureDropsForSlowConsumer(t *testing.T) {
	upstream := &testUpstream[string]{}

	var mu sync.Mutex
	var dropped []interface{}
	shared, err := Share[string](upstream,
		WithBufferLen(1),
		WithOnBackpressure(func(value interface{}) {
			mu.Lock()
			dropped = append(dropped, value)
			mu.Unlock()
		}))
	if err != nil {
		t.Fatalf("cannot create share, %v", err)
	}

	gate := make(chan struct{})
	var cancel stream.Cancellation
	blocked := stream.CreateObserver[string](
		func(c stream.Cancellation) { cancel = c },
		func(string) { <-gate },
		func(error) {},
		func() {},
	)
	shared.Subscribe(blocked)

	for i := 0; i < 10; i++ {
		upstream.emit("v")
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dropped) > 0
	}, "values should be dropped for the blocked consumer")

	close(gate)
	cancel.Cancel()
}
