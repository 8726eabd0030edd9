package stream

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCreateObserverDispatchesToFuncs(t *testing.T) {
	var gotCancel Cancellation
	var values []string
	var errs []error
	completions := 0

	o := CreateObserver[string](
		func(c Cancellation) { gotCancel = c },
		func(v string) { values = append(values, v) },
		func(err error) { errs = append(errs, err) },
		func() { completions++ },
	)

	cancelled := false
	o.OnSubscribe(CancelFunc(func() { cancelled = true }))
	o.OnNext("a")
	o.OnNext("b")
	o.OnComplete()

	assert.NotNil(t, gotCancel)
	gotCancel.Cancel()
	assert.True(t, cancelled)
	assert.Equal(t, []string{"a", "b"}, values)
	assert.Empty(t, errs)
	assert.Equal(t, 1, completions)

	boom := errors.New("boom")
	o.OnError(boom)
	assert.Equal(t, []error{boom}, errs)
}

type countingSubscription struct {
	requested int64
	cancelled bool
}

func (s *countingSubscription) Request(n int64) { s.requested += n }
func (s *countingSubscription) Cancel()        { s.cancelled = true }

func TestCreateSubscriberDispatchesToFuncs(t *testing.T) {
	var gotSub Subscription
	var values []int

	s := CreateSubscriber[int](
		func(sub Subscription) { gotSub = sub },
		func(v int) { values = append(values, v) },
		func(error) {},
		func() {},
	)

	sub := &countingSubscription{}
	s.OnSubscribe(sub)
	gotSub.Request(3)
	s.OnNext(1)
	s.OnNext(2)
	gotSub.Cancel()

	assert.Equal(t, int64(3), sub.requested)
	assert.True(t, sub.cancelled)
	assert.Equal(t, []int{1, 2}, values)
}

func TestUnboundedIsTheMaximumDemand(t *testing.T) {
	assert.Equal(t, int64(math.MaxInt64), Unbounded)
}
