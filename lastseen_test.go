package replayshare

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLastSeenStartsEmpty(t *testing.T) {
	var l lastSeen[string]
	_, ok := l.load()
	assert.False(t, ok)
}

func TestLastSeenLatestWriteWins(t *testing.T) {
	var l lastSeen[string]
	l.store("first")
	l.store("second")

	v, ok := l.load()
	assert.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestLastSeenZeroValueIsALegitimateValue(t *testing.T) {
	var l lastSeen[int]
	l.store(0)

	v, ok := l.load()
	assert.True(t, ok)
	assert.Equal(t, 0, v)
}

func TestLastSeenConcurrentAccess(t *testing.T) {
	var l lastSeen[int]
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				l.store(base + i)
			}
		}(w * 10000)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if v, ok := l.load(); ok && v < 0 {
					t.Error("observed a value that was never stored")
					return
				}
			}
		}()
	}
	wg.Wait()

	_, ok := l.load()
	assert.True(t, ok)
}
