package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var start = time.Date(2024, 3, 16, 9, 0, 0, 0, time.UTC)

func TestClock_Frozen(t *testing.T) {
	c := NewClock(start)
	assert.Equal(t, start, c.Now())
	assert.Equal(t, start, c.Now())
}

func TestClock_AdvanceAndSet(t *testing.T) {
	c := NewClock(start)
	assert.Equal(t, start.Add(time.Hour), c.Advance(time.Hour))
	assert.Equal(t, start.Add(time.Hour), c.Now())

	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestClock_ConcurrentAdvance(t *testing.T) {
	c := NewClock(start)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Second)
		}()
	}
	wg.Wait()
	assert.Equal(t, start.Add(100*time.Second), c.Now())
}
