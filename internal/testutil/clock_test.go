package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAtGivenTime(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := NewClock(start)
	assert.True(t, clock.Now().Equal(start))
}

func TestClock_Advance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := NewClock(start)

	got := clock.Advance(5 * time.Minute)
	assert.True(t, got.Equal(start.Add(5*time.Minute)))
	assert.True(t, clock.Now().Equal(got))

	clock.Set(start)
	assert.True(t, clock.Now().Equal(start))
}

func TestClock_ThreadSafe(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := NewClock(start)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.True(t, clock.Now().Equal(start.Add(50*time.Second)))
}
