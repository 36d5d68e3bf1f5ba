package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClock_Step(t *testing.T) {
	clock := NewClock(Epoch, time.Second)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), clock.Peek())
}

func TestClock_ZeroStep(t *testing.T) {
	clock := NewClock(Epoch, 0)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch, clock.Now())

	clock.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour), clock.Now())

	later := Epoch.Add(48 * time.Hour)
	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestClock_Concurrent(t *testing.T) {
	clock := NewClock(Epoch, time.Millisecond)
	const goroutines = 50

	readings := make(chan time.Time, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			readings <- clock.Now()
		}()
	}
	wg.Wait()
	close(readings)

	seen := make(map[time.Time]bool)
	for r := range readings {
		assert.False(t, seen[r], "reading %v returned twice", r)
		seen[r] = true
	}
	assert.Equal(t, Epoch.Add(goroutines*time.Millisecond), clock.Peek())
}
