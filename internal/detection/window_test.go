package detection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestProbeTracker_DefaultsApplied(t *testing.T) {
	p := NewProbeTracker(ProbeLimits{RateThreshold: 5})
	limits := p.Limits()
	assert.Equal(t, 5*time.Minute, limits.NotFoundWindow)
	assert.Equal(t, 20, limits.NotFoundThreshold)
	assert.Equal(t, time.Minute, limits.RateWindow)
	assert.Equal(t, 5, limits.RateThreshold)
}

func TestProbeTracker_NotFoundThreshold(t *testing.T) {
	clock := newFakeClock()
	p := newProbeTracker(DefaultProbeLimits(), clock.Now)

	for i := 1; i < 20; i++ {
		hit, n := p.ObserveNotFound("198.51.100.7")
		require.False(t, hit, "attempt %d", i)
		require.Equal(t, i, n)
		clock.Advance(time.Second)
	}
	hit, n := p.ObserveNotFound("198.51.100.7")
	assert.True(t, hit)
	assert.Equal(t, 20, n)

	// a different IP has its own window
	hit, n = p.ObserveNotFound("198.51.100.8")
	assert.False(t, hit)
	assert.Equal(t, 1, n)
}

func TestProbeTracker_NotFoundWindowSlides(t *testing.T) {
	clock := newFakeClock()
	p := newProbeTracker(ProbeLimits{NotFoundWindow: time.Minute, NotFoundThreshold: 3}, clock.Now)

	p.ObserveNotFound("10.1.1.1")
	p.ObserveNotFound("10.1.1.1")
	clock.Advance(61 * time.Second)

	hit, n := p.ObserveNotFound("10.1.1.1")
	assert.False(t, hit)
	assert.Equal(t, 1, n)
}

func TestProbeTracker_RateStrictlyGreater(t *testing.T) {
	clock := newFakeClock()
	p := newProbeTracker(ProbeLimits{RateWindow: time.Minute, RateThreshold: 3}, clock.Now)

	for i := 0; i < 3; i++ {
		hit, _ := p.ObserveRequest("10.0.0.5", "/api/valves")
		assert.False(t, hit)
	}
	hit, n := p.ObserveRequest("10.0.0.5", "/api/valves")
	assert.True(t, hit)
	assert.Equal(t, 4, n)

	// keyed per endpoint
	hit, n = p.ObserveRequest("10.0.0.5", "/api/pumps")
	assert.False(t, hit)
	assert.Equal(t, 1, n)
}

func TestProbeTracker_Sweep(t *testing.T) {
	clock := newFakeClock()
	p := newProbeTracker(ProbeLimits{NotFoundWindow: time.Minute, RateWindow: time.Minute}, clock.Now)

	p.ObserveNotFound("10.0.0.1")
	p.ObserveRequest("10.0.0.1", "/a")
	clock.Advance(30 * time.Second)
	p.ObserveRequest("10.0.0.2", "/b")
	require.Equal(t, 3, p.Keys())

	assert.Equal(t, 0, p.Sweep())

	clock.Advance(31 * time.Second)
	assert.Equal(t, 2, p.Sweep())
	assert.Equal(t, 1, p.Keys())

	// a swept key starts over
	_, n := p.ObserveNotFound("10.0.0.1")
	assert.Equal(t, 1, n)
}

func TestWindowCounter_Count(t *testing.T) {
	clock := newFakeClock()
	c := newWindowCounter(clock.Now)

	assert.Equal(t, 0, c.count("k", time.Minute))
	c.observe("k", time.Minute)
	c.observe("k", time.Minute)
	assert.Equal(t, 2, c.count("k", time.Minute))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, c.count("k", time.Minute))
}

func TestProbeTracker_ConcurrentObserve(t *testing.T) {
	p := NewProbeTracker(ProbeLimits{NotFoundThreshold: 1000})

	const workers = 16
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				p.ObserveNotFound("203.0.113.9")
				if i%10 == 0 {
					p.Sweep()
				}
			}
		}()
	}
	wg.Wait()

	_, n := p.ObserveNotFound("203.0.113.9")
	assert.Equal(t, workers*perWorker+1, n)
}

func TestProbeTracker_NotFoundCount(t *testing.T) {
	clock := newFakeClock()
	p := newProbeTracker(ProbeLimits{NotFoundWindow: time.Minute, NotFoundThreshold: 5}, clock.Now)

	assert.Equal(t, 0, p.NotFoundCount("10.0.0.9"))
	p.ObserveNotFound("10.0.0.9")
	p.ObserveNotFound("10.0.0.9")
	assert.Equal(t, 2, p.NotFoundCount("10.0.0.9"))
	assert.Equal(t, 2, p.NotFoundCount("10.0.0.9"), "reading does not record")

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, p.NotFoundCount("10.0.0.9"))
}
