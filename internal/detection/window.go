package detection

import (
	"sync"
	"time"
)

// windowCounter maps a composite key to an ordered list of hit timestamps. The map lock
// only guards lookup and insertion; each key's read-modify-write runs under that key's
// own mutex so distinct keys never contend.
type windowCounter struct {
	mu      sync.RWMutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	mu   sync.Mutex
	hits []time.Time
	span time.Duration
	dead bool // set once the sweeper removed it from the map
}

func newWindowCounter(now func() time.Time) *windowCounter {
	if now == nil {
		now = time.Now
	}
	return &windowCounter{
		windows: make(map[string]*window),
		now:     now,
	}
}

func (c *windowCounter) get(key string, span time.Duration) *window {
	c.mu.RLock()
	w, ok := c.windows[key]
	c.mu.RUnlock()
	if ok {
		return w
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok = c.windows[key]; ok {
		return w
	}
	w = &window{span: span}
	c.windows[key] = w
	return w
}

// observe records a hit for key, drops hits older than span and returns the count left.
func (c *windowCounter) observe(key string, span time.Duration) int {
	for {
		w := c.get(key, span)
		w.mu.Lock()
		if w.dead {
			// lost a race with sweep; the key has a fresh window now
			w.mu.Unlock()
			continue
		}
		now := c.now()
		w.span = span
		w.hits = append(w.hits, now)
		w.trim(now.Add(-span))
		n := len(w.hits)
		w.mu.Unlock()
		return n
	}
}

// count returns the hits for key still inside span without recording a new one.
func (c *windowCounter) count(key string, span time.Duration) int {
	c.mu.RLock()
	w, ok := c.windows[key]
	c.mu.RUnlock()
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := c.now().Add(-span)
	n := 0
	for _, t := range w.hits {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// sweep removes keys whose newest hit fell out of their window and returns how many
// were removed.
func (c *windowCounter) sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, w := range c.windows {
		w.mu.Lock()
		if len(w.hits) == 0 || !w.hits[len(w.hits)-1].After(now.Add(-w.span)) {
			w.dead = true
			delete(c.windows, key)
			removed++
		}
		w.mu.Unlock()
	}
	return removed
}

func (c *windowCounter) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.windows)
}

func (w *window) trim(cutoff time.Time) {
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// ProbeLimits configures the cheap pre-filter thresholds.
type ProbeLimits struct {
	NotFoundWindow    time.Duration // directory brute force lookback
	NotFoundThreshold int           // 404s within NotFoundWindow that count as probing (>=)
	RateWindow        time.Duration // request-rate lookback
	RateThreshold     int           // requests within RateWindow that count as a violation (>)
}

// DefaultProbeLimits returns 20 404s in 5 minutes and more than 100 requests per minute.
func DefaultProbeLimits() ProbeLimits {
	return ProbeLimits{
		NotFoundWindow:    5 * time.Minute,
		NotFoundThreshold: 20,
		RateWindow:        time.Minute,
		RateThreshold:     100,
	}
}

// ProbeTracker is the process-local pre-filter for high-frequency signals. State is lost on
// restart and is never shared between instances.
type ProbeTracker struct {
	limits   ProbeLimits
	counters *windowCounter
}

// NewProbeTracker returns a tracker using limits. Zero fields fall back to the defaults.
func NewProbeTracker(limits ProbeLimits) *ProbeTracker {
	return newProbeTracker(limits, time.Now)
}

func newProbeTracker(limits ProbeLimits, now func() time.Time) *ProbeTracker {
	def := DefaultProbeLimits()
	if limits.NotFoundWindow <= 0 {
		limits.NotFoundWindow = def.NotFoundWindow
	}
	if limits.NotFoundThreshold <= 0 {
		limits.NotFoundThreshold = def.NotFoundThreshold
	}
	if limits.RateWindow <= 0 {
		limits.RateWindow = def.RateWindow
	}
	if limits.RateThreshold <= 0 {
		limits.RateThreshold = def.RateThreshold
	}
	return &ProbeTracker{limits: limits, counters: newWindowCounter(now)}
}

// Limits returns the effective thresholds.
func (p *ProbeTracker) Limits() ProbeLimits {
	return p.limits
}

// ObserveNotFound records a 404 from ip and reports whether the recent count reaches the
// directory brute force threshold.
func (p *ProbeTracker) ObserveNotFound(ip string) (bool, int) {
	n := p.counters.observe("404:"+ip, p.limits.NotFoundWindow)
	return n >= p.limits.NotFoundThreshold, n
}

// NotFoundCount returns the 404s from ip still inside the window without recording one.
func (p *ProbeTracker) NotFoundCount(ip string) int {
	return p.counters.count("404:"+ip, p.limits.NotFoundWindow)
}

// ObserveRequest records a request from ip to endpoint and reports whether the recent
// count exceeds the rate threshold.
func (p *ProbeTracker) ObserveRequest(ip, endpoint string) (bool, int) {
	n := p.counters.observe("rate:"+ip+":"+endpoint, p.limits.RateWindow)
	return n > p.limits.RateThreshold, n
}

// Sweep drops idle keys and returns how many were removed.
func (p *ProbeTracker) Sweep() int {
	return p.counters.sweep()
}

// Keys returns the number of tracked keys.
func (p *ProbeTracker) Keys() int {
	return p.counters.size()
}
