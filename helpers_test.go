package vectorguard

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
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

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func boolPtr(v bool) *bool { return &v }

// newTestEngine builds an engine on a fake clock with the classifier rate limit off.
func newTestEngine(t testing.TB, cfg *Config, opts ...Option) (*Engine, *fakeClock) {
	clock := newFakeClock()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Classifier.RateLimit = 0
	t.Helper()
	e, err := NewEngine(cfg, append([]Option{WithClock(clock.Now)}, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, clock
}

// recordPortScan replays 200 TCP probes 10ms apart cycling through 25 ports.
func recordPortScan(e *Engine, clock *fakeClock, source string) {
	for i := 0; i < 200; i++ {
		e.RecordEvent(Event{
			Source:          source,
			Destination:     "10.0.0.5",
			DestinationPort: 1 + i%25,
			Protocol:        ProtocolTCP,
			PayloadSize:     200,
		})
		if i < 199 {
			clock.Advance(10 * time.Millisecond)
		}
	}
}

// recordFlood replays 750 small UDP packets at 150 packets per second to one target.
func recordFlood(e *Engine, clock *fakeClock, source string) {
	start := clock.Now()
	for i := 0; i < 750; i++ {
		clock.Set(start.Add(time.Duration(i) * time.Second / 150))
		e.RecordEvent(Event{
			Source:      source,
			Destination: "10.0.0.9",
			Protocol:    ProtocolUDP,
			PayloadSize: 64,
		})
	}
}

// recordFailedLogins replays n failed SSH logins one second apart.
func recordFailedLogins(e *Engine, clock *fakeClock, source string, n int) {
	for i := 0; i < n; i++ {
		e.RecordEvent(Event{
			Source:          source,
			Destination:     "10.0.0.22",
			DestinationPort: 22,
			Protocol:        ProtocolTCP,
			PayloadSize:     120,
			LoginAttempt:    true,
			LoginFailed:     true,
		})
		if i < n-1 {
			clock.Advance(time.Second)
		}
	}
}
