package embedding

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// pacer spaces out requests that actually reach the remote service: a
// minimum interval with a little jitter between consecutive requests, plus a
// longer pause after every burstEvery requests to stay clear of sustained
// quota limits. Cache hits never touch it.
type pacer struct {
	mu          sync.Mutex
	minInterval time.Duration
	longPause   time.Duration
	burstEvery  int
	lastRequest time.Time
	requests    int
	rng         *rand.Rand

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func newPacer(minInterval, longPause time.Duration, burstEvery int) *pacer {
	if minInterval <= 0 {
		minInterval = 100 * time.Millisecond
	}
	if longPause <= 0 {
		longPause = time.Second
	}
	if burstEvery <= 0 {
		burstEvery = 25
	}
	return &pacer{
		minInterval: minInterval,
		longPause:   longPause,
		burstEvery:  burstEvery,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// wait blocks until the next remote request is allowed and counts it.
func (p *pacer) wait(ctx context.Context) error {
	p.mu.Lock()
	elapsed := time.Since(p.lastRequest)
	var pause time.Duration
	if elapsed < p.minInterval {
		jitter := time.Duration(p.rng.Int63n(int64(p.minInterval)/2 + 1))
		pause = p.minInterval - elapsed + jitter
	}
	if p.requests > 0 && p.requests%p.burstEvery == 0 {
		pause += p.longPause + time.Duration(p.rng.Int63n(int64(p.longPause)/2+1))
	}
	p.requests++
	sleep := p.sleep
	p.mu.Unlock()

	if pause > 0 {
		if err := sleep(ctx, pause); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.lastRequest = time.Now()
	p.mu.Unlock()
	return nil
}

func (p *pacer) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests
}
