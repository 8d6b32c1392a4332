package transfers

import (
	"context"
	"sync"
	"time"
)

// tokenBucket meters one group's upload bandwidth. The balance is reset to
// capacity every refill interval by a bucket-owned goroutine; callers take
// partial grants whenever any balance remains and block otherwise.
type tokenBucket struct {
	capacity int64

	mu      sync.Mutex
	balance int64
	notify  chan struct{} // closed and replaced whenever balance becomes available

	stop     chan struct{}
	stopOnce sync.Once
}

// newTokenBucket creates a bucket with the given capacity and starts its
// refill goroutine. Capacity is clamped to at least one byte per interval.
func newTokenBucket(capacity int64, interval time.Duration) *tokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	b := &tokenBucket{
		capacity: capacity,
		balance:  capacity,
		notify:   make(chan struct{}),
		stop:     make(chan struct{}),
	}
	go b.refillLoop(interval)
	return b
}

// acquire grants up to requested bytes. If the balance is empty it blocks
// until the next refill or until ctx is done; a non-empty balance yields an
// immediate, possibly partial, grant.
func (b *tokenBucket) acquire(ctx context.Context, requested int) (int, error) {
	if requested <= 0 {
		return 0, nil
	}

	for {
		b.mu.Lock()
		if b.balance > 0 {
			granted := int64(requested)
			if granted > b.balance {
				granted = b.balance
			}
			b.balance -= granted
			b.mu.Unlock()
			return int(granted), nil
		}
		ready := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ready:
		}
	}
}

// deposit credits unused bytes back, capped at capacity. Over-credit is
// silently discarded.
func (b *tokenBucket) deposit(n int64) {
	if n <= 0 {
		return
	}
	b.mu.Lock()
	b.balance += n
	if b.balance > b.capacity {
		b.balance = b.capacity
	}
	b.wakeLocked()
	b.mu.Unlock()
}

// close stops the refill goroutine. Pending acquirers keep blocking until
// their context fires; closed buckets are only reachable from swapped-out
// maps.
func (b *tokenBucket) close() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *tokenBucket) refillLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			b.balance = b.capacity
			b.wakeLocked()
			b.mu.Unlock()
		}
	}
}

func (b *tokenBucket) wakeLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}
