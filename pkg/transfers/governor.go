package transfers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seekd/seekd/internal/logger"
	"github.com/seekd/seekd/pkg/users"
)

// refillInterval is the token-bucket refill period. Bucket capacity is one
// interval's worth of the group speed limit (speedLimitKBps × 1024 / 10).
const refillInterval = 100 * time.Millisecond

// UserGroups resolves a username to its configured group name.
type UserGroups interface {
	Group(username string) string
}

// Governor meters upload bandwidth with one token bucket per group. Admitted
// uploads pull byte grants through GetBytes as they stream and credit unused
// grants back through ReturnBytes.
type Governor struct {
	groups   UserGroups
	interval time.Duration
	metrics  TransferMetrics

	buckets atomic.Pointer[map[string]*tokenBucket]

	// mu guards reconfiguration bookkeeping, not the bucket map itself.
	mu          sync.Mutex
	optionsHash string
	globalLimit int
}

// NewGovernor creates a Governor for the configured groups. A nil metrics
// disables instrumentation.
func NewGovernor(groups UserGroups, opts Options, metrics TransferMetrics) *Governor {
	return newGovernorInterval(groups, opts, metrics, refillInterval)
}

// newGovernorInterval allows tests to shorten the refill period.
func newGovernorInterval(groups UserGroups, opts Options, metrics TransferMetrics, interval time.Duration) *Governor {
	g := &Governor{
		groups:   groups,
		interval: interval,
		metrics:  metrics,
	}
	g.apply(opts)
	return g
}

// GetBytes grants up to requested bytes from the bucket of the user's group,
// blocking while the bucket is empty. The grant may be smaller than
// requested; callers must tolerate partial grants. Cancellation releases the
// waiter without consuming tokens.
func (g *Governor) GetBytes(ctx context.Context, username string, requested int) (int, error) {
	group, bucket := g.bucketFor(username)

	granted, err := bucket.acquire(ctx, requested)
	if err != nil {
		return 0, err
	}

	if g.metrics != nil {
		g.metrics.ObserveBytesGranted(group, granted)
	}
	return granted, nil
}

// ReturnBytes credits the unused portion of a grant back to the bucket it
// came from, up to the bucket's capacity. The governor cannot see how much
// of the grant a downstream limiter consumed; it returns what it knows was
// unused locally.
func (g *Governor) ReturnBytes(username string, attempted, granted, actual int) {
	waste := granted - actual
	if waste <= 0 {
		return
	}

	group, bucket := g.bucketFor(username)
	bucket.deposit(int64(waste))

	if g.metrics != nil {
		g.metrics.ObserveBytesReturned(group, waste)
	}
}

// Reconfigure rebuilds the bucket map when the effective group configuration
// or the global speed limit changed. In-flight transfers briefly observe
// buckets reset to full capacity and credits held in the old map are lost.
func (g *Governor) Reconfigure(opts Options) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if opts.groupsHash() == g.optionsHash && opts.GlobalSpeedLimitKBps == g.globalLimit {
		return
	}

	old := *g.buckets.Load()
	g.apply(opts)
	for _, b := range old {
		b.close()
	}

	logger.Info("upload governor reconfigured",
		logger.Limit(opts.GlobalSpeedLimitKBps),
		logger.Count(len(*g.buckets.Load())),
	)
}

// Close stops every bucket's refill goroutine.
func (g *Governor) Close() {
	for _, b := range *g.buckets.Load() {
		b.close()
	}
}

func (g *Governor) apply(opts Options) {
	buckets := make(map[string]*tokenBucket)
	for _, group := range opts.groupSet() {
		capacity := int64(group.SpeedLimitKBps) * 1024 / 10
		buckets[group.Name] = newTokenBucket(capacity, g.interval)
	}

	g.buckets.Store(&buckets)
	g.optionsHash = opts.groupsHash()
	g.globalLimit = opts.GlobalSpeedLimitKBps
}

// bucketFor selects the bucket of the user's group, falling back to the
// default group when no bucket exists for the resolved name.
func (g *Governor) bucketFor(username string) (string, *tokenBucket) {
	group := g.groups.Group(username)
	buckets := *g.buckets.Load()
	if b, ok := buckets[group]; ok {
		return group, b
	}
	return users.GroupDefault, buckets[users.GroupDefault]
}
