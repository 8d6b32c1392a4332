package transfers

import (
	"sort"
	"sync"
	"time"

	"github.com/seekd/seekd/internal/logger"
	"github.com/seekd/seekd/pkg/users"
)

// entry is one pending upload waiting for a slot. Lives only in memory; at
// most one entry exists per (username, filename) pair.
type entry struct {
	username   string
	filename   string
	enqueuedAt time.Time
	readyAt    time.Time // zero until the transfer reaches its slot-await point

	// admitted is the one-shot admission signal, closed when the entry
	// receives a slot.
	admitted chan struct{}
}

func (e *entry) ready() bool {
	return !e.readyAt.IsZero()
}

// queueGroup holds one group's pending entries and slot accounting.
type queueGroup struct {
	name      string
	priority  int
	slots     int
	strategy  QueueStrategy
	usedSlots int
	entries   []*entry
}

// find returns the pending entry for (username, filename), or nil.
func (g *queueGroup) find(username, filename string) *entry {
	for _, e := range g.entries {
		if e.username == username && e.filename == filename {
			return e
		}
	}
	return nil
}

// remove drops the pending entry for (username, filename) and reports
// whether one existed.
func (g *queueGroup) remove(username, filename string) bool {
	for i, e := range g.entries {
		if e.username == username && e.filename == filename {
			g.entries = append(g.entries[:i], g.entries[i+1:]...)
			return true
		}
	}
	return false
}

// takeNextReady removes and returns the ready entry the group's strategy
// selects: FIFO picks the earliest enqueued-at, round-robin the earliest
// ready-at. Returns nil when no entry is ready.
func (g *queueGroup) takeNextReady() *entry {
	best := -1
	for i, e := range g.entries {
		if !e.ready() {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		current := g.entries[best]
		if g.strategy == StrategyRoundRobin {
			if e.readyAt.Before(current.readyAt) {
				best = i
			}
		} else if e.enqueuedAt.Before(current.enqueuedAt) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}

	e := g.entries[best]
	g.entries = append(g.entries[:best], g.entries[best+1:]...)
	return e
}

// Queue decides which pending upload is admitted to the next free slot,
// honouring per-group slot budgets, group priority ordering, and per-group
// queue strategy. All state is in memory behind a single mutex; admission
// processing runs under the same mutex as the mutating operations.
type Queue struct {
	groups  UserGroups
	metrics TransferMetrics

	mu          sync.Mutex
	globalSlots int
	order       []*queueGroup // ascending priority
	byName      map[string]*queueGroup
	optionsHash string
}

// NewQueue creates a Queue for the configured groups. A nil metrics disables
// instrumentation.
func NewQueue(groups UserGroups, opts Options, metrics TransferMetrics) *Queue {
	q := &Queue{groups: groups, metrics: metrics}
	q.applyLocked(opts)
	return q
}

// Enqueue registers a pending upload in the user's group and triggers an
// admission pass. Enqueueing an already-pending (username, filename) pair is
// a no-op.
func (q *Queue) Enqueue(username, filename string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	g := q.groupForLocked(username)
	if g.find(username, filename) == nil {
		g.entries = append(g.entries, &entry{
			username:   username,
			filename:   filename,
			enqueuedAt: time.Now().UTC(),
			admitted:   make(chan struct{}),
		})
		q.publishDepthLocked(g)
	}

	q.processLocked()
}

// AwaitStart marks the entry ready and returns its one-shot admission
// signal. The signal is obtained under the mutex; callers wait on it
// outside. Returns ErrNotQueued when the user's group has no entry for the
// filename.
func (q *Queue) AwaitStart(username, filename string) (<-chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	g := q.groupForLocked(username)
	e := g.find(username, filename)
	if e == nil {
		return nil, ErrNotQueued
	}

	e.readyAt = time.Now().UTC()
	ch := e.admitted

	q.processLocked()
	return ch, nil
}

// Complete signals that an upload finished or was abandoned. A still-pending
// entry for the pair is cleaned up without touching slot accounting; an
// admitted upload releases its group slot (floor zero). Either way another
// admission pass runs.
func (q *Queue) Complete(username, filename string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	name := q.groups.Group(username)
	if name == "" {
		name = users.GroupDefault
	}
	g, ok := q.byName[name]
	if !ok {
		return
	}

	if g.remove(username, filename) {
		q.publishDepthLocked(g)
	} else {
		g.usedSlots = max(0, g.usedSlots-1)
		if q.metrics != nil {
			q.metrics.SetUsedSlots(g.name, g.usedSlots)
		}
	}

	q.processLocked()
}

// Position returns the 1-based place of a pending entry within its group's
// strategy ordering. Returns ErrNotQueued when no entry exists.
func (q *Queue) Position(username, filename string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	g := q.groupForLocked(username)
	target := g.find(username, filename)
	if target == nil {
		return 0, ErrNotQueued
	}

	position := 1
	for _, e := range g.entries {
		if e == target {
			continue
		}
		if q.orderedBefore(g, e, target) {
			position++
		}
	}
	return position, nil
}

// Len returns the number of pending entries across all groups.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for _, g := range q.order {
		total += len(g.entries)
	}
	return total
}

// UsedSlots returns the sum of used slots across all groups.
func (q *Queue) UsedSlots() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.usedSlotsLocked()
}

// Reconfigure rebuilds the group set when the effective group configuration
// changed, preserving used-slot counters by group name and re-homing pending
// entries to their users' current groups.
func (q *Queue) Reconfigure(opts Options) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if opts.groupsHash() == q.optionsHash {
		return
	}

	q.applyLocked(opts)

	logger.Info("upload queue reconfigured",
		logger.Slots(opts.GlobalSlots),
		logger.Count(len(q.order)),
	)

	q.processLocked()
}

// applyLocked rebuilds groups from options. Existing used-slot counters are
// carried over by name; pending entries are redistributed by resolving each
// username's group afresh.
func (q *Queue) applyLocked(opts Options) {
	var pending []*entry
	for _, g := range q.order {
		pending = append(pending, g.entries...)
	}

	previous := q.byName
	q.globalSlots = opts.GlobalSlots
	q.byName = make(map[string]*queueGroup)
	q.order = q.order[:0]

	for _, def := range opts.groupSet() {
		g := &queueGroup{
			name:     def.Name,
			priority: def.Priority,
			slots:    def.Slots,
			strategy: def.Strategy,
		}
		if old, ok := previous[def.Name]; ok {
			g.usedSlots = old.usedSlots
		}
		q.byName[g.name] = g
		q.order = append(q.order, g)
	}

	sort.SliceStable(q.order, func(i, j int) bool {
		return q.order[i].priority < q.order[j].priority
	})

	for _, e := range pending {
		g := q.groupForLocked(e.username)
		g.entries = append(g.entries, e)
	}

	q.optionsHash = opts.groupsHash()
}

// processLocked runs the admission pass: while global slots remain, iterate
// groups in ascending priority, admitting one ready entry per eligible group
// per sweep, and keep sweeping until nothing further can be admitted.
func (q *Queue) processLocked() {
	for {
		if q.usedSlotsLocked() >= q.globalSlots {
			return
		}

		admitted := false
		for _, g := range q.order {
			if q.usedSlotsLocked() >= q.globalSlots {
				return
			}
			if g.usedSlots >= g.slots {
				continue
			}

			e := g.takeNextReady()
			if e == nil {
				continue
			}

			close(e.admitted)
			g.usedSlots++
			admitted = true

			if q.metrics != nil {
				q.metrics.ObserveAdmitted(g.name, time.Since(e.enqueuedAt))
				q.metrics.SetUsedSlots(g.name, g.usedSlots)
			}
			q.publishDepthLocked(g)

			logger.Debug("upload slot granted",
				logger.Username(e.username),
				logger.Filename(e.filename),
				logger.Group(g.name),
				logger.UsedSlots(g.usedSlots),
			)
		}

		if !admitted {
			return
		}
	}
}

func (q *Queue) usedSlotsLocked() int {
	used := 0
	for _, g := range q.order {
		used += g.usedSlots
	}
	return used
}

// groupForLocked resolves the username's group, mapping empty or unknown
// resolutions to the default group.
func (q *Queue) groupForLocked(username string) *queueGroup {
	name := q.groups.Group(username)
	if name == "" {
		name = users.GroupDefault
	}
	if g, ok := q.byName[name]; ok {
		return g
	}
	return q.byName[users.GroupDefault]
}

func (q *Queue) orderedBefore(g *queueGroup, a, b *entry) bool {
	if g.strategy == StrategyRoundRobin {
		switch {
		case a.ready() && !b.ready():
			return true
		case !a.ready() && b.ready():
			return false
		case a.ready() && b.ready():
			return a.readyAt.Before(b.readyAt)
		}
	}
	return a.enqueuedAt.Before(b.enqueuedAt)
}

func (q *Queue) publishDepthLocked(g *queueGroup) {
	if q.metrics != nil {
		q.metrics.SetQueueDepth(g.name, len(g.entries))
	}
}
