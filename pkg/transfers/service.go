package transfers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"github.com/seekd/seekd/internal/logger"
	"github.com/seekd/seekd/internal/telemetry"
	"github.com/seekd/seekd/pkg/peer"
	"github.com/seekd/seekd/pkg/relay"
)

// progressInterval is the minimum spacing between persisted progress
// snapshots for a single transfer.
const progressInterval = 250 * time.Millisecond

// Shares is the slice of the shared-file cache the upload service consumes.
type Shares interface {
	// Resolve maps a remote-facing filename to the host serving it and the
	// original filename on that host. An empty host means the file is on
	// local disk; otherwise it names a relay agent. A miss returns
	// shares.ErrNotShared.
	Resolve(ctx context.Context, maskedFilename string) (host string, filename string, err error)

	// RequestScan asks for a background rescan of all shares. Returns
	// immediately; a scan already in progress is not an error.
	RequestScan()
}

// Users is the slice of the user service the upload core consumes.
type Users interface {
	Group(username string) string
	IsWatched(username string) bool
	Watch(username string)
}

// Deps bundles the collaborators of the upload Service. Ledger, Queue,
// Governor, Shares, Users and Peers are required; Relay defaults to
// relay.NopClient and Metrics to disabled.
type Deps struct {
	Ledger   Ledger
	Queue    *Queue
	Governor *Governor
	Shares   Shares
	Users    Users
	Peers    peer.Client
	Relay    relay.Client
	Metrics  TransferMetrics
}

// Service owns the per-transfer upload lifecycle: admission, persistence,
// cancellation, progress throttling and terminal reporting. Each accepted
// request runs as a background task that drives the peer-protocol Upload
// primitive through the callback bundle.
type Service struct {
	ledger   Ledger
	queue    *Queue
	governor *Governor
	shares   Shares
	users    Users
	peers    peer.Client
	relay    relay.Client
	metrics  TransferMetrics

	// ctx is the process-master cancellation source; every per-transfer
	// source is a child of it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cancels *xsync.MapOf[string, context.CancelFunc]
}

// NewService creates the upload service.
func NewService(deps Deps) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		ledger:   deps.Ledger,
		queue:    deps.Queue,
		governor: deps.Governor,
		shares:   deps.Shares,
		users:    deps.Users,
		peers:    deps.Peers,
		relay:    deps.Relay,
		metrics:  deps.Metrics,
		ctx:      ctx,
		cancel:   cancel,
		cancels:  xsync.NewMapOf[string, context.CancelFunc](),
	}
	if s.relay == nil {
		s.relay = relay.NopClient{}
	}
	return s
}

// Close cancels every active transfer and waits for their background tasks
// to finish writing terminal state.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// Enqueue admits an upload request from a peer. It resolves the filename
// against the share index, verifies the physical file, persists a fresh
// ledger row superseding prior attempts, and starts the background transfer
// task. Re-requests while an earlier attempt is still live return the
// existing transfer.
func (s *Service) Enqueue(ctx context.Context, username, filename string) (*Transfer, error) {
	ctx, span := telemetry.StartUploadSpan(ctx, telemetry.SpanUploadEnqueue, username, filename)
	defer span.End()

	host, original, err := s.shares.Resolve(ctx, filename)
	if err != nil {
		return nil, s.reject(ctx, username, filename, "file not shared", err)
	}

	var size int64
	if host == "" {
		info, statErr := os.Stat(original)
		if statErr != nil || info.IsDir() {
			// The index is stale; refresh it in the background.
			s.shares.RequestScan()
			return nil, s.reject(ctx, username, filename, "file not found", statErr)
		}
		size = info.Size()
	} else {
		exists, length, infoErr := s.relay.FileInfo(ctx, host, original)
		if infoErr != nil {
			return nil, s.reject(ctx, username, filename, "agent unavailable", infoErr)
		}
		if !exists {
			return nil, s.reject(ctx, username, filename, "file not found", nil)
		}
		size = length
	}

	live, err := s.ledger.List(ctx, Filter{
		Username:  username,
		Filename:  filename,
		Direction: peer.DirectionUpload,
		Terminal:  NonTerminalOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer ledger: %w", err)
	}
	if len(live) > 0 {
		logger.InfoCtx(ctx, "upload already queued, ignoring re-request",
			logger.TransferID(live[0].ID),
			logger.Username(username),
			logger.Filename(filename),
		)
		return live[0], nil
	}

	t := &Transfer{
		ID:          uuid.New().String(),
		Direction:   peer.DirectionUpload,
		Username:    username,
		Filename:    filename,
		Size:        size,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.ledger.AddOrSupersede(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to persist transfer: %w", err)
	}

	s.users.Watch(username)

	tctx, cancel := context.WithCancel(s.ctx)
	s.cancels.Store(t.ID, cancel)

	if s.metrics != nil {
		s.metrics.ObserveEnqueued()
	}

	s.wg.Add(1)
	go s.run(tctx, t.Clone(), host, original)

	logger.InfoCtx(ctx, "upload enqueued",
		logger.TransferID(t.ID),
		logger.Username(username),
		logger.Filename(filename),
		logger.Size(size),
	)
	return t, nil
}

// TryCancel fires the cancellation source registered for the transfer id.
// Returns whether a cancellation was issued.
func (s *Service) TryCancel(id string) bool {
	cancel, ok := s.cancels.LoadAndDelete(id)
	if ok {
		cancel()
	}
	return ok
}

// Remove soft-deletes a terminal transfer from the ledger. Non-terminal
// transfers are rejected with ErrNotTerminal.
func (s *Service) Remove(ctx context.Context, id string) error {
	return s.ledger.Remove(ctx, id)
}

// Find returns the ledger row for the transfer id.
func (s *Service) Find(ctx context.Context, id string) (*Transfer, error) {
	return s.ledger.Find(ctx, id)
}

// List returns ledger rows matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]*Transfer, error) {
	return s.ledger.List(ctx, filter)
}

// Position returns the 1-based queue position for a pending upload.
func (s *Service) Position(username, filename string) (int, error) {
	return s.queue.Position(username, filename)
}

func (s *Service) reject(ctx context.Context, username, filename, reason string, cause error) error {
	if s.metrics != nil {
		s.metrics.ObserveRejected(reason)
	}
	telemetry.RecordError(ctx, cause)

	logger.WarnCtx(ctx, "upload rejected",
		logger.Username(username),
		logger.Filename(filename),
		logger.Reason(reason),
		logger.Err(cause),
	)

	return &EnqueueError{
		Username: username,
		Filename: filename,
		Reason:   reason,
		Err:      cause,
	}
}

// run drives one transfer to completion on a background goroutine.
func (s *Service) run(ctx context.Context, t *Transfer, host, original string) {
	defer s.wg.Done()
	defer s.cancels.Delete(t.ID)

	u := &upload{
		service:  s,
		transfer: t,
		host:     host,
		original: original,
		sem:      make(chan struct{}, 1),
		limiter:  rate.NewLimiter(rate.Every(progressInterval), 1),
	}

	final, err := s.peers.Upload(ctx, t.Username, t.Filename, t.Size, u.streamFactory(ctx), u.callbacks(ctx))
	u.finish(final, err)
}

// upload tracks the in-flight state of one background upload task.
type upload struct {
	service  *Service
	transfer *Transfer
	host     string
	original string

	// sem is the per-transfer exclusion: every persistence write for this
	// transfer happens while holding it.
	sem          chan struct{}
	terminal     bool // guarded by sem
	enteredQueue bool // guarded by sem

	limiter *rate.Limiter

	mu         sync.Mutex // guards pending, flushTimer, streamID
	pending    *peer.Transfer
	flushTimer *time.Timer
	streamID   string

	slotOnce sync.Once
}

// lock acquires the per-transfer exclusion, abandoning the wait when ctx
// fires.
func (u *upload) lock(ctx context.Context) error {
	select {
	case u.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lockFinal acquires the exclusion without a cancellation path. The terminal
// write must never be abandoned.
func (u *upload) lockFinal() {
	u.sem <- struct{}{}
}

func (u *upload) unlock() {
	<-u.sem
}

// streamFactory returns the input-stream factory handed to the peer library.
// Local files are opened and seeked here; agent files stream through the
// relay under a fresh stream id.
func (u *upload) streamFactory(ctx context.Context) peer.StreamFactory {
	return func(offset int64) (io.ReadCloser, error) {
		if u.host == "" {
			f, err := os.Open(u.original)
			if err != nil {
				return nil, err
			}
			if offset > 0 {
				if _, err := f.Seek(offset, io.SeekStart); err != nil {
					f.Close()
					return nil, err
				}
			}
			return f, nil
		}

		id := uuid.New().String()
		u.mu.Lock()
		u.streamID = id
		u.mu.Unlock()

		return u.service.relay.FileStream(ctx, u.host, u.original, offset, id)
	}
}

// callbacks builds the option bundle handed to the peer library.
func (u *upload) callbacks(ctx context.Context) peer.UploadOptions {
	s := u.service
	t := u.transfer

	return peer.UploadOptions{
		StateChanged: func(change peer.StateChange) {
			u.stateChanged(ctx, change)
		},
		ProgressUpdated: func(p peer.Progress) {
			u.progressUpdated(ctx, p.Transfer)
		},
		Governor: func(gctx context.Context, requested int) (int, error) {
			return s.governor.GetBytes(gctx, t.Username, requested)
		},
		Reporter: func(attempted, granted, actual int) {
			s.governor.ReturnBytes(t.Username, attempted, granted, actual)
		},
		SlotAwaiter: func(actx context.Context) error {
			admitted, err := s.queue.AwaitStart(t.Username, t.Filename)
			if err != nil {
				return err
			}
			select {
			case <-admitted:
				return nil
			case <-actx.Done():
				return actx.Err()
			}
		},
		SlotReleased: func() {
			u.releaseSlot()
		},
		SeekInput:  false,
		CloseInput: true,
	}
}

// stateChanged merges a peer-library state event into the ledger row. On the
// transition into Queued the transfer joins the upload queue; on the
// transition into InProgress the start timestamp is stamped.
func (u *upload) stateChanged(ctx context.Context, change peer.StateChange) {
	s := u.service

	if err := u.lock(ctx); err != nil {
		return
	}
	defer u.unlock()

	if u.terminal {
		return
	}

	t := u.transfer
	previous := t.State
	u.mergeLocked(change.Transfer)
	t.State = change.Current

	now := time.Now().UTC()
	if change.Current.Has(peer.StateQueued) && !previous.Has(peer.StateQueued) {
		s.queue.Enqueue(t.Username, t.Filename)
		t.EnqueuedAt = &now
		u.enteredQueue = true
	}
	if change.Current.Has(peer.StateInProgress) && t.StartedAt == nil {
		t.StartedAt = &now
	}

	logger.DebugCtx(ctx, "upload state changed",
		logger.TransferID(t.ID),
		logger.State(change.Current.String()),
	)

	// The terminal write happens exactly once, on the finish path; after it
	// the row never changes again. Suppress persistence as soon as the
	// terminal event arrives, or a progress snapshot racing ahead of finish
	// would write a row already carrying the Completed flag.
	if change.Current.Terminal() {
		u.terminal = true
		return
	}
	// Shutdown teardown persists terminal states only.
	if s.ctx.Err() != nil {
		return
	}
	if err := s.ledger.Update(ctx, t); err != nil {
		logger.WarnCtx(ctx, "failed to persist transfer state",
			logger.TransferID(t.ID),
			logger.Err(err),
		)
	}
}

// progressUpdated coalesces progress snapshots to at most one persisted
// write per interval: the leading edge persists immediately, later events
// stage the newest snapshot for a trailing flush.
func (u *upload) progressUpdated(ctx context.Context, snapshot peer.Transfer) {
	u.mu.Lock()
	u.pending = &snapshot

	if u.limiter.Allow() {
		latest := *u.pending
		u.pending = nil
		u.mu.Unlock()
		u.persistProgress(ctx, latest)
		return
	}

	if u.flushTimer == nil {
		u.flushTimer = time.AfterFunc(progressInterval, func() {
			u.flushProgress(ctx)
		})
	}
	u.mu.Unlock()
}

func (u *upload) flushProgress(ctx context.Context) {
	u.mu.Lock()
	u.flushTimer = nil
	if u.pending == nil {
		u.mu.Unlock()
		return
	}
	latest := *u.pending
	u.pending = nil
	u.mu.Unlock()

	u.persistProgress(ctx, latest)
}

func (u *upload) persistProgress(ctx context.Context, snapshot peer.Transfer) {
	if err := u.lock(ctx); err != nil {
		return
	}
	defer u.unlock()

	// Progress never lands after the terminal write.
	if u.terminal {
		return
	}

	u.mergeLocked(snapshot)
	if err := u.service.ledger.Update(ctx, u.transfer); err != nil {
		logger.DebugCtx(ctx, "failed to persist transfer progress",
			logger.TransferID(u.transfer.ID),
			logger.Err(err),
		)
	}
}

// mergeLocked copies the peer library's snapshot fields into the ledger row.
// Callers hold the per-transfer exclusion.
func (u *upload) mergeLocked(snapshot peer.Transfer) {
	t := u.transfer

	t.BytesTransferred = snapshot.BytesTransferred
	t.AverageSpeed = snapshot.AverageSpeed
	if snapshot.StartOffset > 0 {
		t.StartOffset = snapshot.StartOffset
	}
	if snapshot.StartedAt != nil {
		t.StartedAt = cloneTime(snapshot.StartedAt)
	}
	if snapshot.EndedAt != nil {
		t.EndedAt = cloneTime(snapshot.EndedAt)
	}
	if snapshot.Exception != "" {
		exc := snapshot.Exception
		t.Exception = &exc
	}
}

// releaseSlot hands the queue slot back exactly once, whether the release
// comes from the peer library or from the terminal path.
func (u *upload) releaseSlot() {
	u.slotOnce.Do(func() {
		u.service.queue.Complete(u.transfer.Username, u.transfer.Filename)
	})
}

// finish writes the terminal state under uncancellable acquisition of the
// per-transfer exclusion and releases every per-transfer resource.
func (u *upload) finish(final peer.Transfer, err error) {
	s := u.service
	t := u.transfer

	u.mu.Lock()
	if u.flushTimer != nil {
		u.flushTimer.Stop()
		u.flushTimer = nil
	}
	u.pending = nil
	streamID := u.streamID
	u.mu.Unlock()

	u.lockFinal()
	u.terminal = true
	enteredQueue := u.enteredQueue

	now := time.Now().UTC()
	switch {
	case err == nil:
		u.mergeLocked(final)
		t.State = final.State
		if t.EndedAt == nil {
			t.EndedAt = &now
		}

	case errors.Is(err, context.Canceled):
		t.State = peer.StateCompleted | peer.StateCancelled
		t.EndedAt = &now
		msg := "upload cancelled"
		t.Exception = &msg
		s.closeRemoteStream(u.host, streamID, err)

	case errors.Is(err, context.DeadlineExceeded):
		t.State = peer.StateCompleted | peer.StateTimedOut
		t.EndedAt = &now
		msg := err.Error()
		t.Exception = &msg
		s.closeRemoteStream(u.host, streamID, err)

	default:
		t.State = peer.StateCompleted | peer.StateErrored
		t.EndedAt = &now
		msg := err.Error()
		t.Exception = &msg
		s.closeRemoteStream(u.host, streamID, err)
	}

	if uerr := s.ledger.Update(context.Background(), t); uerr != nil {
		logger.Error("failed to persist terminal transfer state",
			logger.TransferID(t.ID),
			logger.Err(uerr),
		)
	}
	u.unlock()

	if enteredQueue {
		u.releaseSlot()
	}

	disposition := t.State.Disposition().String()
	if s.metrics != nil {
		var elapsed time.Duration
		if t.StartedAt != nil && t.EndedAt != nil {
			elapsed = t.EndedAt.Sub(*t.StartedAt)
		}
		s.metrics.ObserveCompleted(disposition, elapsed, t.BytesTransferred)
	}

	logger.Info("upload finished",
		logger.TransferID(t.ID),
		logger.Username(t.Username),
		logger.Filename(t.Filename),
		logger.State(t.State.String()),
		logger.BytesSent(t.BytesTransferred),
		logger.Err(err),
	)
}

func (s *Service) closeRemoteStream(host, streamID string, cause error) {
	if host == "" || streamID == "" {
		return
	}
	s.relay.CloseStream(host, streamID, cause)
}
