package skip

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"tvskip.app/tvskip/internal/metrics"
)

// SeekFunc issues the remote seek for a fired skip.
type SeekFunc func(ctx context.Context, position float64) error

// ConsumedFunc reports skipped segment identifiers. Called asynchronously
// after a successful seek; implementations must be best-effort.
type ConsumedFunc func(ctx context.Context, ids []string)

// Scheduler owns the single pending skip of one device. Arming a new
// action cancels any still-pending one, so only the plan of the most
// recent playback snapshot can fire.
type Scheduler struct {
	seek     SeekFunc
	consumed ConsumedFunc
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	pending *pendingSkip
}

type pendingSkip struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a Scheduler for one device.
func NewScheduler(seek SeekFunc, consumed ConsumedFunc, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		seek:     seek,
		consumed: consumed,
		logger:   logger,
		metrics:  m,
	}
}

// Arm schedules action, superseding any pending skip. The skip fires after
// action.Delay (immediately when non-positive) unless superseded or the
// context is cancelled first. A ctx already cancelled at entry arms
// nothing: it belongs to a superseded snapshot, and its plan must not
// displace the live one.
func (s *Scheduler) Arm(ctx context.Context, action Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	skipCtx, cancel := context.WithCancel(ctx)
	p := &pendingSkip{cancel: cancel, done: make(chan struct{})}
	if s.pending != nil {
		s.pending.cancel()
	}
	s.pending = p

	go s.run(skipCtx, p, action)
}

// CancelPending cancels the armed skip, if any, and waits for its task to
// finish.
func (s *Scheduler) CancelPending() {
	s.mu.Lock()
	p := s.pending
	s.pending = nil
	s.mu.Unlock()

	if p == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (s *Scheduler) run(ctx context.Context, p *pendingSkip, action Action) {
	defer close(p.done)
	defer p.cancel()

	if action.Delay > 0 {
		timer := time.NewTimer(action.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
	if ctx.Err() != nil {
		return
	}

	s.logger.Info("skipping_segment",
		slog.Float64("target", action.Target),
		slog.Int("segment_ids", len(action.SegmentIDs)),
	)
	if err := s.seek(ctx, action.Target); err != nil {
		s.logger.Warn("seek_failed",
			slog.Float64("target", action.Target),
			slog.String("error", err.Error()),
		)
		return
	}
	s.metrics.IncSkipsFired()

	if s.consumed != nil && len(action.SegmentIDs) > 0 {
		ids := append([]string{}, action.SegmentIDs...)
		go s.consumed(context.WithoutCancel(ctx), ids)
	}
}
