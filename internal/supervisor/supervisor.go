// Package supervisor owns the device monitors: it builds one session
// client and monitor per configured device, runs them until shutdown and
// tears them down as a group.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"tvskip.app/tvskip/internal/adapters"
	"tvskip.app/tvskip/internal/domain"
	"tvskip.app/tvskip/internal/metrics"
	"tvskip.app/tvskip/internal/monitor"
)

// ErrNoSessionFactory is returned when Start is called without a wired
// session transport.
var ErrNoSessionFactory = errors.New("no session client factory configured")

// DefaultShutdownTimeout bounds how long Close waits for the monitors.
const DefaultShutdownTimeout = 10 * time.Second

// Config assembles a Supervisor.
type Config struct {
	Devices  []domain.Device
	Bundle   *adapters.Bundle
	Segments monitor.SegmentSource

	JoinName string
	MuteAds  bool
	SkipAds  bool
	AutoPlay bool
	// ClientBlacklist is forwarded to every monitor.
	ClientBlacklist []string

	ShutdownTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Supervisor fans the configured devices out into monitors and owns their
// lifecycle.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New builds a Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Supervisor{cfg: cfg, logger: cfg.Logger}
}

// Start launches one monitor and one auth-refresh loop per device. The
// monitors run until Close or until ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("supervisor already started")
	}
	if s.cfg.Bundle == nil || !s.cfg.Bundle.SessionFactoryWired() {
		return ErrNoSessionFactory
	}
	if len(s.cfg.Devices) == 0 {
		return errors.New("no devices configured")
	}

	monitors := make([]*monitor.Monitor, 0, len(s.cfg.Devices))
	for _, device := range s.cfg.Devices {
		client, err := s.cfg.Bundle.SessionFactory.NewSessionClient(device.ScreenID, s.cfg.JoinName)
		if err != nil {
			return fmt.Errorf("session client for %s: %w", device.DisplayName(), err)
		}
		monitors = append(monitors, monitor.New(monitor.Config{
			Device:          device,
			Client:          client,
			Segments:        s.cfg.Segments,
			MuteAds:         s.cfg.MuteAds,
			SkipAds:         s.cfg.SkipAds,
			AutoPlay:        s.cfg.AutoPlay,
			ClientBlacklist: s.cfg.ClientBlacklist,
			Logger:          s.logger,
			Metrics:         s.cfg.Metrics,
		}))
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.started = true

	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, m := range monitors {
			wg.Add(2)
			go func(m *monitor.Monitor) {
				defer wg.Done()
				m.Run(runCtx)
			}(m)
			go func(m *monitor.Monitor) {
				defer wg.Done()
				m.RefreshAuthLoop(runCtx)
			}(m)
		}
		wg.Wait()
	}()

	s.logger.Info("supervisor_started", slog.Int("devices", len(s.cfg.Devices)))
	return nil
}

// Done is closed once every monitor has stopped. Nil before Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Close stops all monitors and waits, bounded by the shutdown timeout.
// Teardown is best effort; an overrun is logged, never escalated.
func (s *Supervisor) Close() {
	s.mu.Lock()
	cancel, done, started := s.cancel, s.done, s.started
	s.cancel = nil
	s.mu.Unlock()

	if !started || cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
		s.logger.Info("supervisor_stopped")
	case <-time.After(s.cfg.ShutdownTimeout):
		s.logger.Warn("supervisor_shutdown_timeout")
	}
}
