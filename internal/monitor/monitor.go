// Package monitor drives one remote display device: it keeps a live event
// subscription through the session transport, supervised by a watchdog,
// and turns playback events into skip, mute and seek commands.
package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"tvskip.app/tvskip/internal/adapters"
	"tvskip.app/tvskip/internal/domain"
	"tvskip.app/tvskip/internal/metrics"
	"tvskip.app/tvskip/internal/skip"
)

const (
	// DefaultBackoff spaces link/availability/connect retries.
	DefaultBackoff = 10 * time.Second

	// DefaultWatchdogWindow bounds the silence tolerated on a healthy
	// subscription; the remote end emits at least one event every 30s.
	DefaultWatchdogWindow = 35 * time.Second

	// DefaultAuthRefreshInterval re-validates the link token.
	DefaultAuthRefreshInterval = 24 * time.Hour

	disconnectTimeout = 5 * time.Second

	shortsDisconnectReason = "disconnectedByUserScreenInitiated"
)

var errSessionDropped = errors.New("session force-dropped")

// defaultClientBlacklist names downstream clients that take over the
// session in a way the monitor cannot drive; their appearance forces a
// drop and reconnect.
var defaultClientBlacklist = []string{"TVHTML5_FOR_KIDS"}

// SegmentSource resolves and acknowledges skip segments. Implemented by
// the segments resolver; faked in tests.
type SegmentSource interface {
	Resolve(ctx context.Context, videoID string) (domain.SegmentSet, error)
	Prefetch(ctx context.Context, videoID string)
	MarkViewed(ctx context.Context, ids []string)
}

// Config assembles one Monitor.
type Config struct {
	Device   domain.Device
	Client   adapters.SessionClient
	Segments SegmentSource

	MuteAds  bool
	SkipAds  bool
	AutoPlay bool
	// ClientBlacklist lists downstream client names whose presence on the
	// session roster forces a drop and reconnect.
	ClientBlacklist []string

	Backoff             time.Duration
	WatchdogWindow      time.Duration
	AuthRefreshInterval time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Monitor is the per-device state machine. Run loops through
// link → availability → connect → subscribe until its context is
// cancelled; any failure drops back to the start of the cycle.
type Monitor struct {
	device    domain.Device
	client    adapters.SessionClient
	segments  SegmentSource
	scheduler *skip.Scheduler

	muteAds   bool
	skipAds   bool
	autoPlay  bool
	blacklist map[string]struct{}

	backoff        time.Duration
	watchdogWindow time.Duration
	authRefresh    time.Duration

	logger  *slog.Logger
	metrics *metrics.Metrics

	// activity is pulsed on every inbound event to reset the watchdog.
	activity chan struct{}

	mu          sync.Mutex
	volume      int
	volumeKnown bool
	muted       bool
	shortsDrop  bool
	dropSession context.CancelFunc
	runCtx      context.Context

	procMu     sync.Mutex
	procCancel context.CancelFunc
	procDone   chan struct{}
}

// New builds a Monitor. The scheduler seeks through the session client and
// reports consumed segments through the segment source.
func New(cfg Config) *Monitor {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.WatchdogWindow <= 0 {
		cfg.WatchdogWindow = DefaultWatchdogWindow
	}
	if cfg.AuthRefreshInterval <= 0 {
		cfg.AuthRefreshInterval = DefaultAuthRefreshInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger := cfg.Logger.With(
		slog.String("device", cfg.Device.DisplayName()),
		slog.String("screen_id", cfg.Device.ScreenID),
	)

	if cfg.ClientBlacklist == nil {
		cfg.ClientBlacklist = defaultClientBlacklist
	}
	blacklist := make(map[string]struct{}, len(cfg.ClientBlacklist))
	for _, name := range cfg.ClientBlacklist {
		blacklist[name] = struct{}{}
	}

	m := &Monitor{
		device:         cfg.Device,
		client:         cfg.Client,
		segments:       cfg.Segments,
		muteAds:        cfg.MuteAds,
		skipAds:        cfg.SkipAds,
		autoPlay:       cfg.AutoPlay,
		blacklist:      blacklist,
		backoff:        cfg.Backoff,
		watchdogWindow: cfg.WatchdogWindow,
		authRefresh:    cfg.AuthRefreshInterval,
		logger:         logger,
		metrics:        cfg.Metrics,
		activity:       make(chan struct{}, 1),
		volume:         100,
	}
	m.scheduler = skip.NewScheduler(cfg.Client.SeekTo, m.reportConsumed, logger, cfg.Metrics)
	return m
}

// Run drives the connection cycle until ctx is cancelled, then tears the
// session down in order: pending skip, playback task, subscription,
// disconnect.
func (m *Monitor) Run(ctx context.Context) {
	m.metrics.MonitorStarted()
	defer m.metrics.MonitorStopped()

	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	m.logger.Info("monitor_starting")
	for ctx.Err() == nil {
		if err := m.runCycle(ctx); err != nil && ctx.Err() == nil {
			m.metrics.IncReconnects()
			m.logger.Debug("session_cycle_ended", slog.String("error", err.Error()))
		}
	}
	m.teardown()
	m.logger.Info("monitor_stopped")
}

// RefreshAuthLoop re-validates the link token on a long interval. Runs
// until ctx is cancelled; refresh failures are logged and retried on the
// next tick.
func (m *Monitor) RefreshAuthLoop(ctx context.Context) {
	ticker := time.NewTicker(m.authRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.client.RefreshAuth(ctx); err != nil {
				m.logger.Debug("auth_refresh_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runCycle walks one pass of the state machine: UNLINKED → LINKING →
// AWAITING_AVAILABILITY → CONNECTING → CONNECTED → SUBSCRIBED. Any error
// returns to the caller, which restarts the cycle.
func (m *Monitor) runCycle(ctx context.Context) error {
	for !m.client.IsLinked() {
		m.logger.Debug("refreshing_auth")
		if err := m.client.RefreshAuth(ctx); err == nil {
			break
		}
		if err := m.sleep(ctx); err != nil {
			return err
		}
	}

	for ctx.Err() == nil {
		available, err := m.client.IsAvailable(ctx)
		if err == nil && available {
			break
		}
		if err := m.sleep(ctx); err != nil {
			return err
		}
	}

	if err := m.client.Connect(ctx); err != nil {
		m.logger.Debug("connect_failed", slog.String("error", err.Error()))
	}
	// A restricted profile accepts the connect call without ever becoming
	// connected; keep retrying on the fixed backoff instead of busy
	// looping.
	for !m.client.IsConnected() && ctx.Err() == nil {
		if err := m.sleep(ctx); err != nil {
			return err
		}
		if err := m.client.Connect(ctx); err != nil {
			m.logger.Debug("connect_failed", slog.String("error", err.Error()))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.logger.Info("device_connected", slog.String("screen_name", m.client.ScreenName()))
	return m.runSubscribed(ctx)
}

// runSubscribed holds the event subscription open, restarting it in place
// whenever the watchdog window elapses without any inbound event. A
// remote drop or subscribe failure returns, sending the cycle back to the
// start.
func (m *Monitor) runSubscribed(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.dropSession = cancel
	m.mu.Unlock()

	m.logger.Info("subscribing")
	sub, err := m.client.Subscribe(subCtx, m.handleEvent)
	if err != nil {
		return err
	}

	watchdog := time.NewTimer(m.watchdogWindow)
	defer watchdog.Stop()

	for {
		select {
		case <-subCtx.Done():
			sub.Cancel()
			<-sub.Done()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errSessionDropped
		case <-sub.Done():
			return sub.Err()
		case <-m.activity:
			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(m.watchdogWindow)
		case <-watchdog.C:
			m.logger.Debug("watchdog_timeout_restarting_subscription")
			m.metrics.IncWatchdogRestarts()
			sub.Cancel()
			<-sub.Done()
			sub, err = m.client.Subscribe(subCtx, m.handleEvent)
			if err != nil {
				return err
			}
			watchdog.Reset(m.watchdogWindow)
		}
	}
}

// handleEvent is the subscription callback. It resets the watchdog and
// dispatches the decoded event.
func (m *Monitor) handleEvent(kind string, payload []byte) {
	select {
	case m.activity <- struct{}{}:
	default:
	}

	event, err := domain.ParseEvent(kind, payload)
	if err != nil {
		m.logger.Debug("event_parse_failed", slog.String("kind", kind), slog.String("error", err.Error()))
		return
	}

	ctx := m.currentCtx()
	switch e := event.(type) {
	case domain.PlaybackEvent:
		if m.muteAds && e.Playback.State == domain.StatePlaying {
			m.mute(ctx, false, true)
		}
		m.startPlaybackTask(e.Playback)
	case domain.AdStateEvent:
		m.handleAdState(ctx, e.AdState, e.SkipEnabled)
	case domain.AdPlayingEvent:
		if e.ContentVideoID != "" {
			m.logger.Info("prefetching_next_video", slog.String("video_id", e.ContentVideoID))
			go m.segments.Prefetch(ctx, e.ContentVideoID)
		} else if m.skipAds && e.SkipEnabled {
			m.logger.Info("ad_skippable_skipping")
			m.skipAd(ctx)
			m.mute(ctx, false, true)
		} else if m.muteAds {
			m.logger.Info("ad_started_muting")
			m.mute(ctx, true, true)
		}
	case domain.VolumeEvent:
		m.mu.Lock()
		m.volume = e.Volume
		m.muted = e.Muted
		m.volumeKnown = true
		m.mu.Unlock()
	case domain.AutoplayUpNextEvent:
		if e.VideoID != "" {
			m.logger.Info("prefetching_next_video", slog.String("video_id", e.VideoID))
			go m.segments.Prefetch(ctx, e.VideoID)
		}
	case domain.LoungeStatusEvent:
		m.checkRoster(e.ClientNames)
	case domain.SubtitlesTrackChangedEvent:
		m.handleSubtitlesChanged(ctx, e.VideoID)
	case domain.ScreenDisconnectedEvent:
		if e.Reason == shortsDisconnectReason {
			m.mu.Lock()
			m.shortsDrop = true
			m.mu.Unlock()
		}
	case domain.AutoplayModeChangedEvent:
		m.setAutoplayMode(ctx)
	case domain.UnknownEvent:
		m.logger.Debug("event_ignored", slog.String("kind", e.Kind))
	}
}

func (m *Monitor) handleAdState(ctx context.Context, adState string, skipEnabled bool) {
	switch {
	case adState == "0":
		m.logger.Info("ad_ended_unmuting")
		m.mute(ctx, false, true)
	case m.skipAds && skipEnabled:
		m.logger.Info("ad_skippable_skipping")
		m.skipAd(ctx)
		m.mute(ctx, false, true)
	case m.muteAds:
		m.logger.Info("ad_started_muting")
		m.mute(ctx, true, true)
	}
}

// startPlaybackTask processes one playback snapshot on its own goroutine,
// cancelling the task of any earlier snapshot first so only the most
// recent one can arm a skip.
func (m *Monitor) startPlaybackTask(state domain.PlaybackState) {
	base := m.currentCtx()
	taskCtx, cancel := context.WithCancel(base)
	done := make(chan struct{})
	snapshotAt := time.Now()

	m.procMu.Lock()
	if m.procCancel != nil {
		m.procCancel()
	}
	m.procCancel = cancel
	m.procDone = done
	m.procMu.Unlock()

	// cancel is not deferred here: an armed skip inherits taskCtx and must
	// outlive this goroutine until a newer snapshot or teardown cancels it.
	go func() {
		defer close(done)
		m.processPlayback(taskCtx, state, snapshotAt)
	}()
}

func (m *Monitor) processPlayback(ctx context.Context, state domain.PlaybackState, snapshotAt time.Time) {
	if state.VideoID == "" {
		return
	}

	set, err := m.segments.Resolve(ctx, state.VideoID)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warn("segment_resolution_failed",
				slog.String("video_id", state.VideoID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if state.State != domain.StatePlaying || ctx.Err() != nil {
		return
	}

	m.logger.Info("video_playing",
		slog.String("video_id", state.VideoID),
		slog.Int("segments", len(set.Segments)),
	)
	if len(set.Segments) == 0 {
		return
	}

	elapsed := time.Since(snapshotAt).Seconds()
	action, ok := skip.NextAction(set.Segments, state.Position, elapsed, m.device.Offset)
	if !ok {
		return
	}
	m.scheduler.Arm(ctx, action)
}

// checkRoster force-drops the session when a disallowed downstream client
// appears; the drop is recovered through the normal reconnect path.
func (m *Monitor) checkRoster(clientNames []string) {
	for _, name := range clientNames {
		if _, banned := m.blacklist[name]; !banned {
			continue
		}
		m.logger.Warn("disallowed_client_detected", slog.String("client", name))
		m.mu.Lock()
		drop := m.dropSession
		m.mu.Unlock()
		if drop != nil {
			drop()
		}
		return
	}
}

// handleSubtitlesChanged finishes the short-form reconnect quirk: after
// the screen silently drops during short-form playback, the next subtitle
// track event identifies the video to re-request.
func (m *Monitor) handleSubtitlesChanged(ctx context.Context, videoID string) {
	m.mu.Lock()
	pending := m.shortsDrop
	m.shortsDrop = false
	m.mu.Unlock()

	if !pending || videoID == "" {
		return
	}
	m.logger.Info("replaying_after_shorts_disconnect", slog.String("video_id", videoID))
	if err := m.client.Command(ctx, "setPlaylist", map[string]string{"videoId": videoID}); err != nil {
		m.logger.Debug("replay_command_failed", slog.String("error", err.Error()))
	}
}

// mute issues setVolume with the tracked volume level. Without override
// the call is a no-op when the device is already in the target state; the
// remote protocol expects the volume echoed back when unmuting.
func (m *Monitor) mute(ctx context.Context, muted, override bool) {
	m.mu.Lock()
	if !override && m.volumeKnown && m.muted == muted {
		m.mu.Unlock()
		return
	}
	m.muted = muted
	volume := m.volume
	m.mu.Unlock()

	args := map[string]string{
		"volume": strconv.Itoa(volume),
		"muted":  strconv.FormatBool(muted),
	}
	if err := m.client.Command(ctx, "setVolume", args); err != nil {
		m.logger.Debug("mute_command_failed", slog.String("error", err.Error()))
		return
	}
	if muted {
		m.metrics.IncAdsMuted()
	}
}

func (m *Monitor) skipAd(ctx context.Context) {
	if err := m.client.Command(ctx, "skipAd", nil); err != nil {
		m.logger.Debug("skip_ad_command_failed", slog.String("error", err.Error()))
		return
	}
	m.metrics.IncAdsSkipped()
}

func (m *Monitor) setAutoplayMode(ctx context.Context) {
	mode := "DISABLED"
	if m.autoPlay {
		mode = "ENABLED"
	}
	if err := m.client.Command(ctx, "setAutoplayMode", map[string]string{"autoplayMode": mode}); err != nil {
		m.logger.Debug("autoplay_command_failed", slog.String("error", err.Error()))
	}
}

func (m *Monitor) reportConsumed(ctx context.Context, ids []string) {
	m.segments.MarkViewed(ctx, ids)
}

// teardown runs after the run loop exits. Cancelling the run context has
// already stopped the armed skip, the watchdog and the subscription
// together, and runSubscribed awaits the subscription before returning;
// what remains here is to await the skip and playback tasks, then
// disconnect last.
func (m *Monitor) teardown() {
	m.scheduler.CancelPending()

	m.procMu.Lock()
	cancel, done := m.procCancel, m.procDone
	m.procCancel, m.procDone = nil, nil
	m.procMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	disconnectCtx, cancelDisconnect := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancelDisconnect()
	if err := m.client.Disconnect(disconnectCtx); err != nil {
		m.logger.Debug("disconnect_failed", slog.String("error", err.Error()))
	}
}

func (m *Monitor) currentCtx() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.Background()
}

// sleep waits one backoff interval or until cancellation.
func (m *Monitor) sleep(ctx context.Context) error {
	timer := time.NewTimer(m.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
