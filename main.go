package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"tvskip.app/tvskip/internal/adapters"
	"tvskip.app/tvskip/internal/buildinfo"
	"tvskip.app/tvskip/internal/config"
	"tvskip.app/tvskip/internal/diagnostics"
	"tvskip.app/tvskip/internal/lifecycle"
	"tvskip.app/tvskip/internal/metrics"
	"tvskip.app/tvskip/internal/segments"
	"tvskip.app/tvskip/internal/supervisor"
)

const defaultConfigPath = "config.json"

func main() {
	selfTest := flag.Bool("self-test", false, "run config and wiring diagnostics then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to the config file")
	pairCode := flag.String("pair", "", "link a new screen with the given pairing code and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.Version)
		return
	}

	path := config.PathFromEnv(*configPath, defaultConfigPath)
	bundle := adapters.NewBundle()

	if *selfTest {
		cfg, err := config.Load(path)
		if err != nil {
			cfg = nil
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(diagnostics.Build(path, cfg, bundle)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logLevel := parseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	runCtx, stopSignals := signal.NotifyContext(context.Background(), lifecycle.TerminationSignals()...)
	defer stopSignals()

	if *pairCode != "" {
		if err := runPairing(runCtx, bundle, cfg, *pairCode); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger.Info("tvskip_start",
		slog.String("version", buildinfo.Version),
		slog.String("log_level", logLevel.String()),
		slog.Int("devices", len(cfg.Devices)),
	)

	promMetrics := metrics.New()

	client := segments.NewClient(segments.ClientConfig{
		APIBase:    cfg.SegmentAPIBase,
		Categories: cfg.SkipCategories,
		UserAgent:  "tvskip/" + buildinfo.Version,
		Logger:     logger,
	})
	resolver, err := segments.NewResolver(segments.ResolverConfig{
		Client:      client,
		Whitelist:   whitelistFor(bundle, cfg),
		ReportViews: cfg.SkipCountTracking,
		Logger:      logger,
		Metrics:     promMetrics,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	super := supervisor.New(supervisor.Config{
		Devices:  cfg.Devices,
		Bundle:   bundle,
		Segments: resolver,
		JoinName: cfg.JoinName,
		MuteAds:  cfg.MuteAds,
		SkipAds:  cfg.SkipAds,
		AutoPlay: cfg.AutoPlay,
		Logger:   logger,
		Metrics:  promMetrics,
	})
	if err := super.Start(runCtx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = serveMetrics(cfg.MetricsAddr, promMetrics, logger)
	}

	<-runCtx.Done()
	logger.Info("tvskip_stopping", slog.String("reason", runCtx.Err().Error()))

	super.Close()
	if metricsSrv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics_shutdown_failed", slog.String("error", err.Error()))
		}
	}
}

// runPairing links one new screen by code using the wired transport.
func runPairing(ctx context.Context, bundle *adapters.Bundle, cfg *config.Config, code string) error {
	if !bundle.SessionFactoryWired() {
		return errors.New("pairing requires a session transport; none is wired in this build")
	}
	client, err := bundle.SessionFactory.NewSessionClient("", cfg.JoinName)
	if err != nil {
		return err
	}
	ok, err := client.Pair(ctx, strings.ReplaceAll(code, "-", ""))
	if err != nil {
		return fmt.Errorf("pairing failed: %w", err)
	}
	if !ok {
		return errors.New("pairing rejected; check the code and try again")
	}
	fmt.Printf("paired with %s\n", client.ScreenName())
	return nil
}

func whitelistFor(bundle *adapters.Bundle, cfg *config.Config) segments.Whitelist {
	if bundle.Whitelist == nil || len(cfg.ChannelWhitelist) == 0 {
		return nil
	}
	return bundle.Whitelist
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("metrics_listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()
	return srv
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "invalid log level %q; defaulting to info\n", raw)
		return slog.LevelInfo
	}
}
