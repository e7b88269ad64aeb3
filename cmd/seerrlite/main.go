// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/autobrr/seerrlite/internal/api"
	"github.com/autobrr/seerrlite/internal/buildinfo"
	"github.com/autobrr/seerrlite/internal/config"
	"github.com/autobrr/seerrlite/internal/domain"
	"github.com/autobrr/seerrlite/internal/metrics"
	"github.com/autobrr/seerrlite/internal/models"
	"github.com/autobrr/seerrlite/internal/services/acquisition"
	"github.com/autobrr/seerrlite/internal/services/overseerr"
	"github.com/autobrr/seerrlite/internal/services/ranking"
	"github.com/autobrr/seerrlite/internal/services/realdebrid"
	"github.com/autobrr/seerrlite/internal/services/torrentio"
	"github.com/autobrr/seerrlite/internal/services/trakt"
	"github.com/autobrr/seerrlite/internal/transport"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "seerrlite",
		Short: "Fulfil Overseerr requests through Torrentio and Real-Debrid",
		Long: `seerrlite - watches Overseerr and Jellyseerr for approved requests, finds
cached releases through Torrentio and adds the best one to Real-Debrid.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunSyncCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		logPath   string
		assumeYes bool
		noSync    bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and request workers",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/seerrlite/ or %APPDATA%\\seerrlite\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVarP(&assumeYes, "yes", "y", false, "run the startup sync without asking")
	command.Flags().BoolVar(&noSync, "no-sync", false, "skip the startup sync")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		app := NewApplication(configDir, logPath)
		return app.runServer(assumeYes, noSync)
	}

	return command
}

func RunSyncCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "sync",
		Short: "Process every approved Overseerr request once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := NewApplication(configDir, "")
			summary, err := app.runSync(cmd.Context())
			printSummary(cmd, summary)
			return err
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of seerrlite",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
			if buildinfo.Commit != "" {
				fmt.Printf("commit: %s\n", buildinfo.Commit)
			}
			if buildinfo.Date != "" {
				fmt.Printf("built: %s\n", buildinfo.Date)
			}
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/seerrlite/config.toml
- Windows: %APPDATA%\seerrlite\config.toml

You can specify either a directory path or a direct file path:
- Directory: seerrlite generate-config --config-dir /path/to/config/
- File: seerrlite generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := filepath.Join(config.GetDefaultConfigDir(), "config.toml")
			if configDir != "" {
				configPath = config.ResolveConfigPath(configDir)
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	logPath   string
}

func NewApplication(configDir, logPath string) *Application {
	return &Application{
		configDir: configDir,
		logPath:   logPath,
	}
}

// stack is the wired acquisition pipeline shared by serve and sync.
type stack struct {
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	ranker    *ranking.RLSRanker
	overseerr *overseerr.Client
	service   *acquisition.Service
}

func (app *Application) loadConfig() (*config.AppConfig, error) {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		return nil, errors.Wrap(err, "initialize configuration")
	}

	if app.logPath != "" {
		os.Setenv("SEERRLITE__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()
	return cfg, nil
}

func serviceConfig(conf *domain.Config, startupSync, polling bool) (acquisition.Config, error) {
	pushSelection, err := models.ParseSelectionMode(conf.PushSelection)
	if err != nil {
		return acquisition.Config{}, errors.Wrap(err, "push selection")
	}
	pollSelection, err := models.ParseSelectionMode(conf.PollSelection)
	if err != nil {
		return acquisition.Config{}, errors.Wrap(err, "poll selection")
	}

	serviceCfg := acquisition.DefaultConfig()
	serviceCfg.Workers = conf.Workers
	serviceCfg.QueueSize = conf.QueueSize
	serviceCfg.PushSelection = pushSelection
	serviceCfg.PollSelection = pollSelection
	serviceCfg.PollInterval = time.Duration(conf.PollIntervalMinutes) * time.Minute
	serviceCfg.StartupSync = startupSync

	if !polling {
		log.Warn().Msg("Overseerr host or API key not set - polling disabled, webhooks only")
		serviceCfg.StartupSync = false
		serviceCfg.PollInterval = 0
	}

	return serviceCfg, nil
}

func buildStack(conf *domain.Config, startupSync bool) (*stack, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	newTransport := func(service string, limiter transport.Limiter) *transport.Client {
		return transport.NewClient(transport.Config{
			Service:   service,
			Timeout:   time.Duration(conf.HTTPTimeoutSeconds) * time.Second,
			Retries:   conf.HTTPRetries,
			UserAgent: buildinfo.UserAgent,
			Limiter:   limiter,
			Metrics:   m,
		})
	}

	// Torrentio and Real-Debrid share one rolling budget.
	sharedLimiter := transport.NewSlidingWindowLimiter(conf.RateLimitPerMinute, time.Minute)

	traktClient := trakt.NewClient(trakt.Config{
		BaseURL: conf.TraktBaseURL,
		APIKey:  conf.TraktAPIKey,
	}, newTransport("trakt", trakt.NewLimiter(conf.TraktRequestsPerSecond)))

	torrentioClient := torrentio.NewClient(torrentio.Config{
		BaseURL: conf.TorrentioBaseURL,
		Options: conf.TorrentioOptions,
	}, newTransport("torrentio", sharedLimiter))

	debridClient := realdebrid.NewClient(realdebrid.Config{
		BaseURL: conf.RealDebridBaseURL,
		APIKey:  conf.RealDebridAPIKey,
	}, newTransport("realdebrid", sharedLimiter))

	overseerrClient := overseerr.NewClient(overseerr.Config{
		Host:     conf.OverseerrHost,
		APIKey:   conf.OverseerrAPIKey,
		PageSize: conf.RequestPageSize,
	}, newTransport("overseerr", nil))

	ranker, err := ranking.NewRLSRanker(ranking.ProfileFromConfig(conf.Ranking), m)
	if err != nil {
		return nil, errors.Wrap(err, "compile ranking profile")
	}

	pipeline := acquisition.NewPipeline(acquisition.PipelineConfig{
		MaxHashesToCheck: conf.MaxHashesToCheck,
		TopCandidates:    conf.TopCandidates,
	}, traktClient, torrentioClient, debridClient, ranker, m)

	serviceCfg, err := serviceConfig(conf, startupSync, overseerrClient.Configured())
	if err != nil {
		return nil, err
	}
	if conf.TraktAPIKey == "" {
		log.Warn().Msg("No Trakt API key configured - only requests carrying an IMDb id can be resolved")
	}
	if conf.RealDebridAPIKey == "" {
		log.Warn().Msg("No Real-Debrid API key configured - availability checks will find nothing")
	}

	return &stack{
		registry:  registry,
		metrics:   m,
		ranker:    ranker,
		overseerr: overseerrClient,
		service:   acquisition.NewService(serviceCfg, pipeline, overseerrClient, m),
	}, nil
}

func (app *Application) runServer(assumeYes, noSync bool) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}

	log.Info().Str("version", buildinfo.Version).Msg("Starting seerrlite")

	startupSync := cfg.Config.StartupSync && !noSync
	if startupSync && !assumeYes && term.IsTerminal(int(os.Stdin.Fd())) {
		startupSync = confirm("Process all approved Overseerr requests now? [y/N]: ")
	}

	s, err := buildStack(cfg.Config, startupSync)
	if err != nil {
		return err
	}

	cfg.RegisterReloadListener(func(conf *domain.Config) {
		if err := s.ranker.SetProfile(ranking.ProfileFromConfig(conf.Ranking)); err != nil {
			log.Error().Err(err).Msg("Ignoring invalid ranking profile, keeping previous one")
			return
		}
		log.Info().Msg("Ranking profile reloaded")
	})

	httpServer := api.NewServer(&api.Dependencies{
		Config:      cfg,
		Version:     buildinfo.Version,
		Acquisition: s.service,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	serverReady := make(chan struct{}, 1)
	g.Go(func() error {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-serverReady:
		case <-gctx.Done():
			return nil
		}
		return s.service.Run(gctx)
	})

	var metricsServer *metrics.Server
	if cfg.Config.MetricsEnabled {
		metricsServer = metrics.NewServer(s.registry, cfg.Config.MetricsHost, cfg.Config.MetricsPort, cfg.Config.MetricsBasicAuthUsers)
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			log.Info().Msg("got signal, shutting down server")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("got error during metrics server shutdown")
			}
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "graceful http shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return err
	}

	log.Info().Msg("Server stopped")
	return nil
}

func (app *Application) runSync(ctx context.Context) (acquisition.CycleSummary, error) {
	cfg, err := app.loadConfig()
	if err != nil {
		return acquisition.CycleSummary{}, err
	}

	s, err := buildStack(cfg.Config, false)
	if err != nil {
		return acquisition.CycleSummary{}, err
	}
	if !s.overseerr.Configured() {
		return acquisition.CycleSummary{}, overseerr.ErrNotConfigured
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return s.service.RunCycle(ctx)
}

func printSummary(cmd *cobra.Command, summary acquisition.CycleSummary) {
	if summary.StartedAt.IsZero() {
		return
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "fetched\t%d\n", summary.Fetched)
	fmt.Fprintf(w, "enqueued\t%d\n", summary.Enqueued)
	fmt.Fprintf(w, "duplicates\t%d\n", summary.Duplicates)

	statuses := make([]string, 0, len(summary.Outcomes))
	for status := range summary.Outcomes {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(w, "%s\t%d\n", status, summary.Outcomes[acquisition.OutcomeStatus(status)])
	}

	fmt.Fprintf(w, "acknowledged\t%d\n", summary.Acknowledged)
	fmt.Fprintf(w, "elapsed\t%s\n", summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
	if summary.Error != "" {
		fmt.Fprintf(w, "error\t%s\n", summary.Error)
	}
	w.Flush()
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
