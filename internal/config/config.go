// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/seerrlite/internal/domain"
	"github.com/autobrr/seerrlite/internal/models"
)

var envPrefix = "SEERRLITE__"

type AppConfig struct {
	Config  *domain.Config
	viper   *viper.Viper
	version string

	listenersMu sync.RWMutex
	listeners   []func(*domain.Config)
}

func New(configDirOrPath string, versions ...string) (*AppConfig, error) {
	version := "dev"
	if len(versions) > 0 && strings.TrimSpace(versions[0]) != "" {
		version = versions[0]
	}

	c := &AppConfig{
		viper:   viper.New(),
		Config:  &domain.Config{},
		version: version,
	}

	c.defaults()

	if err := c.load(configDirOrPath); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	c.Config.Version = c.version
	c.normalize()

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if detectContainer() {
		host = "0.0.0.0"
	}

	c.viper.SetDefault("host", host)
	c.viper.SetDefault("port", 8022)
	c.viper.SetDefault("baseUrl", "/")
	c.viper.SetDefault("logLevel", "INFO")
	c.viper.SetDefault("logPath", "")
	c.viper.SetDefault("logMaxSize", 50)
	c.viper.SetDefault("logMaxBackups", 3)
	c.viper.SetDefault("apiKey", "")
	c.viper.SetDefault("webhookSecret", "")
	c.viper.SetDefault("metricsEnabled", false)
	c.viper.SetDefault("metricsHost", "127.0.0.1")
	c.viper.SetDefault("metricsPort", 9074)
	c.viper.SetDefault("metricsBasicAuthUsers", "")

	c.viper.SetDefault("overseerrHost", "")
	c.viper.SetDefault("overseerrApiKey", "")
	c.viper.SetDefault("traktApiKey", "")
	c.viper.SetDefault("traktBaseUrl", "https://api.trakt.tv")
	c.viper.SetDefault("torrentioBaseUrl", "https://torrentio.strem.fun")
	c.viper.SetDefault("torrentioOptions", "qualityfilter=scr,cam")
	c.viper.SetDefault("realDebridApiKey", "")
	c.viper.SetDefault("realDebridBaseUrl", "https://api.real-debrid.com/rest/1.0")

	c.viper.SetDefault("workers", 5)
	c.viper.SetDefault("queueSize", 1000)
	c.viper.SetDefault("rateLimitPerMinute", 60)
	c.viper.SetDefault("httpTimeoutSeconds", 10)
	c.viper.SetDefault("httpRetries", 5)
	c.viper.SetDefault("traktRequestsPerSecond", 3)

	c.viper.SetDefault("maxHashesToCheck", 5)
	c.viper.SetDefault("topCandidates", 5)
	c.viper.SetDefault("requestPageSize", 1000)
	c.viper.SetDefault("webhookMode", WebhookModeInline)
	c.viper.SetDefault("pushSelection", SelectionEarly)
	c.viper.SetDefault("pollSelection", SelectionBest)
	c.viper.SetDefault("pollIntervalMinutes", 0)
	c.viper.SetDefault("startupSync", true)

	c.viper.SetDefault("ranking.minScore", 0)
	c.viper.SetDefault("ranking.titleMatch", true)
	c.viper.SetDefault("ranking.resolutions", map[string]int{
		"2160p": 120,
		"1080p": 100,
		"720p":  60,
		"576p":  10,
		"480p":  5,
	})
	c.viper.SetDefault("ranking.sources", map[string]int{
		"uhd.bluray": 80,
		"bluray":     70,
		"web-dl":     60,
		"webrip":     50,
		"hdtv":       20,
		"dvdrip":     10,
	})
	c.viper.SetDefault("ranking.preferred", []string{})
	c.viper.SetDefault("ranking.avoid", []string{})
	c.viper.SetDefault("ranking.exclude", []string{})
}

const (
	WebhookModeInline = "inline"
	WebhookModeQueue  = "queue"

	SelectionEarly = string(models.SelectionEarlyAccept)
	SelectionBest  = string(models.SelectionBestOfBatch)
)

func (c *AppConfig) load(configDirOrPath string) error {
	c.viper.SetConfigType("toml")

	if configDirOrPath != "" {
		configPath := c.resolveConfigPath(configDirOrPath)
		c.viper.SetConfigFile(configPath)

		if err := c.viper.ReadInConfig(); err != nil {
			if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
				if err := c.writeDefaultConfig(configPath); err != nil {
					return err
				}
				if err := c.viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read newly created config: %w", err)
				}
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		return nil
	}

	c.viper.SetConfigName("config")
	c.viper.AddConfigPath(".")
	c.viper.AddConfigPath(GetDefaultConfigDir())

	if err := c.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultConfigPath := filepath.Join(GetDefaultConfigDir(), "config.toml")
			if err := c.writeDefaultConfig(defaultConfigPath); err != nil {
				return err
			}
			c.viper.SetConfigFile(defaultConfigPath)
			if err := c.viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read newly created config: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}

	return nil
}

func (c *AppConfig) loadFromEnv() {
	// DO NOT use AutomaticEnv(), only bind the variables we know about.
	c.viper.BindEnv("host", envPrefix+"HOST")
	c.viper.BindEnv("port", envPrefix+"PORT")
	c.viper.BindEnv("baseUrl", envPrefix+"BASE_URL")
	c.viper.BindEnv("logLevel", envPrefix+"LOG_LEVEL")
	c.viper.BindEnv("logPath", envPrefix+"LOG_PATH")
	c.viper.BindEnv("logMaxSize", envPrefix+"LOG_MAX_SIZE")
	c.viper.BindEnv("logMaxBackups", envPrefix+"LOG_MAX_BACKUPS")
	c.bindOrReadFromFile("apiKey", envPrefix+"API_KEY")
	c.bindOrReadFromFile("webhookSecret", envPrefix+"WEBHOOK_SECRET")
	c.viper.BindEnv("metricsEnabled", envPrefix+"METRICS_ENABLED")
	c.viper.BindEnv("metricsHost", envPrefix+"METRICS_HOST")
	c.viper.BindEnv("metricsPort", envPrefix+"METRICS_PORT")
	c.viper.BindEnv("metricsBasicAuthUsers", envPrefix+"METRICS_BASIC_AUTH_USERS")

	c.viper.BindEnv("overseerrHost", envPrefix+"OVERSEERR_HOST")
	c.bindOrReadFromFile("overseerrApiKey", envPrefix+"OVERSEERR_API_KEY")
	c.bindOrReadFromFile("traktApiKey", envPrefix+"TRAKT_API_KEY")
	c.viper.BindEnv("traktBaseUrl", envPrefix+"TRAKT_BASE_URL")
	c.viper.BindEnv("torrentioBaseUrl", envPrefix+"TORRENTIO_BASE_URL")
	c.viper.BindEnv("torrentioOptions", envPrefix+"TORRENTIO_OPTIONS")
	c.bindOrReadFromFile("realDebridApiKey", envPrefix+"REAL_DEBRID_API_KEY")
	c.viper.BindEnv("realDebridBaseUrl", envPrefix+"REAL_DEBRID_BASE_URL")

	c.viper.BindEnv("workers", envPrefix+"WORKERS")
	c.viper.BindEnv("queueSize", envPrefix+"QUEUE_SIZE")
	c.viper.BindEnv("rateLimitPerMinute", envPrefix+"RATE_LIMIT_PER_MINUTE")
	c.viper.BindEnv("httpTimeoutSeconds", envPrefix+"HTTP_TIMEOUT_SECONDS")
	c.viper.BindEnv("httpRetries", envPrefix+"HTTP_RETRIES")
	c.viper.BindEnv("traktRequestsPerSecond", envPrefix+"TRAKT_REQUESTS_PER_SECOND")

	c.viper.BindEnv("maxHashesToCheck", envPrefix+"MAX_HASHES_TO_CHECK")
	c.viper.BindEnv("topCandidates", envPrefix+"TOP_CANDIDATES")
	c.viper.BindEnv("requestPageSize", envPrefix+"REQUEST_PAGE_SIZE")
	c.viper.BindEnv("webhookMode", envPrefix+"WEBHOOK_MODE")
	c.viper.BindEnv("pushSelection", envPrefix+"PUSH_SELECTION")
	c.viper.BindEnv("pollSelection", envPrefix+"POLL_SELECTION")
	c.viper.BindEnv("pollIntervalMinutes", envPrefix+"POLL_INTERVAL_MINUTES")
	c.viper.BindEnv("startupSync", envPrefix+"STARTUP_SYNC")
	c.viper.BindEnv("ranking.minScore", envPrefix+"RANKING_MIN_SCORE")
	c.viper.BindEnv("ranking.titleMatch", envPrefix+"RANKING_TITLE_MATCH")
}

// normalize clamps values that would otherwise stall the pipeline.
func (c *AppConfig) normalize() {
	cfg := c.Config
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 60
	}
	if cfg.HTTPTimeoutSeconds <= 0 {
		cfg.HTTPTimeoutSeconds = 10
	}
	if cfg.HTTPRetries < 0 {
		cfg.HTTPRetries = 0
	}
	if cfg.MaxHashesToCheck <= 0 {
		cfg.MaxHashesToCheck = 5
	}
	if cfg.TopCandidates <= 0 {
		cfg.TopCandidates = 5
	}
	if cfg.RequestPageSize <= 0 {
		cfg.RequestPageSize = 1000
	}

	cfg.WebhookMode = strings.ToLower(strings.TrimSpace(cfg.WebhookMode))
	if cfg.WebhookMode != WebhookModeQueue {
		cfg.WebhookMode = WebhookModeInline
	}
	cfg.PushSelection = normalizeSelection(cfg.PushSelection, SelectionEarly)
	cfg.PollSelection = normalizeSelection(cfg.PollSelection, SelectionBest)
	cfg.OverseerrHost = strings.TrimSuffix(strings.TrimSpace(cfg.OverseerrHost), "/")
}

func normalizeSelection(value, fallback string) string {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case SelectionEarly, SelectionBest:
		return v
	default:
		return fallback
	}
}

func (c *AppConfig) watchConfig() {
	c.viper.WatchConfig()
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Msgf("Config file changed: %s", e.Name)

		if err := c.viper.Unmarshal(c.Config); err != nil {
			log.Error().Err(err).Msg("Failed to reload configuration")
			return
		}

		c.applyDynamicChanges()
	})
}

func (c *AppConfig) applyDynamicChanges() {
	c.Config.Version = c.version
	c.normalize()
	c.ApplyLogConfig()
	c.notifyListeners()
}

// RegisterReloadListener registers a callback that's invoked when the configuration file is reloaded.
func (c *AppConfig) RegisterReloadListener(fn func(*domain.Config)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *AppConfig) notifyListeners() {
	c.listenersMu.RLock()
	listeners := append([]func(*domain.Config){}, c.listeners...)
	c.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}

	copied := *c.Config
	for _, listener := range listeners {
		listener(&copied)
	}
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost" (or "0.0.0.0" in containers)
host = "{{ .host }}"

# Port
# Default: 8022
port = {{ .port }}

# Base URL
# Optional
#baseUrl = "/seerrlite/"

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/seerrlite.log"

# Maximum log file size in megabytes before rotation
# Default: {{ .logMaxSize }}
#logMaxSize = {{ .logMaxSize }}

# Number of rotated log files to retain (0 keeps all)
# Default: {{ .logMaxBackups }}
#logMaxBackups = {{ .logMaxBackups }}

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "{{ .logLevel }}"

# API key required on /api management routes (X-API-Key header)
# Leave empty to disable
#apiKey = ""

# Shared secret expected in the webhook Authorization header
# Configure the same value under Overseerr/Jellyseerr webhook settings
#webhookSecret = ""

# Overseerr / Jellyseerr
overseerrHost = "{{ .overseerrHost }}"
overseerrApiKey = ""

# Trakt API key (client id), used to map TMDb ids to IMDb ids
traktApiKey = ""

# Real-Debrid API token
realDebridApiKey = ""

# Torrentio options path segment
# Default: "qualityfilter=scr,cam"
#torrentioOptions = "qualityfilter=scr,cam"

# Concurrent workers draining the request queue
# Default: {{ .workers }}
#workers = {{ .workers }}

# Calls per rolling minute allowed against Torrentio and Real-Debrid
# Default: {{ .rateLimitPerMinute }}
#rateLimitPerMinute = {{ .rateLimitPerMinute }}

# Per-call timeout and retry budget for outbound requests
#httpTimeoutSeconds = 10
#httpRetries = 5

# Webhook handling: "inline" runs the pipeline before responding, "queue" responds immediately
# Default: "inline"
#webhookMode = "inline"

# Candidate selection per entry point: "early" commits the first acceptable release,
# "best" ranks a bounded batch and commits the highest score
#pushSelection = "early"
#pollSelection = "best"

# Distinct hashes examined per request in "best" mode
#maxHashesToCheck = 5

# Poll Overseerr every N minutes (0 polls once at startup only)
#pollIntervalMinutes = 0

# Poll Overseerr when the server starts
# This may cause duplicates if Overseerr is not reporting availability properly
#startupSync = true

# Prometheus Metrics
# Default: false
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9074

# Basic authentication for metrics endpoint (optional)
# Format: "username:bcrypt_hash" or "user1:hash1,user2:hash2" for multiple users
#metricsBasicAuthUsers = ""

# Release ranking profile
[ranking]
# Releases scoring below this value are rejected
#minScore = 0

# Reject releases whose parsed title does not match the requested title
#titleMatch = true

# Regular expressions granting a bonus / penalty when they match the raw title
#preferred = ["(?i)\\bremux\\b"]
#avoid = ["(?i)\\bhevc\\b"]

# Expressions evaluated against the parsed release, a match rejects it
# Fields: Title, Year, Resolution, Source, Codec, HDR, Audio, Group, Other, Season, Episode, Raw
#exclude = ['Group in ["YIFY", "YTS"]']

#[ranking.resolutions]
#2160p = 120
#1080p = 100
#720p = 60

#[ranking.sources]
#bluray = 70
#web-dl = 60
`

func (c *AppConfig) writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		log.Debug().Msgf("Config file already exists at: %s", path)
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	log.Debug().Msgf("Created config directory: %s", dir)

	data := map[string]any{
		"host":               c.viper.GetString("host"),
		"port":               c.viper.GetInt("port"),
		"logLevel":           c.viper.GetString("logLevel"),
		"logMaxSize":         c.viper.GetInt("logMaxSize"),
		"logMaxBackups":      c.viper.GetInt("logMaxBackups"),
		"overseerrHost":      c.viper.GetString("overseerrHost"),
		"workers":            c.viper.GetInt("workers"),
		"rateLimitPerMinute": c.viper.GetInt("rateLimitPerMinute"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("failed to parse config template: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// GetDefaultConfigDir returns the OS-specific config directory
func GetDefaultConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		// Docker images mount the config volume at /config
		if xdgConfig == "/config" {
			return xdgConfig
		}
		return filepath.Join(xdgConfig, "seerrlite")
	}

	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "seerrlite")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "seerrlite")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "seerrlite")
	}
}

// ResolveConfigPath maps a --config-dir flag value to the config.toml it refers to.
func ResolveConfigPath(configDirOrPath string) string {
	if configDirOrPath == "" {
		return filepath.Join(GetDefaultConfigDir(), "config.toml")
	}
	if strings.HasSuffix(strings.ToLower(configDirOrPath), ".toml") {
		return configDirOrPath
	}
	if info, err := os.Stat(configDirOrPath); err == nil && !info.IsDir() {
		return configDirOrPath
	}
	return filepath.Join(configDirOrPath, "config.toml")
}

func (c *AppConfig) resolveConfigPath(configDirOrPath string) string {
	return ResolveConfigPath(configDirOrPath)
}

func detectContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if _, err := os.Stat("/dev/.lxc-boot-id"); err == nil {
		return true
	}
	if os.Getpid() == 1 {
		return true
	}
	return false
}

func (c *AppConfig) ApplyLogConfig() {
	zerolog.TimeFieldFormat = time.RFC3339

	setLogLevel(c.Config.LogLevel)

	writer := baseLogWriter(c.version)

	if c.Config.LogPath != "" {
		multiWriter, err := setupLogFile(c.Config.LogPath, writer, c.Config.LogMaxSize, c.Config.LogMaxBackups)
		if err != nil {
			log.Error().Err(err).Msg("Failed to setup log file")
		} else {
			writer = multiWriter
		}
	}

	log.Logger = log.Logger.Output(writer)
}

func setLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Logger.Level(lvl)
}

func setupLogFile(path string, base io.Writer, maxSize, maxBackups int) (io.Writer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if maxSize <= 0 {
		maxSize = 50
	}

	if maxBackups < 0 {
		maxBackups = 0
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
	}

	return io.MultiWriter(base, rotator), nil
}

func baseLogWriter(version string) io.Writer {
	if isDevBuild(version) {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		writer.PartsOrder = []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName}
		return writer
	}
	return os.Stderr
}

// InitDefaultLogger configures zerolog with the default writer for this version.
// This is used by CLI entry points before a configuration file is loaded.
func InitDefaultLogger(version string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Logger.Output(baseLogWriter(version))
}

func isDevBuild(version string) bool {
	v := strings.ToLower(strings.TrimSpace(version))
	return v == "" || v == "dev" || strings.HasSuffix(v, "-dev")
}

// GetConfigDir returns the directory containing the config file
func (c *AppConfig) GetConfigDir() string {
	if c.viper.ConfigFileUsed() != "" {
		return filepath.Dir(c.viper.ConfigFileUsed())
	}
	return GetDefaultConfigDir()
}

func WriteDefaultConfig(path string) error {
	c := &AppConfig{
		viper: viper.New(),
	}

	c.defaults()

	return c.writeDefaultConfig(path)
}

// bindOrReadFromFile reads the value from the file named by envVar_FILE when set,
// and binds envVar otherwise.
func (c *AppConfig) bindOrReadFromFile(viperVar string, envVar string) {
	envVarFile := envVar + "_FILE"
	if filePath := os.Getenv(envVarFile); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", filePath).Msg("Could not read " + envVarFile)
		}
		c.viper.Set(viperVar, strings.TrimSpace(string(content)))
		return
	}
	c.viper.BindEnv(viperVar, envVar)
}
