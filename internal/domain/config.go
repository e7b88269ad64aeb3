// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config is the process configuration as read from config.toml and the environment.
type Config struct {
	Version string `toml:"-" mapstructure:"-"`

	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	APIKey        string `toml:"apiKey" mapstructure:"apiKey"`
	WebhookSecret string `toml:"webhookSecret" mapstructure:"webhookSecret"`

	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	OverseerrHost     string `toml:"overseerrHost" mapstructure:"overseerrHost"`
	OverseerrAPIKey   string `toml:"overseerrApiKey" mapstructure:"overseerrApiKey"`
	TraktAPIKey       string `toml:"traktApiKey" mapstructure:"traktApiKey"`
	TraktBaseURL      string `toml:"traktBaseUrl" mapstructure:"traktBaseUrl"`
	TorrentioBaseURL  string `toml:"torrentioBaseUrl" mapstructure:"torrentioBaseUrl"`
	TorrentioOptions  string `toml:"torrentioOptions" mapstructure:"torrentioOptions"`
	RealDebridAPIKey  string `toml:"realDebridApiKey" mapstructure:"realDebridApiKey"`
	RealDebridBaseURL string `toml:"realDebridBaseUrl" mapstructure:"realDebridBaseUrl"`

	Workers                int     `toml:"workers" mapstructure:"workers"`
	QueueSize              int     `toml:"queueSize" mapstructure:"queueSize"`
	RateLimitPerMinute     int     `toml:"rateLimitPerMinute" mapstructure:"rateLimitPerMinute"`
	HTTPTimeoutSeconds     int     `toml:"httpTimeoutSeconds" mapstructure:"httpTimeoutSeconds"`
	HTTPRetries            int     `toml:"httpRetries" mapstructure:"httpRetries"`
	TraktRequestsPerSecond float64 `toml:"traktRequestsPerSecond" mapstructure:"traktRequestsPerSecond"`

	MaxHashesToCheck    int    `toml:"maxHashesToCheck" mapstructure:"maxHashesToCheck"`
	TopCandidates       int    `toml:"topCandidates" mapstructure:"topCandidates"`
	RequestPageSize     int    `toml:"requestPageSize" mapstructure:"requestPageSize"`
	WebhookMode         string `toml:"webhookMode" mapstructure:"webhookMode"`
	PushSelection       string `toml:"pushSelection" mapstructure:"pushSelection"`
	PollSelection       string `toml:"pollSelection" mapstructure:"pollSelection"`
	PollIntervalMinutes int    `toml:"pollIntervalMinutes" mapstructure:"pollIntervalMinutes"`
	StartupSync         bool   `toml:"startupSync" mapstructure:"startupSync"`

	Ranking RankingConfig `toml:"ranking" mapstructure:"ranking"`
}

// RankingConfig is the quality profile applied to discovered releases.
type RankingConfig struct {
	MinScore    int            `toml:"minScore" mapstructure:"minScore"`
	Resolutions map[string]int `toml:"resolutions" mapstructure:"resolutions"`
	Sources     map[string]int `toml:"sources" mapstructure:"sources"`
	Preferred   []string       `toml:"preferred" mapstructure:"preferred"`
	Avoid       []string       `toml:"avoid" mapstructure:"avoid"`
	Exclude     []string       `toml:"exclude" mapstructure:"exclude"`
	TitleMatch  bool           `toml:"titleMatch" mapstructure:"titleMatch"`
}
