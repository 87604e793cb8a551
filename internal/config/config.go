// Package config provides configuration management for vsdl using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultThreads         = 5
	defaultRetryCount      = 3
	defaultHTTPTimeout     = 60 * time.Second
	defaultRetryDelay      = 1 * time.Second
	defaultMaxResponseSize = 0 // 0 = unlimited
)

// Config holds all configuration for the application.
type Config struct {
	Download   DownloadConfig   `mapstructure:"download"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTPClient HTTPClientConfig `mapstructure:"http_client"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
}

// DownloadConfig holds the parameters driving the download pipeline itself
// (§4, §10.2 of SPEC_FULL.md).
type DownloadConfig struct {
	// Threads is the worker-pool size used per video/audio stream.
	Threads int `mapstructure:"threads"`

	// RetryCount is the number of retries allowed per segment before
	// ErrRetriesExceeded.
	RetryCount int `mapstructure:"retry_count"`

	// Quality selects the default video stream; see QualityPolicy.
	Quality string `mapstructure:"quality"`

	// Keys holds user-supplied (kid, key) hex pairs, "kid:key" or bare "key".
	Keys []string `mapstructure:"keys"`

	// NoDecrypt disables key resolution and decryption entirely; segments
	// are written ciphertext-as-is.
	NoDecrypt bool `mapstructure:"no_decrypt"`

	// AllKeys, when true, allows any user key to satisfy any default_kid
	// for Cenc/SampleAes streams instead of requiring an exact kid match.
	AllKeys bool `mapstructure:"all_keys"`

	// PreferAudioLang and PreferSubsLang are BCP-47-ish language tags used
	// by the stream selector's language_factor.
	PreferAudioLang string `mapstructure:"prefer_audio_lang"`
	PreferSubsLang  string `mapstructure:"prefer_subs_lang"`

	// Directory is the working directory for temp files and final output.
	Directory string `mapstructure:"directory"`

	// Output is the muxed output file path. Empty disables muxing.
	Output string `mapstructure:"output"`

	// SkipPrompts accepts the selector's defaults without an interactive
	// prompt. RawPrompts uses a non-TTY-safe stdin prompt instead of the
	// bubbletea UI.
	SkipPrompts bool `mapstructure:"skip_prompts"`
	RawPrompts  bool `mapstructure:"raw_prompts"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// HTTPClientConfig holds resilient-HTTP-client configuration shared by the
// manifest, key, segment, and subtitle fetchers (orchestrator.Run builds the
// single shared pkg/httpclient.Config from this).
type HTTPClientConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxResponseSize   ByteSize      `mapstructure:"max_response_size"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// FFmpegConfig holds FFmpeg binary configuration for the muxer.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = PATH auto-detect
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VSDL_ and use underscores for
// nesting. Example: VSDL_DOWNLOAD_THREADS=10.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vsdl")
		v.AddConfigPath("$HOME/.vsdl")
	}

	v.SetEnvPrefix("VSDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("download.threads", defaultThreads)
	v.SetDefault("download.retry_count", defaultRetryCount)
	v.SetDefault("download.quality", "highest")
	v.SetDefault("download.keys", []string{})
	v.SetDefault("download.no_decrypt", false)
	v.SetDefault("download.all_keys", false)
	v.SetDefault("download.prefer_audio_lang", "")
	v.SetDefault("download.prefer_subs_lang", "")
	v.SetDefault("download.directory", ".")
	v.SetDefault("download.output", "")
	v.SetDefault("download.skip_prompts", false)
	v.SetDefault("download.raw_prompts", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("http_client.timeout", defaultHTTPTimeout)
	v.SetDefault("http_client.retry_delay", defaultRetryDelay)
	v.SetDefault("http_client.retry_max_delay", 30*time.Second)
	v.SetDefault("http_client.backoff_multiplier", 2.0)
	v.SetDefault("http_client.max_response_size", defaultMaxResponseSize)
	v.SetDefault("http_client.user_agent", "vsdl/1.0")

	v.SetDefault("ffmpeg.binary_path", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Download.Threads < 1 {
		return fmt.Errorf("download.threads must be at least 1")
	}
	if c.Download.RetryCount < 0 {
		return fmt.Errorf("download.retry_count must not be negative")
	}
	if _, err := ParseQuality(c.Download.Quality); err != nil {
		return fmt.Errorf("download.quality: %w", err)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
