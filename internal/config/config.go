// Package config loads the player configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/zsiec/flvplay/internal/source"
	"github.com/zsiec/flvplay/internal/worker"
)

// Environment overrides.
const (
	EnvAddr          = "FLVPLAY_ADDR"
	EnvVideoBufferMs = "FLVPLAY_VIDEO_BUFFER_MS"
	EnvDebug         = "DEBUG"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the root of the YAML document.
type Config struct {
	ListenAddr string    `yaml:"listen_addr"`
	LogLevel   string    `yaml:"log_level"`
	Player     Player    `yaml:"player"`
	Transport  Transport `yaml:"transport"`
}

// Player seeds every new session.
type Player struct {
	VideoBufferMs    uint32 `yaml:"video_buffer_ms"`
	VOD              bool   `yaml:"vod"`
	TickIntervalMs   int    `yaml:"tick_interval_ms"`
	CatchUpMs        int    `yaml:"catch_up_ms"`
	ForceNoOffscreen bool   `yaml:"force_no_offscreen"`
	Captions         bool   `yaml:"captions"`
}

// Transport tunes the byte source adapters.
type Transport struct {
	HTTP3           bool `yaml:"http3"`
	SRTLatencyMs    int  `yaml:"srt_latency_ms"`
	ReadBufferBytes int  `yaml:"read_buffer_bytes"`
	DialTimeoutMs   int  `yaml:"dial_timeout_ms"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr: ":8480",
		LogLevel:   "info",
		Player: Player{
			VideoBufferMs:  1000,
			TickIntervalMs: 10,
			CatchUpMs:      1000,
			Captions:       true,
		},
		Transport: Transport{
			SRTLatencyMs:    int(source.DefaultSRTLatency / time.Millisecond),
			ReadBufferBytes: source.DefaultReadBufferSize,
			DialTimeoutMs:   int(source.DefaultDialTimeout / time.Millisecond),
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err := unmarshalInto(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshalInto(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	c.ListenAddr = envOr(getenv, EnvAddr, c.ListenAddr)
	if v := getenv(EnvVideoBufferMs); v != "" {
		ms, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalid, EnvVideoBufferMs, v)
		}
		c.Player.VideoBufferMs = uint32(ms)
	}
	if getenv(EnvDebug) != "" {
		c.LogLevel = "debug"
	}
	return nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate rejects values no session could run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Player.TickIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("%w: player.tick_interval_ms must be positive", ErrInvalid))
	}
	if c.Player.CatchUpMs < 0 {
		errs = append(errs, fmt.Errorf("%w: player.catch_up_ms is negative", ErrInvalid))
	}
	if c.Transport.SRTLatencyMs < 0 || c.Transport.ReadBufferBytes < 0 || c.Transport.DialTimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("%w: transport values must not be negative", ErrInvalid))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level returns the slog level named by log_level.
func (c *Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log_level %q", ErrInvalid, s)
	}
	return l, nil
}

// Settings converts the player section for the worker.
func (c *Config) Settings() worker.Settings {
	return worker.Settings{
		VideoBufferMs:    c.Player.VideoBufferMs,
		VOD:              c.Player.VOD,
		TickInterval:     time.Duration(c.Player.TickIntervalMs) * time.Millisecond,
		CatchUp:          time.Duration(c.Player.CatchUpMs) * time.Millisecond,
		ForceNoOffscreen: c.Player.ForceNoOffscreen,
		Captions:         c.Player.Captions,
	}
}

// SourceOptions converts the transport section for the byte source.
func (c *Config) SourceOptions() source.Options {
	return source.Options{
		HTTP3:          c.Transport.HTTP3,
		ReadBufferSize: c.Transport.ReadBufferBytes,
		DialTimeout:    time.Duration(c.Transport.DialTimeoutMs) * time.Millisecond,
		SRTLatency:     time.Duration(c.Transport.SRTLatencyMs) * time.Millisecond,
	}
}
