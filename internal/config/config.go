package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/actions"
	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"github.com/danielpatrickdp/nudge-controller/internal/failover"
	"github.com/danielpatrickdp/nudge-controller/internal/gate"
	"github.com/danielpatrickdp/nudge-controller/internal/reward"
	"github.com/danielpatrickdp/nudge-controller/internal/session"
	"github.com/danielpatrickdp/nudge-controller/internal/stats"
	"gopkg.in/yaml.v3"
)

// Controller modes.
const (
	ModeDefault      = "default"
	ModeMoodChecking = "mood_checking"
)

// #region types

// Config is the full controller configuration.
type Config struct {
	Recipient string   `yaml:"recipient"`
	Mode      string   `yaml:"mode"`
	EventDim  int      `yaml:"event_dim"`
	Actions   []string `yaml:"actions"`

	Bandit   bandit.Config  `yaml:"bandit"`
	Stats    StatsConfig    `yaml:"stats"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Reward   RewardConfig   `yaml:"reward"`
	Remote   RemoteConfig   `yaml:"remote"`
	Storage  StorageConfig  `yaml:"storage"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Server   ServerConfig   `yaml:"server"`
}

// StatsConfig configures the recency tracker.
type StatsConfig struct {
	HalfLife string `yaml:"half_life"`
}

// DispatchConfig holds the gating limits.
type DispatchConfig struct {
	Cooldown string `yaml:"cooldown"`
	MaxDaily int    `yaml:"max_daily"`
	Morning  string `yaml:"morning"` // HH:MM
	Evening  string `yaml:"evening"` // HH:MM
}

// RewardConfig controls reminders and waits.
type RewardConfig struct {
	RemindAmt   int               `yaml:"remind_amt"`
	PollTimeout string            `yaml:"poll_timeout"`
	PreProbe    map[string]string `yaml:"pre_probe"`
	DefaultWait string            `yaml:"default_wait"`
}

// RemoteConfig points at the central bandit service.
type RemoteConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	ClientID    int    `yaml:"client_id"`
	Timeout     string `yaml:"timeout"`
	MaxAttempts int    `yaml:"max_attempts"`
	OpenFor     string `yaml:"open_for"`
}

// StorageConfig holds database locations.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	ChannelPath  string `yaml:"channel_path"`
	PollInterval string `yaml:"poll_interval"`
	WarmStart    string `yaml:"warm_start"` // replay records this far back at startup; empty disables
}

// HTTPConfig configures the event API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig selects the zap preset.
type LoggingConfig struct {
	Mode string `yaml:"mode"`
}

// TracingConfig toggles OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ServerConfig configures cmd/bandit-server.
type ServerConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	DatabasePath string `yaml:"database_path"`
}

// #endregion types

// #region defaults

// DefaultConfig returns the deployment defaults.
func DefaultConfig() *Config {
	return &Config{
		Recipient: "1",
		Mode:      ModeDefault,
		EventDim:  5,
		Actions:   append([]string(nil), actions.DefaultLabels...),
		Bandit:    bandit.DefaultConfig(),
		Stats:     StatsConfig{HalfLife: "30m"},
		Dispatch: DispatchConfig{
			Cooldown: "5m",
			MaxDaily: 4,
			Morning:  "10:00",
			Evening:  "23:00",
		},
		Reward: RewardConfig{
			RemindAmt:   3,
			PollTimeout: "120s",
			PreProbe:    map[string]string{"enjoyable": "60m"},
			DefaultWait: "30m",
		},
		Remote: RemoteConfig{
			Enabled:     false,
			Addr:        "localhost:8989",
			ClientID:    0,
			Timeout:     "5s",
			MaxAttempts: 1,
			OpenFor:     "0s",
		},
		Storage: StorageConfig{
			DatabasePath: "nudge.db",
			ChannelPath:  "survey.db",
			PollInterval: "1s",
			WarmStart:    "720h",
		},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Logging: LoggingConfig{Mode: "development"},
		Tracing: TracingConfig{ServiceName: "nudge-controller", SampleRatio: 1},
		Server:  ServerConfig{ListenAddr: ":8989", DatabasePath: "bandit.db"},
	}
}

// #endregion defaults

// #region load-save

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("NUDGE_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if path := os.Getenv("NUDGE_CHANNEL_DB"); path != "" {
		c.Storage.ChannelPath = path
	}
	if addr := os.Getenv("NUDGE_BANDIT_ADDR"); addr != "" {
		c.Remote.Addr = addr
		c.Remote.Enabled = true
	}
	if addr := os.Getenv("NUDGE_HTTP_ADDR"); addr != "" {
		c.HTTP.Addr = addr
	}
	if mode := os.Getenv("NUDGE_LOG_MODE"); mode != "" {
		c.Logging.Mode = mode
	}
	if mode := os.Getenv("NUDGE_MODE"); mode != "" {
		c.Mode = mode
	}
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_ENABLED"))); v != "" {
		c.Tracing.Enabled = v == "1" || v == "true" || v == "yes" || v == "on"
	}
	if v := os.Getenv("OTEL_SAMPLER_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracing.SampleRatio = min(max(f, 0), 1)
		}
	}
}

// #endregion load-save

// #region accessors

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetHalfLife returns the stats half-life.
func (c *Config) GetHalfLife() time.Duration {
	return parseDuration(c.Stats.HalfLife, 30*time.Minute)
}

// GetCooldown returns the dispatch cooldown.
func (c *Config) GetCooldown() time.Duration {
	return parseDuration(c.Dispatch.Cooldown, 5*time.Minute)
}

// GetPollTimeout returns how long each poll waits for an answer.
func (c *Config) GetPollTimeout() time.Duration {
	return parseDuration(c.Reward.PollTimeout, 120*time.Second)
}

// GetRemoteTimeout returns the per-RPC deadline.
func (c *Config) GetRemoteTimeout() time.Duration {
	return parseDuration(c.Remote.Timeout, 5*time.Second)
}

// GetPollInterval returns how often the channel re-reads responses.
func (c *Config) GetPollInterval() time.Duration {
	return parseDuration(c.Storage.PollInterval, time.Second)
}

// GetWarmStart returns the replay horizon; zero disables warm start.
func (c *Config) GetWarmStart() time.Duration {
	return parseDuration(c.Storage.WarmStart, 0)
}

// Catalog builds the action catalog.
func (c *Config) Catalog() (*actions.Catalog, error) {
	return actions.NewCatalog(c.Actions)
}

// StatsConfig converts to the tracker's config.
func (c *Config) StatsConfig() stats.Config {
	return stats.Config{HalfLife: c.GetHalfLife()}
}

// SessionLimits converts to the session's starting limits.
func (c *Config) SessionLimits() session.Limits {
	return session.Limits{Cooldown: c.GetCooldown(), MaxDaily: c.Dispatch.MaxDaily}
}

// GateConfig parses the time window.
func (c *Config) GateConfig() (gate.Config, error) {
	morning, err := gate.ParseClock(c.Dispatch.Morning)
	if err != nil {
		return gate.Config{}, fmt.Errorf("dispatch.morning: %w", err)
	}
	evening, err := gate.ParseClock(c.Dispatch.Evening)
	if err != nil {
		return gate.Config{}, fmt.Errorf("dispatch.evening: %w", err)
	}
	return gate.Config{Morning: morning, Evening: evening}, nil
}

// RewardConfig converts to the protocol's config.
func (c *Config) RewardConfig() reward.Config {
	def := reward.DefaultConfig()
	out := reward.Config{
		RemindAmt:   c.Reward.RemindAmt,
		PollTimeout: c.GetPollTimeout(),
		PreProbe:    make(map[string]time.Duration, len(c.Reward.PreProbe)),
		DefaultWait: parseDuration(c.Reward.DefaultWait, def.DefaultWait),
	}
	for cat, d := range c.Reward.PreProbe {
		out.PreProbe[cat] = parseDuration(d, def.DefaultWait)
	}
	return out
}

// FailoverPolicy converts to the remote call policy.
func (c *Config) FailoverPolicy() failover.Policy {
	p := failover.DefaultPolicy()
	if c.Remote.MaxAttempts > 0 {
		p.MaxAttempts = c.Remote.MaxAttempts
	}
	p.OpenFor = parseDuration(c.Remote.OpenFor, 0)
	return p
}

// #endregion accessors

// #region validate

// Validate checks the configuration for startup errors.
func (c *Config) Validate() error {
	if c.Mode != ModeDefault && c.Mode != ModeMoodChecking {
		return fmt.Errorf("invalid mode: %s (valid: %s, %s)", c.Mode, ModeDefault, ModeMoodChecking)
	}
	if c.EventDim < 0 {
		return fmt.Errorf("event_dim must be >= 0, got %d", c.EventDim)
	}
	if _, err := c.Catalog(); err != nil {
		return err
	}
	if c.Bandit.Alpha < 0 {
		return fmt.Errorf("bandit.alpha must be >= 0, got %v", c.Bandit.Alpha)
	}
	if c.Bandit.Lambda <= 0 {
		return fmt.Errorf("bandit.lambda must be > 0, got %v", c.Bandit.Lambda)
	}
	if c.Dispatch.MaxDaily < 1 {
		return fmt.Errorf("dispatch.max_daily must be >= 1, got %d", c.Dispatch.MaxDaily)
	}
	if c.Reward.RemindAmt < 1 {
		return fmt.Errorf("reward.remind_amt must be >= 1, got %d", c.Reward.RemindAmt)
	}
	g, err := c.GateConfig()
	if err != nil {
		return err
	}
	if g.Morning > g.Evening {
		return fmt.Errorf("dispatch window %s-%s is empty", c.Dispatch.Morning, c.Dispatch.Evening)
	}
	if c.Remote.Enabled && c.Remote.Addr == "" {
		return fmt.Errorf("remote.addr required when remote is enabled")
	}
	return nil
}

// #endregion validate
