// Package config provides the configuration schema, loader, validation and
// hot-reload watcher for the vabridge voice assistant.
package config

import (
	"time"

	"github.com/MrWong99/vabridge/pkg/audio"
	"github.com/MrWong99/vabridge/pkg/detect"
	"github.com/MrWong99/vabridge/pkg/mailbox"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Transport selects how the producer and consumer sides are connected.
type Transport string

const (
	// TransportPipe runs both sides in one process over an in-memory region.
	TransportPipe Transport = "pipe"

	// TransportWebSocket links two processes over a WebSocket.
	TransportWebSocket Transport = "websocket"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportPipe || t == TransportWebSocket
}

// SourceKind selects the audio source.
type SourceKind string

const (
	SourceSilence SourceKind = "silence"
	SourcePCM     SourceKind = "pcm"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	return k == SourceSilence || k == SourcePCM
}

// Message budgets per telemetry session.
const (
	DefaultMaxMessages     = 300
	DefaultDemoMaxMessages = 6000
)

// Default values applied by [LoadFromReader] for unset fields.
const (
	DefaultListenAddr        = ":9090"
	DefaultMailboxPath       = "/mailbox"
	DefaultHeartbeatInterval = time.Second
	DefaultSessions          = 1
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Assistant AssistantConfig `yaml:"assistant"`
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Source    SourceConfig    `yaml:"source"`
	Scenario  ScenarioConfig  `yaml:"scenario"`
	App       AppConfig       `yaml:"app"`
}

// ServerConfig holds the observability listener and logging settings.
type ServerConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz. Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// AssistantConfig configures the detection state machine.
type AssistantConfig struct {
	// Mode is one of ww_single_cmd, ww_multi_cmd, ww_only, cmd_only.
	Mode string `yaml:"mode"`

	PreSilenceTimeout time.Duration `yaml:"pre_silence_timeout"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`

	// Model names a bundled intent model. ModelFile, when set, loads one
	// from YAML instead.
	Model     string `yaml:"model"`
	ModelFile string `yaml:"model_file"`
}

// DetectMode returns the parsed Mode. The config must have been validated.
func (a AssistantConfig) DetectMode() detect.Mode {
	m, _ := detect.ParseMode(a.Mode)
	return m
}

// MailboxConfig configures the transport and the consumer's fetch policy.
type MailboxConfig struct {
	Transport Transport `yaml:"transport"`

	// URL is dialed by the producer process, e.g. ws://host:9091/mailbox.
	URL string `yaml:"url"`

	// ListenAddr is where the consumer process accepts the producer link.
	ListenAddr string `yaml:"listen_addr"`

	// FetchInterval and FetchAttempts bound one wait for a detection.
	// Hot-reloadable.
	FetchInterval time.Duration `yaml:"fetch_interval"`
	FetchAttempts int           `yaml:"fetch_attempts"`

	// HeartbeatInterval is how often the producer publishes a status payload
	// while no event occurs.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// SourceConfig configures the audio input.
type SourceConfig struct {
	Kind       SourceKind `yaml:"kind"`
	Path       string     `yaml:"path"`
	SampleRate int        `yaml:"sample_rate"`
	Channels   int        `yaml:"channels"`

	// Frames bounds a silence source. Zero runs until shutdown.
	Frames int `yaml:"frames"`

	// Realtime paces frames at playback speed.
	Realtime bool `yaml:"realtime"`
}

// Format returns the PCM input format.
func (s SourceConfig) Format() audio.Format {
	return audio.Format{SampleRate: s.SampleRate, Channels: s.Channels}
}

// ScenarioConfig selects the scripted detector timeline.
type ScenarioConfig struct {
	// Timeline is a YAML timeline file. Empty uses the bundled demo session.
	Timeline string `yaml:"timeline"`
}

// AppConfig configures the consumer application loop.
type AppConfig struct {
	// DemoMode raises the default per-session message budget.
	DemoMode bool `yaml:"demo_mode"`

	// MaxMessages overrides the per-session telemetry budget.
	MaxMessages int `yaml:"max_messages"`

	// Sessions is the number of consecutive telemetry sessions.
	Sessions int `yaml:"sessions"`
}

// Budget returns the number of telemetry messages per session.
func (a AppConfig) Budget() int {
	switch {
	case a.MaxMessages > 0:
		return a.MaxMessages
	case a.DemoMode:
		return DefaultDemoMaxMessages
	}
	return DefaultMaxMessages
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Assistant.Mode == "" {
		c.Assistant.Mode = detect.ModeWakeWordSingleCommand.String()
	}
	if c.Assistant.PreSilenceTimeout == 0 {
		c.Assistant.PreSilenceTimeout = detect.DefaultPreSilenceTimeout
	}
	if c.Assistant.CommandTimeout == 0 {
		c.Assistant.CommandTimeout = detect.DefaultCommandTimeout
	}
	if c.Mailbox.Transport == "" {
		c.Mailbox.Transport = TransportPipe
	}
	if c.Mailbox.FetchInterval == 0 {
		c.Mailbox.FetchInterval = mailbox.DefaultFetchInterval
	}
	if c.Mailbox.FetchAttempts == 0 {
		c.Mailbox.FetchAttempts = mailbox.DefaultFetchAttempts
	}
	if c.Mailbox.HeartbeatInterval == 0 {
		c.Mailbox.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Source.Kind == "" {
		c.Source.Kind = SourceSilence
	}
	if c.Source.SampleRate == 0 {
		c.Source.SampleRate = audio.SampleRate
	}
	if c.Source.Channels == 0 {
		c.Source.Channels = 1
	}
	if c.App.Sessions == 0 {
		c.App.Sessions = DefaultSessions
	}
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	c := &Config{Server: ServerConfig{ListenAddr: DefaultListenAddr}}
	c.applyDefaults()
	return c
}
