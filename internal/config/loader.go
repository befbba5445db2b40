package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MrWong99/vabridge/pkg/detect"
	"github.com/MrWong99/vabridge/pkg/intent"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Assistant
	if _, err := detect.ParseMode(cfg.Assistant.Mode); err != nil {
		errs = append(errs, fmt.Errorf("assistant.mode: %w", err))
	}
	if cfg.Assistant.PreSilenceTimeout < 0 {
		errs = append(errs, fmt.Errorf("assistant.pre_silence_timeout %v is negative", cfg.Assistant.PreSilenceTimeout))
	}
	if cfg.Assistant.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("assistant.command_timeout %v is negative", cfg.Assistant.CommandTimeout))
	}
	if cfg.Assistant.PreSilenceTimeout > cfg.Assistant.CommandTimeout {
		slog.Warn("assistant.pre_silence_timeout exceeds command_timeout; silence timeouts will never fire",
			"pre_silence_timeout", cfg.Assistant.PreSilenceTimeout,
			"command_timeout", cfg.Assistant.CommandTimeout,
		)
	}
	if cfg.Assistant.ModelFile == "" {
		if _, ok := intent.Builtin(cfg.Assistant.Model); !ok {
			errs = append(errs, fmt.Errorf("assistant.model %q is not a bundled model; set assistant.model_file", cfg.Assistant.Model))
		}
	} else if cfg.Assistant.Model != "" {
		slog.Warn("assistant.model is ignored when assistant.model_file is set", "model", cfg.Assistant.Model)
	}

	// Mailbox
	if !cfg.Mailbox.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("mailbox.transport %q is invalid; valid values: pipe, websocket", cfg.Mailbox.Transport))
	}
	if cfg.Mailbox.FetchInterval < 0 {
		errs = append(errs, fmt.Errorf("mailbox.fetch_interval %v is negative", cfg.Mailbox.FetchInterval))
	}
	if cfg.Mailbox.FetchAttempts < 0 {
		errs = append(errs, fmt.Errorf("mailbox.fetch_attempts %d is negative", cfg.Mailbox.FetchAttempts))
	}
	if cfg.Mailbox.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("mailbox.heartbeat_interval %v is negative", cfg.Mailbox.HeartbeatInterval))
	}

	// Source
	if !cfg.Source.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("source.kind %q is invalid; valid values: silence, pcm", cfg.Source.Kind))
	}
	if cfg.Source.Kind == SourcePCM {
		if cfg.Source.Path == "" {
			errs = append(errs, errors.New("source.path is required when kind is pcm"))
		}
		if err := cfg.Source.Format().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("source: %w", err))
		}
	}
	if cfg.Source.Frames < 0 {
		errs = append(errs, fmt.Errorf("source.frames %d is negative", cfg.Source.Frames))
	}

	// App
	if cfg.App.MaxMessages < 0 {
		errs = append(errs, fmt.Errorf("app.max_messages %d is negative", cfg.App.MaxMessages))
	}
	if cfg.App.Sessions < 0 {
		errs = append(errs, fmt.Errorf("app.sessions %d is negative", cfg.App.Sessions))
	}

	return errors.Join(errs...)
}

// ValidateSplit checks the extra settings needed to run one side of a
// websocket mailbox as its own process.
func ValidateSplit(cfg *Config, producer bool) error {
	if cfg.Mailbox.Transport != TransportWebSocket {
		return fmt.Errorf("config: mailbox.transport must be %q to run one side alone", TransportWebSocket)
	}
	if producer && cfg.Mailbox.URL == "" {
		return errors.New("config: mailbox.url is required for the producer")
	}
	if !producer && cfg.Mailbox.ListenAddr == "" {
		return errors.New("config: mailbox.listen_addr is required for the consumer")
	}
	return nil
}
