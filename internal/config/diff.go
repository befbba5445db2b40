package config

import "time"

// ConfigDiff describes what changed between two configs. Hot-reloadable
// settings carry their new value; everything else is only listed by section
// in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	FetchPolicyChanged bool
	NewFetchInterval   time.Duration
	NewFetchAttempts   int

	// RestartRequired names the sections whose changes only apply after a
	// restart, in declaration order.
	RestartRequired []string
}

// Empty reports whether d records no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.FetchPolicyChanged && len(d.RestartRequired) == 0
}

// Diff compares prev and next configs and returns what changed.
func Diff(prev, next *Config) ConfigDiff {
	d := ConfigDiff{}

	if prev.Server.LogLevel != next.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = next.Server.LogLevel
	}

	om, nm := prev.Mailbox, next.Mailbox
	if om.FetchInterval != nm.FetchInterval || om.FetchAttempts != nm.FetchAttempts {
		d.FetchPolicyChanged = true
		d.NewFetchInterval = nm.FetchInterval
		d.NewFetchAttempts = nm.FetchAttempts
	}
	om.FetchInterval, om.FetchAttempts = 0, 0
	nm.FetchInterval, nm.FetchAttempts = 0, 0

	if prev.Server.ListenAddr != next.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if prev.Assistant != next.Assistant {
		d.RestartRequired = append(d.RestartRequired, "assistant")
	}
	if om != nm {
		d.RestartRequired = append(d.RestartRequired, "mailbox")
	}
	if prev.Source != next.Source {
		d.RestartRequired = append(d.RestartRequired, "source")
	}
	if prev.Scenario != next.Scenario {
		d.RestartRequired = append(d.RestartRequired, "scenario")
	}
	if prev.App != next.App {
		d.RestartRequired = append(d.RestartRequired, "app")
	}
	return d
}
