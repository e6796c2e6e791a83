package config

import (
	"reflect"
	"strings"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SettingsChanged lists the yaml names of changed summarizer settings.
	// These are applied live.
	SettingsChanged []string

	// RestartRequired is set when providers, storage, tokenizer or the
	// listener changed; those are wired once at startup.
	RestartRequired bool
}

// Empty reports whether the diff carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.SettingsChanged) == 0 && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.SettingsChanged = DiffSettings(old.Summarizer, new.Summarizer)

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.LogFormat != new.Server.LogFormat ||
		old.Storage != new.Storage ||
		old.Tokenizer != new.Tokenizer ||
		!reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = true
	}
	return d
}

// DiffSettings returns the yaml names of the settings fields whose values
// differ, in declaration order.
func DiffSettings(old, new Settings) []string {
	var changed []string
	ov := reflect.ValueOf(old)
	nv := reflect.ValueOf(new)
	t := ov.Type()
	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			continue
		}
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if name == "" {
			name = t.Field(i).Name
		}
		changed = append(changed, name)
	}
	return changed
}
