package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded (without restarting the
// gateway's live sessions) are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LLMProviderChanged bool
	S2SProviderChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if providerEntryChanged(old.Providers.LLM, new.Providers.LLM) {
		d.LLMProviderChanged = true
	}
	if providerEntryChanged(old.Providers.S2S, new.Providers.S2S) {
		d.S2SProviderChanged = true
	}

	return d
}

// providerEntryChanged compares the scalar fields of a [ProviderEntry],
// ignoring Options (a map, and not expected to drive hot-reload decisions).
func providerEntryChanged(old, new ProviderEntry) bool {
	return old.Name != new.Name ||
		old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL ||
		old.Model != new.Model
}
