// Package config loads and resolves syncd's layered TOML configuration:
// built-in defaults, overridden by a config file, overridden by environment
// variables, overridden by CLI flags. Grounded on the teacher's
// internal/config package (BurntSushi/toml, env.go, size.go, load.go), scoped
// down from its multi-account/multi-drive profile model to this tool's
// single source/destination pair plus the sections a sync run needs: Filter,
// Transfers, Safety, Bisync, Logging.
package config

// Config is the parsed shape of config.toml.
type Config struct {
	Filter    FilterConfig    `toml:"filter"`
	Transfers TransfersConfig `toml:"transfers"`
	Safety    SafetyConfig    `toml:"safety"`
	Bisync    BisyncConfig    `toml:"bisync"`
	Logging   LoggingConfig   `toml:"logging"`
}

// FilterConfig controls which paths participate in a sync.
type FilterConfig struct {
	Exclude      []string `toml:"exclude"`
	MinSize      string   `toml:"min_size"`
	MaxSize      string   `toml:"max_size"`
	SkipDotfiles bool     `toml:"skip_dotfiles"`
	SkipSymlinks bool     `toml:"skip_symlinks"`
	IgnoreMarker string   `toml:"ignore_marker"`
}

// TransfersConfig tunes the executor's transfer behavior.
type TransfersConfig struct {
	Concurrency     int    `toml:"concurrency"`
	Verify          string `toml:"verify"` // "none", "fast", "crypto"
	BandwidthLimit  string `toml:"bandwidth_limit"`
	CheckpointFiles int    `toml:"checkpoint_files"`
	CheckpointBytes string `toml:"checkpoint_bytes"`
	ForceLocalDelta bool   `toml:"force_local_delta"`
}

// SafetyConfig tunes the deletion guard and pre-flight checks.
type SafetyConfig struct {
	MaxDeletions       int     `toml:"max_deletions"`
	MaxDeletionPercent float64 `toml:"max_deletion_percent"`
	Force              bool    `toml:"force"`
	MinFreeSpace       string  `toml:"min_free_space"`
	Prompt             bool    `toml:"prompt"`
}

// BisyncConfig tunes the bidirectional reconciliation engine.
type BisyncConfig struct {
	Policy             string  `toml:"policy"` // "newer-wins", "source-wins", "dest-wins", "rename-both"
	MaxDeletionPercent float64 `toml:"max_deletion_percent"`
	StateDB            string  `toml:"state_db"`
}

// LoggingConfig tunes the root slog logger.
type LoggingConfig struct {
	Level string `toml:"level"` // "debug", "info", "warn", "error"
	JSON  bool   `toml:"json"`
}

// DefaultConfig returns a Config populated with this tool's built-in
// defaults, used when no config file exists and as the base every config
// file's values are layered on top of.
func DefaultConfig() *Config {
	return &Config{
		Transfers: TransfersConfig{
			Concurrency:     10,
			Verify:          "none",
			CheckpointFiles: 100,
			CheckpointBytes: "100MB",
		},
		Safety: SafetyConfig{
			MaxDeletionPercent: 50,
			Prompt:             true,
		},
		Bisync: BisyncConfig{
			Policy:             "newer-wins",
			MaxDeletionPercent: 50,
		},
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}
