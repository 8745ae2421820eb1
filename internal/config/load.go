package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load parses the config file at path. A missing file is not an error; it
// returns DefaultConfig(). Grounded on the teacher's internal/config/load.go
// Load function, minus the profile/drive merge step this tool has no use
// for.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault is Load with ResolveConfigPath applied: an explicit path
// takes precedence, then $SYNCD_CONFIG, then the platform default location.
func LoadOrDefault(explicitPath string) (*Config, error) {
	return Load(ResolveConfigPath(explicitPath))
}

// ResolveConfigPath picks the config file path to use: an explicit flag
// value wins, then the SYNCD_CONFIG environment variable, then the
// platform default.
func ResolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if env := ReadEnvOverrides(); env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// CLIOverrides holds the subset of command-line flags that can override a
// resolved Config's values. Zero values mean "not set on the command line".
type CLIOverrides struct {
	Source             string
	Dest               string
	Concurrency        int
	Verify             string
	BandwidthLimit     string
	Force              bool
	MaxDeletionPercent float64
	Policy             string
	DryRun             bool
}

// Resolved is a Config with source/destination roots pinned in and every
// layer (file, environment, CLI flags) merged, ready for a command to act
// on. Grounded on the teacher's internal/config ResolveDrive pattern,
// scoped down from resolving one of several named drives to resolving this
// tool's single source/destination pair.
type Resolved struct {
	Config
	Source string
	Dest   string
	DryRun bool
}

// Resolve layers environment variables and then CLI flags on top of a
// loaded Config, in that precedence order (CLI flags win), and produces the
// final Resolved settings a sync or bisync run consumes.
func Resolve(cfg *Config, env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	r := &Resolved{Config: *cfg}

	r.Source = firstNonEmpty(cli.Source, env.Source)
	r.Dest = firstNonEmpty(cli.Dest, env.Dest)

	if r.Source == "" || r.Dest == "" {
		return nil, fmt.Errorf("config: both source and destination must be set")
	}

	if cli.Concurrency > 0 {
		r.Transfers.Concurrency = cli.Concurrency
	}
	if cli.Verify != "" {
		r.Transfers.Verify = cli.Verify
	}
	if cli.BandwidthLimit != "" {
		r.Transfers.BandwidthLimit = cli.BandwidthLimit
	}
	if cli.Force {
		r.Safety.Force = true
		r.Safety.Prompt = false
	}
	if cli.MaxDeletionPercent > 0 {
		r.Safety.MaxDeletionPercent = cli.MaxDeletionPercent
		r.Bisync.MaxDeletionPercent = cli.MaxDeletionPercent
	}
	if cli.Policy != "" {
		r.Bisync.Policy = cli.Policy
	}
	r.DryRun = cli.DryRun

	return r, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
