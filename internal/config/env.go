package config

import "os"

// Environment variable names for overrides. Grounded on the teacher's
// internal/config/env.go naming scheme, renamed to this project's prefix.
const (
	EnvConfig = "SYNCD_CONFIG"
	EnvSource = "SYNCD_SOURCE"
	EnvDest   = "SYNCD_DEST"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string
	Source     string
	Dest       string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Source:     os.Getenv(EnvSource),
		Dest:       os.Getenv(EnvDest),
	}
}
