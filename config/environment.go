package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

const (
	// EnvironmentDevelopment exposes the canonical development environment
	// identifier.
	EnvironmentDevelopment = environmentDevelopment
	// EnvironmentProduction exposes the canonical production environment
	// identifier.
	EnvironmentProduction = environmentProduction
	// EnvironmentStaging exposes the canonical staging environment
	// identifier.
	EnvironmentStaging = environmentStaging
)

var environmentAliases = map[string]string{
	"prod":  environmentProduction,
	"stag":  environmentStaging,
	"dev":   environmentDevelopment,
	"local": environmentDevelopment,
}

// getAppEnvironment reads the application environment from APP_ENV and
// defaults to development when no value is provided.
func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// AppEnvironment exposes the current application environment as configured
// through APP_ENV, normalised through the alias table.
func AppEnvironment() string {
	return getAppEnvironment()
}

// ResolvePath selects config/config.<env>.yml over the default file when the
// caller did not ask for a specific path and the environment file exists.
func ResolvePath(path string) string {
	if path == "" {
		path = DefaultPath
	}
	if path != DefaultPath {
		return path
	}

	ext := filepath.Ext(DefaultPath)
	envPath := strings.TrimSuffix(DefaultPath, ext) + "." + getAppEnvironment() + ext
	if _, err := os.Stat(envPath); err == nil {
		return envPath
	}
	return path
}

// Load reads path when it exists and otherwise falls back to LoadFromEnv,
// matching bots that are configured purely through the environment.
func Load(path string) (*Config, bool, error) {
	path = ResolvePath(path)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			cfg, err := LoadFromEnv()
			return cfg, false, err
		}
		return nil, false, err
	}
	cfg, err := LoadConfig(path)
	return cfg, true, err
}
