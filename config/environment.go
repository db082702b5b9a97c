package config

import (
	"os"
	"strings"
)

// Deployment environments selected through APP_ENV.
const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"
	EnvironmentStaging     = "staging"
)

// DefaultConfigPath is used when no -config flag is given.
const DefaultConfigPath = "config/config.yml"

const appEnvVar = "APP_ENV"

// common misspellings seen in deployment manifests
var environmentAliases = map[string]string{
	"prod":        EnvironmentProduction,
	"producation": EnvironmentProduction,
	"stag":        EnvironmentStaging,
	"stagging":    EnvironmentStaging,
}

var envConfigPaths = map[string]string{
	EnvironmentProduction: "config/config.production.yml",
	EnvironmentStaging:    "config/config.staging.yml",
}

// AppEnvironment returns the normalised APP_ENV, development when unset.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return EnvironmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// IsProductionLike reports whether env must fail on incomplete configuration,
// such as a missing IP shard file, instead of falling back.
func IsProductionLike(env string) bool {
	return env == EnvironmentProduction || env == EnvironmentStaging
}

// ResolveConfigPath returns the configuration file for the current APP_ENV.
// An explicit non-default path always wins.
func ResolveConfigPath(path string) string {
	if path == "" {
		path = DefaultConfigPath
	}
	envPath, ok := envConfigPaths[AppEnvironment()]
	if ok && (path == DefaultConfigPath || path == envPath) {
		return envPath
	}
	return path
}
