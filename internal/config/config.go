// Package config reads the small set of environment variables the core
// needs. Full CLI/config-file loading is an external collaborator (§1);
// this stays intentionally thin, mirroring the teacher's OLLAMA_* env-var
// convention (see server/sched_test.go's OLLAMA_DEBUG handling) rather
// than adopting a config-file framework the domain doesn't call for.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Root           string        `validate:"required"`
	LibraryRoot    string        `validate:"required"`
	LauncherData   string        `validate:"required"`
	LogFormat      string
	HubTokenFile   string
	ClusterCacheAddr string
	ConnectRecheck time.Duration
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationOr(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBoolOr(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Load builds a Config from the process environment, applying the same
// defaults a desktop install would use relative to the user's home dir.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	root := envOr("PUMAS_ROOT", filepath.Join(home, ".pumas"))
	return &Config{
		Root:             root,
		LibraryRoot:      envOr("PUMAS_LIBRARY_ROOT", filepath.Join(root, "shared-resources", "models")),
		LauncherData:     envOr("PUMAS_LAUNCHER_DATA", filepath.Join(root, "launcher-data")),
		LogFormat:        envOr("PUMAS_LOG_FORMAT", "text"),
		HubTokenFile:     envOr("PUMAS_HUB_TOKEN_FILE", filepath.Join(root, "launcher-data", "hub-token")),
		ClusterCacheAddr: os.Getenv("PUMAS_CLUSTER_CACHE_ADDR"),
		ConnectRecheck:   envDurationOr("PUMAS_CONNECT_RECHECK", 30*time.Second),
	}, nil
}
