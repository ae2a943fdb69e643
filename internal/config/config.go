// Package config parses composeforge's CLI flags, mirrored by
// COMPOSEFORGE_-prefixed environment variables (§6 CLI surface).
package config

import (
	"flag"
	"os"
	"path/filepath"
	"runtime"
)

// Config holds the resolved startup configuration for one composeforge
// process.
type Config struct {
	Port          string
	Hostname      string
	DataDir       string
	StacksDir     string
	EnableConsole bool
	RedisAddr     string
}

// Load parses CLI flags (falling back to COMPOSEFORGE_* environment
// variables, then to defaults) into a Config. args is normally
// os.Args[1:].
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("composeforge", flag.ContinueOnError)

	port := fs.String("port", envOrDefault("COMPOSEFORGE_PORT", "5001"), "HTTP/websocket listen port")
	hostname := fs.String("hostname", envOrDefault("COMPOSEFORGE_HOSTNAME", ""), "hostname to bind (default: all interfaces)")
	dataDir := fs.String("data-dir", envOrDefault("COMPOSEFORGE_DATA_DIR", defaultDataDir()), "directory for the database and long-lived secrets")
	stacksDir := fs.String("stacks-dir", envOrDefault("COMPOSEFORGE_STACKS_DIR", defaultStacksDir()), "directory containing one subdirectory per compose stack")
	enableConsole := fs.Bool("enable-console", envOrDefaultBool("COMPOSEFORGE_ENABLE_CONSOLE", false), "allow the operator MainShell terminal kind")
	redisAddr := fs.String("redis-addr", envOrDefault("COMPOSEFORGE_REDIS_ADDR", ""), "optional Redis address backing the settings cache across replicas")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:          *port,
		Hostname:      *hostname,
		DataDir:       *dataDir,
		StacksDir:     *stacksDir,
		EnableConsole: *enableConsole,
		RedisAddr:     *redisAddr,
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.StacksDir, 0o755); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DBPath is the SQLite database file inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "composeforge.db")
}

// GlobalEnvPath is the optional env file applied to every stack ahead of
// its own .env, per §3's Persistent layout.
func (c *Config) GlobalEnvPath() string {
	return filepath.Join(c.StacksDir, "global.env")
}

func defaultDataDir() string {
	if runtime.GOOS == "windows" {
		return "./data"
	}
	return "/var/lib/composeforge"
}

func defaultStacksDir() string {
	if runtime.GOOS == "windows" {
		return "./stacks"
	}
	return "/opt/stacks"
}

func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envOrDefaultBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val == "true" || val == "1"
}
