// Package config resolves mcloudd's daemon configuration from flags with
// environment variable overrides, in the same flag-first idiom rigd's
// entrypoint uses.
package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/modera/mfcloud/internal/mlog"
)

// Config is the resolved daemon configuration.
type Config struct {
	ListenAddr      string
	RedisAddr       string
	HomeDir         string
	Btrfs           bool
	DockerHost      string
	DNSSearchSuffix string
	LogLevel        mlog.Level
	LogJSON         bool
}

// Load parses flag.CommandLine (caller must not have parsed it yet) and
// layers MCLOUDD_* environment variables on top of each flag's default,
// so either can be used — flags win when both are given explicitly.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("mcloudd", flag.ContinueOnError)

	listenAddr := fs.String("listen-addr", envOr("MCLOUDD_LISTEN_ADDR", "127.0.0.1:7080"), "websocket listen address")
	redisAddr := fs.String("redis-addr", envOr("MCLOUDD_REDIS_ADDR", "127.0.0.1:6379"), "redis address")
	homeDir := fs.String("home-dir", envOr("MCLOUDD_HOME_DIR", defaultHomeDir()), "daemon home directory (volumes, snapshots)")
	btrfs := fs.Bool("btrfs", envBoolOr("MCLOUDD_BTRFS", false), "home directory is on a btrfs filesystem (enables snapshot-based backup)")
	dockerHost := fs.String("docker-host", envOr("MCLOUDD_DOCKER_HOST", ""), "docker daemon socket/URL (overrides DOCKER_HOST and local socket detection)")
	dnsSearchSuffix := fs.String("dns-search-suffix", envOr("MCLOUDD_DNS_SEARCH_SUFFIX", ""), "domain suffix appended to an app/service name to form its fullname (empty disables it)")
	logLevel := fs.String("log-level", envOr("MCLOUDD_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	logJSON := fs.Bool("log-json", envBoolOr("MCLOUDD_LOG_JSON", false), "emit logs as JSON instead of console format")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:      *listenAddr,
		RedisAddr:       *redisAddr,
		HomeDir:         *homeDir,
		Btrfs:           *btrfs,
		DockerHost:      *dockerHost,
		DNSSearchSuffix: *dnsSearchSuffix,
		LogLevel:        mlog.Level(*logLevel),
		LogJSON:         *logJSON,
	}, nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envBoolOr(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/mcloudd"
	}
	return home + "/.mcloudd"
}
