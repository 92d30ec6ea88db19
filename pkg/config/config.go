// Package config loads node configuration from environment variables,
// optionally overridden by a YAML profile. Configuration is read once
// at startup; runtime changes go through governance.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds node configuration.
type Config struct {
	InstanceID string
	Version    string
	Channel    string
	LogLevel   string

	// DataDir is the root for event-log files and snapshot caches.
	DataDir string
	// AuditPath is the JSONL echo file for the audit trail; empty
	// disables the echo.
	AuditPath string
	// EventStore selects the event-log backend: memory, file, sqlite,
	// or postgres.
	EventStore  string
	DatabaseURL string
	RedisAddr   string

	ListenAddr     string
	BootstrapPeers []string
	TrustedGenesis []string
	GuardianKeys   []string

	VotingPeriod time.Duration
	Threshold    int

	// ArtifactStore selects where update artifacts live: fs, s3, or gcs.
	ArtifactStore  string
	ArtifactBucket string
	ArtifactPrefix string

	SandboxTimeMS      int64
	SandboxOutputBytes int64
	SandboxPoolSize    int

	OTLPEndpoint     string
	TelemetryEnabled bool
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		InstanceID: getenv("MIRROR_INSTANCE_ID", ""),
		Version:    getenv("MIRROR_VERSION", "1.0.0"),
		Channel:    getenv("MIRROR_CHANNEL", "stable"),
		LogLevel:   getenv("LOG_LEVEL", "INFO"),

		DataDir:     getenv("MIRROR_DATA_DIR", "./data"),
		AuditPath:   getenv("MIRROR_AUDIT_PATH", ""),
		EventStore:  getenv("MIRROR_EVENT_STORE", "file"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		RedisAddr:   getenv("REDIS_ADDR", ""),

		ListenAddr:     getenv("MIRROR_LISTEN_ADDR", ":7420"),
		BootstrapPeers: getlist("MIRROR_BOOTSTRAP_PEERS"),
		TrustedGenesis: getlist("MIRROR_TRUSTED_GENESIS"),
		GuardianKeys:   getlist("MIRROR_GUARDIAN_KEYS"),

		VotingPeriod: getduration("MIRROR_VOTING_PERIOD", 72*time.Hour),
		Threshold:    getint("MIRROR_THRESHOLD", 0),

		ArtifactStore:  getenv("MIRROR_ARTIFACT_STORE", "fs"),
		ArtifactBucket: getenv("MIRROR_ARTIFACT_BUCKET", ""),
		ArtifactPrefix: getenv("MIRROR_ARTIFACT_PREFIX", "artifacts"),

		SandboxTimeMS:      getint64("MIRROR_SANDBOX_TIME_MS", 5000),
		SandboxOutputBytes: getint64("MIRROR_SANDBOX_OUTPUT_BYTES", 1<<20),
		SandboxPoolSize:    getint("MIRROR_SANDBOX_POOL", 4),

		OTLPEndpoint:     getenv("OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled: getenv("MIRROR_TELEMETRY", "false") == "true",
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getlist(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getint64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
