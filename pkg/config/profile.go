package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a YAML override file for a node. Zero values leave the
// corresponding Config field untouched.
type Profile struct {
	InstanceID string `yaml:"instance_id,omitempty"`
	Channel    string `yaml:"channel,omitempty"`
	LogLevel   string `yaml:"log_level,omitempty"`

	DataDir     string `yaml:"data_dir,omitempty"`
	AuditPath   string `yaml:"audit_path,omitempty"`
	EventStore  string `yaml:"event_store,omitempty"`
	DatabaseURL string `yaml:"database_url,omitempty"`
	RedisAddr   string `yaml:"redis_addr,omitempty"`

	ListenAddr     string   `yaml:"listen_addr,omitempty"`
	BootstrapPeers []string `yaml:"bootstrap_peers,omitempty"`
	TrustedGenesis []string `yaml:"trusted_genesis,omitempty"`
	GuardianKeys   []string `yaml:"guardian_keys,omitempty"`

	VotingPeriod string `yaml:"voting_period,omitempty"`
	Threshold    int    `yaml:"threshold,omitempty"`

	ArtifactStore  string `yaml:"artifact_store,omitempty"`
	ArtifactBucket string `yaml:"artifact_bucket,omitempty"`
	ArtifactPrefix string `yaml:"artifact_prefix,omitempty"`

	SandboxTimeMS      int64 `yaml:"sandbox_time_ms,omitempty"`
	SandboxOutputBytes int64 `yaml:"sandbox_output_bytes,omitempty"`
	SandboxPoolSize    int   `yaml:"sandbox_pool,omitempty"`
}

// LoadProfile reads and parses a YAML profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load profile %q: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse profile %q: %w", path, err)
	}
	return &p, nil
}

// Apply overlays the profile's set fields onto cfg.
func (p *Profile) Apply(cfg *Config) error {
	setString(&cfg.InstanceID, p.InstanceID)
	setString(&cfg.Channel, p.Channel)
	setString(&cfg.LogLevel, p.LogLevel)
	setString(&cfg.DataDir, p.DataDir)
	setString(&cfg.AuditPath, p.AuditPath)
	setString(&cfg.EventStore, p.EventStore)
	setString(&cfg.DatabaseURL, p.DatabaseURL)
	setString(&cfg.RedisAddr, p.RedisAddr)
	setString(&cfg.ListenAddr, p.ListenAddr)
	setString(&cfg.ArtifactStore, p.ArtifactStore)
	setString(&cfg.ArtifactBucket, p.ArtifactBucket)
	setString(&cfg.ArtifactPrefix, p.ArtifactPrefix)

	if len(p.BootstrapPeers) > 0 {
		cfg.BootstrapPeers = p.BootstrapPeers
	}
	if len(p.TrustedGenesis) > 0 {
		cfg.TrustedGenesis = p.TrustedGenesis
	}
	if len(p.GuardianKeys) > 0 {
		cfg.GuardianKeys = p.GuardianKeys
	}
	if p.VotingPeriod != "" {
		d, err := time.ParseDuration(p.VotingPeriod)
		if err != nil {
			return fmt.Errorf("config: voting_period %q: %w", p.VotingPeriod, err)
		}
		cfg.VotingPeriod = d
	}
	if p.Threshold > 0 {
		cfg.Threshold = p.Threshold
	}
	if p.SandboxTimeMS > 0 {
		cfg.SandboxTimeMS = p.SandboxTimeMS
	}
	if p.SandboxOutputBytes > 0 {
		cfg.SandboxOutputBytes = p.SandboxOutputBytes
	}
	if p.SandboxPoolSize > 0 {
		cfg.SandboxPoolSize = p.SandboxPoolSize
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
