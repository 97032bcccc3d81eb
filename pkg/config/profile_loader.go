package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NetworkProfile represents a per-ledger-network configuration profile.
type NetworkProfile struct {
	Name               string        `yaml:"name" json:"name"`
	Network            string        `yaml:"network" json:"network"`
	GatewayURL         string        `yaml:"gateway_url" json:"gateway_url"`
	ConfirmationRounds uint64        `yaml:"confirmation_rounds" json:"confirmation_rounds"`
	Anchoring          AnchorConfig  `yaml:"anchoring" json:"anchoring"`
	Signers            SignersConfig `yaml:"signers" json:"signers"`
}

// AnchorConfig tunes the transparency-anchor outbox per network.
type AnchorConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	BaseDelay   string `yaml:"base_delay,omitempty" json:"base_delay,omitempty"`
	MaxDelay    string `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`
	MaxAttempts int    `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
}

// SignersConfig names the accounts that sign ledger transactions. Tokens
// come from the environment, never from profiles.
type SignersConfig struct {
	AnchorAddress   string `yaml:"anchor_address" json:"anchor_address"`
	ReleaserAddress string `yaml:"releaser_address" json:"releaser_address"`
}

// LoadProfile loads a network profile YAML by network name.
// It searches the profiles directory for profile_<network>.yaml.
func LoadProfile(profilesDir, network string) (*NetworkProfile, error) {
	network = strings.ToLower(network)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", network))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", network, err)
	}

	var profile NetworkProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", network, err)
	}

	if profile.Network == "" {
		profile.Network = network
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*NetworkProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*NetworkProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile NetworkProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Network == "" {
			// Extract network from filename: profile_testnet.yaml -> testnet
			base := filepath.Base(path)
			profile.Network = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.Network] = &profile
	}

	return profiles, nil
}

// Apply overlays profile values onto an environment-derived Config.
// An explicit LEDGER_GATEWAY_URL wins over the profile so an operator can
// point at a different node without editing profiles.
func (p *NetworkProfile) Apply(cfg *Config) {
	if os.Getenv("LEDGER_GATEWAY_URL") == "" && p.GatewayURL != "" {
		cfg.GatewayURL = p.GatewayURL
	}
	if p.ConfirmationRounds > 0 {
		cfg.ConfirmationRounds = p.ConfirmationRounds
	}
}
