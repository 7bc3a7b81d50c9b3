package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/chainevents/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML content, fills defaults and validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *AppConfig) setDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Balance.TTL == 0 {
		cfg.Balance.TTL = time.Hour
	}
	if cfg.Balance.ZeroTTL == 0 {
		cfg.Balance.ZeroTTL = 5 * time.Minute
	}
	if cfg.Balance.PruneInterval == 0 {
		cfg.Balance.PruneInterval = 10 * time.Minute
	}
	if cfg.Supervisor.Interval == 0 {
		cfg.Supervisor.Interval = 30 * time.Second
	}
	if cfg.Supervisor.MaxErrors == 0 {
		cfg.Supervisor.MaxErrors = 4
	}
	if cfg.Supervisor.ErrorReset == 0 {
		cfg.Supervisor.ErrorReset = 24 * time.Hour
	}
	if cfg.Supervisor.WorkerCount == 0 {
		cfg.Supervisor.WorkerCount = 1
	}
	if cfg.Kafka.Enabled() && cfg.Kafka.Format == "" {
		cfg.Kafka.Format = "json"
	}
}

// Validate checks the chain entries and the sharding settings.
func (cfg *AppConfig) Validate() error {
	var errs []error

	s := cfg.Supervisor
	if s.WorkerCount < 1 || s.WorkerIndex < 0 || s.WorkerIndex >= s.WorkerCount {
		errs = append(errs, fmt.Errorf("supervisor: worker_index %d out of range for worker_count %d", s.WorkerIndex, s.WorkerCount))
	}
	for _, k := range cfg.Handlers.ExcludedKinds {
		if _, ok := domain.EventKind(k).Network(); !ok {
			errs = append(errs, fmt.Errorf("handlers: unknown event kind %q", k))
		}
	}

	seen := make(map[string]struct{}, len(cfg.Chains))
	for i, c := range cfg.Chains {
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("chains[%d]: missing id", i))
			continue
		}
		if _, dup := seen[c.ID]; dup {
			errs = append(errs, fmt.Errorf("chain %s: duplicate id", c.ID))
		}
		seen[c.ID] = struct{}{}
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks one chain entry against its network family.
func (c ChainConfig) Validate() error {
	n := domain.Network(c.Network)
	if !n.Valid() {
		return fmt.Errorf("chain %s: unknown network %q", c.ID, c.Network)
	}
	if c.URL == "" {
		return fmt.Errorf("chain %s: missing url", c.ID)
	}
	switch n {
	case domain.NetworkCompound, domain.NetworkERC20:
		if c.ContractAddress == "" {
			return fmt.Errorf("chain %s: %s needs contract_address", c.ID, n)
		}
	case domain.NetworkSubstrate:
		if c.SidecarURL == "" {
			return fmt.Errorf("chain %s: substrate needs sidecar_url", c.ID)
		}
	case domain.NetworkCosmos:
		switch c.Spec.GovVersion {
		case "", "v1beta1", "v1":
		default:
			return fmt.Errorf("chain %s: unknown gov_version %q", c.ID, c.Spec.GovVersion)
		}
	}
	for _, k := range c.ExcludedKinds {
		if owner, ok := domain.EventKind(k).Network(); !ok || owner != n {
			return fmt.Errorf("chain %s: event kind %q is not a %s kind", c.ID, k, n)
		}
	}
	return nil
}

// Shard returns the chains this worker owns: index % worker_count == worker_index.
// Disabled entries are skipped but keep their index.
func (cfg *AppConfig) Shard() []ChainConfig {
	var out []ChainConfig
	for i, c := range cfg.Chains {
		if i%cfg.Supervisor.WorkerCount != cfg.Supervisor.WorkerIndex || c.Disabled {
			continue
		}
		out = append(out, c)
	}
	return out
}
