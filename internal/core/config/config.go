package config

import (
	"time"

	"github.com/vietddude/chainevents/internal/core/domain"
	"github.com/vietddude/chainevents/internal/indexing/handler/kafka"
	"github.com/vietddude/chainevents/internal/infra/chain"
	redisclient "github.com/vietddude/chainevents/internal/infra/redis"
	"github.com/vietddude/chainevents/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig       `yaml:"server"`
	Logging    LoggingConfig      `yaml:"logging"`
	Database   postgres.Config    `yaml:"database"`
	Redis      redisclient.Config `yaml:"redis"`
	Kafka      KafkaConfig        `yaml:"kafka"`
	Balance    BalanceConfig      `yaml:"balance"`
	Supervisor SupervisorConfig   `yaml:"supervisor"`
	Handlers   HandlersConfig     `yaml:"handlers"`
	Chains     []ChainConfig      `yaml:"chains"`
}

// ServerConfig holds HTTP and gRPC health server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 disables the gRPC health service
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// KafkaConfig enables the event publisher when brokers are set.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	Compression string   `yaml:"compression"`
	ClientID    string   `yaml:"client_id"`
	Format      string   `yaml:"format"` // json, proto
}

// Enabled reports whether a publisher should be wired.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// Publisher converts the section to the publisher config.
func (k KafkaConfig) Publisher() kafka.Config {
	return kafka.Config{
		Brokers:     k.Brokers,
		Topic:       k.Topic,
		Compression: k.Compression,
		ClientID:    k.ClientID,
		Format:      k.Format,
	}
}

// BalanceConfig tunes the balance cache.
type BalanceConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	ZeroTTL       time.Duration `yaml:"zero_ttl"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// SupervisorConfig controls reconciliation and sharding.
type SupervisorConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxErrors   int           `yaml:"max_errors"`
	ErrorReset  time.Duration `yaml:"error_reset"`
	WorkerIndex int           `yaml:"worker_index"`
	WorkerCount int           `yaml:"worker_count"`
}

// HandlersConfig applies to the whole handler chain.
type HandlersConfig struct {
	ExcludedKinds []string `yaml:"excluded_kinds"`
	Verbose       bool     `yaml:"verbose"`
}

// ChainConfig holds settings for a specific chain.
type ChainConfig struct {
	ID                string         `yaml:"id"`
	Network           string         `yaml:"network"` // compound, erc20, cosmos, substrate
	URL               string         `yaml:"url"`
	SidecarURL        string         `yaml:"sidecar_url"`
	ContractAddress   string         `yaml:"contract_address"`
	TokenName         string         `yaml:"token_name"`
	Spec              SpecConfig     `yaml:"spec"`
	PollInterval      time.Duration  `yaml:"poll_interval"`
	MaxBlocksPerPoll  uint64         `yaml:"max_blocks_per_poll"`
	WindowSize        uint64         `yaml:"window_size"`
	MaxOfflineRange   uint64         `yaml:"max_offline_range"` // 0 = no cap
	SkipCatchup       bool           `yaml:"skip_catchup"`
	StartBlock        uint64         `yaml:"start_block"`
	ConnectAttempts   int            `yaml:"connect_attempts"`
	ConnectBackoff    time.Duration  `yaml:"connect_backoff"`
	HeartbeatInterval time.Duration  `yaml:"heartbeat_interval"`
	RPS               float64        `yaml:"rps"`
	Enricher          EnricherConfig `yaml:"enricher"`
	ExcludedKinds     []string       `yaml:"excluded_kinds"`
	Disabled          bool           `yaml:"disabled"`
}

// SpecConfig selects chain-specific API variants.
type SpecConfig struct {
	Name       string `yaml:"name"`
	Denom      string `yaml:"denom"`
	GovVersion string `yaml:"gov_version"`
}

// EnricherConfig tunes family enrichers.
type EnricherConfig struct {
	BalanceTransferThresholdPermill uint64 `yaml:"balance_transfer_threshold_permill"`
}

// Options converts the entry into listener options with defaults applied.
func (c ChainConfig) Options() chain.Options {
	return chain.Options{
		ChainID:           c.ID,
		Network:           domain.Network(c.Network),
		URL:               c.URL,
		SidecarURL:        c.SidecarURL,
		ContractAddress:   c.ContractAddress,
		TokenName:         c.TokenName,
		Spec:              chain.Spec(c.Spec),
		PollInterval:      c.PollInterval,
		MaxBlocksPerPoll:  c.MaxBlocksPerPoll,
		WindowSize:        c.WindowSize,
		MaxOfflineRange:   c.MaxOfflineRange,
		SkipCatchup:       c.SkipCatchup,
		StartBlock:        c.StartBlock,
		ConnectAttempts:   c.ConnectAttempts,
		ConnectBackoff:    c.ConnectBackoff,
		HeartbeatInterval: c.HeartbeatInterval,
		Enricher: chain.EnricherOptions{
			BalanceTransferThresholdPermill: c.Enricher.BalanceTransferThresholdPermill,
		},
		ExcludedKinds: Kinds(c.ExcludedKinds),
		RPS:           c.RPS,
	}.Defaults()
}

// Kinds converts configured kind names.
func Kinds(names []string) []domain.EventKind {
	if len(names) == 0 {
		return nil
	}
	out := make([]domain.EventKind, len(names))
	for i, n := range names {
		out[i] = domain.EventKind(n)
	}
	return out
}
