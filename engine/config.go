package engine

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blockberries/dagberry/privval"
	"github.com/blockberries/dagberry/types"
)

// Config errors
var (
	ErrInvalidLeaderTimeout = errors.New("leader timeout must be positive")
	ErrInvalidSkipRounds    = errors.New("skip rounds must be at least 1")
	ErrInvalidMaxBlockSize  = errors.New("max block size must be positive")
)

// Config holds configuration for the consensus engine.
type Config struct {
	// LeaderTimeout bounds how long the proposer waits for the current
	// round's leader block once a parent quorum is available. On expiry
	// the proposer advances with whatever quorum it has.
	LeaderTimeout time.Duration `yaml:"leader_timeout"`

	// SkipRounds is the number of rounds the commit rule waits for a
	// direct decision on a leader before falling back to an indirect
	// decision through the next committed leader's causal history.
	// Larger values favor committing slow leaders directly at the cost
	// of a longer worst-case decision delay for crashed ones.
	SkipRounds types.Round `yaml:"skip_rounds"`

	// MaxBlockSize bounds the wire size of a single block.
	MaxBlockSize int `yaml:"max_block_size"`

	// MaxPendingBlocks bounds the buffer of blocks waiting for missing
	// ancestors.
	MaxPendingBlocks int `yaml:"max_pending_blocks"`

	// PendingTimeout drops a buffered block whose ancestors did not
	// arrive in time; the peer must redeliver it.
	PendingTimeout time.Duration `yaml:"pending_timeout"`

	// ShutdownGracePeriod lets in-flight round processing finish on stop.
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`

	// WALPath is the write-ahead log directory; empty disables the WAL.
	WALPath string `yaml:"wal_path"`

	// WALSync forces a sync on every WAL write.
	WALSync bool `yaml:"wal_sync"`

	// SchemeName selects the signature scheme for locally generated keys.
	SchemeName string `yaml:"signature_scheme"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LeaderTimeout:       2 * time.Second,
		SkipRounds:          3,
		MaxBlockSize:        4 * 1024 * 1024,
		MaxPendingBlocks:    2048,
		PendingTimeout:      10 * time.Second,
		ShutdownGracePeriod: 2 * time.Second,
		WALPath:             "",
		WALSync:             false,
		SchemeName:          privval.SchemeEd25519,
	}
}

// ValidateBasic performs basic validation of the config.
func (cfg *Config) ValidateBasic() error {
	if cfg.LeaderTimeout <= 0 {
		return ErrInvalidLeaderTimeout
	}
	if cfg.SkipRounds < 1 {
		return ErrInvalidSkipRounds
	}
	if cfg.MaxBlockSize <= 0 {
		return ErrInvalidMaxBlockSize
	}
	if cfg.SchemeName != "" {
		if _, err := privval.SchemeByName(cfg.SchemeName); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (cfg *Config) Save(path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// AuthorityConfig is one committee seat in a committee file.
type AuthorityConfig struct {
	Stake     types.Stake `yaml:"stake"`
	Scheme    string      `yaml:"scheme"`
	PublicKey []byte      `yaml:"public_key"`
}

// CommitteeConfig is the on-disk committee roster.
type CommitteeConfig struct {
	Authorities []AuthorityConfig `yaml:"authorities"`
}

// ToCommittee builds the immutable committee from the roster.
func (cc *CommitteeConfig) ToCommittee() (*types.Committee, error) {
	authorities := make([]types.Authority, len(cc.Authorities))
	for i, a := range cc.Authorities {
		authorities[i] = types.Authority{
			Stake:     a.Stake,
			Scheme:    a.Scheme,
			PublicKey: a.PublicKey,
		}
	}
	return types.NewCommittee(authorities)
}

// LoadCommittee reads a YAML committee file.
func LoadCommittee(path string) (*types.Committee, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read committee: %w", err)
	}
	var cc CommitteeConfig
	if err := yaml.Unmarshal(data, &cc); err != nil {
		return nil, fmt.Errorf("failed to parse committee %s: %w", path, err)
	}
	return cc.ToCommittee()
}

// SaveCommittee writes a committee roster as YAML.
func SaveCommittee(path string, cc *CommitteeConfig) error {
	data, err := yaml.Marshal(cc)
	if err != nil {
		return fmt.Errorf("failed to marshal committee: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
