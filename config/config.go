// Package config defines the single typed Config struct covering every
// option named in spec §6, with a DefaultConfig for every default the spec
// names. Per the Non-goals, there is no human-facing file-format parser
// (TOML/YAML/JSON); Config is built programmatically or via cmd/prfi's CLI
// flags, the same way the teacher builds its node config from cmd/utils
// flag registration rather than a config-file reader.
package config

import (
	"time"

	"github.com/alecthomas/units"

	"github.com/sr-oliveiraa/prfi-api-tokenization/errs"
)

// RetryConfig covers spec §6's "Retry" option group.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// FallbackConfig covers spec §6's "Fallback" option group.
type FallbackConfig struct {
	Enabled             bool
	AutoDiscover        bool
	MaxFallbackAttempts int
}

// MinerConfig covers spec §6's "Miner" option group.
type MinerConfig struct {
	MinDifficulty  int
	IterationCap   uint64
	EventsPerToken uint64
}

// SubmitterConfig covers spec §6's "Submitter" option group.
type SubmitterConfig struct {
	RPCURL             string
	ContractAddress    string // 20-byte hex
	PrivateKey         string // 32-byte hex
	ChainID            int
	BatchSize          int
	MinBatchSize       int
	MaxBatchSize       int
	GasLimit           uint64
	GasPriceMultiplier float64
	MaxGasPrice        uint64
	ConfirmationBlocks uint64
	PollInterval       time.Duration
	MaxRetries         int
	RetryDelay         time.Duration
	ExponentialBackoff bool
}

// poaChainIDs lists chain_id values that require POA-aware RPC middleware,
// per spec §6.
var poaChainIDs = map[int]bool{97: true, 56: true, 80001: true, 137: true}

// IsPOAChain reports whether c.ChainID requires the POA extraData
// middleware (clique/BFT chains with a non-standard block header).
func (c SubmitterConfig) IsPOAChain() bool {
	return poaChainIDs[c.ChainID]
}

// StorageConfig covers spec §6's "Storage" option group.
type StorageConfig struct {
	BlocksDirectory string
	BackupEnabled   bool
	BackupDirectory string
	// CacheSize is a github.com/alecthomas/units byte count (for example
	// 256 * units.MiB); this package does not parse size strings.
	CacheSize units.Base2Bytes
}

// SecurityConfig covers spec §6's "Security" option group.
type SecurityConfig struct {
	SecretKey               string
	SignatureValidityWindow time.Duration
	RequireHTTPS            bool
}

// Config is the full, flattened set of options named in spec §6.
type Config struct {
	Retry      RetryConfig
	Fallback   FallbackConfig
	Miner      MinerConfig
	Submitter  SubmitterConfig
	Storage    StorageConfig
	Security   SecurityConfig
}

// DefaultConfig matches every default named across spec §4 and §6.
var DefaultConfig = Config{
	Retry: RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	},
	Fallback: FallbackConfig{
		Enabled:             false,
		AutoDiscover:        false,
		MaxFallbackAttempts: 3,
	},
	Miner: MinerConfig{
		MinDifficulty:  2,
		IterationCap:   1_000_000,
		EventsPerToken: 1000,
	},
	Submitter: SubmitterConfig{
		ChainID:            1,
		BatchSize:          10,
		MinBatchSize:       1,
		MaxBatchSize:       50,
		GasLimit:           3_000_000,
		GasPriceMultiplier: 1.1,
		MaxGasPrice:        500_000_000_000,
		ConfirmationBlocks: 12,
		PollInterval:       30 * time.Second,
		MaxRetries:         3,
		RetryDelay:         5 * time.Second,
		ExponentialBackoff: true,
	},
	Storage: StorageConfig{
		BlocksDirectory: "./blocks",
		BackupEnabled:   false,
		CacheSize:       256 * units.MiB,
	},
	Security: SecurityConfig{
		SignatureValidityWindow: 300 * time.Second,
		RequireHTTPS:            true,
	},
}

// Validate checks every range constraint named in spec §6, returning a
// errs.KindConfigInvalid error describing the first violation found.
func (c Config) Validate() error {
	switch {
	case c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 20:
		return invalid("retry.max_attempts", "must be between 1 and 20")
	case c.Retry.InitialDelay <= 0:
		return invalid("retry.initial_delay", "must be > 0")
	case c.Retry.MaxDelay < c.Retry.InitialDelay:
		return invalid("retry.max_delay", "must be >= initial_delay")
	case c.Retry.Multiplier < 1:
		return invalid("retry.multiplier", "must be >= 1")
	case c.Fallback.MaxFallbackAttempts < 0:
		return invalid("fallback.max_fallback_attempts", "must be >= 0")
	case c.Miner.MinDifficulty < 1 || c.Miner.MinDifficulty > 10:
		return invalid("miner.min_difficulty", "must be between 1 and 10")
	case c.Miner.IterationCap == 0:
		return invalid("miner.iteration_cap", "must be > 0")
	case c.Submitter.RPCURL == "":
		return invalid("submitter.rpc_url", "must be set")
	case !isHex20(c.Submitter.ContractAddress):
		return invalid("submitter.contract_address", "must be 20-byte hex")
	case !isHex32(c.Submitter.PrivateKey):
		return invalid("submitter.private_key", "must be 32-byte hex")
	case c.Submitter.BatchSize < c.Submitter.MinBatchSize:
		return invalid("submitter.batch_size", "must be >= min_batch_size")
	case c.Submitter.MaxBatchSize < c.Submitter.BatchSize:
		return invalid("submitter.max_batch_size", "must be >= batch_size")
	case c.Submitter.GasLimit == 0:
		return invalid("submitter.gas_limit", "must be > 0")
	case c.Submitter.GasPriceMultiplier < 1:
		return invalid("submitter.gas_price_multiplier", "must be >= 1")
	case c.Submitter.ConfirmationBlocks == 0:
		return invalid("submitter.confirmation_blocks", "must be > 0")
	case c.Submitter.MaxRetries < 0:
		return invalid("submitter.max_retries", "must be >= 0")
	case c.Storage.BlocksDirectory == "":
		return invalid("storage.blocks_directory", "must be set")
	case len(c.Security.SecretKey) < 32:
		return invalid("security.secret_key", "must be at least 32 characters")
	case c.Security.SignatureValidityWindow <= 0:
		return invalid("security.signature_validity_window", "must be > 0")
	}
	return nil
}

func invalid(field, reason string) error {
	return errs.New(errs.KindConfigInvalid, "config", "Validate", field, errConfigReason(reason))
}

type errConfigReason string

func (e errConfigReason) Error() string { return string(e) }

func isHex20(s string) bool { return isHexOfLen(s, 40) }
func isHex32(s string) bool { return isHexOfLen(s, 64) }

func isHexOfLen(s string, n int) bool {
	s = trimHexPrefix(s)
	if len(s) != n {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
