// Package config loads the node-wide tunables for the fetch and weakblock
// packages from a TOML file, the way geth's own node config is loaded.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nxblock/nxd/fetch"
)

// WeakblockConfig holds the weak-block processing knobs.
type WeakblockConfig struct {
	Enable             bool   `toml:"enable"`
	ConsiderPowRatio   uint32 `toml:"consider_pow_ratio"`
	KeepChainTips      int    `toml:"keep_chain_tips"`
	ReassemblyCacheLen int    `toml:"reassembly_cache_len"`
}

// MinWeakblockPowMultiplier is the absolute floor below which incoming weak
// blocks are rejected regardless of ConsiderPowRatio; 8 on no-retarget
// networks.
const (
	MinWeakblockPowMultiplier          = 600
	MinWeakblockPowMultiplierNoRetarget = 8
	defaultConsiderPowRatio            = 30
	noRetargetConsiderPowRatio         = 4
)

// Config aggregates every tunable this module exposes.
type Config struct {
	Fetch     fetch.Config
	Weakblock WeakblockConfig

	// PowNoRetarget selects the no-retarget constants for
	// ConsiderPowRatio and the minimum weak-block POW multiplier. It is
	// not read from the TOML file, and neither Default nor Load sets it:
	// it is false unless the caller sets it, so Load's switch of
	// ConsiderPowRatio to the no-retarget value does not take effect on
	// the Config Load itself builds.
	PowNoRetarget bool
}

// rawConfig mirrors the TOML document shape; duration fields are
// microseconds on disk to match the original knob table, converted to
// time.Duration on load.
type rawConfig struct {
	MinTxRequestRetryUsec  uint32 `toml:"min_tx_request_retry_usec"`
	MinBlkRequestRetryUsec uint32 `toml:"min_blk_request_retry_usec"`
	AcceptablePingUsec     int64  `toml:"acceptable_ping_usec"`
	RequestPacerMax        uint32 `toml:"request_pacer_max"`
	RequestPacerAvg        uint32 `toml:"request_pacer_avg"`
	BlockPacerMax          uint32 `toml:"block_pacer_max"`
	BlockPacerAvg          uint32 `toml:"block_pacer_avg"`

	Weakblocks WeakblockConfig `toml:"weakblocks"`
}

// Default returns the conservative defaults every knob falls back to
// absent an explicit config file.
func Default() Config {
	return Config{
		Fetch: fetch.DefaultConfig(),
		Weakblock: WeakblockConfig{
			Enable:             true,
			ConsiderPowRatio:   defaultConsiderPowRatio,
			KeepChainTips:      5,
			ReassemblyCacheLen: 256,
		},
	}
}

// Load reads and validates a TOML config file, overlaying it on Default().
// A field missing from the file keeps the default; a field present with
// value zero replaces it (and a zero pacer burst then fails validation).
func Load(path string) (Config, error) {
	cfg := Default()

	var raw rawConfig
	raw.MinTxRequestRetryUsec = uint32(cfg.Fetch.TxRetry / time.Microsecond)
	raw.MinBlkRequestRetryUsec = uint32(cfg.Fetch.BlkRetry / time.Microsecond)
	raw.AcceptablePingUsec = cfg.Fetch.AcceptablePingUsec
	raw.RequestPacerMax = cfg.Fetch.RequestPacerMaxBurst
	raw.RequestPacerAvg = cfg.Fetch.RequestPacerAverage
	raw.BlockPacerMax = cfg.Fetch.BlockPacerMaxBurst
	raw.BlockPacerAvg = cfg.Fetch.BlockPacerAverage
	raw.Weakblocks = cfg.Weakblock

	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	cfg.Fetch.TxRetry = time.Duration(raw.MinTxRequestRetryUsec) * time.Microsecond
	cfg.Fetch.BlkRetry = time.Duration(raw.MinBlkRequestRetryUsec) * time.Microsecond
	cfg.Fetch.AcceptablePingUsec = raw.AcceptablePingUsec
	cfg.Fetch.RequestPacerMaxBurst = raw.RequestPacerMax
	cfg.Fetch.RequestPacerAverage = raw.RequestPacerAvg
	cfg.Fetch.BlockPacerMaxBurst = raw.BlockPacerMax
	cfg.Fetch.BlockPacerAverage = raw.BlockPacerAvg
	cfg.Weakblock = raw.Weakblocks

	if cfg.PowNoRetarget && cfg.Weakblock.ConsiderPowRatio == defaultConsiderPowRatio {
		cfg.Weakblock.ConsiderPowRatio = noRetargetConsiderPowRatio
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Fetch.RequestPacerMaxBurst == 0 {
		return fmt.Errorf("config: request_pacer_max must be positive")
	}
	if c.Fetch.BlockPacerMaxBurst == 0 {
		return fmt.Errorf("config: block_pacer_max must be positive")
	}
	if c.Weakblock.KeepChainTips < 0 {
		return fmt.Errorf("config: weakblocks.keep_chain_tips must be non-negative")
	}
	return nil
}

// MinWeakblockPowMultiplierFor returns the absolute floor for the active
// network, accounting for no-retarget chains.
func (c Config) MinWeakblockPowMultiplierFor() uint32 {
	if c.PowNoRetarget {
		return MinWeakblockPowMultiplierNoRetarget
	}
	return MinWeakblockPowMultiplier
}
