package fetch

import "time"

// Config holds the Request Manager's tunable knobs.
type Config struct {
	TxRetry  time.Duration // min_tx_request_retry_usec
	BlkRetry time.Duration // min_blk_request_retry_usec

	AcceptablePingUsec int64 // acceptable_ping_usec

	RequestPacerMaxBurst uint32 // request_pacer_max
	RequestPacerAverage  uint32 // request_pacer_avg
	BlockPacerMaxBurst   uint32 // block_pacer_max
	BlockPacerAverage    uint32 // block_pacer_avg
}

// DefaultConfig returns the conservative defaults most deployments run with.
func DefaultConfig() Config {
	return Config{
		TxRetry:              5 * time.Second,
		BlkRetry:             30 * time.Second,
		AcceptablePingUsec:   25_000,
		RequestPacerMaxBurst: 32_768,
		RequestPacerAverage:  16_384,
		BlockPacerMaxBurst:   64,
		BlockPacerAverage:    32,
	}
}
