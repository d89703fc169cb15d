package state

import (
	"fmt"
	"time"
)

// Parameters holds the runtime-tunable numbers that govern block production
// and transaction acceptance. It is the single Cell[Parameters] instance
// held by World. A set_parameter instruction (see core.SetParameterPayload)
// can change MaxTransactionsPerBlock, MaxInstructionsPerTransaction and
// FuelLimit in-chain; the other fields have no in-chain setter.
type Parameters struct {
	// BlockTime is the target interval between block proposals.
	BlockTime time.Duration `json:"block_time"`
	// CommitTime bounds how long the proxy tail waits to collect votes
	// before the round is considered stalled.
	CommitTime time.Duration `json:"commit_time"`
	// MaxTransactionsPerBlock caps how many transactions a leader may
	// include in one proposal.
	MaxTransactionsPerBlock int `json:"max_transactions_per_block"`
	// MaxInstructionsPerTransaction caps a single transaction's
	// instruction count (see core.AcceptanceLimits.MaxInstructions).
	MaxInstructionsPerTransaction int `json:"max_instructions_per_transaction"`
	// FuelLimit bounds the compute budget for one WASM instruction
	// execution.
	FuelLimit uint64 `json:"fuel_limit"`
	// MaxClockDrift bounds how far a transaction's declared timestamp may
	// diverge from the local clock at acceptance time.
	MaxClockDrift time.Duration `json:"max_clock_drift"`
}

// DefaultParameters returns the parameter set new chains bootstrap with
// absent an explicit genesis override.
func DefaultParameters() Parameters {
	return Parameters{
		BlockTime:                     2 * time.Second,
		CommitTime:                    4 * time.Second,
		MaxTransactionsPerBlock:       500,
		MaxInstructionsPerTransaction: 4096,
		FuelLimit:                     10_000_000,
		MaxClockDrift:                 5 * time.Second,
	}
}

// ValidateTTL enforces the hard precondition fixed for transaction
// acceptance: a transaction's TTL must be at least BlockTime (a TTL shorter
// than one block round can never be satisfied) and at least CommitTime, the
// round's own commit timeout ("status_timeout"), since a transaction that
// expires before a round can finish committing it is unacceptable on
// arrival rather than merely likely to miss its block.
func (p Parameters) ValidateTTL(ttl time.Duration) error {
	if ttl < p.BlockTime {
		return fmt.Errorf("ttl %s is shorter than block_time %s", ttl, p.BlockTime)
	}
	if ttl < p.CommitTime {
		return fmt.Errorf("ttl %s is shorter than commit_time %s", ttl, p.CommitTime)
	}
	return nil
}
