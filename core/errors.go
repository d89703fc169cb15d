package core

import "errors"

// Sentinel errors distinguishing the error kinds described for the
// consensus and validation surfaces. Concrete errors wrap one of these via
// fmt.Errorf("%w: ...", ...) so callers can classify a failure with
// errors.Is without parsing strings.
var (
	// ErrStructural marks a malformed block or transaction, a bad
	// signature slot, a chain ID mismatch, or a clock-drift violation.
	// The sending peer is at fault; the message is rejected without any
	// state change.
	ErrStructural = errors.New("structural error")

	// ErrBlockValidation marks a header mismatch, a signature count below
	// quorum, a hash mismatch, or a body re-execution divergence. A peer
	// observing this keeps its current voting block when one exists.
	ErrBlockValidation = errors.New("block validation error")

	// ErrBlockNotValid marks a block-sync candidate that failed
	// validation outright.
	ErrBlockNotValid = errors.New("block not valid")

	// ErrSoftForkBlockNotValid marks a soft-fork replacement candidate
	// that failed validation.
	ErrSoftForkBlockNotValid = errors.New("soft-fork block not valid")

	// ErrSoftForkSmallViewChangeIndex marks a soft-fork replacement whose
	// view-change index does not exceed the block it would replace.
	ErrSoftForkSmallViewChangeIndex = errors.New("soft-fork block has non-increasing view-change index")

	// ErrBlockNotProperHeight marks a block-sync candidate whose height
	// does not immediately follow the local chain.
	ErrBlockNotProperHeight = errors.New("block not proper height")

	// ErrInternal marks a condition that must never occur in a correctly
	// operating node (e.g. a missing latest block in a non-genesis
	// round). Callers should treat it as fatal rather than attempt to
	// continue with possibly inconsistent state.
	ErrInternal = errors.New("internal invariant violated")
)
