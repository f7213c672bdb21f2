package svm

import (
	"sync/atomic"
)

// Compute unit cost constants.
const (
	CUDefault              = uint64(200_000)   // Default CU limit per transaction
	CUMax                  = uint64(1_400_000) // Max CU limit per transaction
	CUSyscallBase          = uint64(100)       // Log and sysvar reads
	CUInvokeBase           = uint64(1_000)     // Cross-program invocation
	CUCreateProgramAddress = uint64(1_500)     // create_program_address
	CUFindProgramAddress   = uint64(1_500)     // find_program_address per iteration
	CUSignatureVerify      = uint64(720)       // Ed25519 signature verification
	CUSystemProgramDefault = uint64(150)       // System program base
	CUTokenProgramDefault  = uint64(2_000)     // Token program base
	CUVaultProgramDefault  = uint64(5_000)     // Vault program base
)

// MaxInvokeDepth is the max instruction stack height, counting the
// top-level instruction.
const MaxInvokeDepth = 5

// ComputeMeter tracks compute unit consumption.
type ComputeMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
}

// NewComputeMeter creates a new compute meter with the specified limit.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit == 0 {
		limit = CUDefault
	}
	if limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{
		remaining: limit,
		limit:     limit,
	}
}

// Consume attempts to consume the specified compute units.
// Returns ErrComputationalBudgetExceeded if insufficient units remain.
func (cm *ComputeMeter) Consume(cost uint64) error {
	for {
		remaining := atomic.LoadUint64(&cm.remaining)
		if remaining < cost {
			atomic.AddUint64(&cm.consumed, remaining)
			atomic.StoreUint64(&cm.remaining, 0)
			return ErrComputationalBudgetExceeded
		}
		if atomic.CompareAndSwapUint64(&cm.remaining, remaining, remaining-cost) {
			atomic.AddUint64(&cm.consumed, cost)
			return nil
		}
	}
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return atomic.LoadUint64(&cm.remaining)
}

// Consumed returns the total consumed compute units.
func (cm *ComputeMeter) Consumed() uint64 {
	return atomic.LoadUint64(&cm.consumed)
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}
