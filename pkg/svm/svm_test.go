package svm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-vault/internal/types"
)

func TestComputeMeter(t *testing.T) {
	cm := NewComputeMeter(1_000)
	require.NoError(t, cm.Consume(400))
	assert.Equal(t, uint64(600), cm.Remaining())
	assert.Equal(t, uint64(400), cm.Consumed())

	err := cm.Consume(601)
	assert.ErrorIs(t, err, ErrComputationalBudgetExceeded)
	assert.Zero(t, cm.Remaining())
	assert.Equal(t, uint64(1_000), cm.Consumed())
}

func TestComputeMeterLimits(t *testing.T) {
	assert.Equal(t, CUDefault, NewComputeMeter(0).Limit())
	assert.Equal(t, CUMax, NewComputeMeter(CUMax*2).Limit())
}

func TestInstructionErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("tx failed: %w", &InstructionError{Index: 2, Err: CustomError(7)})
	assert.ErrorIs(t, err, CustomError(7))
	assert.NotErrorIs(t, err, CustomError(6))

	code, ok := CustomCode(err)
	require.True(t, ok)
	assert.Equal(t, uint32(7), code)

	var ie *InstructionError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 2, ie.Index)
	assert.Contains(t, err.Error(), "custom program error: 0x7")

	_, ok = CustomCode(ErrNotWritable)
	assert.False(t, ok)
}

func TestFailedProgram(t *testing.T) {
	program := types.Pubkey{4}
	err := &InstructionError{Index: 0, Err: &ProgramError{ProgramID: program, Err: CustomError(4)}}

	got, ok := FailedProgram(err)
	require.True(t, ok)
	assert.Equal(t, program, got)
	assert.ErrorIs(t, err, CustomError(4))
	assert.Equal(t, "error processing instruction 0: custom program error: 0x4", err.Error())

	_, ok = FailedProgram(&InstructionError{Err: ErrCallDepth})
	assert.False(t, ok)
}

func TestErrorKindText(t *testing.T) {
	assert.Equal(t, "instruction requires a writable account", ErrNotWritable.Error())
	assert.Equal(t, "instruction error kind 999", InstructionErrorKind(999).Error())
	assert.ErrorIs(t, &InstructionError{Err: ErrIllegalOwner}, ErrIllegalOwner)
}
