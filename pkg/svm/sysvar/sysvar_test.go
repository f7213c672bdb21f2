package sysvar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-vault/internal/types"
)

func TestClockEncoding(t *testing.T) {
	c := &Clock{Slot: 12, EpochStartTimestamp: -5, Epoch: 1, LeaderScheduleEpoch: 2, UnixTimestamp: 1_700_000_000}
	data := c.Encode()
	require.Len(t, data, ClockSize)

	got, err := DecodeClock(data)
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = DecodeClock(data[:39])
	assert.ErrorIs(t, err, ErrInvalidSysvar)
}

func TestRentMinimumBalance(t *testing.T) {
	r := DefaultRent()
	// (128 + 0) * 3480 * 2
	assert.Equal(t, uint64(890_880), r.MinimumBalance(0))
	// (128 + 165) * 3480 * 2
	assert.Equal(t, uint64(2_039_280), r.MinimumBalance(165))
	// (128 + 82) * 3480 * 2
	assert.Equal(t, uint64(1_461_600), r.MinimumBalance(82))

	assert.True(t, r.IsExempt(2_039_280, 165))
	assert.False(t, r.IsExempt(2_039_279, 165))
}

func TestRentEncoding(t *testing.T) {
	r := DefaultRent()
	got, err := DecodeRent(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = DecodeRent(nil)
	assert.ErrorIs(t, err, ErrInvalidSysvar)
}

func TestFromAccount(t *testing.T) {
	rent := DefaultRent()
	clockAcc := NewAccount((&Clock{UnixTimestamp: 99}).Encode(), rent)

	c, err := ClockFromAccount(types.SysvarClockAddr, clockAcc)
	require.NoError(t, err)
	assert.Equal(t, int64(99), c.UnixTimestamp)

	_, err = ClockFromAccount(types.SysvarRentAddr, clockAcc)
	assert.ErrorIs(t, err, ErrInvalidSysvar)

	forged := clockAcc.Clone()
	forged.Owner = types.TokenProgramAddr
	_, err = ClockFromAccount(types.SysvarClockAddr, forged)
	assert.ErrorIs(t, err, ErrInvalidSysvar)

	rentAcc := NewAccount(rent.Encode(), rent)
	got, err := RentFromAccount(types.SysvarRentAddr, rentAcc)
	require.NoError(t, err)
	assert.Equal(t, rent, got)
}
