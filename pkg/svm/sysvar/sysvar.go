// Package sysvar encodes the ledger clock and rent parameters that the
// runtime publishes as read-only accounts.
package sysvar

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/accounts"
)

// Serialized sizes.
const (
	ClockSize = 40
	RentSize  = 17
)

// AccountStorageOverhead is charged on top of the data length when computing
// the rent-exempt minimum.
const AccountStorageOverhead = 128

// Default rent parameters.
const (
	DefaultLamportsPerByteYear = uint64(3480)
	DefaultExemptionThreshold  = 2.0
	DefaultBurnPercent         = uint8(50)
)

// ErrInvalidSysvar is returned when a sysvar account has the wrong address,
// owner or length.
var ErrInvalidSysvar = errors.New("invalid sysvar account")

// Clock is the ledger's notion of time.
type Clock struct {
	Slot                uint64
	EpochStartTimestamp int64
	Epoch               uint64
	LeaderScheduleEpoch uint64
	UnixTimestamp       int64
}

// Encode serializes the clock.
func (c *Clock) Encode() []byte {
	buf := make([]byte, ClockSize)
	binary.LittleEndian.PutUint64(buf[0:], c.Slot)
	binary.LittleEndian.PutUint64(buf[8:], uint64(c.EpochStartTimestamp))
	binary.LittleEndian.PutUint64(buf[16:], c.Epoch)
	binary.LittleEndian.PutUint64(buf[24:], c.LeaderScheduleEpoch)
	binary.LittleEndian.PutUint64(buf[32:], uint64(c.UnixTimestamp))
	return buf
}

// DecodeClock parses a serialized clock.
func DecodeClock(data []byte) (*Clock, error) {
	if len(data) != ClockSize {
		return nil, ErrInvalidSysvar
	}
	return &Clock{
		Slot:                binary.LittleEndian.Uint64(data[0:]),
		EpochStartTimestamp: int64(binary.LittleEndian.Uint64(data[8:])),
		Epoch:               binary.LittleEndian.Uint64(data[16:]),
		LeaderScheduleEpoch: binary.LittleEndian.Uint64(data[24:]),
		UnixTimestamp:       int64(binary.LittleEndian.Uint64(data[32:])),
	}, nil
}

// Rent holds the storage rent parameters.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
	BurnPercent         uint8
}

// DefaultRent returns the default rent parameters.
func DefaultRent() *Rent {
	return &Rent{
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
		BurnPercent:         DefaultBurnPercent,
	}
}

// MinimumBalance returns the lamports an account of dataLen bytes needs to
// be exempt from rent.
func (r *Rent) MinimumBalance(dataLen int) uint64 {
	bytes := uint64(AccountStorageOverhead + dataLen)
	return uint64(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold)
}

// IsExempt reports whether lamports covers the minimum balance for dataLen.
func (r *Rent) IsExempt(lamports uint64, dataLen int) bool {
	return lamports >= r.MinimumBalance(dataLen)
}

// Encode serializes the rent parameters.
func (r *Rent) Encode() []byte {
	buf := make([]byte, RentSize)
	binary.LittleEndian.PutUint64(buf[0:], r.LamportsPerByteYear)
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(r.ExemptionThreshold))
	buf[16] = r.BurnPercent
	return buf
}

// DecodeRent parses serialized rent parameters.
func DecodeRent(data []byte) (*Rent, error) {
	if len(data) != RentSize {
		return nil, ErrInvalidSysvar
	}
	return &Rent{
		LamportsPerByteYear: binary.LittleEndian.Uint64(data[0:]),
		ExemptionThreshold:  math.Float64frombits(binary.LittleEndian.Uint64(data[8:])),
		BurnPercent:         data[16],
	}, nil
}

// ClockFromAccount validates and decodes the clock sysvar account.
func ClockFromAccount(key types.Pubkey, acc *accounts.Account) (*Clock, error) {
	if key != types.SysvarClockAddr || acc == nil || acc.Owner != types.SysvarOwnerAddr {
		return nil, ErrInvalidSysvar
	}
	return DecodeClock(acc.Data)
}

// RentFromAccount validates and decodes the rent sysvar account.
func RentFromAccount(key types.Pubkey, acc *accounts.Account) (*Rent, error) {
	if key != types.SysvarRentAddr || acc == nil || acc.Owner != types.SysvarOwnerAddr {
		return nil, ErrInvalidSysvar
	}
	return DecodeRent(acc.Data)
}

// NewAccount wraps sysvar data in a rent-exempt account owned by the sysvar
// owner.
func NewAccount(data []byte, rent *Rent) *accounts.Account {
	lamports := rent.MinimumBalance(len(data))
	if lamports == 0 {
		lamports = 1
	}
	return &accounts.Account{
		Lamports: lamports,
		Data:     data,
		Owner:    types.SysvarOwnerAddr,
	}
}
