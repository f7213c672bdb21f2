package runtime

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/accounts"
	"github.com/fortiblox/stratus-vault/pkg/svm/sysvar"
)

// GenesisConfig describes the initial ledger.
type GenesisConfig struct {
	Rent     *sysvar.Rent
	Clock    sysvar.Clock
	Programs []types.Pubkey
}

// WriteGenesis writes the sysvar accounts and an executable account for each
// builtin program.
func WriteGenesis(db accounts.DB, cfg GenesisConfig) error {
	rent := cfg.Rent
	if rent == nil {
		rent = sysvar.DefaultRent()
	}

	entries := []accounts.Entry{
		{Pubkey: types.SysvarClockAddr, Account: sysvar.NewAccount(cfg.Clock.Encode(), rent)},
		{Pubkey: types.SysvarRentAddr, Account: sysvar.NewAccount(rent.Encode(), rent)},
	}
	for _, id := range cfg.Programs {
		entries = append(entries, accounts.Entry{
			Pubkey: id,
			Account: &accounts.Account{
				Lamports:   1,
				Owner:      types.NativeLoaderAddr,
				Executable: true,
			},
		})
	}
	return db.Apply(entries)
}

// ReadClock loads the clock sysvar.
func ReadClock(db accounts.DB) (*sysvar.Clock, error) {
	acc, err := db.GetAccount(types.SysvarClockAddr)
	if err != nil {
		return nil, fmt.Errorf("load clock: %w", err)
	}
	return sysvar.ClockFromAccount(types.SysvarClockAddr, acc)
}

// ReadRent loads the rent sysvar.
func ReadRent(db accounts.DB) (*sysvar.Rent, error) {
	acc, err := db.GetAccount(types.SysvarRentAddr)
	if err != nil {
		return nil, fmt.Errorf("load rent: %w", err)
	}
	return sysvar.RentFromAccount(types.SysvarRentAddr, acc)
}

// SetClock overwrites the clock sysvar, keeping its balance.
func SetClock(db accounts.DB, clock *sysvar.Clock) error {
	acc, err := db.GetAccount(types.SysvarClockAddr)
	if err != nil {
		return fmt.Errorf("load clock: %w", err)
	}
	acc.Data = clock.Encode()
	return db.SetAccount(types.SysvarClockAddr, acc)
}

// Airdrop credits lamports to an account, creating it as a system account if
// it does not exist.
func Airdrop(db accounts.DB, to types.Pubkey, lamports uint64) error {
	acc, err := db.GetAccount(to)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		acc = &accounts.Account{Owner: types.SystemProgramAddr}
	} else if err != nil {
		return err
	}
	sum, carry := bits.Add64(acc.Lamports, lamports, 0)
	if carry != 0 {
		return fmt.Errorf("airdrop to %s overflows balance", to)
	}
	acc.Lamports = sum
	return db.SetAccount(to, acc)
}
