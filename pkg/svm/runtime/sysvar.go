package runtime

import (
	"fmt"

	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/sysvar"
)

// ClockFromInfo decodes the clock sysvar passed to a program.
func ClockFromInfo(info *AccountInfo) (*sysvar.Clock, error) {
	clock, err := sysvar.ClockFromAccount(info.Key, info.entry.account)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", svm.ErrInvalidAccountData, err)
	}
	return clock, nil
}

// RentFromInfo decodes the rent sysvar passed to a program.
func RentFromInfo(info *AccountInfo) (*sysvar.Rent, error) {
	rent, err := sysvar.RentFromAccount(info.Key, info.entry.account)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", svm.ErrInvalidAccountData, err)
	}
	return rent, nil
}
