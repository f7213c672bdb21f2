package vault

import (
	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/address"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
)

// accountIter walks an instruction's accounts in their fixed order.
type accountIter struct {
	accounts []*runtime.AccountInfo
	pos      int
}

func (it *accountIter) next() (*runtime.AccountInfo, error) {
	if it.pos >= len(it.accounts) {
		return nil, svm.ErrNotEnoughAccountKeys
	}
	info := it.accounts[it.pos]
	it.pos++
	return info, nil
}

// nextChecked returns the next account after applying each check in order.
func (it *accountIter) nextChecked(checks ...func(*runtime.AccountInfo) error) (*runtime.AccountInfo, error) {
	info, err := it.next()
	if err != nil {
		return nil, err
	}
	for _, check := range checks {
		if err := check(info); err != nil {
			return nil, err
		}
	}
	return info, nil
}

func ownedBy(owner types.Pubkey) func(*runtime.AccountInfo) error {
	return func(info *runtime.AccountInfo) error { return requireOwnedBy(info, owner) }
}

func isProgram(id types.Pubkey) func(*runtime.AccountInfo) error {
	return func(info *runtime.AccountInfo) error { return requireProgram(info, id) }
}

func isSysvar(id types.Pubkey) func(*runtime.AccountInfo) error {
	return func(info *runtime.AccountInfo) error { return requireSysvar(info, id) }
}

func requireSigner(info *runtime.AccountInfo) error {
	if !info.IsSigner {
		return svm.ErrMissingRequiredSignature
	}
	return nil
}

func requireWritable(info *runtime.AccountInfo) error {
	if !info.IsWritable {
		return svm.ErrNotWritable
	}
	return nil
}

func requireOwnedBy(info *runtime.AccountInfo, owner types.Pubkey) error {
	if info.Owner() != owner {
		return ErrIncorrectOwner
	}
	return nil
}

// requireProgram pins a program account to a well-known program.
func requireProgram(info *runtime.AccountInfo, id types.Pubkey) error {
	if info.Key != id {
		return svm.ErrIncorrectProgramID
	}
	return nil
}

// requireSysvar pins a sysvar account to its well-known address.
func requireSysvar(info *runtime.AccountInfo, id types.Pubkey) error {
	if info.Key != id {
		return svm.ErrInvalidAccountData
	}
	return nil
}

// verifyDerivation checks that info sits at the address derived from seeds
// and returns the bump that completes the signer seeds. The search is charged
// per bump tried.
func verifyDerivation(ctx *runtime.Context, programID types.Pubkey, info *runtime.AccountInfo, seeds ...[]byte) (uint8, error) {
	key, bump, err := address.FindProgramAddress(seeds, programID)
	if err != nil {
		return 0, ErrDerivedKeyInvalid
	}
	if err := ctx.ConsumeCU(svm.CUFindProgramAddress * uint64(256-int(bump))); err != nil {
		return 0, err
	}
	if key != info.Key {
		return 0, ErrDerivedKeyInvalid
	}
	return bump, nil
}

func isKey(opt *types.Pubkey, key types.Pubkey) bool {
	return opt != nil && *opt == key
}
