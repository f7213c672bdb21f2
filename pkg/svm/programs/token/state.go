package token

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
)

// Serialized sizes.
const (
	MintSize    = 82
	AccountSize = 165
)

// AccountState is the lifecycle state of a token account.
type AccountState uint8

// Token account states.
const (
	AccountUninitialized AccountState = iota
	AccountInitialized
	AccountFrozen
)

// Mint describes a token type.
type Mint struct {
	MintAuthority   *types.Pubkey
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority *types.Pubkey
}

// Account holds a balance of one mint.
type Account struct {
	Mint            types.Pubkey
	Owner           types.Pubkey
	Amount          uint64
	Delegate        *types.Pubkey
	State           AccountState
	IsNative        *uint64
	DelegatedAmount uint64
	CloseAuthority  *types.Pubkey
}

// IsFrozen reports whether transfers out of and into the account are blocked.
func (a *Account) IsFrozen() bool {
	return a.State == AccountFrozen
}

// Layout offsets.
const (
	mintAuthorityOff   = 0
	mintSupplyOff      = 36
	mintDecimalsOff    = 44
	mintInitializedOff = 45
	mintFreezeOff      = 46

	accountMintOff      = 0
	accountOwnerOff     = 32
	accountAmountOff    = 64
	accountDelegateOff  = 72
	accountStateOff     = 108
	accountNativeOff    = 109
	accountDelegatedOff = 121
	accountCloseOff     = 129
)

// Pack serializes the mint.
func (m *Mint) Pack() []byte {
	buf := make([]byte, MintSize)
	putPubkeyOption(buf[mintAuthorityOff:], m.MintAuthority)
	binary.LittleEndian.PutUint64(buf[mintSupplyOff:], m.Supply)
	buf[mintDecimalsOff] = m.Decimals
	if m.IsInitialized {
		buf[mintInitializedOff] = 1
	}
	putPubkeyOption(buf[mintFreezeOff:], m.FreezeAuthority)
	return buf
}

// UnpackMint parses a mint, initialized or not.
func UnpackMint(data []byte) (*Mint, error) {
	if len(data) != MintSize {
		return nil, svm.ErrInvalidAccountData
	}
	m := &Mint{
		Supply:   binary.LittleEndian.Uint64(data[mintSupplyOff:]),
		Decimals: data[mintDecimalsOff],
	}
	var err error
	if m.MintAuthority, err = pubkeyOption(data[mintAuthorityOff:]); err != nil {
		return nil, err
	}
	switch data[mintInitializedOff] {
	case 0:
	case 1:
		m.IsInitialized = true
	default:
		return nil, svm.ErrInvalidAccountData
	}
	if m.FreezeAuthority, err = pubkeyOption(data[mintFreezeOff:]); err != nil {
		return nil, err
	}
	return m, nil
}

// Pack serializes the token account.
func (a *Account) Pack() []byte {
	buf := make([]byte, AccountSize)
	copy(buf[accountMintOff:], a.Mint[:])
	copy(buf[accountOwnerOff:], a.Owner[:])
	binary.LittleEndian.PutUint64(buf[accountAmountOff:], a.Amount)
	putPubkeyOption(buf[accountDelegateOff:], a.Delegate)
	buf[accountStateOff] = byte(a.State)
	if a.IsNative != nil {
		binary.LittleEndian.PutUint32(buf[accountNativeOff:], 1)
		binary.LittleEndian.PutUint64(buf[accountNativeOff+4:], *a.IsNative)
	}
	binary.LittleEndian.PutUint64(buf[accountDelegatedOff:], a.DelegatedAmount)
	putPubkeyOption(buf[accountCloseOff:], a.CloseAuthority)
	return buf
}

// UnpackAccount parses a token account, initialized or not.
func UnpackAccount(data []byte) (*Account, error) {
	if len(data) != AccountSize {
		return nil, svm.ErrInvalidAccountData
	}
	a := &Account{
		Amount:          binary.LittleEndian.Uint64(data[accountAmountOff:]),
		State:           AccountState(data[accountStateOff]),
		DelegatedAmount: binary.LittleEndian.Uint64(data[accountDelegatedOff:]),
	}
	copy(a.Mint[:], data[accountMintOff:])
	copy(a.Owner[:], data[accountOwnerOff:])
	if a.State > AccountFrozen {
		return nil, svm.ErrInvalidAccountData
	}
	var err error
	if a.Delegate, err = pubkeyOption(data[accountDelegateOff:]); err != nil {
		return nil, err
	}
	switch binary.LittleEndian.Uint32(data[accountNativeOff:]) {
	case 0:
	case 1:
		v := binary.LittleEndian.Uint64(data[accountNativeOff+4:])
		a.IsNative = &v
	default:
		return nil, svm.ErrInvalidAccountData
	}
	if a.CloseAuthority, err = pubkeyOption(data[accountCloseOff:]); err != nil {
		return nil, err
	}
	return a, nil
}

// putPubkeyOption writes a 4-byte tag followed by the key.
func putPubkeyOption(dst []byte, key *types.Pubkey) {
	if key == nil {
		return
	}
	binary.LittleEndian.PutUint32(dst, 1)
	copy(dst[4:36], key[:])
}

func pubkeyOption(src []byte) (*types.Pubkey, error) {
	switch binary.LittleEndian.Uint32(src) {
	case 0:
		return nil, nil
	case 1:
		var key types.Pubkey
		copy(key[:], src[4:36])
		return &key, nil
	default:
		return nil, svm.ErrInvalidAccountData
	}
}

// LoadMint decodes an initialized mint owned by the token program.
func LoadMint(info *runtime.AccountInfo) (*Mint, error) {
	m, err := loadRaw(info, UnpackMint)
	if err != nil {
		return nil, err
	}
	if !m.IsInitialized {
		return nil, svm.ErrUninitializedAccount
	}
	return m, nil
}

// LoadAccount decodes an initialized token account owned by the token
// program.
func LoadAccount(info *runtime.AccountInfo) (*Account, error) {
	a, err := loadRaw(info, UnpackAccount)
	if err != nil {
		return nil, err
	}
	if a.State == AccountUninitialized {
		return nil, svm.ErrUninitializedAccount
	}
	return a, nil
}

// loadRaw decodes state that may still be uninitialized.
func loadRaw[T any](info *runtime.AccountInfo, unpack func([]byte) (*T, error)) (*T, error) {
	if info.Owner() != ProgramID {
		return nil, svm.ErrIncorrectProgramID
	}
	data, release, err := info.TryBorrowData()
	if err != nil {
		return nil, err
	}
	defer release()
	return unpack(data)
}

func store(info *runtime.AccountInfo, packed []byte) error {
	data, release, err := info.TryBorrowDataMut()
	if err != nil {
		return err
	}
	defer release()
	if len(data) != len(packed) {
		return svm.ErrInvalidAccountData
	}
	copy(data, packed)
	return nil
}
