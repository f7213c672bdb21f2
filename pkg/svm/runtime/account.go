package runtime

import (
	"bytes"
	"errors"
	"math/bits"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/accounts"
	"github.com/fortiblox/stratus-vault/pkg/svm"
)

// entry is one account in the transaction arena. Every AccountInfo for the
// same key, at any call depth, points at the same entry.
type entry struct {
	key     types.Pubkey
	account *accounts.Account

	readers int
	writer  bool
}

func (e *entry) borrowed() bool {
	return e.writer || e.readers > 0
}

// AccountInfo is a program's view of an account for one instruction.
type AccountInfo struct {
	Key        types.Pubkey
	IsSigner   bool
	IsWritable bool

	entry *entry
}

// Owner returns the owning program.
func (a *AccountInfo) Owner() types.Pubkey {
	return a.entry.account.Owner
}

// Lamports returns the balance.
func (a *AccountInfo) Lamports() uint64 {
	return a.entry.account.Lamports
}

// SetLamports overwrites the balance. The runtime checks ownership and
// balance conservation when the frame ends.
func (a *AccountInfo) SetLamports(lamports uint64) {
	a.entry.account.Lamports = lamports
}

// DataLen returns the length of the account data.
func (a *AccountInfo) DataLen() int {
	return len(a.entry.account.Data)
}

// DataIsEmpty reports whether the account holds no data.
func (a *AccountInfo) DataIsEmpty() bool {
	return len(a.entry.account.Data) == 0
}

// Assign changes the owner.
func (a *AccountInfo) Assign(owner types.Pubkey) {
	a.entry.account.Owner = owner
}

// TryBorrowData takes a shared borrow of the account data. The returned
// slice must not be modified; call release when done.
func (a *AccountInfo) TryBorrowData() ([]byte, func(), error) {
	e := a.entry
	if e.writer {
		return nil, nil, svm.ErrAccountBorrowFailed
	}
	e.readers++
	released := false
	return e.account.Data, func() {
		if !released {
			released = true
			e.readers--
		}
	}, nil
}

// TryBorrowDataMut takes the exclusive borrow of the account data.
func (a *AccountInfo) TryBorrowDataMut() ([]byte, func(), error) {
	e := a.entry
	if e.borrowed() {
		return nil, nil, svm.ErrAccountBorrowFailed
	}
	e.writer = true
	released := false
	return e.account.Data, func() {
		if !released {
			released = true
			e.writer = false
		}
	}, nil
}

// Realloc resizes the data buffer, zero-filling any growth.
func (a *AccountInfo) Realloc(newLen int) error {
	e := a.entry
	if e.borrowed() {
		return svm.ErrAccountBorrowFailed
	}
	if newLen < 0 || newLen > accounts.MaxAccountDataSize {
		return svm.ErrInvalidArgument
	}
	data := make([]byte, newLen)
	copy(data, e.account.Data)
	e.account.Data = data
	return nil
}

// TransferLamports moves lamports between two accounts with checked math.
func TransferLamports(from, to *AccountInfo, amount uint64) error {
	if from.Lamports() < amount {
		return svm.ErrInsufficientFunds
	}
	if from.entry == to.entry {
		return nil
	}
	sum, carry := bits.Add64(to.Lamports(), amount, 0)
	if carry != 0 {
		return svm.ErrArithmeticOverflow
	}
	from.SetLamports(from.Lamports() - amount)
	to.SetLamports(sum)
	return nil
}

// arena holds every account a transaction touches.
type arena struct {
	entries []*entry
	index   map[types.Pubkey]*entry
	loaded  map[types.Pubkey]*accounts.Account
}

// loadArena reads keys from db. Missing accounts load as empty accounts owned
// by the system program.
func loadArena(db accounts.DB, keys []types.Pubkey) (*arena, error) {
	a := &arena{
		entries: make([]*entry, 0, len(keys)),
		index:   make(map[types.Pubkey]*entry, len(keys)),
		loaded:  make(map[types.Pubkey]*accounts.Account, len(keys)),
	}
	for _, key := range keys {
		if _, ok := a.index[key]; ok {
			continue
		}
		acc, err := db.GetAccount(key)
		if errors.Is(err, accounts.ErrAccountNotFound) {
			acc = &accounts.Account{Owner: types.SystemProgramAddr}
		} else if err != nil {
			return nil, err
		}
		e := &entry{key: key, account: acc.Clone()}
		a.entries = append(a.entries, e)
		a.index[key] = e
		a.loaded[key] = acc
	}
	return a, nil
}

func (a *arena) get(key types.Pubkey) *entry {
	return a.index[key]
}

// changed returns the accounts among keys whose state differs from what was
// loaded.
func (a *arena) changed(keys []types.Pubkey) []accounts.Entry {
	var out []accounts.Entry
	for _, key := range keys {
		e := a.index[key]
		if e == nil || !accountChanged(a.loaded[key], e.account) {
			continue
		}
		out = append(out, accounts.Entry{Pubkey: key, Account: e.account.Clone()})
	}
	return out
}

func accountChanged(before, after *accounts.Account) bool {
	if before.Lamports != after.Lamports || before.Owner != after.Owner || before.Executable != after.Executable {
		return true
	}
	return !bytes.Equal(before.Data, after.Data)
}
