// Package accounts stores ledger accounts: the byte buffers, lamport balances
// and owner identities that every program operates on.
//
// Two implementations are provided. MemoryDB is used by tests and short-lived
// simulations; BadgerDB persists the ledger between CLI invocations. Both
// treat an account with no lamports and no data as deleted, which is how the
// runtime garbage-collects closed accounts.
package accounts

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/fortiblox/stratus-vault/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when a serialized account is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxAccountDataSize bounds the data buffer of a single account.
const MaxAccountDataSize = 10 * 1024 * 1024

// Account is a single ledger account.
type Account struct {
	// Lamports is the native balance. Closing an account moves all of it
	// elsewhere.
	Lamports uint64

	// Data is the account buffer. Only the owner program may change it.
	Data []byte

	// Owner is the program that owns this account.
	Owner types.Pubkey

	// Executable marks builtin program accounts.
	Executable bool
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
	}
}

// IsZero returns true if the account has no lamports and no data.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Size returns the serialized size of the account.
func (a *Account) Size() int {
	// lamports (8) + data_len (8) + data + owner (32) + executable (1)
	return 8 + 8 + len(a.Data) + 32 + 1
}

// Serialize encodes the account for storage.
func (a *Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	offset := 0

	binary.LittleEndian.PutUint64(buf[offset:], a.Lamports)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], uint64(len(a.Data)))
	offset += 8

	copy(buf[offset:], a.Data)
	offset += len(a.Data)

	copy(buf[offset:], a.Owner[:])
	offset += 32

	if a.Executable {
		buf[offset] = 1
	}

	return buf
}

// DeserializeAccount decodes an account produced by Serialize.
func DeserializeAccount(data []byte) (*Account, error) {
	if len(data) < 49 {
		return nil, ErrInvalidData
	}

	lamports := binary.LittleEndian.Uint64(data[0:])
	dataLen := binary.LittleEndian.Uint64(data[8:])
	if dataLen > MaxAccountDataSize {
		return nil, ErrInvalidData
	}
	if uint64(len(data)) != 8+8+dataLen+33 {
		return nil, ErrInvalidData
	}

	offset := 16
	accountData := make([]byte, dataLen)
	copy(accountData, data[offset:offset+int(dataLen)])
	offset += int(dataLen)

	var owner types.Pubkey
	copy(owner[:], data[offset:offset+32])
	offset += 32

	switch data[offset] {
	case 0, 1:
	default:
		return nil, ErrInvalidData
	}

	return &Account{
		Lamports:   lamports,
		Data:       accountData,
		Owner:      owner,
		Executable: data[offset] == 1,
	}, nil
}

// Entry pairs a pubkey with its account.
type Entry struct {
	Pubkey  types.Pubkey
	Account *Account
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account. Zero accounts are deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// DeleteAccount removes an account. Missing accounts are not an error.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// Apply writes every entry or none of them. Zero accounts are deleted.
	Apply(entries []Entry) error

	// ForEach visits every account in ascending pubkey order.
	ForEach(fn func(pubkey types.Pubkey, account *Account) error) error

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// Close closes the database.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.setLocked(pubkey, account)
	return nil
}

func (m *MemoryDB) setLocked(pubkey types.Pubkey, account *Account) {
	if account == nil || account.IsZero() {
		delete(m.accounts, pubkey)
		return
	}
	m.accounts[pubkey] = account.Clone()
}

// DeleteAccount removes an account.
func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.accounts, pubkey)
	return nil
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// Apply writes all entries under a single lock.
func (m *MemoryDB) Apply(entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, e := range entries {
		m.setLocked(e.Pubkey, e.Account)
	}
	return nil
}

// ForEach visits accounts in ascending pubkey order.
func (m *MemoryDB) ForEach(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	entries := make([]Entry, 0, len(m.accounts))
	for k, v := range m.accounts {
		entries = append(entries, Entry{Pubkey: k, Account: v.Clone()})
	}
	m.mu.RUnlock()

	sortEntries(entries)
	for _, e := range entries {
		if err := fn(e.Pubkey, e.Account); err != nil {
			return err
		}
	}
	return nil
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.accounts = nil
	return nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return comparePubkeys(entries[i].Pubkey, entries[j].Pubkey) < 0
	})
}

func comparePubkeys(a, b types.Pubkey) int {
	for i := 0; i < types.PubkeySize; i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

var _ DB = (*MemoryDB)(nil)
