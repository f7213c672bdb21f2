package runtime

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fortiblox/stratus-vault/internal/types"
)

// MaxTransactionSize bounds a serialized transaction.
const MaxTransactionSize = 1232

// Transaction-level errors. These are reported before any instruction runs.
var (
	ErrSanitizeFailure     = errors.New("transaction failed to sanitize accounts offsets correctly")
	ErrSignatureFailure    = errors.New("transaction did not pass signature verification")
	ErrAccountLoadedTwice  = errors.New("account loaded twice")
	ErrTransactionTooLarge = errors.New("transaction too large")
	ErrProgramNotFound     = errors.New("attempt to load a program that does not exist")
)

// Header describes which message accounts sign and which are writable.
// Accounts are ordered: writable signers, read-only signers, writable
// non-signers, read-only non-signers.
type Header struct {
	NumSignatures     uint8
	NumReadonlySigned uint8
	NumReadonly       uint8
}

// CompiledInstruction references message accounts by index.
type CompiledInstruction struct {
	ProgramIndex uint8
	Accounts     []uint8
	Data         []byte
}

// Message is the signed part of a transaction.
type Message struct {
	Header          Header
	AccountKeys     []types.Pubkey
	RecentBlockhash types.Hash
	Instructions    []CompiledInstruction
}

// Transaction is a signed message.
type Transaction struct {
	Signatures []types.Signature
	Message    Message
}

type compileMeta struct {
	AccountMeta
	isPayer   bool
	isProgram bool
}

// NewTransaction compiles instructions into an unsigned transaction paid for
// by payer.
func NewTransaction(payer types.Pubkey, instructions ...Instruction) *Transaction {
	metas := []compileMeta{{
		AccountMeta: AccountMeta{Pubkey: payer, IsSigner: true, IsWritable: true},
		isPayer:     true,
	}}
	for _, ix := range instructions {
		metas = append(metas, compileMeta{
			AccountMeta: AccountMeta{Pubkey: ix.ProgramID},
			isProgram:   true,
		})
		for _, a := range ix.Accounts {
			metas = append(metas, compileMeta{AccountMeta: a})
		}
	}
	metas = filterUnique(metas)
	sort.SliceStable(metas, func(i, j int) bool {
		a, b := metas[i], metas[j]
		if a.isPayer != b.isPayer {
			return a.isPayer
		}
		if a.IsSigner != b.IsSigner {
			return a.IsSigner
		}
		if a.IsWritable != b.IsWritable {
			return a.IsWritable
		}
		if a.isProgram != b.isProgram {
			return !a.isProgram
		}
		return bytes.Compare(a.Pubkey[:], b.Pubkey[:]) < 0
	})

	var m Message
	for _, meta := range metas {
		m.AccountKeys = append(m.AccountKeys, meta.Pubkey)
		if meta.IsSigner {
			m.Header.NumSignatures++
			if !meta.IsWritable {
				m.Header.NumReadonlySigned++
			}
		} else if !meta.IsWritable {
			m.Header.NumReadonly++
		}
	}

	for _, ix := range instructions {
		c := CompiledInstruction{
			ProgramIndex: uint8(indexOf(m.AccountKeys, ix.ProgramID)),
			Data:         ix.Data,
		}
		for _, a := range ix.Accounts {
			c.Accounts = append(c.Accounts, uint8(indexOf(m.AccountKeys, a.Pubkey)))
		}
		m.Instructions = append(m.Instructions, c)
	}

	return &Transaction{
		Signatures: make([]types.Signature, m.Header.NumSignatures),
		Message:    m,
	}
}

// filterUnique merges duplicate metas, promoting privileges.
func filterUnique(metas []compileMeta) []compileMeta {
	filtered := make([]compileMeta, 0, len(metas))
	seen := make(map[types.Pubkey]int, len(metas))
	for _, meta := range metas {
		if j, ok := seen[meta.Pubkey]; ok {
			filtered[j].IsSigner = filtered[j].IsSigner || meta.IsSigner
			filtered[j].IsWritable = filtered[j].IsWritable || meta.IsWritable
			filtered[j].isPayer = filtered[j].isPayer || meta.isPayer
			continue
		}
		seen[meta.Pubkey] = len(filtered)
		filtered = append(filtered, meta)
	}
	return filtered
}

func indexOf(keys []types.Pubkey, key types.Pubkey) int {
	for i, k := range keys {
		if k == key {
			return i
		}
	}
	return -1
}

// IsSigner reports whether account i must sign.
func (m *Message) IsSigner(i int) bool {
	return i < int(m.Header.NumSignatures)
}

// IsWritable reports whether account i is writable.
func (m *Message) IsWritable(i int) bool {
	n := len(m.AccountKeys)
	numSigned := int(m.Header.NumSignatures)
	if i < numSigned {
		return i < numSigned-int(m.Header.NumReadonlySigned)
	}
	return i < n-int(m.Header.NumReadonly)
}

// Sanitize validates header counts and account indexes.
func (m *Message) Sanitize() error {
	n := len(m.AccountKeys)
	h := m.Header
	if h.NumSignatures == 0 || int(h.NumSignatures) > n {
		return ErrSanitizeFailure
	}
	if h.NumReadonlySigned >= h.NumSignatures {
		return ErrSanitizeFailure
	}
	if int(h.NumSignatures)+int(h.NumReadonly) > n {
		return ErrSanitizeFailure
	}
	seen := make(map[types.Pubkey]struct{}, n)
	for _, k := range m.AccountKeys {
		if _, dup := seen[k]; dup {
			return ErrAccountLoadedTwice
		}
		seen[k] = struct{}{}
	}
	for _, ix := range m.Instructions {
		// The payer can never be a program.
		if ix.ProgramIndex == 0 || int(ix.ProgramIndex) >= n {
			return ErrSanitizeFailure
		}
		for _, a := range ix.Accounts {
			if int(a) >= n {
				return ErrSanitizeFailure
			}
		}
	}
	return nil
}

// Marshal serializes the message in the legacy wire format.
func (m *Message) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.Header.NumSignatures)
	buf.WriteByte(m.Header.NumReadonlySigned)
	buf.WriteByte(m.Header.NumReadonly)

	_ = encodeLen(&buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf.Write(k[:])
	}
	buf.Write(m.RecentBlockhash[:])

	_ = encodeLen(&buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf.WriteByte(ix.ProgramIndex)
		_ = encodeLen(&buf, len(ix.Accounts))
		buf.Write(ix.Accounts)
		_ = encodeLen(&buf, len(ix.Data))
		buf.Write(ix.Data)
	}
	return buf.Bytes()
}

// Marshal serializes the transaction.
func (t *Transaction) Marshal() []byte {
	var buf bytes.Buffer
	_ = encodeLen(&buf, len(t.Signatures))
	for _, s := range t.Signatures {
		buf.Write(s[:])
	}
	buf.Write(t.Message.Marshal())
	return buf.Bytes()
}

// UnmarshalTransaction parses a serialized transaction.
func UnmarshalTransaction(b []byte) (*Transaction, error) {
	if len(b) > MaxTransactionSize {
		return nil, ErrTransactionTooLarge
	}
	r := bufio.NewReader(bytes.NewReader(b))

	var tx Transaction
	numSigs, err := decodeLen(r)
	if err != nil {
		return nil, fmt.Errorf("read signature count: %w", err)
	}
	tx.Signatures = make([]types.Signature, numSigs)
	for i := range tx.Signatures {
		if _, err := io.ReadFull(r, tx.Signatures[i][:]); err != nil {
			return nil, fmt.Errorf("read signature %d: %w", i, err)
		}
	}

	m := &tx.Message
	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	m.Header = Header{NumSignatures: header[0], NumReadonlySigned: header[1], NumReadonly: header[2]}

	numKeys, err := decodeLen(r)
	if err != nil {
		return nil, fmt.Errorf("read account count: %w", err)
	}
	m.AccountKeys = make([]types.Pubkey, numKeys)
	for i := range m.AccountKeys {
		if _, err := io.ReadFull(r, m.AccountKeys[i][:]); err != nil {
			return nil, fmt.Errorf("read account %d: %w", i, err)
		}
	}
	if _, err := io.ReadFull(r, m.RecentBlockhash[:]); err != nil {
		return nil, fmt.Errorf("read blockhash: %w", err)
	}

	numIxs, err := decodeLen(r)
	if err != nil {
		return nil, fmt.Errorf("read instruction count: %w", err)
	}
	m.Instructions = make([]CompiledInstruction, numIxs)
	for i := range m.Instructions {
		ix := &m.Instructions[i]
		if ix.ProgramIndex, err = r.ReadByte(); err != nil {
			return nil, fmt.Errorf("read instruction %d: %w", i, err)
		}
		if ix.Accounts, err = readVec(r); err != nil {
			return nil, fmt.Errorf("read instruction %d accounts: %w", i, err)
		}
		if ix.Data, err = readVec(r); err != nil {
			return nil, fmt.Errorf("read instruction %d data: %w", i, err)
		}
	}

	if _, err := r.ReadByte(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing bytes", ErrSanitizeFailure)
	}
	return &tx, nil
}

func readVec(r *bufio.Reader) ([]byte, error) {
	n, err := decodeLen(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Sign signs the message with each key. Every key must belong to a signer
// account.
func (t *Transaction) Sign(keys ...ed25519.PrivateKey) error {
	msg := t.Message.Marshal()
	for _, key := range keys {
		pub := types.PubkeyFromPublicKey(key.Public().(ed25519.PublicKey))
		index := indexOf(t.Message.AccountKeys, pub)
		if index < 0 {
			return fmt.Errorf("signing account %s is not in the account list", pub)
		}
		if index >= len(t.Signatures) {
			return fmt.Errorf("signing account %s is not in the list of signers", pub)
		}
		t.Signatures[index] = types.Sign(key, msg)
	}
	return nil
}

// VerifySignatures checks every required signature.
func (t *Transaction) VerifySignatures() error {
	if len(t.Signatures) != int(t.Message.Header.NumSignatures) {
		return ErrSanitizeFailure
	}
	msg := t.Message.Marshal()
	for i, sig := range t.Signatures {
		if !sig.Verify(t.Message.AccountKeys[i], msg) {
			return fmt.Errorf("%w: signer %s", ErrSignatureFailure, t.Message.AccountKeys[i])
		}
	}
	return nil
}

// Signature returns the first signature, which identifies the transaction.
func (t *Transaction) Signature() types.Signature {
	if len(t.Signatures) == 0 {
		return types.Signature{}
	}
	return t.Signatures[0]
}

func (t *Transaction) String() string {
	var sb strings.Builder
	sb.WriteString("Signatures:\n")
	for i, s := range t.Signatures {
		fmt.Fprintf(&sb, "  %d: %s\n", i, s)
	}
	sb.WriteString("Message:\n")
	fmt.Fprintf(&sb, "  Header: %d signed, %d readonly signed, %d readonly\n",
		t.Message.Header.NumSignatures, t.Message.Header.NumReadonlySigned, t.Message.Header.NumReadonly)
	sb.WriteString("  Accounts:\n")
	for i, k := range t.Message.AccountKeys {
		fmt.Fprintf(&sb, "    %d: %s\n", i, k)
	}
	sb.WriteString("  Instructions:\n")
	for i, ix := range t.Message.Instructions {
		fmt.Fprintf(&sb, "    %d: program %d accounts %v data %x\n", i, ix.ProgramIndex, ix.Accounts, ix.Data)
	}
	return sb.String()
}
