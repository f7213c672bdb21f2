// Package history provides persistent storage for executed vault ledger
// transactions.
//
// It provides:
// - Transaction lookup by signature
// - Address-to-signature indexing, newest first
// - Automatic pruning of the oldest transactions
//
// The store uses BoltDB for persistent storage, providing ACID guarantees
// and efficient reads for the RPC server and the CLI.
package history

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-vault/internal/types"
)

// TransactionRecord is an executed transaction and its outcome.
type TransactionRecord struct {
	// Signature is the first signature of the transaction.
	Signature types.Signature

	// Seq orders records by execution. It increases monotonically.
	Seq uint64

	// Slot and BlockTime are read from the ledger clock after execution.
	Slot      uint64
	BlockTime int64

	// Success reports whether the transaction was committed.
	Success bool

	// Err is the failure message, empty on success.
	Err string

	// CustomCode is the program error code of a failed instruction, if any.
	CustomCode *uint32

	// FailedProgram is the program that raised the failure, if any. Custom
	// codes are only meaningful together with it.
	FailedProgram *types.Pubkey

	// Logs are the program log lines.
	Logs []string

	// ComputeUnitsConsumed is the compute spent by the transaction.
	ComputeUnitsConsumed uint64

	// AccountKeys lists every account the message references.
	AccountKeys []types.Pubkey

	// ModifiedAccounts lists the accounts the transaction changed.
	ModifiedAccounts []types.Pubkey

	// Raw is the serialized signed transaction.
	Raw []byte
}

// SignatureInfo summarizes a transaction in address queries.
type SignatureInfo struct {
	Signature types.Signature
	Slot      uint64
	BlockTime int64
	Err       string
}

// Info returns the summary of r.
func (r *TransactionRecord) Info() SignatureInfo {
	return SignatureInfo{
		Signature: r.Signature,
		Slot:      r.Slot,
		BlockTime: r.BlockTime,
		Err:       r.Err,
	}
}

// SignatureQueryOptions configures signature queries.
type SignatureQueryOptions struct {
	// Limit is the maximum number of signatures to return. Zero or values
	// above MaxSignatureLimit use MaxSignatureLimit.
	Limit int

	// Before returns signatures older than (not including) this signature.
	Before *types.Signature
}

// MaxSignatureLimit bounds address queries.
const MaxSignatureLimit = 1000

// Stats contains store statistics.
type Stats struct {
	// TransactionCount is the number of transactions retained.
	TransactionCount uint64

	// LatestSeq is the sequence number of the newest record.
	LatestSeq uint64
}

// EncodeSeqKey encodes a sequence number as a big-endian 8-byte key.
func EncodeSeqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// DecodeSeqKey decodes a sequence number from a big-endian 8-byte key.
func DecodeSeqKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// EncodeAddressSeqKey encodes an address+sequence composite key.
// Format: [32-byte address][8-byte seq big-endian]
func EncodeAddressSeqKey(addr types.Pubkey, seq uint64) []byte {
	key := make([]byte, types.PubkeySize+8)
	copy(key[:types.PubkeySize], addr[:])
	binary.BigEndian.PutUint64(key[types.PubkeySize:], seq)
	return key
}

// DecodeAddressSeqKey decodes an address+sequence composite key.
func DecodeAddressSeqKey(key []byte) (types.Pubkey, uint64) {
	var addr types.Pubkey
	if len(key) < types.PubkeySize+8 {
		return addr, 0
	}
	copy(addr[:], key[:types.PubkeySize])
	return addr, binary.BigEndian.Uint64(key[types.PubkeySize:])
}
