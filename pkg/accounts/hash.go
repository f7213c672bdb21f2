package accounts

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/fortiblox/stratus-vault/internal/types"
)

// ComputeAccountHash computes the hash of a single account:
// BLAKE3(lamports || data || executable || owner || pubkey).
//
// Zero accounts hash to the zero hash so that a deleted account and an
// account that was never created are indistinguishable.
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	if account == nil || account.IsZero() {
		return types.Hash{}
	}

	h := blake3.New()
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], account.Lamports)
	h.Write(u64[:])
	h.Write(account.Data)
	if account.Executable {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write(account.Owner[:])
	h.Write(pubkey[:])

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// ComputeAccountsHash computes the Merkle root over every account in db,
// sorted by pubkey. Two databases with the same accounts produce the same
// hash regardless of implementation.
func ComputeAccountsHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.ForEach(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeDeltaHash computes the Merkle root over a set of written accounts.
// Entries are hashed in pubkey order; deleted accounts contribute the zero
// hash.
func ComputeDeltaHash(entries []Entry) types.Hash {
	if len(entries) == 0 {
		return types.Hash{}
	}
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sortEntries(sorted)

	hashes := make([]types.Hash, len(sorted))
	for i, e := range sorted {
		hashes[i] = ComputeAccountHash(e.Pubkey, e.Account)
	}
	return ComputeMerkleRoot(hashes)
}

// ComputeMerkleRoot computes a binary Merkle root.
//
// Tree structure:
//   - Leaf: BLAKE3(0x00 || hash)
//   - Node: BLAKE3(0x01 || left || right)
//   - An odd node at any level is paired with the zero hash.
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = computeLeafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next[i/2] = computeNodeHash(level[i], level[i+1])
			} else {
				next[i/2] = computeNodeHash(level[i], types.Hash{})
			}
		}
		level = next
	}

	return level[0]
}

func computeLeafHash(h types.Hash) types.Hash {
	var buf [1 + types.HashSize]byte
	buf[0] = 0x00
	copy(buf[1:], h[:])
	return blake3.Sum256(buf[:])
}

func computeNodeHash(left, right types.Hash) types.Hash {
	var buf [1 + 2*types.HashSize]byte
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[1+types.HashSize:], right[:])
	return blake3.Sum256(buf[:])
}
