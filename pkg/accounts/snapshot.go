package accounts

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/stratus-vault/internal/types"
)

const snapshotVersion = 1

// Snapshot file magic bytes for format validation.
var snapshotMagic = []byte{'V', 'L', 'S', 'N'}

var (
	// ErrSnapshotNotFound is returned when the snapshot file is missing.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrSnapshotCorrupt is returned when a snapshot fails validation.
	ErrSnapshotCorrupt = errors.New("snapshot corrupt")
)

// SnapshotHeader contains metadata about a snapshot.
type SnapshotHeader struct {
	// Version is the snapshot format version.
	Version uint32

	// AccountsCount is the number of accounts in the snapshot.
	AccountsCount uint64

	// AccountsHash is ComputeAccountsHash of the exported ledger.
	AccountsHash types.Hash
}

// headerSize is version (4) + count (8) + hash (32).
const headerSize = 4 + 8 + types.HashSize

// WriteSnapshot exports every account in db to w.
//
// Snapshot format:
//   - Magic (4 bytes): "VLSN"
//   - Version (4 bytes, little-endian)
//   - AccountsCount (8 bytes, little-endian)
//   - AccountsHash (32 bytes)
//   - zstd stream of records: pubkey (32) | size (4, LE) | serialized account
func WriteSnapshot(db DB, w io.Writer) (*SnapshotHeader, error) {
	hash, err := ComputeAccountsHash(db)
	if err != nil {
		return nil, fmt.Errorf("compute accounts hash: %w", err)
	}
	count, err := db.AccountsCount()
	if err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	}

	header := &SnapshotHeader{
		Version:       snapshotVersion,
		AccountsCount: count,
		AccountsHash:  hash,
	}
	if err := writeHeader(w, header); err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("init zstd writer: %w", err)
	}
	bw := bufio.NewWriter(enc)

	var written uint64
	var sizeBuf [4]byte
	err = db.ForEach(func(pubkey types.Pubkey, account *Account) error {
		data := account.Serialize()
		binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(data)))
		if _, err := bw.Write(pubkey[:]); err != nil {
			return err
		}
		if _, err := bw.Write(sizeBuf[:]); err != nil {
			return err
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("write accounts: %w", err)
	}
	if written != count {
		enc.Close()
		return nil, fmt.Errorf("accounts changed during snapshot: counted %d, wrote %d", count, written)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close zstd writer: %w", err)
	}
	return header, nil
}

// ReadSnapshot imports a snapshot into db. The accounts are written in a
// single Apply and only after the recomputed hash matches the header.
func ReadSnapshot(r io.Reader, db DB) (*SnapshotHeader, error) {
	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("init zstd reader: %w", err)
	}
	defer dec.Close()
	br := bufio.NewReader(dec)

	staged := NewMemoryDB()
	defer staged.Close()

	capHint := header.AccountsCount
	if capHint > 1<<16 {
		capHint = 1 << 16
	}
	entries := make([]Entry, 0, capHint)
	for i := uint64(0); i < header.AccountsCount; i++ {
		pubkey, account, err := readAccount(br)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		entries = append(entries, Entry{Pubkey: pubkey, Account: account})
	}
	if err := staged.Apply(entries); err != nil {
		return nil, err
	}

	hash, err := ComputeAccountsHash(staged)
	if err != nil {
		return nil, err
	}
	if hash != header.AccountsHash {
		return nil, fmt.Errorf("%w: hash %s, header %s", ErrSnapshotCorrupt, hash, header.AccountsHash)
	}

	if err := db.Apply(entries); err != nil {
		return nil, fmt.Errorf("apply snapshot: %w", err)
	}
	return header, nil
}

// SaveSnapshot writes a snapshot file at path.
func SaveSnapshot(db DB, path string) (*SnapshotHeader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}
	header, err := WriteSnapshot(db, file)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, err
	}
	return header, nil
}

// LoadSnapshot imports the snapshot file at path into db.
func LoadSnapshot(path string, db DB) (*SnapshotHeader, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer file.Close()
	return ReadSnapshot(file, db)
}

func writeHeader(w io.Writer, header *SnapshotHeader) error {
	buf := make([]byte, len(snapshotMagic)+headerSize)
	offset := copy(buf, snapshotMagic)

	binary.LittleEndian.PutUint32(buf[offset:], header.Version)
	offset += 4

	binary.LittleEndian.PutUint64(buf[offset:], header.AccountsCount)
	offset += 8

	copy(buf[offset:], header.AccountsHash[:])

	_, err := w.Write(buf)
	return err
}

func readHeader(r io.Reader) (*SnapshotHeader, error) {
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != string(snapshotMagic) {
		return nil, fmt.Errorf("%w: invalid magic %q", ErrSnapshotCorrupt, magic)
	}

	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	header := &SnapshotHeader{}
	offset := 0

	header.Version = binary.LittleEndian.Uint32(buf[offset:])
	offset += 4
	if header.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version: %d", header.Version)
	}

	header.AccountsCount = binary.LittleEndian.Uint64(buf[offset:])
	offset += 8

	copy(header.AccountsHash[:], buf[offset:])
	return header, nil
}

func readAccount(r io.Reader) (types.Pubkey, *Account, error) {
	var pubkey types.Pubkey
	if _, err := io.ReadFull(r, pubkey[:]); err != nil {
		return pubkey, nil, fmt.Errorf("read pubkey: %w", err)
	}

	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return pubkey, nil, fmt.Errorf("read size: %w", err)
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])

	const maxSerializedSize = MaxAccountDataSize + 49
	if size > maxSerializedSize {
		return pubkey, nil, fmt.Errorf("%w: account size %d exceeds maximum", ErrSnapshotCorrupt, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return pubkey, nil, fmt.Errorf("read account data: %w", err)
	}

	account, err := DeserializeAccount(data)
	if err != nil {
		return pubkey, nil, fmt.Errorf("deserialize account: %w", err)
	}
	return pubkey, account, nil
}
