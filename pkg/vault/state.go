package vault

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
)

// Tag is the leading byte of every vault record.
type Tag uint8

// Record tags.
const (
	TagUninitialized Tag = 0
	TagVaultV1       Tag = 1
	TagDepositV1     Tag = 2
)

func (t Tag) String() string {
	switch t {
	case TagUninitialized:
		return "Uninitialized"
	case TagVaultV1:
		return "VaultV1"
	case TagDepositV1:
		return "DepositV1"
	default:
		return "Unknown"
	}
}

// Record sizes.
const (
	ConfigSize        = 1 + 32 + 32 + 32 + 32 + 8
	DepositRecordSize = 1 + 32 + 8 + 8 + 8
)

// Config is the per-vault record.
type Config struct {
	Tag         Tag
	Owner       types.Pubkey
	BaseMint    types.Pubkey
	ReceiptMint types.Pubkey
	Escrow      types.Pubkey
	Coefficient uint64
}

// IsInitialized reports whether Init has run.
func (c *Config) IsInitialized() bool {
	return c.Tag == TagVaultV1
}

// Encode serializes the config.
func (c *Config) Encode() []byte {
	buf := make([]byte, ConfigSize)
	buf[0] = byte(c.Tag)
	copy(buf[1:33], c.Owner[:])
	copy(buf[33:65], c.BaseMint[:])
	copy(buf[65:97], c.ReceiptMint[:])
	copy(buf[97:129], c.Escrow[:])
	binary.LittleEndian.PutUint64(buf[129:], c.Coefficient)
	return buf
}

// DecodeConfig parses a config record. The buffer must be exactly
// ConfigSize bytes with an Uninitialized or VaultV1 tag.
func DecodeConfig(data []byte) (*Config, error) {
	if len(data) != ConfigSize {
		return nil, svm.ErrInvalidAccountData
	}
	c := &Config{Tag: Tag(data[0])}
	if c.Tag != TagUninitialized && c.Tag != TagVaultV1 {
		return nil, svm.ErrInvalidAccountData
	}
	copy(c.Owner[:], data[1:33])
	copy(c.BaseMint[:], data[33:65])
	copy(c.ReceiptMint[:], data[65:97])
	copy(c.Escrow[:], data[97:129])
	c.Coefficient = binary.LittleEndian.Uint64(data[129:])
	return c, nil
}

// DepositRecord tracks one depositor's locked position.
type DepositRecord struct {
	Tag       Tag
	Owner     types.Pubkey
	Amount    uint64
	StartTime uint64
	EndTime   uint64
}

// IsInitialized reports whether the record holds an active deposit.
func (d *DepositRecord) IsInitialized() bool {
	return d.Tag == TagDepositV1
}

// Encode serializes the record.
func (d *DepositRecord) Encode() []byte {
	buf := make([]byte, DepositRecordSize)
	buf[0] = byte(d.Tag)
	copy(buf[1:33], d.Owner[:])
	binary.LittleEndian.PutUint64(buf[33:], d.Amount)
	binary.LittleEndian.PutUint64(buf[41:], d.StartTime)
	binary.LittleEndian.PutUint64(buf[49:], d.EndTime)
	return buf
}

// DecodeDepositRecord parses a deposit record. The buffer must be exactly
// DepositRecordSize bytes with an Uninitialized or DepositV1 tag.
func DecodeDepositRecord(data []byte) (*DepositRecord, error) {
	if len(data) != DepositRecordSize {
		return nil, svm.ErrInvalidAccountData
	}
	d := &DepositRecord{Tag: Tag(data[0])}
	if d.Tag != TagUninitialized && d.Tag != TagDepositV1 {
		return nil, svm.ErrInvalidAccountData
	}
	copy(d.Owner[:], data[1:33])
	d.Amount = binary.LittleEndian.Uint64(data[33:])
	d.StartTime = binary.LittleEndian.Uint64(data[41:])
	d.EndTime = binary.LittleEndian.Uint64(data[49:])
	return d, nil
}

func loadConfig(info *runtime.AccountInfo) (*Config, error) {
	data, release, err := info.TryBorrowData()
	if err != nil {
		return nil, err
	}
	defer release()
	return DecodeConfig(data)
}

func loadDepositRecord(info *runtime.AccountInfo) (*DepositRecord, error) {
	data, release, err := info.TryBorrowData()
	if err != nil {
		return nil, err
	}
	defer release()
	return DecodeDepositRecord(data)
}

func storeRecord(info *runtime.AccountInfo, encoded []byte) error {
	data, release, err := info.TryBorrowDataMut()
	if err != nil {
		return err
	}
	defer release()
	if len(data) != len(encoded) {
		return svm.ErrInvalidAccountData
	}
	copy(data, encoded)
	return nil
}
