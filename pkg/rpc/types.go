package rpc

import "encoding/json"

// JSONRPCVersion is the only protocol version accepted.
const JSONRPCVersion = "2.0"

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot uint64 `json:"slot"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Encoding types for account and transaction data.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
)

// DataSlice limits returned account data.
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// AccountInfoConfig configures getAccountInfo and getMultipleAccounts.
type AccountInfoConfig struct {
	Encoding  Encoding   `json:"encoding,omitempty"`
	DataSlice *DataSlice `json:"dataSlice,omitempty"`
}

// ProgramAccountsConfig configures getProgramAccounts.
type ProgramAccountsConfig struct {
	Encoding    Encoding               `json:"encoding,omitempty"`
	DataSlice   *DataSlice             `json:"dataSlice,omitempty"`
	Filters     []ProgramAccountFilter `json:"filters,omitempty"`
	WithContext bool                   `json:"withContext,omitempty"`
}

// ProgramAccountFilter selects accounts by size or content. Set exactly one
// field.
type ProgramAccountFilter struct {
	DataSize *uint64       `json:"dataSize,omitempty"`
	Memcmp   *MemcmpFilter `json:"memcmp,omitempty"`
}

// MemcmpFilter matches Bytes at Offset in account data.
type MemcmpFilter struct {
	Offset   uint64   `json:"offset"`
	Bytes    string   `json:"bytes"`
	Encoding Encoding `json:"encoding,omitempty"`
}

// SendTransactionConfig configures sendTransaction.
type SendTransactionConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// AccountInfo represents account information returned by RPC.
type AccountInfo struct {
	Data       []string `json:"data"`
	Executable bool     `json:"executable"`
	Lamports   uint64   `json:"lamports"`
	Owner      string   `json:"owner"`
	Space      uint64   `json:"space"`
}

// KeyedAccountInfo wraps AccountInfo with its pubkey.
type KeyedAccountInfo struct {
	Pubkey  string       `json:"pubkey"`
	Account *AccountInfo `json:"account"`
}

// UITokenAmount is a token balance with its mint's decimals.
type UITokenAmount struct {
	Amount   string `json:"amount"`
	Decimals uint8  `json:"decimals"`
}

// VersionInfo is returned by getVersion.
type VersionInfo struct {
	Core       string `json:"solana-core"`
	FeatureSet uint32 `json:"feature-set"`
}

// LatestBlockhash is returned by getLatestBlockhash. The ledger uses its
// accounts hash as the blockhash.
type LatestBlockhash struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// ClockInfo is returned by getClock.
type ClockInfo struct {
	Slot          uint64 `json:"slot"`
	Epoch         uint64 `json:"epoch"`
	UnixTimestamp int64  `json:"unixTimestamp"`
}

// VaultInfo is a decoded vault config.
type VaultInfo struct {
	Tag         string `json:"tag"`
	Owner       string `json:"owner"`
	BaseMint    string `json:"baseMint"`
	ReceiptMint string `json:"receiptMint"`
	Escrow      string `json:"escrow"`
	Coefficient uint64 `json:"coefficient"`
	Custody     string `json:"custody"`
}

// DepositInfo is a decoded deposit record.
type DepositInfo struct {
	Address   string `json:"address"`
	Tag       string `json:"tag"`
	Owner     string `json:"owner"`
	Amount    uint64 `json:"amount"`
	StartTime uint64 `json:"startTime"`
	EndTime   uint64 `json:"endTime"`
}

// TransactionFailure is attached to a failed sendTransaction error.
type TransactionFailure struct {
	Err           string   `json:"err"`
	CustomCode    *uint32  `json:"customCode,omitempty"`
	FailedProgram string   `json:"failedProgram,omitempty"`
	Logs          []string `json:"logs"`
	UnitsConsumed uint64   `json:"unitsConsumed"`
}

// SignatureQueryConfig configures getSignaturesForAddress.
type SignatureQueryConfig struct {
	Limit  int    `json:"limit,omitempty"`
	Before string `json:"before,omitempty"`
}

// TransactionConfig configures getTransaction.
type TransactionConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64  `json:"slot"`
	Confirmations      *uint64 `json:"confirmations"`
	Err                *string `json:"err"`
	ConfirmationStatus string  `json:"confirmationStatus"`
}

// SignatureResult is one entry of getSignaturesForAddress.
type SignatureResult struct {
	Signature string  `json:"signature"`
	Slot      uint64  `json:"slot"`
	BlockTime int64   `json:"blockTime"`
	Err       *string `json:"err"`
}

// TransactionMeta is the outcome part of getTransaction.
type TransactionMeta struct {
	Err                  *string  `json:"err"`
	CustomCode           *uint32  `json:"customCode,omitempty"`
	FailedProgram        string   `json:"failedProgram,omitempty"`
	LogMessages          []string `json:"logMessages"`
	ComputeUnitsConsumed uint64   `json:"computeUnitsConsumed"`
	ModifiedAccounts     []string `json:"modifiedAccounts"`
}

// TransactionResult is returned by getTransaction.
type TransactionResult struct {
	Slot        uint64          `json:"slot"`
	BlockTime   int64           `json:"blockTime"`
	Transaction interface{}     `json:"transaction"`
	Meta        TransactionMeta `json:"meta"`
}
