package history

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/fortiblox/stratus-vault/internal/types"
	"github.com/fortiblox/stratus-vault/pkg/svm"
	"github.com/fortiblox/stratus-vault/pkg/svm/runtime"
	"github.com/fortiblox/stratus-vault/pkg/svm/sysvar"
)

var (
	// ErrTransactionNotFound is returned when a transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("history store closed")
)

// Bucket names for BoltDB.
var (
	// bucketTxBySignature stores records keyed by signature.
	bucketTxBySignature = []byte("tx_by_sig")

	// bucketTxBySeq maps execution order to signature.
	bucketTxBySeq = []byte("tx_by_seq")

	// bucketAddressSignatures indexes signature infos by address+seq.
	bucketAddressSignatures = []byte("addr_sigs")

	// bucketMetadata stores store metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyTransactionCount = []byte("transaction_count")
)

// Config holds history store configuration options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// RetainTransactions is the number of transactions kept by pruning.
	// Zero disables pruning.
	RetainTransactions uint64

	// PruneInterval is how often to run the pruning routine.
	PruneInterval time.Duration

	// Logger receives pruning errors. Defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultConfig returns the default history configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:               path,
		RetainTransactions: 100_000,
		PruneInterval:      time.Hour,
	}
}

// Store persists transaction records in BoltDB.
type Store struct {
	db     *bolt.DB
	config Config
	logger *zap.Logger

	// writeMu serializes Record and Prune so the cached count tracks the
	// stored one.
	writeMu sync.Mutex

	mu               sync.RWMutex
	transactionCount uint64
	closed           bool

	pruneStop chan struct{}
	pruneWG   sync.WaitGroup
}

// Open creates or opens a history store.
func Open(config Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  config.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		db:        db,
		config:    config,
		logger:    logger.Named("history"),
		pruneStop: make(chan struct{}),
	}

	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	if err := s.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}

	if config.RetainTransactions > 0 && config.PruneInterval > 0 {
		s.startPruning()
	}
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketTxBySignature,
			bucketTxBySeq,
			bucketAddressSignatures,
			bucketMetadata,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMetadata).Get(keyTransactionCount); v != nil {
			s.transactionCount = DecodeSeqKey(v)
		}
		return nil
	})
}

func (s *Store) startPruning() {
	s.pruneWG.Add(1)
	go func() {
		defer s.pruneWG.Done()
		ticker := time.NewTicker(s.config.PruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				pruned, err := s.Prune(s.config.RetainTransactions)
				if err != nil {
					s.logger.Warn("prune failed", zap.Error(err))
					continue
				}
				if pruned > 0 {
					s.logger.Debug("pruned transactions", zap.Uint64("count", pruned))
				}
			case <-s.pruneStop:
				return
			}
		}
	}()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Record stores the outcome of an executed transaction. A transaction
// recorded again under the same signature replaces the earlier record.
func (s *Store) Record(txn *runtime.Transaction, result *runtime.ExecutionResult, clock *sysvar.Clock) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	rec := &TransactionRecord{
		Signature:            result.Signature,
		Slot:                 clock.Slot,
		BlockTime:            clock.UnixTimestamp,
		Success:              result.Success,
		Logs:                 result.Logs,
		ComputeUnitsConsumed: result.ComputeUnitsUsed,
		AccountKeys:          txn.Message.AccountKeys,
		ModifiedAccounts:     result.ModifiedAccounts,
		Raw:                  txn.Marshal(),
	}
	if result.Err != nil {
		rec.Err = result.Err.Error()
		if code, ok := svm.CustomCode(result.Err); ok {
			rec.CustomCode = &code
		}
		if program, ok := svm.FailedProgram(result.Err); ok {
			rec.FailedProgram = &program
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var added bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		bySig := tx.Bucket(bucketTxBySignature)
		sigKey := rec.Signature[:]

		if existing := bySig.Get(sigKey); existing != nil {
			old, err := decodeRecord(existing)
			if err != nil {
				return err
			}
			if err := deleteIndexes(tx, old); err != nil {
				return err
			}
		} else {
			added = true
		}

		seq, err := tx.Bucket(bucketTxBySeq).NextSequence()
		if err != nil {
			return err
		}
		rec.Seq = seq

		data, err := encode(rec)
		if err != nil {
			return fmt.Errorf("encode transaction: %w", err)
		}
		if err := bySig.Put(sigKey, data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTxBySeq).Put(EncodeSeqKey(seq), sigKey); err != nil {
			return err
		}

		info, err := encode(rec.Info())
		if err != nil {
			return fmt.Errorf("encode sig info: %w", err)
		}
		addrSigs := tx.Bucket(bucketAddressSignatures)
		for _, addr := range uniqueKeys(rec.AccountKeys) {
			if err := addrSigs.Put(EncodeAddressSeqKey(addr, seq), info); err != nil {
				return err
			}
		}

		if added {
			return putCount(tx, s.currentCount()+1)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if added {
		s.mu.Lock()
		s.transactionCount++
		s.mu.Unlock()
	}
	return nil
}

// GetTransaction returns the record for a signature.
func (s *Store) GetTransaction(sig types.Signature) (*TransactionRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rec *TransactionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTxBySignature).Get(sig[:])
		if data == nil {
			return ErrTransactionNotFound
		}
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetSignaturesForAddress returns transactions that referenced addr,
// newest first.
func (s *Store) GetSignaturesForAddress(addr types.Pubkey, opts *SignatureQueryOptions) ([]SignatureInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &SignatureQueryOptions{}
	}
	limit := opts.Limit
	if limit <= 0 || limit > MaxSignatureLimit {
		limit = MaxSignatureLimit
	}

	var infos []SignatureInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		start := uint64(math.MaxUint64)
		if opts.Before != nil {
			data := tx.Bucket(bucketTxBySignature).Get(opts.Before[:])
			if data == nil {
				return ErrTransactionNotFound
			}
			before, err := decodeRecord(data)
			if err != nil {
				return err
			}
			start = before.Seq
		}

		// Seek lands on the first key at or after start; everything older
		// for this address sits before it.
		c := tx.Bucket(bucketAddressSignatures).Cursor()
		var k, v []byte
		if k, _ = c.Seek(EncodeAddressSeqKey(addr, start)); k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}

		for ; k != nil && len(infos) < limit; k, v = c.Prev() {
			if !bytes.HasPrefix(k, addr[:]) {
				break
			}
			var info SignatureInfo
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&info); err != nil {
				return fmt.Errorf("decode sig info: %w", err)
			}
			infos = append(infos, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// Prune deletes the oldest records until at most retain remain. It returns
// the number of records deleted.
func (s *Store) Prune(retain uint64) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var pruned uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		count := s.currentCount()
		if count <= retain {
			return nil
		}
		bySig := tx.Bucket(bucketTxBySignature)
		c := tx.Bucket(bucketTxBySeq).Cursor()

		// Collect first; deleting under a cursor skips keys.
		var victims [][]byte
		for k, v := c.First(); k != nil && uint64(len(victims)) < count-retain; k, v = c.Next() {
			victims = append(victims, append([]byte(nil), v...))
		}
		for _, sig := range victims {
			data := bySig.Get(sig)
			if data == nil {
				continue
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}
			if err := deleteIndexes(tx, rec); err != nil {
				return err
			}
			if err := bySig.Delete(sig); err != nil {
				return err
			}
			pruned++
		}
		return putCount(tx, count-pruned)
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.transactionCount -= pruned
	s.mu.Unlock()
	return pruned, nil
}

// GetStats returns store statistics.
func (s *Store) GetStats() (*Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	stats := &Stats{TransactionCount: s.currentCount()}
	err := s.db.View(func(tx *bolt.Tx) error {
		stats.LatestSeq = tx.Bucket(bucketTxBySeq).Sequence()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Close stops pruning and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.pruneStop)
	s.pruneWG.Wait()
	return s.db.Close()
}

func (s *Store) currentCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transactionCount
}

// deleteIndexes removes the sequence and address entries of rec.
func deleteIndexes(tx *bolt.Tx, rec *TransactionRecord) error {
	if err := tx.Bucket(bucketTxBySeq).Delete(EncodeSeqKey(rec.Seq)); err != nil {
		return err
	}
	addrSigs := tx.Bucket(bucketAddressSignatures)
	for _, addr := range uniqueKeys(rec.AccountKeys) {
		if err := addrSigs.Delete(EncodeAddressSeqKey(addr, rec.Seq)); err != nil {
			return err
		}
	}
	return nil
}

func putCount(tx *bolt.Tx, count uint64) error {
	return tx.Bucket(bucketMetadata).Put(keyTransactionCount, EncodeSeqKey(count))
}

func uniqueKeys(keys []types.Pubkey) []types.Pubkey {
	seen := make(map[types.Pubkey]struct{}, len(keys))
	out := make([]types.Pubkey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*TransactionRecord, error) {
	var rec TransactionRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &rec, nil
}
