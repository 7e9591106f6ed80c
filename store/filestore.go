// Package store persists signature sets that are still being collected, so
// that signing can span several sessions.
package store

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SipengXie/safecore/core"
	"github.com/SipengXie/safecore/core/types"
	"github.com/SipengXie/safecore/params"
	"github.com/c2h5oh/datasize"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-faster/errors"
	"github.com/gofrs/flock"
	"github.com/ledgerwatch/log/v3"
)

const recordExt = ".json"

var (
	ErrNotFound       = errors.New("record not found")
	ErrDataDirUsed    = errors.New("datadir already used by another process")
	ErrRecordTooLarge = errors.New("record exceeds size limit")
	ErrClosed         = errors.New("store closed")
)

type Config struct {
	Dir           string            `env:"DATADIR"`
	MaxRecordSize datasize.ByteSize `env:"MAX_RECORD_SIZE" envDefault:"1MB"`
}

var DefaultConfig = Config{
	MaxRecordSize: datasize.MB,
}

// Record is one pending transaction with the signatures gathered so far.
type Record struct {
	Safe       common.Address          `json:"safe"`
	ChainID    *big.Int                `json:"chainId"`
	Version    string                  `json:"version"`
	SafeTxHash common.Hash             `json:"safeTxHash"`
	Tx         *types.SafeTransaction  `json:"transaction"`
	Signatures []*types.OwnerSignature `json:"signatures"`
	UpdatedAt  time.Time               `json:"updatedAt"`
}

// RecordOf snapshots set.
func RecordOf(set *core.SignatureSet, chainID *big.Int) *Record {
	return &Record{
		Safe:       set.Safe(),
		ChainID:    new(big.Int).Set(chainID),
		Version:    set.Capabilities().Version,
		SafeTxHash: set.Hash(),
		Tx:         set.Transaction(),
		Signatures: set.Signatures(),
		UpdatedAt:  time.Now().UTC(),
	}
}

// Restore rebuilds the signature set against a fresh wallet snapshot. Every
// stored signature is verified again; the ones that no longer verify are
// reported in the returned error while the set keeps the rest.
func (r *Record) Restore(ctx context.Context, wallet *types.WalletState, approvals core.Approvals, logger log.Logger) (*core.SignatureSet, error) {
	caps, err := params.Lookup(wallet.Version)
	if err != nil {
		return nil, err
	}
	set := core.NewSignatureSet(caps, wallet, r.Tx, approvals, logger)
	if set.Hash() != r.SafeTxHash {
		return nil, errors.Wrapf(core.ErrHashMismatch, "stored %s, recomputed %s", r.SafeTxHash, set.Hash())
	}
	return set, set.AddSignatures(ctx, r.Signatures...)
}

// FileStore keeps one JSON file per transaction hash in a directory that is
// locked for the lifetime of the store.
type FileStore struct {
	config Config
	logger log.Logger

	mu      sync.Mutex
	dirLock *flock.Flock // 防止其他进程并发使用同一目录
}

// Open creates config.Dir if needed and locks it.
func Open(config Config, logger log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = log.Root()
	}
	if config.Dir == "" {
		return nil, errors.New("store: empty data directory")
	}
	if config.MaxRecordSize == 0 {
		config.MaxRecordSize = DefaultConfig.MaxRecordSize
	}
	if err := os.MkdirAll(config.Dir, 0700); err != nil {
		return nil, err
	}
	l := flock.New(filepath.Join(config.Dir, "LOCK"))
	locked, err := l.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "lock datadir")
	}
	if !locked {
		return nil, errors.Wrapf(ErrDataDirUsed, "%s", config.Dir)
	}
	logger.Info("Opened pending store", "dir", config.Dir, "maxRecordSize", config.MaxRecordSize.HumanReadable())
	return &FileStore{config: config, logger: logger, dirLock: l}, nil
}

func (s *FileStore) Dir() string { return s.config.Dir }

// Close releases the directory lock.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirLock == nil {
		return ErrClosed
	}
	err := s.dirLock.Unlock()
	if err != nil {
		s.logger.Error("Can't release datadir lock", "err", err)
	}
	s.dirLock = nil
	return err
}

func (s *FileStore) path(hash common.Hash) string {
	return filepath.Join(s.config.Dir, hash.Hex()+recordExt)
}

// Put writes rec, replacing an earlier record of the same hash.
func (s *FileStore) Put(rec *Record) error {
	blob, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode record")
	}
	if size := datasize.ByteSize(len(blob)); size > s.config.MaxRecordSize {
		return errors.Wrapf(ErrRecordTooLarge, "%s > %s", size.HumanReadable(), s.config.MaxRecordSize.HumanReadable())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirLock == nil {
		return ErrClosed
	}
	tmp := s.path(rec.SafeTxHash) + ".tmp"
	if err := os.WriteFile(tmp, blob, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path(rec.SafeTxHash)); err != nil {
		return err
	}
	s.logger.Debug("Stored pending record", "safeTxHash", rec.SafeTxHash, "signatures", len(rec.Signatures))
	return nil
}

func (s *FileStore) Get(hash common.Hash) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirLock == nil {
		return nil, ErrClosed
	}
	return s.read(s.path(hash))
}

func (s *FileStore) read(path string) (*Record, error) {
	blob, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "%s", filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(blob, &rec); err != nil {
		return nil, errors.Wrapf(err, "decode %s", filepath.Base(path))
	}
	if rec.Tx == nil {
		return nil, errors.Errorf("decode %s: missing transaction", filepath.Base(path))
	}
	return &rec, nil
}

// Delete removes the record of hash. Deleting a missing record is not an
// error.
func (s *FileStore) Delete(hash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirLock == nil {
		return ErrClosed
	}
	if err := os.Remove(s.path(hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every stored record ordered by wallet, then nonce.
// Unreadable files are skipped and logged.
func (s *FileStore) List() ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirLock == nil {
		return nil, ErrClosed
	}
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return nil, err
	}
	var records []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) {
			continue
		}
		rec, err := s.read(filepath.Join(s.config.Dir, e.Name()))
		if err != nil {
			s.logger.Warn("Skipping unreadable record", "file", e.Name(), "err", err)
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Safe != records[j].Safe {
			return records[i].Safe.Hex() < records[j].Safe.Hex()
		}
		return records[i].Tx.Nonce() < records[j].Tx.Nonce()
	})
	return records, nil
}
