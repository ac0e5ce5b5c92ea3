// Package boltstore is the transactional KV façade of spec.md §4.D: two
// bolt-backed environments (data, readers), each opened and scoped the
// way the teacher's core.DB is opened and closed, with named buckets
// standing in for the source's named sub-databases.
package boltstore

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/epokhe/binlog/ierr"
	"github.com/epokhe/binlog/model"
)

const dataFile = "data.db"
const readersFile = "readers.db"

// Store owns the two bolt environments a binlog needs: the data
// environment (config, entries, one bucket per index) and the readers
// environment (checkpoints). Unlike the source's connection.py, which
// opens and closes an lmdb environment on every scoped acquirer call,
// a bolt.DB is meant to be opened once and kept open for the process
// lifetime — Data/Readers below only scope the *transaction*, matching
// how the teacher keeps core.DB.manifest open across calls and scopes
// only db.rw per operation.
type Store struct {
	desc *model.Descriptor

	dataDB    *bolt.DB
	readersDB *bolt.DB

	readOnly bool

	log *zap.SugaredLogger
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithReadOnly opens both environments read-only. Any write-scoped call
// through Data/Readers then fails immediately with ErrTxNotWritable,
// without bolt ever being asked to begin a writable transaction.
func WithReadOnly(b bool) Option {
	return func(s *Store) { s.readOnly = b }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) { s.log = l }
}

// Open creates (if needed) and opens the two environments described by
// desc, rooted at basePath.
func Open(basePath string, desc *model.Descriptor, opts ...Option) (*Store, error) {
	if err := desc.Normalize(); err != nil {
		return nil, err
	}

	s := &Store{desc: desc, log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(s)
	}

	dataDir := desc.DataPath(basePath)
	readersDir := desc.ReadersPath(basePath)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data env: %w", err)
	}
	if err := os.MkdirAll(readersDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir readers env: %w", err)
	}

	boltOpts := &bolt.Options{ReadOnly: s.readOnly}

	dataDB, err := bolt.Open(filepath.Join(dataDir, dataFile), 0o644, boltOpts)
	if err != nil {
		return nil, fmt.Errorf("open data environment: %w", err)
	}
	s.dataDB = dataDB

	readersDB, err := bolt.Open(filepath.Join(readersDir, readersFile), 0o644, boltOpts)
	if err != nil {
		_ = dataDB.Close()
		return nil, fmt.Errorf("open readers environment: %w", err)
	}
	s.readersDB = readersDB

	if !s.readOnly {
		if err := s.ensureBuckets(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	return s, nil
}

// ensureBuckets creates every bucket the descriptor names up front, so a
// read-only Data/Readers scope never has to distinguish "bucket doesn't
// exist yet" from "bucket is empty".
func (s *Store) ensureBuckets() error {
	err := s.dataDB.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(s.desc.ConfigDBName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(s.desc.EntriesDBName)); err != nil {
			return err
		}
		for _, name := range s.desc.SortedIndexNames() {
			if _, err := tx.CreateBucketIfNotExists([]byte(s.desc.IndexDBName(name))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create data buckets: %w", err)
	}

	err = s.readersDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(s.desc.CheckpointsDBName))
		return err
	})
	if err != nil {
		return fmt.Errorf("create readers bucket: %w", err)
	}
	return nil
}

// Close closes both environments.
func (s *Store) Close() error {
	var dataErr, readersErr error
	if s.dataDB != nil {
		dataErr = s.dataDB.Close()
	}
	if s.readersDB != nil {
		readersErr = s.readersDB.Close()
	}
	if dataErr != nil {
		return dataErr
	}
	return readersErr
}

// Data scopes a transaction over the data environment (config, entries,
// index buckets) and hands the caller a DataTx bound to it. The
// transaction commits if fn returns nil and aborts otherwise, exactly
// bolt.DB.Update's own contract, so spec.md §5's "commit on success,
// abort on failure" falls out for free.
func (s *Store) Data(write bool, fn func(*DataTx) error) error {
	if write && s.readOnly {
		return fmt.Errorf("%w: store opened read-only", bolt.ErrTxNotWritable)
	}

	run := s.dataDB.View
	if write {
		run = s.dataDB.Update
	}

	return run(func(tx *bolt.Tx) error {
		dtx, err := newDataTx(tx, s.desc)
		if err != nil {
			return err
		}
		return fn(dtx)
	})
}

// Readers scopes a transaction over the readers environment
// (checkpoints). The read-only remap spec.md §7 calls for ("the store's
// low-level read-only error is remapped to reader-not-found on the
// reader-touching paths") happens at the engine call sites that need it
// (UnregisterReader, Reader(name)); Readers itself just reports
// bolt.ErrTxNotWritable the same way Data does.
func (s *Store) Readers(write bool, fn func(*ReadersTx) error) error {
	if write && s.readOnly {
		return fmt.Errorf("%w: store opened read-only", bolt.ErrTxNotWritable)
	}

	run := s.readersDB.View
	if write {
		run = s.readersDB.Update
	}

	return run(func(tx *bolt.Tx) error {
		rtx, err := newReadersTx(tx, s.desc)
		if err != nil {
			return err
		}
		return fn(rtx)
	})
}

// bucket fetches an existing bucket, failing with ierr.NotFound if the
// store was somehow opened without ensureBuckets running (read-only
// store pointed at an empty directory).
func bucket(tx *bolt.Tx, name string) (*bolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("%w: bucket %q", ierr.NotFound, name)
	}
	return b, nil
}
