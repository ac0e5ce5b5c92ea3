// Package engine ties the storage façade (boltstore), the model
// descriptor, and the acknowledgement registry together into the public
// operations a binlog exposes: create, bulk-create, reader registration,
// ack, and reclamation. It is the Go shape of the source's
// binlog/connection.py Connection class.
package engine

import (
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/epokhe/binlog/boltstore"
	"github.com/epokhe/binlog/ierr"
	"github.com/epokhe/binlog/model"
)

// Engine is the entry point for producers and consumers of one binlog.
type Engine struct {
	store *boltstore.Store
	desc  *model.Descriptor
	log   *zap.SugaredLogger
}

// Option configures an Engine at Open time.
type Option func(*engineConfig)

type engineConfig struct {
	readOnly bool
	log      *zap.SugaredLogger
}

// WithReadOnly opens the underlying environments read-only. Write
// operations then fail with the store's ErrTxNotWritable, remapped to
// ierr.ReaderNotFound on the reader-touching paths per spec.md §7.
func WithReadOnly(b bool) Option {
	return func(c *engineConfig) { c.readOnly = b }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *engineConfig) { c.log = l }
}

// Open opens (creating if necessary) a binlog rooted at basePath,
// described by desc.
func Open(basePath string, desc *model.Descriptor, opts ...Option) (*Engine, error) {
	cfg := &engineConfig{log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(cfg)
	}

	store, err := boltstore.Open(basePath, desc,
		boltstore.WithReadOnly(cfg.readOnly),
		boltstore.WithLogger(cfg.log))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &Engine{store: store, desc: desc, log: cfg.log}, nil
}

// Close releases the underlying environments.
func (e *Engine) Close() error {
	return e.store.Close()
}

// indexEntry maintains every declared index for entry inside an
// already-open data transaction, matching connection.py's _index: a
// missing mandatory field fails with ierr.InvalidValue, a missing
// optional field is skipped, and a present field is (over)written into
// its index unconditionally.
func indexEntry(tx *boltstore.DataTx, desc *model.Descriptor, entry *model.Entry) error {
	for _, name := range desc.SortedIndexNames() {
		idx := desc.Indexes[name]
		v, ok := entry.Get(name)
		if !ok {
			if idx.Mandatory {
				return fmt.Errorf("%w: index %q is mandatory", ierr.InvalidValue, name)
			}
			continue
		}
		b, err := idx.Serializer.DBValue(v)
		if err != nil {
			return err
		}
		if err := tx.IndexPut(name, b, entry.Pk); err != nil {
			return err
		}
	}
	return nil
}

// unindexEntry removes entry from every index it was present in.
func unindexEntry(tx *boltstore.DataTx, desc *model.Descriptor, entry *model.Entry) error {
	for _, name := range desc.SortedIndexNames() {
		idx := desc.Indexes[name]
		v, ok := entry.Get(name)
		if !ok {
			continue
		}
		b, err := idx.Serializer.DBValue(v)
		if err != nil {
			return err
		}
		if err := tx.IndexDelete(name, b, entry.Pk); err != nil {
			return err
		}
	}
	return nil
}

// Create appends a single entry built from fields, per spec.md §4.E.
func (e *Engine) Create(fields map[string]any) (*model.Entry, error) {
	entry := model.New(fields)
	var putErr error

	err := e.store.Data(true, func(tx *boltstore.DataTx) error {
		nextPk, err := tx.NextEventID()
		if err != nil {
			return err
		}

		data, err := model.EncodeFields(entry.Fields)
		if err != nil {
			return err
		}

		putErr = tx.PutEntryAppend(nextPk, data)

		// next_event_id advances even when the append itself fails: PK
		// values are a reservation, never reused. Preserved as specified,
		// see spec.md §9 — this is not "fixed" into a rollback.
		if err := tx.SetNextEventID(nextPk + 1); err != nil {
			return err
		}
		if putErr != nil {
			return nil
		}

		entry.MarkSaved(nextPk)
		return indexEntry(tx, e.desc, entry)
	})
	if err != nil {
		return nil, err
	}
	if putErr != nil {
		return nil, putErr
	}

	return entry, nil
}

// BulkCreate appends entries assigning them consecutive pks starting at
// the current next_event_id, per spec.md §4.E. It returns the number of
// entries actually accepted.
func (e *Engine) BulkCreate(entries []*model.Entry) (int, error) {
	var added int

	err := e.store.Data(true, func(tx *boltstore.DataTx) error {
		nextPk, err := tx.NextEventID()
		if err != nil {
			return err
		}

		consumed := len(entries)
		for i, entry := range entries {
			pk := nextPk + uint64(i)

			// Entries are marked saved before the put is known to
			// succeed, mirroring the source's bulk_create. Preserved as
			// specified, see spec.md §9.
			entry.MarkSaved(pk)

			data, err := model.EncodeFields(entry.Fields)
			if err != nil {
				return err
			}
			if err := tx.PutEntryAppend(pk, data); err != nil {
				return fmt.Errorf("%w: bulk append stopped at index %d: %v", ierr.Integrity, i, err)
			}
			added++

			if len(e.desc.Indexes) > 0 {
				if err := indexEntry(tx, e.desc, entry); err != nil {
					return err
				}
			}
		}

		if err := tx.SetNextEventID(nextPk + uint64(consumed)); err != nil {
			return err
		}
		if consumed != added {
			return fmt.Errorf("%w: consumed %d, added %d", ierr.Integrity, consumed, added)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return added, nil
}

// remapReadOnly turns the store's bolt.ErrTxNotWritable into
// ierr.ReaderNotFound, the translation spec.md §7 calls for on the
// reader-touching paths (UnregisterReader, Reader(name)).
func remapReadOnly(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, bolt.ErrTxNotWritable) {
		return fmt.Errorf("%w: store is read-only", ierr.ReaderNotFound)
	}
	return err
}
