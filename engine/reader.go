package engine

import (
	"fmt"

	"github.com/epokhe/binlog/boltstore"
	"github.com/epokhe/binlog/ierr"
	"github.com/epokhe/binlog/model"
	"github.com/epokhe/binlog/registry"
)

// RegisterReader inserts name -> empty registry into checkpoints,
// without overwriting an existing entry. Returns whether it inserted.
func (e *Engine) RegisterReader(name string) (bool, error) {
	var inserted bool
	err := e.store.Readers(true, func(tx *boltstore.ReadersTx) error {
		var err error
		inserted, err = tx.RegisterIfAbsent(name)
		return err
	})
	return inserted, err
}

// UnregisterReader removes name's checkpoint, failing with
// ierr.ReaderNotFound if absent. A read-only store fails the same way,
// per spec.md §7's remap.
func (e *Engine) UnregisterReader(name string) error {
	err := e.store.Readers(true, func(tx *boltstore.ReadersTx) error {
		return tx.DeleteRegistry(name)
	})
	return remapReadOnly(err)
}

// ListReaders returns every registered reader name.
func (e *Engine) ListReaders() ([]string, error) {
	var names []string
	err := e.store.Readers(false, func(tx *boltstore.ReadersTx) error {
		var err error
		names, err = tx.ListReaderNames()
		return err
	})
	return names, err
}

// Reader is a bound checkpoint-reader scope: it can fetch entries, test
// and record acknowledgement, and persist the accumulated delta on
// Commit. A Reader with an empty name is anonymous: it has no stored
// registry and cannot ack.
type Reader struct {
	engine *Engine
	name   string

	stored *registry.Registry // the registry as last loaded/saved; nil for anonymous
	delta  *registry.Registry // acks recorded in this scope, not yet persisted
}

// Reader returns a reader bound to name. If name is absent from
// checkpoints, it fails with ierr.ReaderNotFound (remapped the same way
// on a read-only store). An empty name returns an anonymous reader with
// no stored registry, matching the source's reader(name=None).
func (e *Engine) Reader(name string) (*Reader, error) {
	if name == "" {
		return &Reader{engine: e, delta: registry.New()}, nil
	}

	var stored *registry.Registry
	err := e.store.Readers(false, func(tx *boltstore.ReadersTx) error {
		reg, ok, err := tx.GetRegistry(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q", ierr.ReaderNotFound, name)
		}
		stored = reg
		return nil
	})
	if err != nil {
		return nil, remapReadOnly(err)
	}

	return &Reader{engine: e, name: name, stored: stored, delta: registry.New()}, nil
}

// Get returns the entry stored under pk, or ierr.NotFound.
func (r *Reader) Get(pk uint64) (*model.Entry, error) {
	var entry *model.Entry
	err := r.engine.store.Data(false, func(tx *boltstore.DataTx) error {
		raw, err := tx.GetEntry(pk)
		if err != nil {
			return err
		}
		fields, err := model.DecodeFields(raw)
		if err != nil {
			return err
		}
		entry = &model.Entry{Pk: pk, Saved: true, Fields: fields}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// IsAcked reports whether pk has been acknowledged, considering both the
// durably stored registry and any acks recorded earlier in this scope.
func (r *Reader) IsAcked(pk uint64) bool {
	if r.stored != nil && r.stored.Contains(pk) {
		return true
	}
	return r.delta.Contains(pk)
}

// Registry returns the reader's effective registry: stored acks merged
// with this scope's not-yet-committed delta.
func (r *Reader) Registry() *registry.Registry {
	if r.stored == nil {
		return r.delta
	}
	return r.stored.Union(r.delta)
}

// pkOf resolves the ack argument spec.md §4.F describes: an *model.Entry
// or a non-negative integer pk. Anything else fails with
// ierr.TypeError; an unsaved entry fails with ierr.InvalidValue.
func pkOf(v any) (uint64, error) {
	switch vv := v.(type) {
	case *model.Entry:
		if !vv.Saved {
			return 0, fmt.Errorf("%w: cannot ack an unsaved entry", ierr.InvalidValue)
		}
		return vv.Pk, nil
	case uint64:
		return vv, nil
	case int:
		if vv < 0 {
			return 0, fmt.Errorf("%w: ack argument must be non-negative, got %d", ierr.TypeError, vv)
		}
		return uint64(vv), nil
	default:
		return 0, fmt.Errorf("%w: ack argument must be an entry or a pk, got %T", ierr.TypeError, v)
	}
}

// Ack records pk (or entry.Pk) as acknowledged in this scope's in-memory
// delta. It is not persisted until Commit. An anonymous reader cannot
// ack, per spec.md §4.F.
func (r *Reader) Ack(v any) error {
	if r.name == "" {
		return fmt.Errorf("%w: cannot ack on an anonymous reader", ierr.IllegalState)
	}

	pk, err := pkOf(v)
	if err != nil {
		return err
	}

	r.delta.Add(pk)
	return nil
}

// Commit persists the accumulated delta, if any, by atomically
// replacing the stored registry with stored ∪ delta via SaveRegistry.
// Nothing calls Commit automatically; acks not committed are not
// persisted.
func (r *Reader) Commit() error {
	if r.name == "" || r.delta.Len() == 0 {
		return nil
	}
	if err := r.engine.SaveRegistry(r.name, r.delta); err != nil {
		return err
	}
	r.stored = r.Registry()
	r.delta = registry.New()
	return nil
}

// SaveRegistry atomically replaces name's stored registry with
// stored ∪ delta (default stored = empty). This makes ack monotonic and
// idempotent: saving the same delta twice is a no-op the second time.
func (e *Engine) SaveRegistry(name string, delta *registry.Registry) error {
	return e.store.Readers(true, func(tx *boltstore.ReadersTx) error {
		stored, ok, err := tx.GetRegistry(name)
		if err != nil {
			return err
		}
		if !ok {
			stored = registry.New()
		}
		return tx.PutRegistry(name, stored.Union(delta))
	})
}
