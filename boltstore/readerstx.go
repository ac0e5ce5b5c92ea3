package boltstore

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/epokhe/binlog/ierr"
	"github.com/epokhe/binlog/model"
	"github.com/epokhe/binlog/registry"
)

// ReadersTx carries the checkpoints bucket for one readers-environment
// transaction.
type ReadersTx struct {
	tx          *bolt.Tx
	checkpoints *bolt.Bucket
}

func newReadersTx(tx *bolt.Tx, desc *model.Descriptor) (*ReadersTx, error) {
	b, err := bucket(tx, desc.CheckpointsDBName)
	if err != nil {
		return nil, err
	}
	return &ReadersTx{tx: tx, checkpoints: b}, nil
}

// GetRegistry returns the stored registry for name, and whether name is
// registered at all. Absence of the key means "not registered", per
// spec.md §3's checkpoints sub-database invariant.
func (r *ReadersTx) GetRegistry(name string) (*registry.Registry, bool, error) {
	v := r.checkpoints.Get([]byte(name))
	if v == nil {
		return nil, false, nil
	}
	reg := registry.New()
	if err := reg.UnmarshalBinary(v); err != nil {
		return nil, false, fmt.Errorf("decode registry for reader %q: %w", name, err)
	}
	return reg, true, nil
}

// PutRegistry overwrites the stored registry for name.
func (r *ReadersTx) PutRegistry(name string, reg *registry.Registry) error {
	b, err := reg.MarshalBinary()
	if err != nil {
		return err
	}
	return r.checkpoints.Put([]byte(name), b)
}

// RegisterIfAbsent inserts name -> empty registry without overwriting an
// existing entry, matching the source's register_reader "not
// overwriting" contract. Returns whether it inserted.
func (r *ReadersTx) RegisterIfAbsent(name string) (bool, error) {
	if r.checkpoints.Get([]byte(name)) != nil {
		return false, nil
	}
	return true, r.PutRegistry(name, registry.New())
}

// DeleteRegistry removes name's checkpoint. Fails with ierr.ReaderNotFound
// if absent.
func (r *ReadersTx) DeleteRegistry(name string) error {
	if r.checkpoints.Get([]byte(name)) == nil {
		return fmt.Errorf("%w: %q", ierr.ReaderNotFound, name)
	}
	return r.checkpoints.Delete([]byte(name))
}

// ListReaderNames returns every registered reader name.
func (r *ReadersTx) ListReaderNames() ([]string, error) {
	var names []string
	err := r.checkpoints.ForEach(func(k, _ []byte) error {
		names = append(names, string(k))
		return nil
	})
	return names, err
}
