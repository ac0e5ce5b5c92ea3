package boltstore

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/epokhe/binlog/ierr"
	"github.com/epokhe/binlog/model"
	"github.com/epokhe/binlog/serializer"
)

const nextEventIDKey = "next_event_id"

// DataTx carries the open bucket handles for one data-environment
// transaction: config, entries, and one bucket per declared index,
// opened once per scope exactly as spec.md §4.D's data() acquirer opens
// {config, entries, index_db_name -> handle}.
type DataTx struct {
	tx      *bolt.Tx
	desc    *model.Descriptor
	config  *bolt.Bucket
	entries *bolt.Bucket
	indexes map[string]*bolt.Bucket
}

func newDataTx(tx *bolt.Tx, desc *model.Descriptor) (*DataTx, error) {
	config, err := bucket(tx, desc.ConfigDBName)
	if err != nil {
		return nil, err
	}
	entries, err := bucket(tx, desc.EntriesDBName)
	if err != nil {
		return nil, err
	}

	indexes := make(map[string]*bolt.Bucket, len(desc.Indexes))
	for name := range desc.Indexes {
		b, err := bucket(tx, desc.IndexDBName(name))
		if err != nil {
			return nil, err
		}
		indexes[name] = b
	}

	return &DataTx{tx: tx, desc: desc, config: config, entries: entries, indexes: indexes}, nil
}

// NextEventID returns the durable pk counter, defaulting to 0 per
// spec.md §3.
func (d *DataTx) NextEventID() (uint64, error) {
	v := d.config.Get([]byte(nextEventIDKey))
	if v == nil {
		return 0, nil
	}
	return serializer.DecodeUint64(v)
}

// SetNextEventID persists the pk counter.
func (d *DataTx) SetNextEventID(n uint64) error {
	return d.config.Put([]byte(nextEventIDKey), serializer.EncodeUint64(n))
}

// PutEntryAppend inserts pk -> data in append mode: it fails with
// ierr.Integrity if pk is not strictly greater than the current maximum
// key, matching spec.md §3's "may only place a key greater than the
// current maximum".
func (d *DataTx) PutEntryAppend(pk uint64, data []byte) error {
	key := serializer.EncodeUint64(pk)

	c := d.entries.Cursor()
	if lastKey, _ := c.Last(); lastKey != nil && bytes.Compare(key, lastKey) <= 0 {
		return fmt.Errorf("%w: pk %d is not greater than the current maximum", ierr.Integrity, pk)
	}

	return d.entries.Put(key, data)
}

// GetEntry reads back the serialized fields stored under pk.
func (d *DataTx) GetEntry(pk uint64) ([]byte, error) {
	v := d.entries.Get(serializer.EncodeUint64(pk))
	if v == nil {
		return nil, fmt.Errorf("%w: pk %d", ierr.NotFound, pk)
	}
	// bolt reuses the backing mmap buffer across the transaction; copy
	// out before the caller can observe it past this call.
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// DeleteEntry removes pk from entries. Returns ierr.NotFound if absent.
func (d *DataTx) DeleteEntry(pk uint64) error {
	key := serializer.EncodeUint64(pk)
	if d.entries.Get(key) == nil {
		return fmt.Errorf("%w: pk %d", ierr.NotFound, pk)
	}
	return d.entries.Delete(key)
}

// MaxEntryPk returns the greatest pk currently stored in entries, and
// whether entries is non-empty.
func (d *DataTx) MaxEntryPk() (uint64, bool, error) {
	c := d.entries.Cursor()
	k, _ := c.Last()
	if k == nil {
		return 0, false, nil
	}
	pk, err := serializer.DecodeUint64(k)
	if err != nil {
		return 0, false, err
	}
	return pk, true, nil
}

// indexKey builds the composite sorted-duplicate key bbolt has no
// native dupsort for: indexed-value-bytes || pk-bytes. Scanning a
// prefix of just the value bytes yields every pk indexed under that
// value, in ascending pk order, the same iteration order lmdb's
// dupsort gives the source for free.
func indexKey(valueBytes []byte, pk uint64) []byte {
	key := make([]byte, 0, len(valueBytes)+8)
	key = append(key, valueBytes...)
	key = append(key, serializer.EncodeUint64(pk)...)
	return key
}

// IndexPut inserts (value, pk) into the named index, overwriting any
// existing entry for the same composite key exactly as spec.md §4.E
// step 6 specifies ("duplicate (k,pk) pair overwritten").
func (d *DataTx) IndexPut(indexName string, valueBytes []byte, pk uint64) error {
	b, ok := d.indexes[indexName]
	if !ok {
		return fmt.Errorf("%w: index %q not declared", ierr.InvalidValue, indexName)
	}
	return b.Put(indexKey(valueBytes, pk), nil)
}

// IndexDelete removes (value, pk) from the named index.
func (d *DataTx) IndexDelete(indexName string, valueBytes []byte, pk uint64) error {
	b, ok := d.indexes[indexName]
	if !ok {
		return fmt.Errorf("%w: index %q not declared", ierr.InvalidValue, indexName)
	}
	return b.Delete(indexKey(valueBytes, pk))
}

// IndexLookup returns every pk indexed under valueBytes in ascending
// order, the "single-index point lookup" spec.md §1 keeps in scope.
func (d *DataTx) IndexLookup(indexName string, valueBytes []byte) ([]uint64, error) {
	b, ok := d.indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("%w: index %q not declared", ierr.InvalidValue, indexName)
	}

	var pks []uint64
	c := b.Cursor()
	for k, _ := c.Seek(valueBytes); k != nil && bytes.HasPrefix(k, valueBytes); k, _ = c.Next() {
		if len(k) != len(valueBytes)+8 {
			continue
		}
		pk, err := serializer.DecodeUint64(k[len(valueBytes):])
		if err != nil {
			return nil, err
		}
		pks = append(pks, pk)
	}
	return pks, nil
}
