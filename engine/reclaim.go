package engine

import (
	"fmt"

	"github.com/epokhe/binlog/boltstore"
	"github.com/epokhe/binlog/ierr"
	"github.com/epokhe/binlog/model"
	"github.com/epokhe/binlog/registry"
)

// loadAllRegistries snapshots every registered reader's stored registry.
func (e *Engine) loadAllRegistries() (map[string]*registry.Registry, error) {
	regs := make(map[string]*registry.Registry)
	err := e.store.Readers(false, func(tx *boltstore.ReadersTx) error {
		names, err := tx.ListReaderNames()
		if err != nil {
			return err
		}
		for _, name := range names {
			reg, ok, err := tx.GetRegistry(name)
			if err != nil {
				return err
			}
			if ok {
				regs[name] = reg
			}
		}
		return nil
	})
	return regs, err
}

// Remove deletes entry if every registered reader has acked it, and
// un-indexes it in the same transaction. It returns false without
// mutating anything if any reader has not yet acked entry, and fails
// with ierr.ReaderNotFound if there are no registered readers at all.
func (e *Engine) Remove(entry *model.Entry) (bool, error) {
	regs, err := e.loadAllRegistries()
	if err != nil {
		return false, err
	}
	if len(regs) == 0 {
		return false, fmt.Errorf("%w: no registered readers", ierr.ReaderNotFound)
	}

	for _, reg := range regs {
		if !reg.Contains(entry.Pk) {
			return false, nil
		}
	}

	err = e.store.Data(true, func(tx *boltstore.DataTx) error {
		if err := tx.DeleteEntry(entry.Pk); err != nil {
			return err
		}
		return unindexEntry(tx, e.desc, entry)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Purge deletes every entry acknowledged by all registered readers. It
// returns (removed, errors): removed counts successful deletions;
// errors is preserved as always 0, per spec.md §9's description of the
// source's local `errors` counter being reset rather than incremented
// inside the loop — not "fixed" into a real counter here.
func (e *Engine) Purge() (removed int, errs int, err error) {
	regs, err := e.loadAllRegistries()
	if err != nil {
		return 0, 0, err
	}
	if len(regs) == 0 {
		return 0, 0, nil
	}

	common := commonRegistry(regs)

	err = e.store.Data(true, func(tx *boltstore.DataTx) error {
		var innerErr error
		common.Iter(func(pk uint64) bool {
			raw, getErr := tx.GetEntry(pk)
			if getErr != nil {
				// preserved as specified, see spec.md §9: this branch
				// resets rather than increments a counter in the source.
				errs = 0
				return true
			}
			fields, decErr := model.DecodeFields(raw)
			if decErr != nil {
				innerErr = decErr
				return false
			}
			entry := &model.Entry{Pk: pk, Saved: true, Fields: fields}

			if delErr := tx.DeleteEntry(pk); delErr != nil {
				innerErr = delErr
				return false
			}
			if unErr := unindexEntry(tx, e.desc, entry); unErr != nil {
				innerErr = unErr
				return false
			}
			removed++
			return true
		})
		return innerErr
	})
	if err != nil {
		return 0, 0, err
	}

	return removed, errs, nil
}

// commonRegistry intersects every reader's registry. Callers must ensure
// regs is non-empty.
func commonRegistry(regs map[string]*registry.Registry) *registry.Registry {
	var common *registry.Registry
	for _, reg := range regs {
		if common == nil {
			common = reg
			continue
		}
		common = common.Intersect(reg)
	}
	return common
}
