package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerSource stores one table of JSON documents in a badger database,
// encoded under "<table>/<id>" keys; listing is a prefix iteration with
// in-process filtering. Multiple BadgerSources may share one *badger.DB
// under distinct tables.
type BadgerSource struct {
	db      *badger.DB
	table   string
	idField string
}

// NewBadgerSource creates a badger-backed source for one table.
func NewBadgerSource(db *badger.DB, table, idField string) *BadgerSource {
	if idField == "" {
		idField = "id"
	}
	return &BadgerSource{db: db, table: table, idField: idField}
}

// OpenBadger opens (or creates) a badger database at dir with logging
// disabled, matching how embedded stores are opened elsewhere in the
// project.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	return badger.Open(opts)
}

// Initialize verifies the handle is usable.
func (b *BadgerSource) Initialize(ctx context.Context) error {
	if b.db == nil || b.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

func (b *BadgerSource) key(id string) []byte {
	return []byte(b.table + "/" + id)
}

func (b *BadgerSource) prefix() []byte {
	return []byte(b.table + "/")
}

// Read returns the single record matching the query.
func (b *BadgerSource) Read(ctx context.Context, query Query, opts Options) (Record, error) {
	if b.db.IsClosed() {
		return nil, ErrClosed
	}

	// Fast path: direct key lookup by identity.
	if id, ok := query[b.idField].(string); ok && len(query) == 1 {
		var rec Record
		err := b.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(b.key(id))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	}

	recs, err := b.scan(query, Options{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return recs[0], nil
}

// List returns all records matching the query, sorted and paged.
func (b *BadgerSource) List(ctx context.Context, query Query, opts Options) ([]Record, error) {
	if b.db.IsClosed() {
		return nil, ErrClosed
	}
	recs, err := b.scan(query, Options{})
	if err != nil {
		return nil, err
	}
	if opts.SortField == "" {
		sortRecords(recs, Options{SortField: b.idField, SortOrder: SortAsc})
	} else {
		sortRecords(recs, opts)
	}
	return applyPage(recs, opts), nil
}

// Count returns the number of records matching the query.
func (b *BadgerSource) Count(ctx context.Context, query Query, opts Options) (int64, error) {
	if b.db.IsClosed() {
		return 0, ErrClosed
	}
	recs, err := b.scan(query, Options{})
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

// scan iterates the table prefix, decoding and filtering each document.
func (b *BadgerSource) scan(query Query, opts Options) ([]Record, error) {
	out := make([]Record, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.Prefix = b.prefix()
		it := txn.NewIterator(itOpts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if matchQuery(rec, query) {
				out = append(out, rec)
				if opts.Limit > 0 && len(out) >= opts.Limit {
					return nil
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NewInstance creates a record handle seeded with a snapshot.
func (b *BadgerSource) NewInstance(data Record) Instance {
	return &badgerInstance{src: b, changeTracker: newChangeTracker(data)}
}

// Close is a no-op; the shared *badger.DB is owned by the caller.
func (b *BadgerSource) Close() error { return nil }

func (b *BadgerSource) flush(inst *badgerInstance) error {
	if b.db.IsClosed() {
		return ErrClosed
	}

	id, _ := inst.Get(b.idField).(string)
	inserting := id == ""
	if inserting {
		id = newULID()
		inst.setClean(b.idField, id)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		key := b.key(id)
		if inserting {
			if _, err := txn.Get(key); err == nil {
				return ErrAlreadyExists
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		} else {
			// Merge modified fields over the stored document.
			item, err := txn.Get(key)
			switch {
			case err == nil:
				var stored Record
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &stored)
				}); err != nil {
					return err
				}
				for _, name := range inst.ModifiedFields() {
					stored[name] = inst.values[name]
				}
				stored[b.idField] = id
				inst.values = stored
			case errors.Is(err, badger.ErrKeyNotFound):
				// Caller-assigned identity on first flush.
			default:
				return err
			}
		}

		data, err := json.Marshal(inst.values)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		inst.clearModified()
		return nil
	})
}

func (b *BadgerSource) remove(inst *badgerInstance) error {
	if b.db.IsClosed() {
		return ErrClosed
	}
	id, _ := inst.Get(b.idField).(string)
	if id == "" {
		return ErrInvalidData
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := b.key(id)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

type badgerInstance struct {
	changeTracker
	src *BadgerSource
}

func (i *badgerInstance) ID() any { return i.Get(i.src.idField) }

func (i *badgerInstance) Flush(ctx context.Context) error { return i.src.flush(i) }

func (i *badgerInstance) Remove(ctx context.Context) error { return i.src.remove(i) }

// Verify BadgerSource implements the Source interface.
var _ Source = (*BadgerSource)(nil)
