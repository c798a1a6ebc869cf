// Package checkpoint persists replication cursors, so that a stream
// can resume where a previous process stopped.
package checkpoint

import (
	"github.com/dgraph-io/badger/v3"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/cdcflow/binlog"
)

const keyPrefix = "cursor/"

// Store keeps cursors by name in a badger database.
type Store struct {
	db *badger.DB
}

// Open opens or creates store in dir. Empty dir keeps the store in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open checkpoint store %q", dir)
	}
	return &Store{db: db}, nil
}

// Save records cursor under name, replacing the previous one.
func (s *Store) Save(name string, cur binlog.Cursor) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+name), []byte(cur.String()))
	})
	if err != nil {
		return errors.Wrapf(err, "save checkpoint %q", name)
	}
	glog.V(2).Infof("checkpoint: %s=%s", name, cur)
	return nil
}

// Load returns cursor saved under name. ok is false if there is none.
func (s *Store) Load(name string) (cur binlog.Cursor, ok bool, err error) {
	var val []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + name))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return binlog.Cursor{}, false, nil
	}
	if err != nil {
		return binlog.Cursor{}, false, errors.Wrapf(err, "load checkpoint %q", name)
	}
	cur, err = binlog.ParseCursor(string(val))
	if err != nil {
		return binlog.Cursor{}, false, err
	}
	return cur, true, nil
}

// Delete removes cursor saved under name.
func (s *Store) Delete(name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + name))
	})
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}
