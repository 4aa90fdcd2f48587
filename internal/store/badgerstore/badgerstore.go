// Package badgerstore implements the persistence interfaces on an embedded
// Badger key-value store. Badger's native entry TTL provides the implicit
// expiry path for conversations and the dedupe ledger.
package badgerstore

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Open opens (or creates) the Badger database at path. Badger's own chatty
// logger is silenced; we log through logrus at the access points instead.
func Open(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	return badger.Open(opts)
}

// OpenInMemory opens a throwaway in-memory database, used by tests.
func OpenInMemory() (*badger.DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return badger.Open(opts)
}

func get(db *badger.DB, key []byte, log *logrus.Logger) []byte {
	var val []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if err != badger.ErrKeyNotFound {
			log.WithError(err).WithField("key", string(key)).Warn("store read failed, treating as not found")
		}
		return nil
	}
	return val
}
