package eth

import (
	"encoding/binary"

	"github.com/dgraph-io/badger/v4"
)

// ProgressDb stores the last block whose marketplace events were persisted.
type ProgressDb interface {
	GetProgress() (uint64, error)
	SetProgress(blockNumber uint64) error
}

func NewProgressDb(db *badger.DB) ProgressDb {
	return &ProgressDbImpl{db: db}
}

type ProgressDbImpl struct {
	db *badger.DB
}

const progressKey = "marketnode:watcherProgress"

func (p *ProgressDbImpl) GetProgress() (uint64, error) {
	var blockNumber uint64
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(progressKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			blockNumber = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	return blockNumber, err
}

func (p *ProgressDbImpl) SetProgress(blockNumber uint64) error {
	return p.db.Update(func(txn *badger.Txn) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, blockNumber)
		return txn.Set([]byte(progressKey), buf)
	})
}
