package eth

import (
	"encoding/binary"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
)

// BlockHashDb remembers the canonical hash of scanned blocks so the watcher
// can notice when the chain under already-stored events changes.
type BlockHashDb interface {
	GetHash(blockNumber uint64) (common.Hash, bool)
	SetHash(blockNumber uint64, hash common.Hash) error
	// LatestBefore returns the highest recorded block strictly below blockNumber.
	LatestBefore(blockNumber uint64) (uint64, common.Hash, bool, error)
	RevertFromBlock(fromBlock uint64) error
}

func NewBlockHashDb(db *badger.DB) BlockHashDb {
	return &BlockHashDbImpl{db: db}
}

type BlockHashDbImpl struct {
	mu sync.RWMutex
	db *badger.DB
}

const blockHashPrefix = "marketnode:blockHash:"

func (b *BlockHashDbImpl) GetHash(blockNumber uint64) (common.Hash, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var blockHash common.Hash
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeBlockKey(blockNumber))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			copy(blockHash[:], val)
			return nil
		})
	})
	if err != nil {
		return common.Hash{}, false
	}
	return blockHash, true
}

func (b *BlockHashDbImpl) SetHash(blockNumber uint64, hash common.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeBlockKey(blockNumber), hash.Bytes())
	})
}

func (b *BlockHashDbImpl) LatestBefore(blockNumber uint64) (uint64, common.Hash, bool, error) {
	if blockNumber == 0 {
		return 0, common.Hash{}, false, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var (
		found bool
		num   uint64
		hash  common.Hash
	)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(blockHashPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(encodeBlockKey(blockNumber - 1))
		if !it.ValidForPrefix(opts.Prefix) {
			return nil
		}
		item := it.Item()
		num = decodeBlockKey(item.Key())
		return item.Value(func(val []byte) error {
			copy(hash[:], val)
			found = true
			return nil
		})
	})
	if err != nil {
		return 0, common.Hash{}, false, err
	}
	return num, hash, found, nil
}

func (b *BlockHashDbImpl) RevertFromBlock(fromBlock uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		var keysToDelete [][]byte

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(blockHashPrefix)
		it := txn.NewIterator(opts)

		for it.Seek(encodeBlockKey(fromBlock)); it.ValidForPrefix(opts.Prefix); it.Next() {
			keysToDelete = append(keysToDelete, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keysToDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func encodeBlockKey(blockNum uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], blockNum)
	return append([]byte(blockHashPrefix), buf[:]...)
}

func decodeBlockKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(blockHashPrefix):])
}
