package db

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"unicode"

	"github.com/dgraph-io/badger/v4"
)

// DumpBadger writes every key under prefix with a best-effort rendering of
// its value and returns the number of keys written. Keys ending in a
// big-endian uint64 (block hashes) show the number separately.
func DumpBadger(kv *badger.DB, w io.Writer, prefix string) (int, error) {
	count := 0
	err := kv.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			if _, err := fmt.Fprintf(w, "Key: %s\n", describeKey(key)); err != nil {
				return err
			}
			err := item.Value(func(val []byte) error {
				_, err := fmt.Fprintf(w, "  Value %s\n", describeValue(val))
				return err
			})
			if err != nil {
				return fmt.Errorf("read value of %q: %w", key, err)
			}
			count++
		}
		return nil
	})
	return count, err
}

func describeKey(key []byte) string {
	if len(key) > 8 && isBinaryUint64(key[len(key)-8:]) {
		return fmt.Sprintf("%s%d", key[:len(key)-8], binary.BigEndian.Uint64(key[len(key)-8:]))
	}
	return string(key)
}

func describeValue(val []byte) string {
	switch {
	case len(val) == 8:
		return fmt.Sprintf("(uint64): %d", binary.BigEndian.Uint64(val))
	case len(val) == 32:
		return fmt.Sprintf("(hash): 0x%s", hex.EncodeToString(val))
	case isPrintable(val):
		return fmt.Sprintf("(string): %s", val)
	default:
		return fmt.Sprintf("(hex): %s", hex.EncodeToString(val))
	}
}

// isBinaryUint64 guesses whether data is an encoded number rather than text.
func isBinaryUint64(data []byte) bool {
	if len(data) != 8 {
		return false
	}
	for _, b := range data {
		if unicode.IsPrint(rune(b)) {
			return false
		}
	}
	return true
}

func isPrintable(data []byte) bool {
	for _, b := range data {
		if b < 32 || b > 126 {
			return false
		}
	}
	return true
}
