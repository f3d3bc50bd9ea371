// Package keyValStore is the badger-backed key-value layer beneath the blob
// store. Values are lzma-compressed at rest; envelope blobs are mostly text
// and compress well.
package keyValStore

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz/lzma"
)

var log *logrus.Logger

type StoreConfig struct {
	Paths            []string // at the moment only the first path is used
	MinimumFreeSpace int      // in GB
	Logger           *logrus.Logger
}

type KeyValStore struct {
	config       StoreConfig
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	log = config.Logger

	if err := config.checkConfig(); err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	opts := badger.DefaultOptions(config.Paths[0])
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100 // 100MB per value log file
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger at %s: %w", config.Paths[0], err)
	}

	if err := checkFreeSpace(config.Paths, config.MinimumFreeSpace); err != nil {
		db.Close()
		return nil, err
	}

	return &KeyValStore{
		config:   config,
		badgerDB: db,
	}, nil
}

func (config *StoreConfig) checkConfig() error {
	if len(config.Paths) == 0 {
		return fmt.Errorf("no path provided")
	}
	return nil
}

func (k *KeyValStore) Write(key []byte, content []byte) error {
	atomic.AddUint64(&k.writeCounter, 1)

	compressed, err := compressWithLzma(content)
	if err != nil {
		return fmt.Errorf("error compressing value for key %q: %w", key, err)
	}

	err = k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, compressed)
	})
	if err != nil {
		return fmt.Errorf("error writing key %q: %w", key, err)
	}
	return nil
}

func (k *KeyValStore) Read(key []byte) ([]byte, error) {
	atomic.AddUint64(&k.readCounter, 1)

	var compressed []byte
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		compressed, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error reading key %q: %w", key, err)
	}

	content, err := decompressWithLzma(compressed)
	if err != nil {
		return nil, fmt.Errorf("error decompressing value for key %q: %w", key, err)
	}
	return content, nil
}

func (k *KeyValStore) Has(key []byte) (bool, error) {
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error checking key %q: %w", key, err)
	}
	return true, nil
}

func (k *KeyValStore) Close() error {
	log.WithFields(logrus.Fields{
		"reads":  atomic.LoadUint64(&k.readCounter),
		"writes": atomic.LoadUint64(&k.writeCounter),
	}).Info("Closing KeyValStore")
	return k.badgerDB.Close()
}

func compressWithLzma(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(data); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressWithLzma(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err = buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
