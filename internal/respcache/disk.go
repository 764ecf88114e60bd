package respcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/nhaquet-w6d/opa-httpsend/internal/logging"
)

// Disk persists records in a badger database. Survival across restarts is
// best-effort, the dispatcher never relies on it.
type Disk struct {
	db         *badger.DB
	logger     *zerolog.Logger
	stopSignal chan struct{}
	stopWait   *sync.WaitGroup
}

func NewDisk(path string, logger *zerolog.Logger) (*Disk, error) {
	db, err := badger.Open(
		badger.DefaultOptions(path).WithLogger(logging.NewLoggerAdapter(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to open the cache database, it might be corrupted: %w", err)
	}

	disk := &Disk{db, logger, make(chan struct{}), &sync.WaitGroup{}}
	disk.stopWait.Add(1)
	go disk.manage()
	return disk, nil
}

func (d *Disk) Lookup(key string, allowExpired bool) (*Record, bool) {
	var record Record

	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}

		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("unexpected error extracting value: %w", err)
		}

		return json.Unmarshal(val, &record)
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			d.logger.Warn().Err(err).Msg("unable to load cached response, ignoring it")
		}
		return nil, false
	}

	if record.expired(time.Now()) && !allowExpired {
		return nil, false
	}

	return &record, true
}

func (d *Disk) Store(key string, record *Record, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("unable to serialize response for caching: %w", err)
	}

	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), data).WithTTL(ttl * staleRetentionFactor))
	})
	if err != nil {
		return fmt.Errorf("unable to store response in the cache: %w", err)
	}

	return nil
}

func (d *Disk) Close() error {
	if d.stopSignal == nil {
		// Already stopped
		return nil
	}

	close(d.stopSignal)
	d.stopWait.Wait()
	err := d.db.Close()
	d.stopSignal = nil
	return err
}

func (d *Disk) manage() {
	defer d.stopWait.Done()
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.db.RunValueLogGC(0.5); err != nil &&
				!errors.Is(err, badger.ErrNoRewrite) {
				d.logger.Error().Err(err).Msg("an error happened trying to vacuum the cache")
			}
		case <-d.stopSignal:
			return
		}
	}
}
