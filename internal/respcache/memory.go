package respcache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

type Memory struct {
	cache *ristretto.Cache[string, *Record]
}

func NewMemory(maxEntries int64) (*Memory, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Record]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}

	return &Memory{cache}, nil
}

func (m *Memory) Lookup(key string, allowExpired bool) (*Record, bool) {
	record, found := m.cache.Get(key)
	if !found {
		return nil, false
	}

	if record.expired(time.Now()) && !allowExpired {
		m.cache.Del(key)
		return nil, false
	}

	return record, true
}

func (m *Memory) Store(key string, record *Record, ttl time.Duration) error {
	m.cache.SetWithTTL(key, record, 1, ttl*staleRetentionFactor)
	// Sets are buffered, wait so a dispatch that just completed is visible
	// to the next identical one.
	m.cache.Wait()
	return nil
}

func (m *Memory) Close() error {
	m.cache.Close()
	return nil
}
