package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// LocalStore is an in-process Store bounded by total bytes.
type LocalStore struct {
	c *ristretto.Cache
}

func NewLocal(maxBytes int64) (*LocalStore, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxBytes / 100,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create local cache: %w", err)
	}
	return &LocalStore{c: c}, nil
}

func (s *LocalStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (s *LocalStore) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	s.c.SetWithTTL(key, val, int64(len(val)), ttl)
	// Sets are buffered; wait so a following Get observes the value.
	s.c.Wait()
	return nil
}

func (s *LocalStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.c.Del(k)
	}
	return nil
}

func (s *LocalStore) Close() {
	s.c.Close()
}
