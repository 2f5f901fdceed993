// SPDX-License-Identifier: GPL-2.0-or-later

package timeline

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	bolt "go.etcd.io/bbolt"
)

const probeBucket = "probed-durations"

// ProbeCache persists probed segment durations so reopening a day
// doesn't re-probe every file.
type ProbeCache struct {
	db *bolt.DB
}

// OpenProbeCache opens or creates the cache database.
func OpenProbeCache(dbPath string) (*ProbeCache, error) {
	dbOpts := &bolt.Options{
		Timeout: 1 * time.Second,
	}

	db, err := bolt.Open(dbPath, 0o600, dbOpts)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w: %v", err, dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(probeBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create bucket: %w", err)
	}

	return &ProbeCache{db: db}, nil
}

// Close the cache database.
func (c *ProbeCache) Close() error {
	return c.db.Close()
}

// Key derives a cache key from a file path and size. A re-encoded
// file with the same name gets a fresh entry.
func (c *ProbeCache) Key(relativePath string, size int64) string {
	return fmt.Sprintf("%v|%d", relativePath, size)
}

// Get returns the cached duration for key.
func (c *ProbeCache) Get(key string) (float64, bool) {
	var seconds float64
	var exist bool
	c.db.View(func(tx *bolt.Tx) error { //nolint:errcheck
		value := tx.Bucket([]byte(probeBucket)).Get([]byte(key))
		if len(value) != 8 {
			return nil
		}
		seconds = math.Float64frombits(binary.BigEndian.Uint64(value))
		exist = true
		return nil
	})
	return seconds, exist
}

// Set stores the duration for key.
func (c *ProbeCache) Set(key string, seconds float64) error {
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, math.Float64bits(seconds))

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(probeBucket)).Put([]byte(key), value)
	})
}
