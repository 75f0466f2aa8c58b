package state

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/PentesterFlow/spiderdive/internal/output"
	"github.com/PentesterFlow/spiderdive/internal/scope"
)

// DefaultCacheTTL is how long a cached site map stays fresh.
const DefaultCacheTTL = 24 * time.Hour

var bucketSiteMaps = []byte("sitemaps")

// ErrCacheClosed is returned by operations on a closed cache.
var ErrCacheClosed = errors.New("cache is closed")

// Cache stores site maps keyed by start URL.
type Cache interface {
	Get(startURL string) (*output.SiteMap, bool, error)
	Put(startURL string, sm *output.SiteMap) error
	Delete(startURL string) error
	Close() error
}

// CacheKey hashes the normalized start URL.
func CacheKey(startURL string) string {
	normalized, err := scope.NormalizeURL(startURL)
	if err != nil {
		normalized = startURL
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// CacheEntry is the stored form of one site map.
type CacheEntry struct {
	Key      string          `json:"key"`
	StartURL string          `json:"start_url"`
	StoredAt time.Time       `json:"stored_at"`
	SiteMap  *output.SiteMap `json:"sitemap"`
}

// CacheInfo summarizes an entry without its pages.
type CacheInfo struct {
	Key      string
	StartURL string
	StoredAt time.Time
	Pages    int
	Expired  bool
}

// SiteMapCache implements Cache using BoltDB. Values are gzip-compressed JSON.
type SiteMapCache struct {
	db   *bolt.DB
	path string
	ttl  time.Duration
	now  func() time.Time
}

// NewSiteMapCache opens or creates the cache file. A ttl of 0 uses
// DefaultCacheTTL.
func NewSiteMapCache(path string, ttl time.Duration) (*SiteMapCache, error) {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSiteMaps)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &SiteMapCache{db: db, path: path, ttl: ttl, now: time.Now}, nil
}

// Path returns the database file path.
func (c *SiteMapCache) Path() string { return c.path }

// Put stores sm under the hash of startURL.
func (c *SiteMapCache) Put(startURL string, sm *output.SiteMap) error {
	entry := CacheEntry{
		Key:      CacheKey(startURL),
		StartURL: startURL,
		StoredAt: c.now(),
		SiteMap:  sm,
	}
	data, err := encodeEntry(&entry)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSiteMaps)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Put([]byte(entry.Key), data)
	})
}

// Get returns the cached site map for startURL. Expired and missing
// entries report false.
func (c *SiteMapCache) Get(startURL string) (*output.SiteMap, bool, error) {
	var entry *CacheEntry

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSiteMaps)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		data := b.Get([]byte(CacheKey(startURL)))
		if data == nil {
			return nil
		}

		var err error
		entry, err = decodeEntry(data)
		return err
	})
	if err != nil {
		if errors.Is(err, bolt.ErrDatabaseNotOpen) {
			return nil, false, ErrCacheClosed
		}
		return nil, false, err
	}

	if entry == nil || c.expired(entry.StoredAt) {
		return nil, false, nil
	}
	return entry.SiteMap, true, nil
}

// Delete removes the entry for startURL.
func (c *SiteMapCache) Delete(startURL string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSiteMaps)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.Delete([]byte(CacheKey(startURL)))
	})
}

// List summarizes every entry, newest first.
func (c *SiteMapCache) List() ([]CacheInfo, error) {
	var infos []CacheInfo

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSiteMaps)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.ForEach(func(k, v []byte) error {
			entry, err := decodeEntry(v)
			if err != nil {
				return fmt.Errorf("entry %s: %w", k, err)
			}
			info := CacheInfo{
				Key:      string(k),
				StartURL: entry.StartURL,
				StoredAt: entry.StoredAt,
				Expired:  c.expired(entry.StoredAt),
			}
			if entry.SiteMap != nil {
				info.Pages = entry.SiteMap.TotalPages
			}
			infos = append(infos, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].StoredAt.After(infos[j].StoredAt) })
	return infos, nil
}

// Keys returns the stored keys in byte order.
func (c *SiteMapCache) Keys() ([]string, error) {
	var keys []string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSiteMaps)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Prune deletes expired entries, or every entry when all is set, and
// returns how many were removed.
func (c *SiteMapCache) Prune(all bool) (int, error) {
	removed := 0

	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSiteMaps)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		var doomed [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if !all {
				entry, err := decodeEntry(v)
				if err == nil && !c.expired(entry.StoredAt) {
					return nil
				}
			}
			doomed = append(doomed, append([]byte(nil), k...))
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Close closes the database.
func (c *SiteMapCache) Close() error {
	return c.db.Close()
}

func (c *SiteMapCache) expired(storedAt time.Time) bool {
	return c.now().Sub(storedAt) > c.ttl
}

func encodeEntry(entry *CacheEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*CacheEntry, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, err
	}

	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// MemoryCache implements Cache in memory.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]CacheEntry
}

// NewMemoryCache creates an in-memory cache. A ttl of 0 uses DefaultCacheTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{ttl: ttl, entries: make(map[string]CacheEntry)}
}

// Get returns a fresh entry for startURL.
func (m *MemoryCache) Get(startURL string) (*output.SiteMap, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[CacheKey(startURL)]
	if !ok || time.Since(entry.StoredAt) > m.ttl {
		return nil, false, nil
	}
	return entry.SiteMap, true, nil
}

// Put stores sm.
func (m *MemoryCache) Put(startURL string, sm *output.SiteMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := CacheKey(startURL)
	m.entries[key] = CacheEntry{Key: key, StartURL: startURL, StoredAt: time.Now(), SiteMap: sm}
	return nil
}

// Delete removes the entry for startURL.
func (m *MemoryCache) Delete(startURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, CacheKey(startURL))
	return nil
}

// Close is a no-op for MemoryCache.
func (m *MemoryCache) Close() error {
	return nil
}
