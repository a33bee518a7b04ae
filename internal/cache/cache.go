// Package cache keeps per-tenant catalog snapshots (quick replies, tags)
// between runs. Entries are JSON and expire after a TTL. Two backends exist:
// files under the user cache directory and Redis for shared operator
// workstations. Set CONVO_NO_CACHE=1 to bypass both.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const DefaultTTL = 10 * time.Minute

// Store is a TTL cache of JSON-encodable values scoped to one tenant.
type Store interface {
	// Get loads the value under key into dst. It reports false on a miss,
	// an expired entry, a decode failure or when caching is disabled.
	Get(ctx context.Context, key string, dst any) bool
	// Put writes a value. Failures are swallowed: the cache is advisory.
	Put(ctx context.Context, key string, value any)
	// Clear removes one key.
	Clear(ctx context.Context, key string)
}

type entry struct {
	CachedAt time.Time       `json:"cached_at"`
	Items    json.RawMessage `json:"items"`
}

// Scope returns the tenant-specific part of cache keys: 12 hex characters
// derived from the backend URL and tenant.
func Scope(baseURL, tenantID string) string {
	hash := sha1.Sum([]byte(strings.TrimSuffix(baseURL, "/") + "\x00" + tenantID))
	return hex.EncodeToString(hash[:6])
}

// FileStore keeps one JSON file per key.
type FileStore struct {
	dir   string
	scope string
	ttl   time.Duration
}

// NewFileStore creates a file store. dir is typically DefaultDir().
func NewFileStore(dir, baseURL, tenantID string, ttl time.Duration) *FileStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FileStore{dir: dir, scope: Scope(baseURL, tenantID), ttl: ttl}
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+"_"+s.scope+".json")
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string, dst any) bool {
	if disabled() {
		return false
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return false
	}
	if time.Since(e.CachedAt) > s.ttl {
		return false
	}
	return json.Unmarshal(e.Items, dst) == nil
}

// Put implements Store.
func (s *FileStore) Put(_ context.Context, key string, value any) {
	if disabled() {
		return
	}
	data, err := encode(value)
	if err != nil {
		return
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return
	}
	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return
	}
	_ = os.Rename(tmp, path)
}

// Clear implements Store.
func (s *FileStore) Clear(_ context.Context, key string) {
	_ = os.Remove(s.path(key))
}

// ClearAll removes every cache file in dir. Only files matching the cache
// naming scheme are touched.
func ClearAll(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isCacheFilename(e.Name()) {
			continue
		}
		_ = os.Remove(filepath.Join(dir, e.Name()))
	}
}

// DefaultDir returns "$XDG_CACHE_HOME/convo" or the platform equivalent.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "convo"), nil
}

func encode(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entry{CachedAt: time.Now(), Items: raw})
}

func disabled() bool {
	return os.Getenv("CONVO_NO_CACHE") != ""
}

func sanitizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "cache"
	}
	key = strings.ReplaceAll(key, "/", "-")
	key = strings.ReplaceAll(key, "\\", "-")
	key = strings.ReplaceAll(key, "_", "-")
	return key
}

// isCacheFilename matches "<key>_<12hex>.json".
func isCacheFilename(name string) bool {
	if filepath.Ext(name) != ".json" {
		return false
	}
	key, scope, ok := strings.Cut(strings.TrimSuffix(name, ".json"), "_")
	if !ok || key == "" || len(scope) != 12 {
		return false
	}
	_, err := hex.DecodeString(scope)
	return err == nil
}
