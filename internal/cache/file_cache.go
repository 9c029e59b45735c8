package cache

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dymaxionlabs/satlomas/internal/properties"
	"github.com/sirupsen/logrus"
)

type CacheEntry[T any] struct {
	Data      T         `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"`
}

type CacheService[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T) error
	GenerateKey(params ...interface{}) string
}

// FileCache stores one JSON document per key under a directory. Entries
// older than maxAge are treated as missing; a zero maxAge never expires.
type FileCache[T any] struct {
	dir    string
	maxAge time.Duration
	now    func() time.Time
}

// NewFileCache creates a cache under the project data directory.
func NewFileCache[T any](name string, maxAge time.Duration) *FileCache[T] {
	return NewFileCacheAt[T](properties.DataPath("cache", name), maxAge)
}

func NewFileCacheAt[T any](dir string, maxAge time.Duration) *FileCache[T] {
	return &FileCache[T]{dir: dir, maxAge: maxAge, now: time.Now}
}

// GenerateKey hashes the printed form of params, so any comparable query
// values can be used.
func (fc *FileCache[T]) GenerateKey(params ...interface{}) string {
	var b strings.Builder
	for _, p := range params {
		fmt.Fprintf(&b, "%v_", p)
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (fc *FileCache[T]) path(key string) string {
	return filepath.Join(fc.dir, key+".json")
}

// Get returns the entry stored under key. Entries that fail to decode, do
// not match their checksum or are too old are removed.
func (fc *FileCache[T]) Get(key string) (T, bool) {
	var zero T
	path := fc.path(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		return zero, false
	}

	var entry CacheEntry[T]
	switch {
	case json.Unmarshal(raw, &entry) != nil:
		logrus.Debugf("cache entry %s is not valid JSON", path)
	case entry.Checksum != checksum(entry.Data):
		logrus.Debugf("cache entry %s failed checksum validation", path)
	case fc.maxAge > 0 && fc.now().Sub(entry.CreatedAt) > fc.maxAge:
		logrus.Debugf("cache entry %s expired", path)
	default:
		return entry.Data, true
	}
	os.Remove(path)
	return zero, false
}

// Set writes data under key through a temporary file so readers never see
// a partial entry.
func (fc *FileCache[T]) Set(key string, data T) error {
	if err := os.MkdirAll(fc.dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	raw, err := json.Marshal(CacheEntry[T]{Data: data, CreatedAt: fc.now(), Checksum: checksum(data)})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(fc.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write temp cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fc.path(key)); err != nil {
		return fmt.Errorf("failed to rename temp cache file: %w", err)
	}
	return nil
}

func checksum(data any) string {
	raw, _ := json.Marshal(data)
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}
