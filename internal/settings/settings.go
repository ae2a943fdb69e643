// Package settings layers a 60-second read-through cache over the Setting
// table, mirroring original_source/src/db/models/setting.rs's SettingsCache:
// get() consults the cache first and falls back to the database on a miss
// or expiry, set() writes through to the database and evicts the cache
// entry rather than updating it in place.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/composeforge/composeforge/internal/model"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Recognised setting keys, per the on-disk layout.
const (
	JWTSecret             = "jwtSecret"
	PrimaryHostname       = "primaryHostname"
	DisableAuth           = "disableAuth"
	TrustProxy            = "trustProxy"
	ServerTimezone        = "serverTimezone"
	CheckUpdate           = "checkUpdate"
	PasswordEncryptionKey = "passwordEncryptionKey"
	LatestVersion         = "latestVersion"
	GlobalENV             = "globalENV"
)

const ttl = 60 * time.Second

// cacheEntry pairs a cached value with the time it was stored.
type cacheEntry struct {
	value string
	at    time.Time
}

// Store is the typed key/value settings cache. A nil *redis.Client falls
// back to an in-process map, so a Store is fully usable without Redis
// configured.
type Store struct {
	db    *gorm.DB
	rdb   *redis.Client
	mu    sync.RWMutex
	local map[string]cacheEntry
}

// New constructs a Store backed by db. If rdb is non-nil it is used as the
// cache tier instead of the in-process map, letting the cache be shared
// across composeforge processes.
func New(db *gorm.DB, rdb *redis.Client) *Store {
	return &Store{
		db:    db,
		rdb:   rdb,
		local: make(map[string]cacheEntry),
	}
}

// Get returns the raw string value for key, reading from cache when fresh
// and falling back to the database otherwise. ok is false if the key has
// no row.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	if v, hit := s.getCached(ctx, key); hit {
		return v, true, nil
	}

	var row model.Setting
	err = s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query setting %s: %w", key, err)
	}

	s.setCached(ctx, key, row.Value)
	return row.Value, true, nil
}

// GetBool is a convenience wrapper for boolean-typed settings; missing or
// unparsable values are treated as false.
func (s *Store) GetBool(ctx context.Context, key string) (bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return v == "true" || v == "1", nil
}

// Set writes value through to the database (insert or update) and evicts
// the cache entry so the next Get re-reads from the database.
func (s *Store) Set(ctx context.Context, key, value string, typ model.SettingType) error {
	var row model.Setting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	switch {
	case err == nil:
		row.Value = value
		row.Type = typ
		if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
			return fmt.Errorf("update setting %s: %w", key, err)
		}
	case err == gorm.ErrRecordNotFound:
		if err := s.db.WithContext(ctx).Create(&model.Setting{Key: key, Value: value, Type: typ}).Error; err != nil {
			return fmt.Errorf("insert setting %s: %w", key, err)
		}
	default:
		return fmt.Errorf("query setting %s: %w", key, err)
	}

	s.evict(ctx, key)
	return nil
}

// All returns every setting as a key -> value map, bypassing the cache
// (used for the getSettings wire event, which always wants a fresh read).
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	var rows []model.Setting
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *Store) getCached(ctx context.Context, key string) (string, bool) {
	if s.rdb != nil {
		v, err := s.rdb.Get(ctx, redisKey(key)).Result()
		if err == nil {
			return v, true
		}
		return "", false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.local[key]
	if !ok || time.Since(entry.at) > ttl {
		return "", false
	}
	return entry.value, true
}

func (s *Store) setCached(ctx context.Context, key, value string) {
	if s.rdb != nil {
		s.rdb.Set(ctx, redisKey(key), value, ttl)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[key] = cacheEntry{value: value, at: time.Now()}
}

func (s *Store) evict(ctx context.Context, key string) {
	if s.rdb != nil {
		s.rdb.Del(ctx, redisKey(key))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.local, key)
}

// Sweep drops every cache entry older than the TTL. Only meaningful for the
// in-process map — Redis expires keys on its own. Wired into the broadcast
// scheduler's 60-second settings sweep.
func (s *Store) Sweep() {
	if s.rdb != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, entry := range s.local {
		if now.Sub(entry.at) > ttl {
			delete(s.local, k)
		}
	}
}

func redisKey(key string) string {
	return "composeforge:setting:" + key
}

// MarshalJSONMap is a small helper for handlers that need to hand a
// map[string]string back over the wire as JSON.
func MarshalJSONMap(m map[string]string) ([]byte, error) {
	return json.Marshal(m)
}
