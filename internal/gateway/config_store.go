package gateway

import (
	"context"
	"encoding/json"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const activeConfigRedisKey = "gateway:active_config"

// ConfigStore owns the active indicator configuration. It survives gateway
// restarts via Redis, and every change is pushed to connected clients.
type ConfigStore struct {
	hub *Hub
	rdb *goredis.Client
}

// NewConfigStore creates a ConfigStore backed by the given Hub.
func NewConfigStore(hub *Hub, rdb *goredis.Client) *ConfigStore {
	return &ConfigStore{hub: hub, rdb: rdb}
}

// Load restores the active config from Redis during startup. Reports
// whether anything was restored.
func (cs *ConfigStore) Load(ctx context.Context) bool {
	if cs.rdb == nil {
		return false
	}
	stored, err := cs.rdb.Get(ctx, activeConfigRedisKey).Result()
	if err != nil {
		return false
	}
	var cfg ActiveConfig
	if json.Unmarshal([]byte(stored), &cfg) != nil {
		return false
	}

	cs.swap(cfg)
	log.Printf("[config_store] restored active config from Redis: %d entries", len(cfg.Entries))
	return true
}

// Get returns the current active indicator configuration.
func (cs *ConfigStore) Get() ActiveConfig {
	cs.hub.mu.RLock()
	defer cs.hub.mu.RUnlock()
	return cs.hub.activeConfig
}

// Set swaps in a new config, persists it, and notifies every client.
func (cs *ConfigStore) Set(cfg ActiveConfig) {
	cs.swap(cfg)
	cs.persist(cfg)
	cs.announce(cfg)
}

func (cs *ConfigStore) swap(cfg ActiveConfig) {
	cs.hub.mu.Lock()
	cs.hub.activeConfig = cfg
	cs.hub.mu.Unlock()
}

// persist writes the config to Redis. Best-effort — the frontend remains
// the source of truth if Redis is down.
func (cs *ConfigStore) persist(cfg ActiveConfig) {
	blob, err := json.Marshal(cfg)
	if err != nil || cs.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cs.rdb.Set(ctx, activeConfigRedisKey, blob, 0).Err(); err != nil {
		log.Printf("[config_store] WARNING: failed to persist active config to Redis: %v", err)
	}
}

// announce pushes a config_update envelope to every client, skipping those
// whose send queue is full.
func (cs *ConfigStore) announce(cfg ActiveConfig) {
	envelope, _ := json.Marshal(map[string]interface{}{
		"type":    "config_update",
		"entries": cfg.Entries,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	cs.hub.pushToAll(envelope)
}
