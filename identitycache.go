package identitycache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/huykn/identity-cache/cache"
	"github.com/huykn/identity-cache/storage"
	clustersync "github.com/huykn/identity-cache/sync"
	"github.com/huykn/identity-cache/types"
)

// Logger is an alias for cache.Logger.
type Logger = cache.Logger

// Realm is an alias for cache.Realm.
type Realm = cache.Realm

// DelegateProvider is an alias for cache.DelegateProvider.
type DelegateProvider = cache.DelegateProvider

// PolicySource is an alias for cache.PolicySource.
type PolicySource = cache.PolicySource

// OnCacheHook is an alias for cache.OnCacheHook.
type OnCacheHook = cache.OnCacheHook

// UserView is an alias for cache.UserView.
type UserView = cache.UserView

// CachedUserView is an alias for cache.CachedUserView.
type CachedUserView = cache.CachedUserView

// Session is an alias for cache.Session.
type Session = cache.Session

// Manager is an alias for cache.Manager.
type Manager = cache.Manager

// Stats is an alias for cache.Stats.
type Stats = cache.Stats

// EntryStore is an alias for cache.EntryStore.
type EntryStore = cache.EntryStore

// EntryStoreFactory is an alias for cache.EntryStoreFactory.
type EntryStoreFactory = cache.EntryStoreFactory

// EntryStoreConfig is an alias for cache.EntryStoreConfig.
type EntryStoreConfig = cache.EntryStoreConfig

// CachePolicy is an alias for types.CachePolicy.
type CachePolicy = types.CachePolicy

// InvalidationEvent is an alias for types.InvalidationEvent.
type InvalidationEvent = types.InvalidationEvent

// DefaultEntryStoreConfig returns default entry store configuration for
// Ristretto.
func DefaultEntryStoreConfig() EntryStoreConfig {
	return cache.DefaultEntryStoreConfig()
}

// Config configures an identity cache instance.
type Config struct {
	// NodeID is the unique identifier for this cluster node.
	// Used to avoid applying this node's own broadcasts twice.
	NodeID string

	// EntryStoreConfig configures the entry store backing.
	EntryStoreConfig EntryStoreConfig

	// EntryStoreFactory is the factory for creating entry store instances.
	// If nil, defaults to Ristretto factory.
	EntryStoreFactory EntryStoreFactory

	// PolicySource resolves cache policies per authoritative source.
	// If nil, every source gets the default policy.
	PolicySource PolicySource

	// OnCache is invoked once per freshly cached user.
	OnCache OnCacheHook

	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	// Empty disables cluster invalidation; the node runs standalone.
	RedisAddr string

	// RedisPassword is the optional Redis password.
	RedisPassword string

	// RedisDB is the Redis database number.
	RedisDB int

	// InvalidationChannel is the Redis pub/sub channel for invalidation
	// events.
	InvalidationChannel string

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// Clock overrides the time source, for tests. If nil, time.Now.
	Clock func() time.Time
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		NodeID:              uuid.NewString(),
		RedisAddr:           "localhost:6379",
		RedisDB:             0,
		InvalidationChannel: "identity-cache:invalidate",
		EntryStoreConfig:    DefaultEntryStoreConfig(),
		EntryStoreFactory:   nil, // Will default to Ristretto in New()
		Logger:              nil, // Will default to no-op in New()
		DebugMode:           false,
	}
}

// IdentityCache is a cluster-aware identity cache node: a Manager wired to a
// Redis invalidation channel.
type IdentityCache struct {
	*cache.Manager

	broadcaster *clustersync.RedisBroadcaster
	client      *redis.Client
}

// New creates a new identity cache instance and, when a Redis address is
// configured, connects it to the cluster invalidation channel.
func New(cfg Config) (*IdentityCache, error) {
	if cfg.RedisAddr != "" && cfg.InvalidationChannel == "" {
		return nil, ErrInvalidConfig
	}

	opts := cache.Options{
		NodeID:            cfg.NodeID,
		EntryStoreConfig:  cfg.EntryStoreConfig,
		EntryStoreFactory: cfg.EntryStoreFactory,
		PolicySource:      cfg.PolicySource,
		OnCache:           cfg.OnCache,
		Logger:            cfg.Logger,
		DebugMode:         cfg.DebugMode,
		Clock:             cfg.Clock,
	}

	ic := &IdentityCache{}

	if cfg.RedisAddr != "" {
		client, err := storage.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		ic.client = client
		ic.broadcaster = clustersync.NewRedisBroadcaster(client, cfg.InvalidationChannel, cfg.NodeID, cfg.Logger)
		opts.Broadcaster = ic.broadcaster
	}

	manager, err := cache.NewManager(opts)
	if err != nil {
		ic.closeTransport()
		return nil, err
	}
	ic.Manager = manager

	if ic.broadcaster != nil {
		if err := ic.broadcaster.Subscribe(context.Background()); err != nil {
			ic.Close()
			return nil, err
		}
		ic.broadcaster.OnEvent(manager.ApplyEvent)
	}

	return ic, nil
}

// Close releases the cache and its cluster transport.
func (ic *IdentityCache) Close() error {
	err := ic.closeTransport()
	if ic.Manager != nil {
		if merr := ic.Manager.Close(); err == nil {
			err = merr
		}
	}
	return err
}

func (ic *IdentityCache) closeTransport() error {
	var err error
	if ic.broadcaster != nil {
		err = ic.broadcaster.Close()
	}
	if ic.client != nil {
		if cerr := ic.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
