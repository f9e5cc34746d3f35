package cache

import (
	"time"
)

// EntryStoreConfig configures the entry store backing.
type EntryStoreConfig struct {
	// NumCounters is the number of admission counters (Ristretto only).
	// Recommended: 10 * the expected number of entries.
	NumCounters int64

	// MaxCost is the maximum total cost of entries (Ristretto only).
	MaxCost int64

	// BufferItems is the number of items buffered per admission batch
	// (Ristretto only). Recommended: 64.
	BufferItems int64

	// IgnoreInternalCost ignores the internal cost of items (Ristretto only).
	IgnoreInternalCost bool

	// MaxSize is the maximum number of entries (LRU only).
	MaxSize int
}

// Options configures a Manager instance.
type Options struct {
	// NodeID is the unique identifier of this cluster node. It tags outbound
	// invalidation events so a node never applies its own broadcasts twice.
	NodeID string

	// EntryStoreConfig configures the entry store backing.
	EntryStoreConfig EntryStoreConfig

	// EntryStoreFactory is the factory for the entry store backing.
	// If nil, defaults to the Ristretto factory.
	EntryStoreFactory EntryStoreFactory

	// PolicySource resolves cache policies per authoritative source.
	// If nil, every source gets the default policy with no watermark.
	PolicySource PolicySource

	// Broadcaster publishes invalidation events to the rest of the cluster.
	// If nil, defaults to NopBroadcaster.
	Broadcaster Broadcaster

	// OnCache is invoked once per freshly cached user.
	OnCache OnCacheHook

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger

	// DebugMode enables debug logging.
	DebugMode bool

	// Clock overrides the time source, for tests. If nil, time.Now.
	Clock func() time.Time
}

// DefaultOptions returns default manager options.
func DefaultOptions() Options {
	return Options{
		NodeID:            "default-node",
		EntryStoreConfig:  DefaultEntryStoreConfig(),
		EntryStoreFactory: nil, // Will default to Ristretto in NewManager()
		Broadcaster:       nil, // Will default to NopBroadcaster in NewManager()
		Logger:            nil, // Will default to no-op in NewManager()
		DebugMode:         false,
	}
}

// DefaultEntryStoreConfig returns default entry store configuration.
func DefaultEntryStoreConfig() EntryStoreConfig {
	return EntryStoreConfig{
		NumCounters:        1e7,
		MaxCost:            1 << 30, // 1GB
		BufferItems:        64,
		IgnoreInternalCost: true,
		MaxSize:            10000,
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.NodeID == "" {
		return ErrInvalidConfig
	}
	if o.EntryStoreConfig.NumCounters <= 0 {
		return ErrInvalidConfig
	}
	if o.EntryStoreConfig.MaxCost <= 0 {
		return ErrInvalidConfig
	}
	if o.EntryStoreConfig.MaxSize <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// ErrInvalidConfig is returned when options are invalid.
var ErrInvalidConfig = NewError("invalid cache configuration")

// NewError creates a new error with the given message.
func NewError(msg string) error {
	return &cacheError{msg: msg}
}

type cacheError struct {
	msg string
}

func (e *cacheError) Error() string {
	return e.msg
}
