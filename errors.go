package identitycache

import (
	"github.com/huykn/identity-cache/cache"
	"github.com/huykn/identity-cache/storage"
)

// ErrInvalidConfig is returned when the cache configuration is invalid.
var ErrInvalidConfig = cache.ErrInvalidConfig

// ErrSessionInactive is returned when the delegate is accessed outside an
// active transaction.
var ErrSessionInactive = cache.ErrSessionInactive

// ErrAmbiguousResult is returned when a secondary-key lookup matches more
// than one record in the authoritative store.
var ErrAmbiguousResult = cache.ErrAmbiguousResult

// ErrUnknownEventKind is returned when an invalidation event with an
// unrecognized kind tag is decoded.
var ErrUnknownEventKind = storage.ErrUnknownEventKind
