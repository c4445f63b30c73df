package model

import "errors"

// Error taxonomy for the tile pipeline. Datastore and deadline failures
// propagate to the caller; cache failures are absorbed where they occur.
var (
	ErrInvalidViewport  = errors.New("invalid viewport")
	ErrRetrievalFailed  = errors.New("retrieval failed")
	ErrRetrievalTimeout = errors.New("retrieval timeout")
	ErrCacheUnavailable = errors.New("cache unavailable")
)
