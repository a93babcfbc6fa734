package syncengine

import "errors"

var (
	ErrUnknownEntityType     = errors.New("unknown entity type")
	ErrUnknownOperationType  = errors.New("unknown operation type")
	ErrStaleOperationDropped = errors.New("stale operation dropped")
	ErrUnresolvedTempID      = errors.New("temporary id has no server id yet")
)
