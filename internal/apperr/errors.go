// Package apperr holds the sentinel errors shared across the console and the
// machine-readable kinds reported to API clients.
package apperr

import "errors"

var (
	ErrNotFound            = errors.New("unit not found")
	ErrOperationInProgress = errors.New("operation in progress")
	ErrCommandTimeout      = errors.New("command timed out")
	ErrMetadataStore       = errors.New("metadata store failure")
	ErrRefresh             = errors.New("refresh failed")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrUnauthorized        = errors.New("unauthorized")
)

// Kind is the machine-readable error class carried in API error bodies.
type Kind string

const (
	KindUnitNotFound         Kind = "UnitNotFound"
	KindOperationInProgress  Kind = "OperationInProgress"
	KindCommandTimeout       Kind = "CommandTimeout"
	KindMetadataStoreFailure Kind = "MetadataStoreFailure"
	KindRefreshFailure       Kind = "RefreshFailure"
	KindInvalidRequest       Kind = "InvalidRequest"
	KindUnauthorized         Kind = "Unauthorized"
	KindInternal             Kind = "Internal"
)

// KindOf classifies err. Unrecognised errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindUnitNotFound
	case errors.Is(err, ErrOperationInProgress):
		return KindOperationInProgress
	case errors.Is(err, ErrCommandTimeout):
		return KindCommandTimeout
	case errors.Is(err, ErrMetadataStore):
		return KindMetadataStoreFailure
	case errors.Is(err, ErrRefresh):
		return KindRefreshFailure
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	default:
		return KindInternal
	}
}
