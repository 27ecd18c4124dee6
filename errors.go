package rdb

import "github.com/pkg/errors"

// Error kinds returned by the storage layer and the executor. Callers should
// use errors.Is against these sentinels; errors.Wrap/Wrapf add call-site
// context on the way up without losing the underlying kind (errors.Cause
// still returns one of these).
var (
	ErrPageOutOfBounds      = errors.New("page out of bounds")
	ErrCorruptPage          = errors.New("corrupt page")
	ErrPageFull             = errors.New("page full")
	ErrInvalidSlot          = errors.New("invalid slot")
	ErrDatabaseNotRegistered = errors.New("database not registered")
	ErrTableNotFound        = errors.New("table not found")
	ErrTableAlreadyExists   = errors.New("table already exists")
	ErrCatalogOverflow      = errors.New("catalog overflow")
	ErrIndexSplitUnsupported = errors.New("index split unsupported")
	ErrUnsupportedFeature   = errors.New("unsupported feature")
	ErrAccessDenied         = errors.New("access denied")
	ErrInvalidSession       = errors.New("invalid session")
)
