package commission

import (
	"fmt"

	"github.com/pkg/errors"

	"server-commission-app/internal/app/relation"
)

// ErrInvalidRequest rejects malformed events and admin requests.
var ErrInvalidRequest = errors.New("invalid request")

// ChainResolutionError is re-exported so callers of this package can match it.
type ChainResolutionError = relation.ChainResolutionError

// DuplicateDistributionError a concurrent delivery of the same source event
// already wrote some of the records. Treated as success by Distribute.
type DuplicateDistributionError struct {
	SourceEventID string
	Inserted      int64
	Expected      int
}

func (e *DuplicateDistributionError) Error() string {
	return fmt.Sprintf("source event %s already distributed (%d of %d records new)",
		e.SourceEventID, e.Inserted, e.Expected)
}

// PersistenceError the ledger write failed; the caller should retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func invalid(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidRequest, format, args...)
}
