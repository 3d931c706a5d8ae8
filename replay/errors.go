package replay

import (
	"fmt"

	"github.com/pkg/errors"
)

// UnderflowError is returned when a sample asks for more trajectories than
// the store holds.
type UnderflowError struct {
	Have, Want int
}

func (e UnderflowError) Error() string {
	return fmt.Sprintf("replay underflow: have %d trajectories, want %d", e.Have, e.Want)
}

// IsUnderflow reports whether err is an UnderflowError. Callers treat
// underflow as "not yet", not as failure.
func IsUnderflow(err error) bool {
	var u UnderflowError
	return errors.As(err, &u)
}

// StorageError wraps a persistence failure on the write or read path. The
// failed operation never partially commits.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string { return fmt.Sprintf("replay storage %s: %v", e.Op, e.Err) }
func (e StorageError) Unwrap() error { return e.Err }
