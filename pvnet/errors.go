package pvnet

import "fmt"

// ArchitectureMismatchError is returned when a checkpoint was written by a
// different architecture mode than the one requested. Loading anyway would
// silently produce wrong outputs.
type ArchitectureMismatchError struct {
	Requested, Found Mode
}

func (e ArchitectureMismatchError) Error() string {
	return fmt.Sprintf("checkpoint architecture %q does not match requested %q", e.Found, e.Requested)
}

// CheckpointError wraps a checkpoint persistence failure.
type CheckpointError struct {
	Op  string
	Err error
}

func (e CheckpointError) Error() string { return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err) }
func (e CheckpointError) Unwrap() error { return e.Err }
