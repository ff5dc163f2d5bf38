package report

import "fmt"

// PriorStateError means an existing report could not be read back. The run
// must stop rather than overwrite a file it does not understand.
type PriorStateError struct {
	Path string
	Err  error
}

func (e *PriorStateError) Error() string {
	return fmt.Sprintf("reading prior report %s: %v", e.Path, e.Err)
}

func (e *PriorStateError) Unwrap() error { return e.Err }

// EmitError wraps an I/O failure while writing a report file.
type EmitError struct {
	Path string
	Err  error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *EmitError) Unwrap() error { return e.Err }
