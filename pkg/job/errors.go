package job

import "fmt"

// InvalidStateError indicates an operation that is illegal for the job's
// current status (e.g. resuming a job that is not Paused).
type InvalidStateError struct {
	ID     string
	Status Status
	Op     string
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("job %s: cannot %s while %s", e.ID, e.Op, e.Status)
}
