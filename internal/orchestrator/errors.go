package orchestrator

import "fmt"

// NoActiveContainerError reports an attach against a project whose
// container is not running on the resolved remote.
type NoActiveContainerError struct {
	Project string
	Remote  string
}

func (e *NoActiveContainerError) Error() string {
	return fmt.Sprintf("no running container for project %s on %s (run connect first)", e.Project, e.Remote)
}
