package mutex

import "errors"

var (
	// ErrNotCoordinator marks a read of coordinator-only state on a process
	// that does not hold the role.
	ErrNotCoordinator = errors.New("process is not the coordinator")

	// ErrProcessClosed is returned by operations on a destroyed process.
	ErrProcessClosed = errors.New("process destroyed")

	// ErrNoCoordinator is returned when no coordinator exists and none can be elected.
	ErrNoCoordinator = errors.New("no coordinator available")

	// ErrCoordinatorExists is returned when designating a second live coordinator.
	ErrCoordinatorExists = errors.New("a live coordinator already exists")

	// ErrUnknownProcess is returned for requests from unregistered processes.
	ErrUnknownProcess = errors.New("unknown process")
)
