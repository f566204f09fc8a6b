package execution

import "errors"

var (
	// ErrNilConfig is returned when the scheduler configuration is nil.
	ErrNilConfig = errors.New("scheduler config is nil")

	// ErrNilWorkerFactory is returned when no worker factory is configured.
	ErrNilWorkerFactory = errors.New("worker factory is nil")

	// ErrInvalidConcurrency is returned when concurrency is not positive.
	ErrInvalidConcurrency = errors.New("invalid concurrency: must be positive")

	// ErrInvalidDuration is returned when the run duration is not positive.
	ErrInvalidDuration = errors.New("invalid duration: must be positive")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("scheduler is already running")

	// ErrInvalidTransition is returned for an illegal run state change.
	ErrInvalidTransition = errors.New("invalid run state transition")
)
