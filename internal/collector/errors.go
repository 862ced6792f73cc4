package collector

import "errors"

var (
	// ErrRetryBudgetExhausted is returned once every attempt of a call failed.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	// ErrQueueFull is returned when a job cannot be admitted in time.
	ErrQueueFull = errors.New("job queue full")
	// ErrQueueClosed is returned by queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
	// ErrLocalIO marks temporary storage failures.
	ErrLocalIO = errors.New("local io failure")
	// ErrMalformedPage marks upstream pages that are not a list of objects.
	ErrMalformedPage = errors.New("malformed page")
	// ErrInvalidGraph marks entity configuration that cannot be executed.
	ErrInvalidGraph = errors.New("invalid entity graph")
)
