package domain

import "errors"

var (
	ErrNotFound        = errors.New("resource not found")
	ErrAlreadyTerminal = errors.New("job already in a terminal state")
	ErrTimeout         = errors.New("encoder invocation timed out")
	ErrNoOutput        = errors.New("encoder exited successfully but produced no output")
)
