package app

import "errors"

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidDeleteMode      = errors.New("invalid delete mode")
	ErrDependenciesIncomplete = errors.New("dependencies incomplete")
	ErrCrossProject           = errors.New("work items belong to different projects")
)
