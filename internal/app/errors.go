package service

import "errors"

var (
	// ErrNotStarted is returned by Analyze before Start or after Stop.
	ErrNotStarted = errors.New("service not started")
	// ErrBackpressure is returned when the job queue cannot take a run.
	ErrBackpressure = errors.New("ranking queue full")
	// ErrNoRecords is returned by Analyze for an empty batch.
	ErrNoRecords = errors.New("no records to rank")
	// ErrTopNTooLarge is returned when more movers are asked for than allowed.
	ErrTopNTooLarge = errors.New("top movers limit exceeded")
)
