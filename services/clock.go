package services

import "time"

// Clock is the server time source. All round deadlines and submission-window
// comparisons go through it; client-reported timestamps are never consulted.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func SystemClock() Clock { return systemClock{} }
