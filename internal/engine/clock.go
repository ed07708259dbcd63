package engine

import "time"

// Clock supplies the current time in whole unix seconds.
//
// Operations never take the time from the caller; the dispatcher reads its
// Clock once per operation. Implementations must be non-decreasing.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now() in unix seconds.
func (SystemClock) Now() int64 {
	return time.Now().Unix()
}
