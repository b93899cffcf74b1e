package ports

import "time"

// SystemClock is the production Clock implementation.
type SystemClock struct{}

func (SystemClock) Now() time.Time                  { return time.Now() }
func (SystemClock) Sleep(d time.Duration)            { time.Sleep(d) }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
