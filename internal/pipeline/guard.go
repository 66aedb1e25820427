package pipeline

import (
	"errors"
	"fmt"
	"runtime/debug"

	"liqwatch/logger"
)

// ErrPanic marks an error recovered from a panicking iteration.
var ErrPanic = errors.New("recovered panic")

// Guard runs fn and converts a panic into an error wrapping ErrPanic. The
// panic and its stack are logged on entry.
func Guard(entry *logger.Entry, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			entry.WithError(err).WithField("stack", string(debug.Stack())).Error("iteration panicked")
		}
	}()
	return fn()
}
