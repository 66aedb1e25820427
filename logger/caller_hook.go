package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// frames from these packages are never reported as the caller
var skipPackages = []string{"sirupsen/logrus", "liqwatch/logger."}

// callerHook points entry.Caller at the first frame outside logrus and the
// Entry wrappers, otherwise every line would report logger.go.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !internalFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func internalFrame(fn string) bool {
	for _, p := range skipPackages {
		if strings.Contains(fn, p) {
			return true
		}
	}
	return false
}
