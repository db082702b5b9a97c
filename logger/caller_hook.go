package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// frames owned by logging itself, skipped when reporting the caller
var loggingPackages = []string{"sirupsen/logrus", "tradecore/logger."}

// callerHook points the entry caller at the venue or session code that
// logged, not at the Entry wrappers.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	if frame, ok := externalCaller(6); ok {
		entry.Caller = &frame
	}
	return nil
}

func externalCaller(skip int) (runtime.Frame, bool) {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isLoggingFrame(frame.Function) {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func isLoggingFrame(fn string) bool {
	for _, pkg := range loggingPackages {
		if strings.Contains(fn, pkg) {
			return true
		}
	}
	return false
}
