package observability

import (
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with its stack.
// Call it in a defer from background jobs so one failure does not stop the process.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("panic recovered")
	}
}
