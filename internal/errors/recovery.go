package errors

import (
	"go.uber.org/zap"
)

// SafeGo runs fn in a new goroutine with a panic guard. A panic in a
// completion callback must not take down the whole process, so it is
// logged and swallowed.
func SafeGo(logger *zap.Logger, operation string, fn func()) {
	go func() {
		defer RecoverPanic(logger, operation)
		fn()
	}()
}

// RecoverPanic recovers from a panic and logs it. Intended for use in
// a defer at the top of goroutines that run user-supplied callbacks.
func RecoverPanic(logger *zap.Logger, operation string) {
	if r := recover(); r != nil {
		if logger != nil {
			logger.Error("recovered from panic",
				zap.String("operation", operation),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}
}
