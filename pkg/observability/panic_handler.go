package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers a panic and logs it with its stack. Call it directly
// in a defer:
//
//	defer observability.RecoverPanic(logger, "outbox handler")
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic": fmt.Sprint(r),
			"stack": string(debug.Stack()),
			"where": where,
		}).Error("PANIC recovered")
	}
}

// Go runs fn in a goroutine that logs instead of crashing on panic
func Go(logger *Logger, where string, fn func()) {
	go func() {
		defer RecoverPanic(logger, where)
		fn()
	}()
}
