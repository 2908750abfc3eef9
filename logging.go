// logging.go - structured logging configuration
//
// Package-level logging via logiface, with an optional per-loop override
// (see WithLogger).
//
// Design Decision: Package-level global variable is appropriate here because:
//   - Logging is an infrastructure cross-cutting concern
//   - Promise and loop instances share logging semantics
//   - Configured once at startup
//   - Avoids per-instance logging configuration surface area bloat

package promise

import (
	"sync"

	"github.com/joeycumines/logiface"
)

var (
	// Global logger for package-level logging
	globalLogger struct {
		sync.RWMutex
		logger *logiface.Logger[logiface.Event]
	}
)

// SetLogger sets the package-level logger, used by promises and by loops
// built without [WithLogger]. A nil logger silences the package: logiface
// treats a nil *Logger as a no-op, so no wrapper or sentinel is needed.
//
// Typical wiring, with the stumpy JSON backend:
//
//	promise.SetLogger(stumpy.L.New(
//	    stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
//	    stumpy.L.WithLevel(logiface.LevelInformational),
//	).Logger())
func SetLogger(logger *logiface.Logger[logiface.Event]) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = logger
}

// getLogger safely retrieves the package-level logger. The result may be
// nil, which is a valid no-op logiface logger.
func getLogger() *logiface.Logger[logiface.Event] {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}
