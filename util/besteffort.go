package util

import (
	"fmt"

	"github.com/charmbracelet/log"
)

// BestEffort runs a fire-and-forget side effect (email, notification).
// Errors and panics are logged and never reach the caller.
func BestEffort(logger *log.Logger, what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Best-effort side effect panicked", "what", what, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		logger.Warn("Best-effort side effect failed", "what", what, "err", err)
	}
}
