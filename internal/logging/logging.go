// Package logging configures the process-wide go-ethereum/log handler
// (SPEC_FULL.md §2.1), matching the teacher's use of
// github.com/ethereum/go-ethereum/log for every fallible call site.
package logging

import (
	"os"

	"github.com/ethereum/go-ethereum/log"
)

// Setup installs a leveled, terminal-formatted handler for env
// ("development" logs debug and above; anything else logs info and
// above).
func Setup(env string) {
	level := log.LvlInfo
	if env == "development" {
		level = log.LvlDebug
	}
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, level, false)
	log.SetDefault(log.NewLogger(handler))
}
