// Package refdata holds the embedded reference tables used by the decay
// model: default material decay rates by landfill moisture condition and
// annual gas collection efficiencies by scenario.
package refdata

import (
	"sync"

	"github.com/rs/zerolog"
)

var (
	logger   = zerolog.Nop()
	loggerMu sync.RWMutex
)

// SetLogger sets the logger used to report malformed rows while the embedded
// tables are parsed. Call it before the first lookup.
func SetLogger(l zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l.With().Str("component", "refdata").Logger()
}

func log() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := logger
	return &l
}
