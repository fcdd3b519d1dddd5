package scheduler

import (
	"fmt"

	"github.com/rs/zerolog"
)

// cronLogger adapts zerolog to cron.Logger. cron reports routine events
// (start, wake, run) at info level; only skipped runs matter operationally.
type cronLogger struct {
	log zerolog.Logger
}

// Info implements cron.Logger
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		l.log.Warn().Fields(fields(keysAndValues)).Msg("Skipped run, previous run still in progress")
		return
	}
	l.log.Debug().Fields(fields(keysAndValues)).Msg("cron: " + msg)
}

// Error implements cron.Logger
func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(fields(keysAndValues)).Msg("cron: " + msg)
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
