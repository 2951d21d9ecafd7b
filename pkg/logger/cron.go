package logger

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// CronLogger adapts the logger to cron.Logger so scheduler chains
// (SkipIfStillRunning, Recover) log through zerolog.
func (l *Logger) CronLogger() cron.Logger {
	return cronLogger{logg: l}
}

type cronLogger struct {
	logg *Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	ctx := c.logg.WithFields(context.Background(), pairs(keysAndValues))
	c.logg.Debug(ctx, "cron: "+msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	ctx := c.logg.WithFields(context.Background(), pairs(keysAndValues))
	c.logg.Error(ctx, "cron: "+msg, err)
}

func pairs(keysAndValues []interface{}) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
