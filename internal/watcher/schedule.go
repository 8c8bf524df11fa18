package watcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs at the top of every hour. The first field is seconds.
const DefaultSchedule = "0 0 * * * *"

// Start schedules RunOnce on spec until ctx is done. A run still in
// progress when the next one is due causes that one to be skipped. The
// returned channel closes once the scheduler has stopped and any running
// job has finished.
func (w *Watcher) Start(ctx context.Context, spec string) (<-chan struct{}, error) {
	if spec == "" {
		spec = DefaultSchedule
	}

	logger := cronLogger{logger: w.logger}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	_, err := c.AddFunc(spec, func() {
		if _, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("watcher run failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid watcher schedule %q: %w", spec, err)
	}

	c.Start()
	w.logger.Info("watcher scheduled", "schedule", spec)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		<-c.Stop().Done()
		w.logger.Info("watcher stopped")
	}()
	return done, nil
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
