package nudge

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Runner is anything with a Run like Job's.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Scheduler runs a job on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration
}

// NewScheduler parses schedule ("0 18 * * *", "@every 1h") and registers job.
func NewScheduler(job Runner, schedule string, timeout time.Duration, log *logrus.Logger) (*Scheduler, error) {
	logger := cronLogger{log.WithField("component", "scheduler")}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	s := &Scheduler{cron: c, timeout: timeout}

	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := job.Run(ctx); err != nil {
			logger.entry.WithError(err).Error("scheduled cook nudge failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid nudge schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and returns a context done once running jobs end.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
