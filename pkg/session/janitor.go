package session

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/riverbase/authgate/pkg/observability"
)

// Janitor periodically counts live sessions and hands the number to a
// publisher (typically the online-sessions Prometheus gauge).
type Janitor struct {
	store    *Store
	logger   *observability.Logger
	publish  func(count int)
	schedule string
	cron     *cron.Cron
}

// NewJanitor creates a janitor with the given cron schedule spec
// (e.g. "@every 1m").
func NewJanitor(store *Store, logger *observability.Logger, schedule string, publish func(count int)) *Janitor {
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Janitor{
		store:    store,
		logger:   logger,
		publish:  publish,
		schedule: schedule,
	}
}

// Start runs the count once immediately, then on the schedule until Stop.
func (j *Janitor) Start() error {
	j.count()

	c := cron.New()
	if _, err := c.AddFunc(j.schedule, j.count); err != nil {
		return err
	}
	c.Start()
	j.cron = c
	return nil
}

// Stop halts the schedule, waiting for a running count to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

func (j *Janitor) count() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := j.store.OnlineCount(ctx)
	if err != nil {
		j.logger.WithError(err).Warn("session janitor: online count failed")
		return
	}
	j.publish(n)
}
