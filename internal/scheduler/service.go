// Package scheduler provides the optional internal trigger for hosts
// without external cron: a cron expression fires the same one-shot dispatch
// the CLI performs.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

type Trigger struct {
	c    *cron.Cron
	expr string
}

// NewTrigger schedules job on expr in the given location. A tick that
// arrives while the previous job still runs is skipped; a delivery under
// backoff must not overlap the next one.
func NewTrigger(loc *time.Location, expr string, job func()) (*Trigger, error) {
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := c.AddFunc(expr, job); err != nil {
		return nil, fmt.Errorf("cron %q: %w", expr, err)
	}
	return &Trigger{c: c, expr: expr}, nil
}

func (t *Trigger) Start() {
	t.c.Start()
	log.Info().Str("cron", t.expr).Msg("loop trigger started")
}

// Stop ends scheduling and waits for a running job to finish.
func (t *Trigger) Stop() {
	<-t.c.Stop().Done()
	log.Info().Msg("loop trigger stopped")
}

// ValidateCron checks a cron expression.
func ValidateCron(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

// NextRun reports when expr would next fire after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}
