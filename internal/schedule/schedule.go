// Package schedule re-syncs watched bookings on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cruisecal/calendar-sync/internal/sync"
)

// Runner performs one reconciliation. *sync.Reconciler implements it.
type Runner interface {
	Run(ctx context.Context, tourCode string, meta sync.Metadata, interactive bool) (sync.Report, error)
}

// Watch is a booking kept in sync.
type Watch struct {
	TourCode string
	Metadata sync.Metadata
}

// Scheduler runs every Watch non-interactively on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	entry   cron.EntryID
	runner  Runner
	watches []Watch
	verbose bool

	ctx context.Context
}

// New creates a Scheduler for a standard five-field cron spec (descriptors
// such as "@hourly" are accepted too).
func New(spec string, loc *time.Location, runner Runner, watches []Watch, verbose bool) (*Scheduler, error) {
	if len(watches) == 0 {
		return nil, fmt.Errorf("no bookings to watch")
	}
	if loc == nil {
		loc = time.Local
	}

	logger := cron.PrintfLogger(log.Default())
	if verbose {
		logger = cron.VerbosePrintfLogger(log.Default())
	}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner:  runner,
		watches: watches,
		verbose: verbose,
		ctx:     context.Background(),
	}

	entry, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule %q: %w", spec, err)
	}
	s.entry = entry
	return s, nil
}

func (s *Scheduler) tick() {
	if err := s.RunOnce(s.ctx); err != nil {
		log.Printf("Warning: scheduled sync finished with errors: %v", err)
	}
	log.Printf("Next sync at %s", s.Next().Format(time.RFC1123))
}

// RunOnce syncs every watched booking in order. Errors are collected, one
// failing booking does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, watch := range s.watches {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := s.runner.Run(ctx, watch.TourCode, watch.Metadata, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("tour %s: %w", watch.TourCode, err))
			continue
		}
		log.Printf("Synced %s: %s (removed %d, %d removals failed)",
			watch.TourCode, sync.Summary(report.State), report.Deleted(), report.DeleteFailed())
	}
	return errors.Join(errs...)
}

// Next returns the time of the next scheduled run, zero before Run.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running sync to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	if s.verbose {
		log.Printf("DEBUG: watching %d bookings, next sync at %s", len(s.watches), s.Next().Format(time.RFC1123))
	}

	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}
