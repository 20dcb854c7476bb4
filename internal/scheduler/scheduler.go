/*

This file contains the cron scheduler driving the optimiser: an observation job polling every
margin engine and a cycle job running the rebalance policy for every strategy instance.

A job still running when its next tick fires is skipped, never queued. A cycle requested
through RunCycleNow shares the guard of the scheduled cycle.

*/

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/voltz-protocol/lp-optimiser/internal/logger"
	"github.com/voltz-protocol/lp-optimiser/internal/types"
)

// Jobs is the work the scheduler triggers.
type Jobs interface {
	Observe(ctx context.Context) error
	RunCycle(ctx context.Context) ([]types.CycleSnapshot, error)
}

// Scheduler manages the cron tasks.
type Scheduler struct {
	cron     *cron.Cron
	cycleJob cron.Job
	jobs     Jobs
	ctx      context.Context
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler whose jobs run with ctx.
func NewScheduler(ctx context.Context, jobs Jobs) *Scheduler {
	l := logger.GetForComponent("scheduler")
	cronLogger := cron.PrintfLogger(&l)
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		jobs:   jobs,
		ctx:    ctx,
		logger: l,
	}
	s.cycleJob = cron.NewChain(cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(s.cycleTask))
	return s
}

// RegisterAll registers the observation and cycle jobs. Both specs take a seconds field.
func (s *Scheduler) RegisterAll(observeCron, cycleCron string) error {
	if _, err := s.cron.AddFunc(observeCron, s.observeTask); err != nil {
		return fmt.Errorf("register observe task: %w", err)
	}
	if _, err := s.cron.AddJob(cycleCron, s.cycleJob); err != nil {
		return fmt.Errorf("register cycle task: %w", err)
	}
	s.logger.Info().Str("observe", observeCron).Str("cycle", cycleCron).Msg("Scheduler tasks registered")
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// Next returns the next activation time of every registered job.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

// RunCycleNow executes the cycle task immediately, e.g. on start. It is skipped while a
// cycle is already running.
func (s *Scheduler) RunCycleNow() {
	s.cycleJob.Run()
}

func (s *Scheduler) observeTask() {
	if err := s.jobs.Observe(s.ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Observation round finished with errors")
		return
	}
	s.logger.Debug().Msg("Observation round complete")
}

func (s *Scheduler) cycleTask() {
	snapshots, err := s.jobs.RunCycle(s.ctx)
	if err != nil {
		s.logger.Warn().Err(err).Int("instances", len(snapshots)).Msg("Cycle finished with errors")
		return
	}
	s.logger.Info().Int("instances", len(snapshots)).Msg("Cycle complete")
}
