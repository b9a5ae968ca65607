// Package sched runs the periodic maintenance tasks: heartbeat scan, alert
// drain, resource sampling, budget sweeps and metric snapshots.
package sched

import (
	"sync"
	"time"

	"fincontrol/pkg/exception"

	"github.com/robfig/cron/v3"
	"github.com/yanun0323/logs"
)

// Task is one scheduled unit of work. A returned error is logged and never
// cancels the schedule; a degraded task keeps trying on its next run.
type Task func() error

// Scheduler wraps cron with a per-run error boundary. Tasks run concurrently
// with each other so a slow run never delays a sibling schedule.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	started bool
}

// New builds an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
	}
}

// Every registers a task on a fixed interval.
func (s *Scheduler) Every(interval time.Duration, name string, task Task) error {
	if s == nil {
		return exception.ErrNilInstance
	}
	if interval <= 0 || task == nil {
		return exception.ErrValidation
	}
	spec := "@every " + interval.String()
	_, err := s.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				logs.Errorf("scheduled task %s panicked: %v", name, r)
			}
		}()
		if err := task(); err != nil {
			logs.Errorf("scheduled task %s failed: %v", name, err)
		}
	})
	return err
}

// Start launches the schedule. Safe to call once.
func (s *Scheduler) Start() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts scheduling and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	<-s.cron.Stop().Done()
}
