// Package scheduler runs periodic jobs on one shared gocron scheduler.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Scheduler serializes job registration on a gocron.Scheduler, whose builder
// methods are not safe for concurrent use.
type Scheduler struct {
	mu        sync.Mutex
	scheduler *gocron.Scheduler
}

// New creates a Scheduler in UTC. Jobs added before Start run once it starts.
func New() *Scheduler {
	return &Scheduler{scheduler: gocron.NewScheduler(time.UTC)}
}

// Every schedules fn every interval, first run one interval from now.
func (s *Scheduler) Every(interval time.Duration, fn func()) (*gocron.Job, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.scheduler.Every(interval).WaitForSchedule().Do(fn)
	if err != nil {
		return nil, fmt.Errorf("scheduler: schedule job: %w", err)
	}
	return job, nil
}

// Remove unschedules job. A nil job is ignored.
func (s *Scheduler) Remove(job *gocron.Job) {
	if job == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduler.RemoveByReference(job)
}

// Len reports the number of scheduled jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler.Len()
}

func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
