// Package scheduler triggers agent chain runs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loopagent/loopagent/internal/chain"
)

// ChainRunner executes one agent chain run.
type ChainRunner interface {
	Run(ctx context.Context, initialContext string) *chain.Outcome
}

// Job describes a scheduled chain run.
type Job struct {
	Name     string `yaml:"name" json:"name"`
	Schedule string `yaml:"schedule" json:"schedule"`
	Context  string `yaml:"context,omitempty" json:"context,omitempty"`
	Timeout  string `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Paused   bool   `yaml:"paused,omitempty" json:"paused,omitempty"`
}

const defaultJobTimeout = 2 * time.Minute

func (j *Job) parseTimeout() (time.Duration, error) {
	if j.Timeout == "" {
		return defaultJobTimeout, nil
	}
	return time.ParseDuration(j.Timeout)
}

// Scheduler manages cron-driven chain runs.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	runner  ChainRunner
	entries map[string]cron.EntryID
}

func New(runner ChainRunner) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		entries: make(map[string]cron.EntryID),
	}
}

// Start registers the jobs and launches the cron loop. Jobs with invalid
// schedules are skipped with a log line instead of failing startup.
func (s *Scheduler) Start(jobs []Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range jobs {
		if job.Paused {
			log.Printf("scheduler: job %q is paused, skipping", job.Name)
			continue
		}
		if job.Name == "" {
			return fmt.Errorf("scheduled job requires a name")
		}
		if _, ok := s.entries[job.Name]; ok {
			return fmt.Errorf("duplicate job name %q", job.Name)
		}
		timeout, err := job.parseTimeout()
		if err != nil {
			log.Printf("scheduler: skipping job %q: bad timeout: %v", job.Name, err)
			continue
		}
		j := job
		id, err := s.cron.AddFunc(job.Schedule, func() {
			s.runJob(j, timeout)
		})
		if err != nil {
			log.Printf("scheduler: skipping job %q: bad schedule %q: %v", job.Name, job.Schedule, err)
			continue
		}
		s.entries[job.Name] = id
		log.Printf("scheduler: registered job %q (%s)", job.Name, job.Schedule)
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Jobs returns the names of registered jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) runJob(job Job, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Printf("scheduler: job %q starting", job.Name)
	outcome := s.runner.Run(ctx, job.Context)
	log.Printf("scheduler: job %q finished run %s (action_taken=%v iterations=%d)",
		job.Name, outcome.RunID, outcome.ActionTaken, outcome.Iterations)
}
