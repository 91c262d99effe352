package cron

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Outcome counts what one job run changed, keyed by kind ("failed", "transitioned").
type Outcome map[string]int

// Job is a scheduled reconciliation task run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) (Outcome, error)
}

// Registry holds the jobs of one cron worker, in registration order, by unique name.
type Registry struct {
	jobs   []Job
	byName map[string]Job
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Job)}
}

// Register adds job; names must be non-empty and unique.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return fmt.Errorf("job name required")
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	r.byName[name] = job
	r.jobs = append(r.jobs, job)
	return nil
}

// Select returns the named jobs, or every job when names is empty.
func (r *Registry) Select(names ...string) ([]Job, error) {
	if len(names) == 0 {
		out := make([]Job, len(r.jobs))
		copy(out, r.jobs)
		return out, nil
	}
	out := make([]Job, 0, len(names))
	for _, name := range names {
		job, ok := r.byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown job %q (registered: %s)", name, strings.Join(r.Names(), ", "))
		}
		out = append(out, job)
	}
	return out, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
