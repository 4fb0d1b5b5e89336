// Package memory is an in-memory Repository implementation: the reference
// store for tests and for running `dagrunctl plan`/`serve` without a
// database configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dagrun/dagrun/internal/job"
	"github.com/dagrun/dagrun/internal/repository"
)

// Store is a mutex-guarded in-memory Repository. Zero value is not usable;
// construct with New.
type Store struct {
	mu sync.RWMutex

	dags       map[string]job.DAG
	executions map[string]job.Execution
	steps      map[string][]job.SubStep // execution id -> steps
	agents     map[string]job.Agent
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		dags:       make(map[string]job.DAG),
		executions: make(map[string]job.Execution),
		steps:      make(map[string][]job.SubStep),
		agents:     make(map[string]job.Agent),
	}
}

func (s *Store) InsertDAG(_ context.Context, dag job.DAG) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dags[dag.ID] = dag
	return nil
}

func (s *Store) GetDAG(_ context.Context, id string) (job.DAG, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dags[id]
	if !ok {
		return job.DAG{}, repository.ErrNotFound
	}
	return d, nil
}

func (s *Store) UpdateDAGSchedule(_ context.Context, id string, cronExpression string, active bool, timezone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dags[id]
	if !ok {
		return repository.ErrNotFound
	}
	d.CronSchedule = cronExpression
	d.ScheduleActive = active
	d.Timezone = timezone
	s.dags[id] = d
	return nil
}

func (s *Store) UpdateDAGLastRun(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dags[id]
	if !ok {
		return repository.ErrNotFound
	}
	t := at.UTC()
	d.LastRunAt = &t
	s.dags[id] = d
	return nil
}

func (s *Store) ListScheduledDAGs(_ context.Context) ([]job.DAG, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []job.DAG
	for _, d := range s.dags {
		if d.ScheduleActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateExecution(_ context.Context, exec job.Execution, steps []job.SubStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]job.SubStep, len(steps))
	copy(cp, steps)
	s.executions[exec.ID] = exec
	s.steps[exec.ID] = cp
	return nil
}

func (s *Store) UpdateExecution(_ context.Context, exec job.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; !ok {
		return repository.ErrNotFound
	}
	s.executions[exec.ID] = exec
	return nil
}

func (s *Store) GetExecution(_ context.Context, id string) (job.Execution, []job.SubStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return job.Execution{}, nil, repository.ErrNotFound
	}
	steps := append([]job.SubStep(nil), s.steps[id]...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].TaskID < steps[j].TaskID })
	return e, steps, nil
}

func (s *Store) UpdateSubStep(_ context.Context, step job.SubStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps, ok := s.steps[step.ExecutionID]
	if !ok {
		return repository.ErrNotFound
	}
	for i := range steps {
		if steps[i].ID == step.ID {
			steps[i] = step
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *Store) GetAgent(_ context.Context, name string) (job.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[name]
	if !ok {
		return job.Agent{}, repository.ErrNotFound
	}
	return a, nil
}

func (s *Store) PutAgent(_ context.Context, agent job.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.Name] = agent
	return nil
}

var _ repository.Repository = (*Store)(nil)
