package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"drawbot/internal/task/engine"
	logx "drawbot/pkg/logx"
)

// Schedule arms a one-shot job. A fireAt in the past dispatches at once.
// Re-scheduling a pending id replaces it.
func (s *Service) Schedule(id string, fireAt time.Time, run Handler) error {
	return s.ScheduleJob(Job{ID: id, FireAt: fireAt, Run: run})
}

func (s *Service) ScheduleJob(j Job) error {
	j.ID = strings.TrimSpace(j.ID)
	if j.ID == "" {
		return errors.New("scheduler: job id required")
	}
	if j.Run == nil {
		return errors.New("scheduler: job handler required")
	}
	if j.FireAt.IsZero() {
		return errors.New("scheduler: fire time required")
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if !s.running {
		return ErrStopped
	}
	if cur, ok := s.jobs[j.ID]; ok {
		if cur.state == StateDue {
			return ErrJobRunning
		}
		cur.timer.Stop()
	}

	s.ver++
	ver := s.ver
	delay := max(time.Until(j.FireAt), 0)
	js := &oneShot{job: j, state: StatePending, ver: ver}
	js.timer = time.AfterFunc(delay, func() { s.fire(j.ID, ver) })
	s.jobs[j.ID] = js

	s.log.Debug("job armed", logx.String("job", j.ID), logx.Time("fire_at", j.FireAt), logx.Duration("in", delay))
	return nil
}

// Cancel removes a pending job and reports whether one was removed. Once a
// job's handler has started, Cancel leaves it alone and returns false.
func (s *Service) Cancel(id string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.state != StatePending {
		return false
	}
	j.timer.Stop()
	delete(s.jobs, id)
	s.cancelled.Add(1)
	s.log.Debug("job cancelled", logx.String("job", id))
	return true
}

// Pending reports whether id is armed and has not fired yet.
func (s *Service) Pending(id string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	j, ok := s.jobs[id]
	return ok && j.state == StatePending
}

// ReconcileOnStartup arms every job src reports. Overdue jobs fire right
// away. It returns how many jobs were armed.
func (s *Service) ReconcileOnStartup(ctx context.Context, src Source) (int, error) {
	jobs, err := src.PendingJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler: list pending jobs: %w", err)
	}
	now := time.Now()
	var (
		armed, overdue int
		errs           []error
	)
	for _, j := range jobs {
		switch err := s.ScheduleJob(j); {
		case err == nil:
			armed++
			if !j.FireAt.After(now) {
				overdue++
			}
		case errors.Is(err, ErrJobRunning):
		default:
			errs = append(errs, fmt.Errorf("job %s: %w", j.ID, err))
		}
	}
	s.log.Info("jobs reconciled", logx.Int("armed", armed), logx.Int("overdue", overdue), logx.Int("failed", len(errs)))
	return armed, errors.Join(errs...)
}

func (s *Service) fire(id string, ver uint64) {
	s.tmu.Lock()
	j, ok := s.jobs[id]
	if !ok || j.ver != ver || j.state != StatePending || !s.running {
		s.tmu.Unlock()
		return
	}
	j.state = StateDue
	s.due.Add(1)
	ctx := s.ctx
	s.tmu.Unlock()

	s.fired.Add(1)
	s.log.Debug("job due", logx.String("job", id))

	finish := func(err error) {
		s.tmu.Lock()
		if cur, ok := s.jobs[id]; ok && cur == j {
			delete(s.jobs, id)
		}
		s.tmu.Unlock()
		if err != nil {
			s.log.Warn("job failed", logx.String("job", id), logx.Err(err))
		}
		s.due.Done()
	}

	err := s.engine.Submit(ctx, engine.Task{
		Name:    "job:" + id,
		Timeout: j.job.Timeout,
		Run:     j.job.Run,
		Done:    finish,
	})
	if err != nil {
		s.reportEnqueueError("job:"+id, err)
		finish(nil)
	}
}

func (s *Service) jobInfos() []JobInfo {
	s.tmu.Lock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobInfo{ID: j.job.ID, FireAt: j.job.FireAt, State: j.state})
	}
	s.tmu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].FireAt.Before(out[b].FireAt) })
	return out
}
