package jobs

import (
	"context"
	"errors"
	"time"

	"sif3.org/internal/model"
	"sif3.org/internal/obs"
	"sif3.org/internal/store"
)

// Sweep marks idle jobs TIMEDOUT and returns how many it expired. A job
// whose lock is held is skipped until the next sweep, so an in-flight
// action always completes first.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	candidates, err := m.store.Jobs(ctx).List(ctx, store.JobFilter{})
	if err != nil {
		return 0, err
	}
	now := m.now().UTC()
	expired := 0
	for _, c := range candidates {
		if !c.Expired(now) {
			continue
		}
		if !m.locks.TryLock(c.ID) {
			continue
		}
		ok, err := m.expire(ctx, c.ID, now)
		m.locks.Unlock(c.ID)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (m *Manager) expire(ctx context.Context, id string, now time.Time) (bool, error) {
	job, err := m.store.Jobs(ctx).Retrieve(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !job.Expired(now) {
		return false, nil
	}
	job.State = model.JobTimedOut
	job.StateChanges = append(job.StateChanges, model.StateChange{
		State:       model.JobTimedOut,
		Created:     now,
		Description: "timeout of " + model.FormatDuration(time.Duration(job.Timeout)) + " elapsed",
	})
	job.LastModified = now
	if err := m.store.Jobs(ctx).Update(ctx, job); err != nil {
		return false, err
	}
	obs.JobTimedOut()
	obs.Info(ctx, "job timed out", map[string]any{"job_id": id, "job": job.Name})
	return true, nil
}

// RunSweeper sweeps every frequency until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, frequency time.Duration) error {
	ticker := time.NewTicker(frequency)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				obs.Error(ctx, "job sweep failed", map[string]any{"error": err})
			}
		}
	}
}
