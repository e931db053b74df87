package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/multifit/internal/opt"
	"github.com/cwbudde/multifit/internal/pipeline"
	"github.com/cwbudde/multifit/internal/store"
)

// progressInterval throttles progress broadcasts.
const progressInterval = 500 * time.Millisecond

// runJob executes a fit job in the background and stores its record in
// fitStore under the job's ID. Cancelling ctx cancels the job.
func runJob(ctx context.Context, jm *JobManager, fitStore *store.FSStore, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	// Jobs cancelled while pending never start.
	if ctx.Err() != nil {
		markJobCancelled(jm, jobID)
		return ctx.Err()
	}
	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "scene", job.Request.ScenePath)

	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, progressDone)

	first := true
	onIteration := func(it opt.Iteration) {
		if math.IsNaN(it.F) || math.IsInf(it.F, 0) {
			return
		}
		jm.UpdateJob(jobID, func(j *Job) {
			if first {
				j.InitialValue = it.F
				first = false
			}
			j.Value = it.F
			j.Iterations = it.Index
			j.FuncEvaluations = it.FuncEvaluations
		})
	}

	out, err := pipeline.Run(ctx, fitStore, pipeline.Request{
		ID:           jobID,
		ScenePath:    job.Request.ScenePath,
		Config:       job.Config,
		Numeric:      job.Request.Numeric,
		From:         job.Request.From,
		Preview:      job.Request.Preview,
		PreviewScale: job.Request.PreviewScale,
		TraceParams:  job.Request.TraceParams,
	}, onIteration)
	close(progressDone)

	switch {
	case errors.Is(err, context.Canceled):
		markJobCancelled(jm, jobID)
		return err
	case err != nil:
		markJobFailed(jm, jobID, err)
		return err
	}

	rec := out.Record
	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Value = rec.Value
		j.Valid = rec.Valid
		j.Iterations = rec.Iterations
		j.FuncEvaluations = rec.FuncEvaluations
		j.EndTime = &endTime
		j.cancel = nil
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", out.Elapsed,
		"value", rec.Value,
		"valid", rec.Valid,
		"iterations", rec.Iterations,
	)
	broadcastState(jm, jobID)
	return nil
}

// monitorProgress periodically broadcasts progress events during the fit.
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, done chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			broadcastState(jm, jobID)
		}
	}
}

func broadcastState(jm *JobManager, jobID string) {
	if job, exists := jm.GetJob(jobID); exists {
		jm.broadcaster.Broadcast(progressOf(job))
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
		j.cancel = nil
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	broadcastState(jm, jobID)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
		j.cancel = nil
	})
	slog.Info("Job cancelled", "job_id", jobID)
	broadcastState(jm, jobID)
}
