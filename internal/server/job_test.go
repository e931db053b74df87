package server

import (
	"context"
	"testing"
	"time"

	"github.com/cwbudde/multifit/internal/config"
)

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(FitRequest{ScenePath: "scene.json", Numeric: true}, config.Defaults())

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}
	if job.Request.ScenePath != "scene.json" || !job.Request.Numeric {
		t.Errorf("Request not set correctly: %+v", job.Request)
	}
	if job.Config != config.Defaults() {
		t.Errorf("Config not set correctly: %+v", job.Config)
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(FitRequest{ScenePath: "scene.json"}, config.Defaults())

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}
	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	// Snapshots must not alias the managed job.
	retrieved.Iterations = 99
	again, _ := jm.GetJob(job.ID)
	if again.Iterations != 0 {
		t.Error("GetJob should return a copy")
	}

	_, exists = jm.GetJob("nonexistent")
	if exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(FitRequest{ScenePath: "a.json"}, config.Defaults())
	time.Sleep(2 * time.Millisecond)
	second := jm.CreateJob(FitRequest{ScenePath: "b.json"}, config.Defaults())

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Error("Jobs should be listed oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(FitRequest{ScenePath: "scene.json"}, config.Defaults())

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Iterations = 10
		j.Value = 123.45
	})
	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Error("State should be updated")
	}
	if updated.Iterations != 10 {
		t.Error("Iterations should be updated")
	}
	if updated.Value != 123.45 {
		t.Error("Value should be updated")
	}
	if len(jm.GetRunningJobs()) != 1 {
		t.Error("Running job should be listed")
	}

	err = jm.UpdateJob("nonexistent", func(j *Job) {})
	if err == nil {
		t.Error("Update of nonexistent job should fail")
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(FitRequest{ScenePath: "scene.json"}, config.Defaults())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jm.UpdateJob(job.ID, func(j *Job) { j.cancel = cancel })

	if !jm.CancelJob(job.ID) {
		t.Fatal("CancelJob should find the job")
	}
	if ctx.Err() == nil {
		t.Error("CancelJob should cancel the job's context")
	}
	if jm.CancelJob("nonexistent") {
		t.Error("CancelJob should not find a nonexistent job")
	}
}

func TestJobState_Done(t *testing.T) {
	for state, done := range map[JobState]bool{
		StatePending:   false,
		StateRunning:   false,
		StateCompleted: true,
		StateFailed:    true,
		StateCancelled: true,
	} {
		if state.Done() != done {
			t.Errorf("%s: Done() = %t, want %t", state, state.Done(), done)
		}
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(FitRequest{ScenePath: "scene.json"}, config.Defaults())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(iteration int) {
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Iterations = iteration
				time.Sleep(1 * time.Millisecond)
			})
			jm.GetJob(job.ID)
			jm.ListJobs()
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	_, exists := jm.GetJob(job.ID)
	if !exists {
		t.Error("Job should still exist after concurrent updates")
	}
}
