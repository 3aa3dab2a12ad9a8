package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledger-backend/internal/config"
	"ledger-backend/internal/models"

	"gorm.io/gorm"
)

func TestEnqueueWithoutEngineIsSkipped(t *testing.T) {
	ctx := context.Background()
	d := NewReputationDispatcher(newTestDB(t), nil, config.ReputationConfig{}, newTestLogger())

	job, err := d.Enqueue(ctx, alice, "ticket:x")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stored, err := d.Job(ctx, job.ID)
	if err != nil {
		t.Fatalf("job: %v", err)
	}
	if stored.Status != models.ReputationJobSkipped {
		t.Fatalf("status = %s", stored.Status)
	}
}

func TestProcessJobRecordsResult(t *testing.T) {
	ctx := context.Background()
	engine := &fakeEngine{fail: 1}
	d := NewReputationDispatcher(newTestDB(t), engine, config.ReputationConfig{QueueSize: 4}, newTestLogger())
	d.retryDelay = 0

	job, err := d.Enqueue(ctx, alice, "ticket:x")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.ProcessJob(ctx, job.ID)

	stored, _ := d.Job(ctx, job.ID)
	if stored.Status != models.ReputationJobDone || stored.Attempts != 2 {
		t.Fatalf("job = %+v", stored)
	}
	if stored.Level != "GOLD" || stored.TotalScore != 42 {
		t.Fatalf("result not stored: %+v", stored)
	}

	// finished jobs are not re-run
	d.ProcessJob(ctx, job.ID)
	if engine.Calls() != 2 {
		t.Fatalf("engine calls = %d", engine.Calls())
	}
}

func TestProcessJobFailsAfterRetries(t *testing.T) {
	ctx := context.Background()
	engine := &fakeEngine{fail: 100}
	d := NewReputationDispatcher(newTestDB(t), engine, config.ReputationConfig{}, newTestLogger())
	d.retryDelay = 0

	job, _ := d.Enqueue(ctx, alice, "ticket:x")
	d.ProcessJob(ctx, job.ID)

	stored, _ := d.Job(ctx, job.ID)
	if stored.Status != models.ReputationJobFailed || stored.Attempts != 3 || stored.LastError == "" {
		t.Fatalf("job = %+v", stored)
	}
}

func TestWorkersDrainQueue(t *testing.T) {
	ctx := context.Background()
	engine := &fakeEngine{}
	d := NewReputationDispatcher(newTestDB(t), engine, config.ReputationConfig{Workers: 2, QueueSize: 8}, newTestLogger())
	d.Start()
	defer d.Stop()

	for i := 0; i < 4; i++ {
		if _, err := d.Enqueue(ctx, alice, "ticket:x"); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		counts, err := d.Counts(ctx)
		if err != nil {
			t.Fatalf("counts: %v", err)
		}
		if counts[models.ReputationJobDone] == 4 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("jobs were not completed")
}

func TestSweepRequeuesPendingJobs(t *testing.T) {
	ctx := context.Background()
	engine := &fakeEngine{}
	// queue of one: the second enqueue overflows and stays PENDING
	d := NewReputationDispatcher(newTestDB(t), engine, config.ReputationConfig{QueueSize: 1}, newTestLogger())

	first, _ := d.Enqueue(ctx, alice, "ticket:a")
	second, _ := d.Enqueue(ctx, bob, "ticket:b")

	// drain by hand, as a worker would
	jobID := <-d.queue
	d.ProcessJob(ctx, jobID)
	d.inflight.Delete(jobID)
	if jobID != first.ID {
		t.Fatalf("queued %s, want %s", jobID, first.ID)
	}

	if err := d.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	select {
	case jobID = <-d.queue:
	default:
		t.Fatal("sweep did not re-queue the pending job")
	}
	if jobID != second.ID {
		t.Fatalf("swept %s, want %s", jobID, second.ID)
	}
}

func waitForDone(t *testing.T, d *ReputationDispatcher, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		counts, err := d.Counts(context.Background())
		if err != nil {
			t.Fatalf("counts: %v", err)
		}
		if counts[models.ReputationJobDone] == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("jobs done did not reach %d", want)
}

func TestDispatcherRestarts(t *testing.T) {
	ctx := context.Background()
	d := NewReputationDispatcher(newTestDB(t), &fakeEngine{}, config.ReputationConfig{QueueSize: 4}, newTestLogger())

	d.Start()
	if _, err := d.Enqueue(ctx, alice, "ticket:a"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForDone(t, d, 1)
	d.Stop()
	d.Stop()

	d.Start()
	defer d.Stop()
	if _, err := d.Enqueue(ctx, bob, "ticket:b"); err != nil {
		t.Fatalf("enqueue after restart: %v", err)
	}
	waitForDone(t, d, 2)
}

func TestEnqueueTxFollowsTransaction(t *testing.T) {
	ctx := context.Background()
	gormDB := newTestDB(t)
	d := NewReputationDispatcher(gormDB, nil, config.ReputationConfig{}, newTestLogger())

	errAbort := errors.New("abort")
	err := gormDB.Transaction(func(tx *gorm.DB) error {
		if _, err := d.EnqueueTx(ctx, tx, alice, "ticket:rolled-back"); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("err = %v", err)
	}
	counts, _ := d.Counts(ctx)
	if len(counts) != 0 {
		t.Fatalf("rolled back job persisted: %v", counts)
	}

	var job *models.ReputationJob
	err = gormDB.Transaction(func(tx *gorm.DB) error {
		job, err = d.EnqueueTx(ctx, tx, alice, "ticket:committed")
		return err
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	stored, err := d.Job(ctx, job.ID)
	if err != nil || stored.Status != models.ReputationJobPending {
		t.Fatalf("job = %+v, err = %v", stored, err)
	}

	// the request is gone by the time the job is dispatched
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	d.Dispatch(cancelled, job)
	stored, _ = d.Job(ctx, job.ID)
	if stored.Status != models.ReputationJobSkipped {
		t.Fatalf("status = %s, want SKIPPED", stored.Status)
	}
}
