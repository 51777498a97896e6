package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/sghousing/resale-tracker/internal/jobs"
)

func waitForStatus(t *testing.T, store *Store, id string, status jobs.JobStatus) *jobs.RefreshJob {
	t.Helper()
	var job *jobs.RefreshJob
	require.Eventually(t, func() bool {
		got, err := store.GetJob(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return got.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestQueue_RunsJobToCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	q := NewQueue(4, store, clock)
	defer q.Close()

	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.RefreshJob) error {
		job.RunID = "run-1"
		job.DatasetRows = 42
		return nil
	}))

	job := &jobs.RefreshJob{Trigger: "api"}
	require.NoError(t, q.PublishRefresh(ctx, job))
	require.NotEmpty(t, job.JobID)
	require.Equal(t, jobs.JobStatusPending, job.Status)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	require.Equal(t, "run-1", done.RunID)
	require.Equal(t, 42, done.DatasetRows)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	require.Equal(t, clock.Now(), done.CreatedAt)
}

func TestQueue_FailedJobIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(4, store, nil)
	defer q.Close()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.RefreshJob) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("boom")
	}))

	job := &jobs.RefreshJob{}
	require.NoError(t, q.PublishRefresh(ctx, job))
	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	require.Equal(t, "boom", failed.Error)

	require.NoError(t, q.Stop(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestQueue_RunsOneJobAtATime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewStore()
	q := NewQueue(8, store, nil)
	defer q.Close()

	var mu sync.Mutex
	running, maxRunning := 0, 0
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.RefreshJob) error {
		mu.Lock()
		running++
		maxRunning = max(maxRunning, running)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	}))

	ids := []string{}
	for i := 0; i < 4; i++ {
		job := &jobs.RefreshJob{}
		require.NoError(t, q.PublishRefresh(ctx, job))
		ids = append(ids, job.JobID)
	}
	for _, id := range ids {
		waitForStatus(t, store, id, jobs.JobStatusCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, maxRunning)
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(1, nil, nil)
	require.NoError(t, q.Close())
	require.Error(t, q.PublishRefresh(context.Background(), &jobs.RefreshJob{}))
	require.Error(t, q.Start(context.Background(), func(context.Context, *jobs.RefreshJob) error { return nil }))
	require.NoError(t, q.Stop(context.Background()))
}

func TestStore_GetAndList(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	require.Error(t, store.SaveJob(ctx, &jobs.RefreshJob{}))
	for i, status := range []jobs.JobStatus{jobs.JobStatusCompleted, jobs.JobStatusFailed, jobs.JobStatusCompleted} {
		require.NoError(t, store.SaveJob(ctx, &jobs.RefreshJob{
			JobID:     string(rune('a' + i)),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	_, err := store.GetJob(ctx, "missing")
	require.True(t, errors.Is(err, jobs.ErrJobNotFound))

	all, err := store.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].JobID)

	completed, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusCompleted, Limit: 1})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Equal(t, "c", completed[0].JobID)

	paged, err := store.ListJobs(ctx, jobs.JobFilter{Offset: 5})
	require.NoError(t, err)
	require.Empty(t, paged)
}

func TestQueue_CancelledPublishMarksJobFailed(t *testing.T) {
	store := NewStore()
	q := NewQueue(0, store, nil)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := &jobs.RefreshJob{Trigger: "api"}
	err := q.PublishRefresh(ctx, job)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := store.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	require.Equal(t, jobs.JobStatusFailed, stored.Status)
	require.Contains(t, stored.Error, "not enqueued")
	require.NotNil(t, stored.CompletedAt)
}

func TestQueue_StopReleasesBlockedPublisher(t *testing.T) {
	store := NewStore()
	q := NewQueue(0, store, nil)

	job := &jobs.RefreshJob{JobID: "blocked"}
	published := make(chan error, 1)
	go func() {
		published <- q.PublishRefresh(context.Background(), job)
	}()

	waitForStatus(t, store, "blocked", jobs.JobStatusPending)

	stopped := make(chan error, 1)
	go func() {
		stopped <- q.Stop(context.Background())
	}()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked behind a pending publish")
	}
	select {
	case err := <-published:
		require.ErrorIs(t, err, errQueueClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher was not released")
	}

	waitForStatus(t, store, "blocked", jobs.JobStatusFailed)
}

type flakyStore struct {
	*Store
	mu    sync.Mutex
	saves int
	failN int
}

func (s *flakyStore) SaveJob(ctx context.Context, job *jobs.RefreshJob) error {
	s.mu.Lock()
	s.saves++
	n := s.saves
	s.mu.Unlock()
	if n == s.failN {
		return errors.New("store unavailable")
	}
	return s.Store.SaveJob(ctx, job)
}

func TestQueue_StateSaveFailureDoesNotStopWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Save 1 is the pending record, save 2 the running transition.
	store := &flakyStore{Store: NewStore(), failN: 2}
	q := NewQueue(1, store, nil)
	defer q.Close()

	require.NoError(t, q.Start(ctx, func(context.Context, *jobs.RefreshJob) error { return nil }))

	job := &jobs.RefreshJob{}
	require.NoError(t, q.PublishRefresh(ctx, job))
	waitForStatus(t, store.Store, job.JobID, jobs.JobStatusCompleted)
}
