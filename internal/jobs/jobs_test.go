package jobs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkfolio/internal/events"
	"linkfolio/internal/jobs"
	"linkfolio/internal/testsupport"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	panic bool
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("boom")
	}
	return nil
}

func TestScheduler(t *testing.T) {
	logger := testsupport.GetLogger()

	t.Run("runs immediately and on every tick", func(t *testing.T) {
		s := jobs.NewScheduler(logger)
		job := &countingJob{name: "count"}
		s.Add(job, 10*time.Millisecond)

		require.NoError(t, s.Start())
		assert.True(t, s.IsRunning())
		assert.Eventually(t, func() bool { return job.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

		s.Stop()
		assert.False(t, s.IsRunning())
		stopped := job.runs.Load()
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, stopped, job.runs.Load())
	})

	t.Run("recovers panicking jobs", func(t *testing.T) {
		s := jobs.NewScheduler(logger)
		job := &countingJob{name: "panics", panic: true}
		s.Add(job, 10*time.Millisecond)

		require.NoError(t, s.Start())
		assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
		s.Stop()
	})

	t.Run("ignores non-positive intervals", func(t *testing.T) {
		s := jobs.NewScheduler(logger)
		job := &countingJob{name: "never"}
		s.Add(job, 0)

		require.NoError(t, s.Start())
		s.Stop()
		assert.EqualValues(t, 0, job.runs.Load())
	})
}

type fakePruner struct {
	cutoff time.Time
	n      int64
	err    error
}

func (p *fakePruner) PruneRawEvents(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	p.cutoff = cutoff
	return p.n, p.err
}

func TestCleanupJob(t *testing.T) {
	logger := testsupport.GetLogger()

	t.Run("prunes before the retention cutoff", func(t *testing.T) {
		p := &fakePruner{n: 3}
		job := jobs.NewCleanupJob(p, logger, 90)

		require.NoError(t, job.Run(context.Background()))
		assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -90), p.cutoff, time.Minute)
	})

	t.Run("returns prune errors", func(t *testing.T) {
		job := jobs.NewCleanupJob(&fakePruner{err: errors.New("locked")}, logger, 90)
		assert.EqualError(t, job.Run(context.Background()), "locked")
	})

	t.Run("against the event store", func(t *testing.T) {
		dbManager, logger := testsupport.SetupTestDBManager(t)
		db := dbManager.GetConnection()
		testsupport.CleanAllTables(db)
		store := events.NewStore(dbManager, logger)

		require.NoError(t, store.RecordProfileView(context.Background(), events.ProfileViewEvent{
			ProfileUserID: "owner", VisitorID: "v1", Timestamp: time.Now().AddDate(0, 0, -10),
		}))
		require.NoError(t, store.RecordProfileView(context.Background(), events.ProfileViewEvent{
			ProfileUserID: "owner", VisitorID: "v1", Timestamp: time.Now(),
		}))

		require.NoError(t, jobs.NewCleanupJob(store, logger, 7).Run(context.Background()))

		var remaining int64
		db.Model(&events.ProfileView{}).Count(&remaining)
		assert.EqualValues(t, 1, remaining)
	})
}

type fakeReloader struct {
	calls atomic.Int32
	err   error
}

func (r *fakeReloader) Reload() error {
	r.calls.Add(1)
	return r.err
}

func TestGeoDBReloadJob(t *testing.T) {
	logger := testsupport.GetLogger()
	path := filepath.Join(t.TempDir(), "GeoLite2-City.mmdb")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	r := &fakeReloader{}
	job := jobs.NewGeoDBReloadJob(path, r, logger)

	require.NoError(t, job.Run(context.Background()))
	assert.EqualValues(t, 0, r.calls.Load(), "unchanged file is not reloaded")

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	require.NoError(t, job.Run(context.Background()))
	assert.EqualValues(t, 1, r.calls.Load())

	require.NoError(t, job.Run(context.Background()))
	assert.EqualValues(t, 1, r.calls.Load())

	t.Run("missing file is not an error", func(t *testing.T) {
		missing := jobs.NewGeoDBReloadJob(filepath.Join(t.TempDir(), "none.mmdb"), r, logger)
		assert.NoError(t, missing.Run(context.Background()))
	})
}
