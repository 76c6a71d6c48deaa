package ping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourusername/job-tracker/internal/jobs"
	"github.com/yourusername/job-tracker/internal/taskqueue"
)

func setup(t *testing.T) (*jobs.Controller, *jobs.GormStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := jobs.NewGormStore(db)
	require.NoError(t, store.Migrate(Models()...))
	controller, err := jobs.NewController(store, taskqueue.NewInline(true))
	require.NoError(t, err)
	bound, err := Register(controller, store)
	require.NoError(t, err)
	assert.Equal(t, TypeName, bound.TypeName)
	return controller, store
}

func TestPingJobWritesReply(t *testing.T) {
	controller, _ := setup(t)
	ctx := context.Background()

	job := &PingJob{Note: "hello"}
	require.NoError(t, controller.Create(ctx, job))
	require.NoError(t, controller.Enqueue(ctx, job, jobs.WithKwargs(map[string]any{"uppercase": true})))

	loaded, err := controller.Load(ctx, TypeName, job.ID)
	require.NoError(t, err)
	got := loaded.(*PingJob)
	assert.Equal(t, jobs.StatusSuccess, got.Status)
	require.NotNil(t, got.Reply)
	assert.Equal(t, "PONG: HELLO", *got.Reply)
}

func TestPingJobEmptyNoteFails(t *testing.T) {
	controller, _ := setup(t)
	ctx := context.Background()

	job := &PingJob{Note: "   "}
	require.NoError(t, controller.Create(ctx, job))
	require.NoError(t, controller.Enqueue(ctx, job))

	require.NoError(t, controller.Refresh(ctx, job))
	assert.Equal(t, jobs.StatusFailure, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "errors.errorString: ping: note is empty\n", *job.ErrorMessage)
	assert.Nil(t, job.Reply)
}

func TestPingJobRequestedFailure(t *testing.T) {
	controller, _ := setup(t)
	ctx := context.Background()

	job := &PingJob{Note: "hello"}
	require.NoError(t, controller.Create(ctx, job))
	require.NoError(t, controller.Enqueue(ctx, job, jobs.WithKwargs(map[string]any{"fail": "Number of the beast!"})))

	require.NoError(t, controller.Refresh(ctx, job))
	assert.Equal(t, jobs.StatusFailure, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "errors.errorString: Number of the beast!\n", *job.ErrorMessage)
}
