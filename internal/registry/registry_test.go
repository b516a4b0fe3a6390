package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/flexo-cache/flexo/internal/cacheobj"
	"github.com/flexo-cache/flexo/internal/domain"
	"github.com/flexo-cache/flexo/internal/infra/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(filepath.Join(t.TempDir(), "test.log"), logger.LevelError, false)
	require.NoError(t, err)
	return log
}

// blockingWorker returns a Worker that waits on release before publishing
// JobSize then Completed, and a release func the test controls.
func blockingWorker() (Worker, func()) {
	release := make(chan struct{})
	var once sync.Once
	w := func(ctx context.Context, order domain.Order, job *Job) {
		<-release
		job.PublishSize(1024)
		job.PublishTerminal(domain.ProgressCompleted)
	}
	return w, func() {
		once.Do(func() { close(release) })
	}
}

func TestTryScheduleCoalescesConcurrentRequests(t *testing.T) {
	dir := t.TempDir()
	worker, release := blockingWorker()
	reg := New(dir, worker, testLogger(t))

	order, err := domain.NewOrder("/core/os/x86_64/core.db.tar.zst", 0)
	require.NoError(t, err)

	outcome1, err := reg.TrySchedule(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, domain.Scheduled, outcome1.Kind)

	outcome2, err := reg.TrySchedule(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, domain.AlreadyInProgress, outcome2.Kind)

	release()

	msg1 := <-outcome1.Subscriber
	msg2 := <-outcome2.Subscriber
	assert.Equal(t, domain.ProgressJobSize, msg1.Kind)
	assert.Equal(t, domain.ProgressJobSize, msg2.Kind)
	assert.Equal(t, uint64(1024), msg1.Size)
	assert.Equal(t, uint64(1024), msg2.Size)

	term1 := <-outcome1.Subscriber
	term2 := <-outcome2.Subscriber
	assert.Equal(t, domain.ProgressCompleted, term1.Kind)
	assert.Equal(t, domain.ProgressCompleted, term2.Kind)

	assert.Eventually(t, func() bool {
		_, ok := reg.Subscribe(order.Path)
		return !ok
	}, time.Second, time.Millisecond, "job should be retired after going terminal")
}

func TestTryScheduleReturnsCachedForCompleteObject(t *testing.T) {
	dir := t.TempDir()
	worker, release := blockingWorker()
	defer release()
	reg := New(dir, worker, testLogger(t))

	order, err := domain.NewOrder("/zero", 0)
	require.NoError(t, err)

	abs := filepath.Join(dir, "zero")
	require.NoError(t, writeCompleteFile(abs, []byte("abcdef")))

	outcome, err := reg.TrySchedule(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, domain.Cached, outcome.Kind)
	assert.Equal(t, uint64(6), outcome.CachedSize)
}

func TestSubscribeAfterJobTerminatedReportsNoJob(t *testing.T) {
	dir := t.TempDir()
	worker, release := blockingWorker()
	reg := New(dir, worker, testLogger(t))

	order, err := domain.NewOrder("/core/os/x86_64/pkg.tar.zst", 0)
	require.NoError(t, err)

	outcome, err := reg.TrySchedule(context.Background(), order)
	require.NoError(t, err)
	require.Equal(t, domain.Scheduled, outcome.Kind)

	release()
	require.Equal(t, domain.ProgressJobSize, (<-outcome.Subscriber).Kind)
	require.Equal(t, domain.ProgressCompleted, (<-outcome.Subscriber).Kind)

	// Subscribing after the job already terminated reports that no job
	// is in flight (nil channel, false) rather than blocking forever.
	late, ok := reg.Subscribe(order.Path)
	assert.False(t, ok)
	assert.Nil(t, late)
}

func writeCompleteFile(path string, contents []byte) error {
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return err
	}
	return cacheobj.SetContentLength(path, uint64(len(contents)))
}
