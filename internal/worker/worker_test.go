package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/domain"
	"github.com/ayo6706/p2p-settlement/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDeliverer struct {
	mu     sync.Mutex
	events []service.Event
	fail   bool
}

func (d *recordingDeliverer) Deliver(_ context.Context, ev service.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	if d.fail {
		return domain.ErrCallbackFailed
	}
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func TestCallbackPoolDelivers(t *testing.T) {
	d := &recordingDeliverer{fail: true}
	pool := NewCallbackPool(d, 3, 16)
	stop := pool.Run(context.Background())
	defer stop()

	for i := 0; i < 5; i++ {
		require.True(t, pool.Enqueue(service.Event{TransactionID: uuid.New(), Status: domain.StatusReady}))
	}
	require.Eventually(t, func() bool { return d.count() == 5 }, 2*time.Second, 5*time.Millisecond)

	stop()
	stop()
}

func TestCallbackPoolDropsWhenFull(t *testing.T) {
	pool := NewCallbackPool(&recordingDeliverer{}, 1, 1)

	assert.True(t, pool.Enqueue(service.Event{TransactionID: uuid.New()}))
	assert.False(t, pool.Enqueue(service.Event{TransactionID: uuid.New()}))
	pool.Stop()
}

func TestSchedulerRunNow(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	var runs atomic.Int32
	job := Job{Name: "count", Every: time.Hour, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}
	require.NoError(t, s.Add(job))
	assert.Error(t, s.Add(job))

	require.NoError(t, s.RunNow("count"))
	require.NoError(t, s.RunNow("count"))
	assert.Equal(t, int32(2), runs.Load())

	assert.Error(t, s.RunNow("missing"))

	require.NoError(t, s.Add(Job{Name: "off", Every: 0, Run: job.Run}))
	assert.Error(t, s.RunNow("off"))
}

func TestSchedulerSkipsOverlappingRun(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "slow", Every: time.Hour, Run: func(context.Context) error {
		if runs.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	}}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.RunNow("slow")
	}()
	<-started

	require.NoError(t, s.RunNow("slow"))
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	<-done
}

func TestSchedulerSurvivesFailingJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop(context.Background())

	require.NoError(t, s.Add(Job{Name: "broken", Every: time.Hour, Run: func(context.Context) error {
		return errors.New("boom")
	}}))
	require.NoError(t, s.Add(Job{Name: "panics", Every: time.Hour, Run: func(context.Context) error {
		panic("job panic")
	}}))

	assert.NotPanics(t, func() {
		_ = s.RunNow("broken")
		_ = s.RunNow("panics")
	})
}
