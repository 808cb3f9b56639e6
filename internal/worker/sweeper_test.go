package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formatninja/transformd/internal/config"
	"github.com/formatninja/transformd/internal/interfaces"
	"github.com/formatninja/transformd/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init("worker-test")
	os.Exit(m.Run())
}

type stubStore struct {
	interfaces.JobStore
	stale []*interfaces.Job
	err   error
}

func (s *stubStore) ListStalePending(_ context.Context, _ time.Duration, _ int) ([]*interfaces.Job, error) {
	return s.stale, s.err
}

type stubRequeuer struct {
	mu       sync.Mutex
	requeued []string
	fail     map[string]error
}

func (r *stubRequeuer) Requeue(_ context.Context, job *interfaces.Job) error {
	if err := r.fail[job.ID]; err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requeued = append(r.requeued, job.ID)
	return nil
}

func (r *stubRequeuer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requeued)
}

func testConfig() config.SweeperConfig {
	return config.SweeperConfig{
		Interval:   10 * time.Millisecond,
		StaleAfter: 5 * time.Minute,
		BatchSize:  50,
	}
}

func TestSweep_RequeuesStaleJobs(t *testing.T) {
	store := &stubStore{stale: []*interfaces.Job{
		{ID: "job-1", Status: interfaces.StatusPending},
		{ID: "job-2", Status: interfaces.StatusPending},
	}}
	requeuer := &stubRequeuer{}

	s := NewSweeper(store, requeuer, testConfig())
	s.sweep()

	assert.Equal(t, []string{"job-1", "job-2"}, requeuer.requeued)
}

func TestSweep_ContinuesPastRequeueFailures(t *testing.T) {
	store := &stubStore{stale: []*interfaces.Job{
		{ID: "job-1", Status: interfaces.StatusPending},
		{ID: "job-2", Status: interfaces.StatusPending},
	}}
	requeuer := &stubRequeuer{fail: map[string]error{"job-1": errors.New("queue down")}}

	s := NewSweeper(store, requeuer, testConfig())
	s.sweep()

	assert.Equal(t, []string{"job-2"}, requeuer.requeued)
}

func TestSweep_NothingStale(t *testing.T) {
	requeuer := &stubRequeuer{}
	s := NewSweeper(&stubStore{}, requeuer, testConfig())
	s.sweep()
	assert.Empty(t, requeuer.requeued)
}

func TestSweeper_StartStop(t *testing.T) {
	store := &stubStore{stale: []*interfaces.Job{{ID: "job-1", Status: interfaces.StatusPending}}}
	requeuer := &stubRequeuer{}

	s := NewSweeper(store, requeuer, testConfig())
	s.Start()
	require.Eventually(t, func() bool {
		return requeuer.count() > 0
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}
