package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formatninja/transformd/internal/convert"
	"github.com/formatninja/transformd/internal/interfaces"
	"github.com/formatninja/transformd/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Init("jobs-test")
	os.Exit(m.Run())
}

// memStore is an in-memory JobStore with the same atomicity guarantees
// as the Postgres implementation.
type memStore struct {
	mu             sync.Mutex
	jobs           map[string]*interfaces.Job
	terminalWrites int
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*interfaces.Job)}
}

func (s *memStore) CreateJob(_ context.Context, job *interfaces.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*interfaces.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *memStore) ClaimJob(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != interfaces.StatusPending {
		return false, nil
	}
	job.Status = interfaces.StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *memStore) MarkCompleted(_ context.Context, id, resultPath string) error {
	return s.terminal(id, interfaces.StatusCompleted, resultPath, "")
}

func (s *memStore) MarkFailed(_ context.Context, id, errorMessage string) error {
	return s.terminal(id, interfaces.StatusFailed, "", errorMessage)
}

func (s *memStore) terminal(id string, to interfaces.JobStatus, resultPath, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return interfaces.ErrJobNotFound
	}
	if job.Status != interfaces.StatusProcessing {
		return fmt.Errorf("job %s is %s, not processing", id, job.Status)
	}
	now := time.Now().UTC()
	job.Status = to
	job.ResultPath = resultPath
	job.ErrorMessage = errMsg
	job.UpdatedAt = now
	job.CompletedAt = &now
	s.terminalWrites++
	return nil
}

func (s *memStore) ListJobs(_ context.Context, limit int) ([]*interfaces.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*interfaces.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) ListStalePending(_ context.Context, olderThan time.Duration, limit int) ([]*interfaces.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []*interfaces.Job
	for _, job := range s.jobs {
		if job.Status == interfaces.StatusPending && job.UpdatedAt.Before(cutoff) {
			copied := *job
			out = append(out, &copied)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type memBlob struct {
	mu           sync.Mutex
	objects      map[string][]byte
	failUpload   map[string]error // keyed by prefix
	failDownload error
	nextID       int
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte), failUpload: make(map[string]error)}
}

func (b *memBlob) Upload(_ context.Context, data []byte, format interfaces.FileFormat, prefix string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failUpload[prefix]; err != nil {
		return "", err
	}
	b.nextID++
	path := fmt.Sprintf("%s/%d.%s", prefix, b.nextID, format.Extension())
	b.objects[path] = append([]byte(nil), data...)
	return path, nil
}

func (b *memBlob) Download(_ context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failDownload != nil {
		return nil, b.failDownload
	}
	data, ok := b.objects[path]
	if !ok {
		return nil, interfaces.ErrBlobNotFound
	}
	return data, nil
}

func (b *memBlob) SignedURL(path string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://blobs.test/%s?ttl=%d", path, int(expiry.Seconds())), nil
}

func (b *memBlob) Delete(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, path)
	return nil
}

type memQueue struct {
	mu       sync.Mutex
	enqueued []string
	fail     error
}

func (q *memQueue) Enqueue(_ context.Context, name string, _ interfaces.TaskPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return q.fail
	}
	q.enqueued = append(q.enqueued, name)
	return nil
}

func newOrchestrator(t *testing.T) (*Orchestrator, *memStore, *memBlob, *memQueue) {
	t.Helper()
	store := newMemStore()
	blobs := newMemBlob()
	queue := &memQueue{}
	engine := convert.NewEngine()
	require.NoError(t, engine.Validate())
	return NewOrchestrator(store, blobs, queue, engine, time.Hour, nil), store, blobs, queue
}

func TestSubmit_CreatesPendingJobAndEnqueues(t *testing.T) {
	o, store, blobs, queue := newOrchestrator(t)

	job, err := o.Submit(context.Background(), interfaces.FormatCSV, interfaces.FormatJSON,
		[]byte("a,b\n1,2\n"), map[string]any{"delimiter": ","})
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, interfaces.StatusPending, job.Status)
	assert.NotEmpty(t, job.SourcePath)
	assert.Empty(t, job.ResultPath)

	stored, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusPending, stored.Status)

	_, err = blobs.Download(context.Background(), job.SourcePath)
	require.NoError(t, err)

	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, job.ID, queue.enqueued[0], "task name must be the job id for dedup")
}

func TestSubmit_RejectsExcelPairsDespiteRegistry(t *testing.T) {
	o, store, blobs, _ := newOrchestrator(t)

	// The engine declares excel pairs, but the submission allow-list is
	// stricter and wins at the boundary.
	for _, pair := range [][2]interfaces.FileFormat{
		{interfaces.FormatExcel, interfaces.FormatCSV},
		{interfaces.FormatExcel, interfaces.FormatJSON},
		{interfaces.FormatJSON, interfaces.FormatExcel},
		{interfaces.FormatCSV, interfaces.FormatExcel},
	} {
		_, err := o.Submit(context.Background(), pair[0], pair[1], []byte("x"), nil)
		assert.ErrorIs(t, err, ErrConversionNotAllowed, "%s->%s", pair[0], pair[1])
	}

	assert.Empty(t, store.jobs, "no job record for allow-list rejections")
	assert.Empty(t, blobs.objects, "rejection happens before any I/O")
}

func TestSubmit_UploadFailureLeavesNoPartialState(t *testing.T) {
	o, store, blobs, queue := newOrchestrator(t)
	blobs.failUpload["uploads"] = errors.New("bucket unavailable")

	_, err := o.Submit(context.Background(), interfaces.FormatCSV, interfaces.FormatJSON, []byte("a\n1\n"), nil)
	require.Error(t, err)
	assert.Empty(t, store.jobs)
	assert.Empty(t, queue.enqueued)
}

func TestSubmit_EnqueueFailureLeavesOrphanedPendingJob(t *testing.T) {
	o, store, _, queue := newOrchestrator(t)
	queue.fail = errors.New("queue unavailable")

	_, err := o.Submit(context.Background(), interfaces.FormatCSV, interfaces.FormatJSON, []byte("a\n1\n"), nil)
	require.Error(t, err)

	// The pending record survives; the sweeper is responsible for it.
	require.Len(t, store.jobs, 1)
	for _, job := range store.jobs {
		assert.Equal(t, interfaces.StatusPending, job.Status)
	}
}

func submitAndProcess(t *testing.T, o *Orchestrator, src, dst interfaces.FileFormat, data []byte) *interfaces.Job {
	t.Helper()
	job, err := o.Submit(context.Background(), src, dst, data, nil)
	require.NoError(t, err)
	require.NoError(t, o.Process(context.Background(), job.ID))
	return job
}

func TestProcess_CompletesJob(t *testing.T) {
	o, store, blobs, _ := newOrchestrator(t)
	job := submitAndProcess(t, o, interfaces.FormatCSV, interfaces.FormatJSON, []byte("a,b\n1,2\n"))

	done, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusCompleted, done.Status)
	assert.NotEmpty(t, done.ResultPath)
	assert.Empty(t, done.ErrorMessage)
	require.NotNil(t, done.CompletedAt)

	result, err := blobs.Download(context.Background(), done.ResultPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"1","b":"2"}`, string(result))
}

func TestProcess_ParseFailureMarksFailed(t *testing.T) {
	o, store, _, _ := newOrchestrator(t)
	job := submitAndProcess(t, o, interfaces.FormatJSON, interfaces.FormatCSV, []byte("{broken"))

	done, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, "malformed input data")
	assert.Empty(t, done.ResultPath)
	require.NotNil(t, done.CompletedAt)
}

func TestProcess_DownloadFailureMarksFailed(t *testing.T) {
	o, store, blobs, _ := newOrchestrator(t)
	job, err := o.Submit(context.Background(), interfaces.FormatCSV, interfaces.FormatJSON, []byte("a\n1\n"), nil)
	require.NoError(t, err)

	blobs.failDownload = errors.New("object storage timeout")
	require.NoError(t, o.Process(context.Background(), job.ID))

	done, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, "download source file")
}

func TestProcess_ResultUploadFailureMarksFailed(t *testing.T) {
	o, store, blobs, _ := newOrchestrator(t)
	job, err := o.Submit(context.Background(), interfaces.FormatCSV, interfaces.FormatJSON, []byte("a\n1\n"), nil)
	require.NoError(t, err)

	blobs.failUpload["results"] = errors.New("bucket unavailable")
	require.NoError(t, o.Process(context.Background(), job.ID))

	done, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusFailed, done.Status)
	assert.Contains(t, done.ErrorMessage, "upload result file")
}

func TestProcess_DuplicateDeliveryIsNoOp(t *testing.T) {
	o, store, _, _ := newOrchestrator(t)
	job := submitAndProcess(t, o, interfaces.FormatCSV, interfaces.FormatJSON, []byte("a,b\n1,2\n"))

	first, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	// Redelivery of a finished job succeeds without touching it.
	require.NoError(t, o.Process(context.Background(), job.ID))

	second, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.ResultPath, second.ResultPath)
	assert.Equal(t, 1, store.terminalWrites)
}

func TestProcess_ConcurrentDeliveriesClaimOnce(t *testing.T) {
	o, store, _, _ := newOrchestrator(t)
	job, err := o.Submit(context.Background(), interfaces.FormatCSV, interfaces.FormatJSON, []byte("a,b\n1,2\n"), nil)
	require.NoError(t, err)

	const deliveries = 16
	var wg sync.WaitGroup
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = o.Process(context.Background(), job.ID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "delivery %d", i)
	}
	assert.Equal(t, 1, store.terminalWrites, "exactly one terminal transition")

	done, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusCompleted, done.Status)
}

func TestProcess_UnknownJobIsNoOp(t *testing.T) {
	o, _, _, _ := newOrchestrator(t)
	assert.NoError(t, o.Process(context.Background(), "no-such-job"))
}

func TestGetStatus(t *testing.T) {
	o, _, _, _ := newOrchestrator(t)

	t.Run("pending has neither url nor error", func(t *testing.T) {
		job, err := o.Submit(context.Background(), interfaces.FormatCSV, interfaces.FormatJSON, []byte("a\n1\n"), nil)
		require.NoError(t, err)

		status, err := o.GetStatus(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, interfaces.StatusPending, status.Job.Status)
		assert.Empty(t, status.ResultURL)
		assert.Empty(t, status.Job.ErrorMessage)
	})

	t.Run("completed has signed url", func(t *testing.T) {
		job := submitAndProcess(t, o, interfaces.FormatCSV, interfaces.FormatJSON, []byte("a,b\n1,2\n"))

		status, err := o.GetStatus(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, interfaces.StatusCompleted, status.Job.Status)
		assert.NotEmpty(t, status.ResultURL)
	})

	t.Run("failed has error message", func(t *testing.T) {
		job := submitAndProcess(t, o, interfaces.FormatJSON, interfaces.FormatCSV, []byte("{broken"))

		status, err := o.GetStatus(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, interfaces.StatusFailed, status.Job.Status)
		assert.NotEmpty(t, status.Job.ErrorMessage)
		assert.Empty(t, status.ResultURL)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := o.GetStatus(context.Background(), "no-such-job")
		assert.ErrorIs(t, err, interfaces.ErrJobNotFound)
	})
}

func TestRequeue_DedupsOnJobID(t *testing.T) {
	o, _, _, queue := newOrchestrator(t)
	job, err := o.Submit(context.Background(), interfaces.FormatCSV, interfaces.FormatJSON, []byte("a\n1\n"), nil)
	require.NoError(t, err)

	require.NoError(t, o.Requeue(context.Background(), job))
	require.Len(t, queue.enqueued, 2)
	assert.Equal(t, queue.enqueued[0], queue.enqueued[1], "requeue reuses the job id as task name")
}
