package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/formatninja/transformd/internal/convert"
	"github.com/formatninja/transformd/internal/interfaces"
	"github.com/formatninja/transformd/internal/logger"
	"github.com/formatninja/transformd/internal/metrics"
)

// ErrConversionNotAllowed is returned by Submit for format pairs
// outside the submission allow-list. The allow-list is deliberately
// stricter than the engine registry: Excel pairs are declared in the
// registry but rejected at submission.
var ErrConversionNotAllowed = errors.New("conversion not supported")

// allowedConversions is the submission-time allow-list, checked before
// any I/O happens.
var allowedConversions = map[convert.Pair]struct{}{
	{Source: interfaces.FormatJSON, Target: interfaces.FormatCSV}: {},
	{Source: interfaces.FormatCSV, Target: interfaces.FormatJSON}: {},
}

// ConversionAllowed reports whether a format pair may be submitted.
func ConversionAllowed(source, target interfaces.FileFormat) bool {
	_, ok := allowedConversions[convert.Pair{Source: source, Target: target}]
	return ok
}

// Notifier receives job updates for live status streaming. May be nil.
type Notifier interface {
	JobUpdated(job *interfaces.Job)
}

// Status is the result of a status query. ResultURL is set only for
// completed jobs.
type Status struct {
	Job       *interfaces.Job
	ResultURL string
}

// Orchestrator coordinates the job lifecycle: it accepts submissions,
// creates job records, enqueues work and executes the processing step
// when the queue delivers. The job record in the store is authoritative
// at all times; the orchestrator never caches it across transitions.
type Orchestrator struct {
	store        interfaces.JobStore
	blobs        interfaces.BlobStore
	queue        interfaces.TaskQueue
	engine       *convert.Engine
	notifier     Notifier
	signedURLTTL time.Duration
}

// NewOrchestrator wires the orchestrator's collaborators. notifier may
// be nil when no live updates are needed (e.g. the worker binary).
func NewOrchestrator(
	store interfaces.JobStore,
	blobs interfaces.BlobStore,
	queue interfaces.TaskQueue,
	engine *convert.Engine,
	signedURLTTL time.Duration,
	notifier Notifier,
) *Orchestrator {
	if signedURLTTL <= 0 {
		signedURLTTL = time.Hour
	}
	return &Orchestrator{
		store:        store,
		blobs:        blobs,
		queue:        queue,
		engine:       engine,
		notifier:     notifier,
		signedURLTTL: signedURLTTL,
	}
}

// Submit validates the requested conversion, stores the source file,
// creates the job record and enqueues the processing task. The job id
// doubles as the queue task name so client retries deduplicate at the
// queue level.
func (o *Orchestrator) Submit(
	ctx context.Context,
	source, target interfaces.FileFormat,
	file []byte,
	config map[string]any,
) (*interfaces.Job, error) {
	if !ConversionAllowed(source, target) {
		return nil, fmt.Errorf("%w: %s to %s", ErrConversionNotAllowed, source, target)
	}

	id := uuid.New().String()
	log := logger.WithJobID(id)

	sourcePath, err := o.blobs.Upload(ctx, file, source, "uploads")
	if err != nil {
		// Nothing has been recorded yet; the submission fails cleanly.
		return nil, fmt.Errorf("upload source file: %w", err)
	}

	now := time.Now().UTC()
	job := &interfaces.Job{
		ID:           id,
		SourceFormat: source,
		TargetFormat: target,
		Status:       interfaces.StatusPending,
		SourcePath:   sourcePath,
		Config:       config,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}

	// A crash between CreateJob and Enqueue leaves a pending job with
	// no queued task; the sweeper requeues those.
	if err := o.enqueue(ctx, job); err != nil {
		return nil, err
	}

	metrics.JobsSubmittedTotal.WithLabelValues(string(source), string(target)).Inc()
	log.Info().
		Str("source_format", string(source)).
		Str("target_format", string(target)).
		Str("source_path", sourcePath).
		Msg("Job submitted")

	o.notify(job)
	return job, nil
}

// Process executes one delivered job. It is safe under at-least-once
// and concurrent redelivery: the atomic pending->processing claim in
// the store is the sole concurrency control, and a lost claim is a
// successful no-op. Conversion failures are recorded on the job, not
// returned, so a permanently broken job is not redelivered forever.
func (o *Orchestrator) Process(ctx context.Context, id string) error {
	log := logger.WithJobID(id)

	claimed, err := o.store.ClaimJob(ctx, id)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", id, err)
	}
	if !claimed {
		metrics.DuplicateDeliveriesTotal.Inc()
		log.Info().Msg("Job already claimed or finished, skipping delivery")
		return nil
	}

	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("load job %s after claim: %w", id, err)
	}

	data, err := o.blobs.Download(ctx, job.SourcePath)
	if err != nil {
		return o.failJob(ctx, job, fmt.Sprintf("download source file %s: %v", job.SourcePath, err))
	}

	start := time.Now()
	result, err := o.engine.Convert(job.SourceFormat, job.TargetFormat, data, convert.Config(job.Config))
	metrics.ConversionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return o.failJob(ctx, job, err.Error())
	}
	metrics.BytesConvertedTotal.Add(float64(len(data)))

	resultPath, err := o.blobs.Upload(ctx, result, job.TargetFormat, "results")
	if err != nil {
		return o.failJob(ctx, job, fmt.Sprintf("upload result file: %v", err))
	}

	if err := o.store.MarkCompleted(ctx, id, resultPath); err != nil {
		return fmt.Errorf("mark job %s completed: %w", id, err)
	}

	metrics.JobsCompletedTotal.Inc()
	log.Info().Str("result_path", resultPath).Msg("Job completed")

	job.Status = interfaces.StatusCompleted
	job.ResultPath = resultPath
	o.notify(job)
	return nil
}

// GetStatus returns the current job record, with a time-limited signed
// result URL for completed jobs. Read-only.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*Status, error) {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	status := &Status{Job: job}
	if job.Status == interfaces.StatusCompleted && job.ResultPath != "" {
		url, err := o.blobs.SignedURL(job.ResultPath, o.signedURLTTL)
		if err != nil {
			return nil, fmt.Errorf("sign result url: %w", err)
		}
		status.ResultURL = url
	}
	return status, nil
}

// ListJobs returns the most recent jobs, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, limit int) ([]*interfaces.Job, error) {
	return o.store.ListJobs(ctx, limit)
}

// Requeue re-enqueues the processing task for an existing pending job.
// The queue dedups on job id and Process no-ops on claimed jobs, so
// requeueing a job whose task is still in flight is harmless.
func (o *Orchestrator) Requeue(ctx context.Context, job *interfaces.Job) error {
	return o.enqueue(ctx, job)
}

func (o *Orchestrator) enqueue(ctx context.Context, job *interfaces.Job) error {
	payload := interfaces.TaskPayload{
		JobID:        job.ID,
		SourceFormat: job.SourceFormat,
		TargetFormat: job.TargetFormat,
		SourcePath:   job.SourcePath,
		Config:       job.Config,
	}
	if err := o.queue.Enqueue(ctx, job.ID, payload); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// failJob records a terminal failure on the job. The delivery itself
// still succeeds so the queue does not redeliver a permanently broken
// job.
func (o *Orchestrator) failJob(ctx context.Context, job *interfaces.Job, message string) error {
	if err := o.store.MarkFailed(ctx, job.ID, message); err != nil {
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}

	metrics.JobsFailedTotal.Inc()
	logger.WithJobID(job.ID).Warn().Str("error", message).Msg("Job failed")

	job.Status = interfaces.StatusFailed
	job.ErrorMessage = message
	o.notify(job)
	return nil
}

func (o *Orchestrator) notify(job *interfaces.Job) {
	if o.notifier != nil {
		o.notifier.JobUpdated(job)
	}
}
