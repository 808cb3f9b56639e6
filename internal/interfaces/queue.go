package interfaces

import "context"

// TaskPayload is the message delivered to workers for one job. It
// carries everything Process needs so a worker can start without an
// extra store round-trip for routing.
type TaskPayload struct {
	JobID        string         `json:"job_id"`
	SourceFormat FileFormat     `json:"source_format"`
	TargetFormat FileFormat     `json:"target_format"`
	SourcePath   string         `json:"source_path"`
	Config       map[string]any `json:"config,omitempty"`
}

// TaskQueue is an at-least-once asynchronous dispatcher. Enqueue uses
// name as a deduplication key: enqueuing the same name twice within the
// dedup window delivers the task once.
type TaskQueue interface {
	Enqueue(ctx context.Context, name string, payload TaskPayload) error
}
