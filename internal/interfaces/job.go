package interfaces

import (
	"fmt"
	"time"
)

// JobStatus represents the current state of a transformation job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal returns true if the status can never change again
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// FileFormat is a member of the closed set of supported data formats
type FileFormat string

const (
	FormatJSON  FileFormat = "json"
	FormatCSV   FileFormat = "csv"
	FormatExcel FileFormat = "excel"
)

// ParseFileFormat validates a raw format string from a request
func ParseFileFormat(s string) (FileFormat, error) {
	switch FileFormat(s) {
	case FormatJSON, FormatCSV, FormatExcel:
		return FileFormat(s), nil
	}
	return "", fmt.Errorf("unknown file format %q", s)
}

// Extension returns the file extension used for blob object names
func (f FileFormat) Extension() string {
	if f == FormatExcel {
		return "xlsx"
	}
	return string(f)
}

// ContentType returns the MIME type stored alongside blob objects
func (f FileFormat) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}

// Job is the durable record of one transformation request and its
// lifecycle state. The record is owned by the JobStore; callers never
// cache it across status transitions.
type Job struct {
	ID           string         `json:"id"`
	SourceFormat FileFormat     `json:"source_format"`
	TargetFormat FileFormat     `json:"target_format"`
	Status       JobStatus      `json:"status"`
	SourcePath   string         `json:"source_path,omitempty"`
	ResultPath   string         `json:"result_path,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	ErrorMessage string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// String returns a string representation of the job
func (j *Job) String() string {
	return fmt.Sprintf("Job{ID: %s, %s->%s, Status: %s}",
		j.ID, j.SourceFormat, j.TargetFormat, j.Status)
}
