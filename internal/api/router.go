package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/formatninja/transformd/internal/blob"
	"github.com/formatninja/transformd/internal/interfaces"
	"github.com/formatninja/transformd/internal/jobs"
	"github.com/formatninja/transformd/internal/logger"
	"github.com/formatninja/transformd/internal/websocket"
)

const maxUploadBytes = 32 << 20

type contextKey string

const requestIDKey contextKey = "request_id"

// AddRoutes registers all HTTP handlers on the mux.
func AddRoutes(
	mux *http.ServeMux,
	orchestrator *jobs.Orchestrator,
	files *blob.FileStore,
	hub *websocket.Hub,
) {
	mux.HandleFunc("/transform", requestIDMiddleware(handleTransform(orchestrator)))
	mux.HandleFunc("/jobs", requestIDMiddleware(handleListJobs(orchestrator)))
	mux.HandleFunc("/jobs/", requestIDMiddleware(handleJobStatus(orchestrator)))
	mux.HandleFunc("/process", requestIDMiddleware(handleProcess(orchestrator)))
	mux.HandleFunc("/files/", handleFiles(files))
	if hub != nil {
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			websocket.HandleWebSocket(hub, w, r)
		})
	}
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", HandleHealth)
	mux.HandleFunc("/health/ready", HandleReadiness)
	mux.HandleFunc("/health/live", HandleLiveness)
}

func requestIDMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next(w, r.WithContext(ctx))
	}
}

func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

type transformResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type jobStatusResponse struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ResultURL   string     `json:"result_url,omitempty"`
	Error       string     `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleTransform accepts a multipart submission: the file plus
// source_format and target_format fields, with an optional config field
// holding a JSON object.
func handleTransform(orchestrator *jobs.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		log := logger.WithRequestID(getRequestID(r.Context()))

		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}

		source, err := interfaces.ParseFileFormat(r.FormValue("source_format"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		target, err := interfaces.ParseFileFormat(r.FormValue("target_format"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		var config map[string]any
		if raw := r.FormValue("config"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &config); err != nil {
				writeError(w, http.StatusBadRequest, "config must be a JSON object")
				return
			}
		}

		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file field is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read uploaded file")
			return
		}

		job, err := orchestrator.Submit(r.Context(), source, target, data, config)
		if err != nil {
			if errors.Is(err, jobs.ErrConversionNotAllowed) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			log.Error().Err(err).Msg("Failed to submit transformation")
			writeError(w, http.StatusInternalServerError, "error submitting transformation: "+err.Error())
			return
		}

		writeJSON(w, http.StatusAccepted, transformResponse{
			JobID:   job.ID,
			Status:  string(job.Status),
			Message: "Transformation job submitted successfully",
		})
	}
}

func handleJobStatus(orchestrator *jobs.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		jobID := strings.TrimPrefix(r.URL.Path, "/jobs/")
		if jobID == "" || strings.Contains(jobID, "/") {
			writeError(w, http.StatusBadRequest, "job id is required")
			return
		}

		status, err := orchestrator.GetStatus(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, interfaces.ErrJobNotFound) {
				writeError(w, http.StatusNotFound, "job not found")
				return
			}
			logger.WithRequestID(getRequestID(r.Context())).Error().Err(err).Msg("Failed to get job status")
			writeError(w, http.StatusInternalServerError, "failed to get job status")
			return
		}

		job := status.Job
		writeJSON(w, http.StatusOK, jobStatusResponse{
			JobID:       job.ID,
			Status:      string(job.Status),
			CreatedAt:   job.CreatedAt,
			UpdatedAt:   job.UpdatedAt,
			CompletedAt: job.CompletedAt,
			ResultURL:   status.ResultURL,
			Error:       job.ErrorMessage,
		})
	}
}

func handleListJobs(orchestrator *jobs.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}

		list, err := orchestrator.ListJobs(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list jobs")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"jobs":  list,
			"count": len(list),
		})
	}
}

type processRequest struct {
	JobID        string `json:"job_id"`
	SourceFormat string `json:"source_format"`
	TargetFormat string `json:"target_format"`
	SourcePath   string `json:"source_path"`
}

// handleProcess is the queue-invoked processing endpoint. It is
// idempotent: redelivery of an already-processed job returns success
// without touching the record.
func handleProcess(orchestrator *jobs.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.JobID == "" || req.SourceFormat == "" || req.TargetFormat == "" || req.SourcePath == "" {
			writeError(w, http.StatusBadRequest, "missing required fields")
			return
		}

		if err := orchestrator.Process(r.Context(), req.JobID); err != nil {
			logger.WithJobID(req.JobID).Error().Err(err).Msg("Processing delivery failed")
			writeError(w, http.StatusInternalServerError, "error processing transformation: "+err.Error())
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status": "success",
			"job_id": req.JobID,
		})
	}
}

// handleFiles serves blobs referenced by signed URLs issued by the
// blob store.
func handleFiles(files *blob.FileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		path := strings.TrimPrefix(r.URL.Path, "/files/")
		q := r.URL.Query()
		if err := files.Verify(path, q.Get("expires"), q.Get("sig")); err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}

		data, err := files.Download(r.Context(), path)
		if err != nil {
			if errors.Is(err, interfaces.ErrBlobNotFound) {
				writeError(w, http.StatusNotFound, "file not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to read file")
			return
		}

		w.Header().Set("Content-Type", contentTypeForPath(path))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

func contentTypeForPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".json"):
		return interfaces.FormatJSON.ContentType()
	case strings.HasSuffix(path, ".csv"):
		return interfaces.FormatCSV.ContentType()
	case strings.HasSuffix(path, ".xlsx"):
		return interfaces.FormatExcel.ContentType()
	}
	return "application/octet-stream"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
