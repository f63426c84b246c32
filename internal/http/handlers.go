package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/open-oni/oni-admin/internal/apperr"
	"github.com/open-oni/oni-admin/internal/export"
	"github.com/open-oni/oni-admin/internal/history"
	"github.com/open-oni/oni-admin/internal/jobs"
	"github.com/open-oni/oni-admin/internal/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// DescriptionResponse is returned by GET /.
type DescriptionResponse struct {
	Description string `json:"description"`
	Title       string `json:"title"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Info  string `json:"info"`
	JobID string `json:"job_id,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string `json:"status"`
	Info   string `json:"info,omitempty"`
}

// LoadRequest is the body of POST /batch/load.
type LoadRequest struct {
	BatchPath string `json:"batch_path"`
}

// PurgeRequest is the body of POST /batch/purge.
type PurgeRequest struct {
	BatchName string `json:"batch_name"`
}

// JobsResponse is returned by GET /jobs.
type JobsResponse struct {
	Jobs []jobs.Job `json:"jobs"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Events []history.Event `json:"events"`
}

// HandleDescription returns a handler for the API description at /.
func HandleDescription() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, DescriptionResponse{
			Description: "Open ONI Admin API for automating management tasks",
			Title:       "Open ONI Admin API",
		})
	}
}

// HandleBatchLoad returns a handler for POST /batch/load.
func (s *Server) HandleBatchLoad() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoadRequest
		if err := decodeBody(r, s.schemas.load, &req); err != nil {
			writeError(w, err)
			return
		}

		result, err := s.deps.Guard.Load(r.Context(), req.BatchPath)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleBatchPurge returns a handler for POST /batch/purge.
func (s *Server) HandleBatchPurge() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PurgeRequest
		if err := decodeBody(r, s.schemas.purge, &req); err != nil {
			writeError(w, err)
			return
		}

		result, err := s.deps.Guard.Purge(r.Context(), req.BatchName)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// HandleJobStatus returns a handler for GET /job/{job_id}/status.
func (s *Server) HandleJobStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := s.deps.Reporter.Report(r.Context(), r.PathValue("job_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// HandleJobLogs returns a handler for GET /job/{job_id}/logs.
func (s *Server) HandleJobLogs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := r.PathValue("job_id")
		if !jobs.ValidID(jobID) {
			writeError(w, apperr.InvalidInput("Invalid job id: %s", jobID))
			return
		}
		if _, err := s.deps.Store.Get(r.Context(), jobID); err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				writeError(w, apperr.NotFound("Job not found: %s", jobID))
				return
			}
			writeError(w, apperr.Internal(err, err.Error()))
			return
		}

		output, err := s.deps.Logs.ReadLogs(jobID)
		if err != nil {
			writeError(w, apperr.Internal(err, err.Error()))
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(output))
	}
}

// HandleJobs returns a handler for GET /jobs.
func (s *Server) HandleJobs() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.listJobs(r)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, JobsResponse{Jobs: list})
	}
}

// HandleJobsExport returns a handler for GET /jobs/export.
func (s *Server) HandleJobsExport() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.listJobs(r)
		if err != nil {
			writeError(w, err)
			return
		}

		data, err := export.Jobs(list)
		if err != nil {
			writeError(w, apperr.Internal(err, err.Error()))
			return
		}

		w.Header().Set("Content-Type", export.ContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="oni-admin-jobs.xlsx"`)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

// HandleHistory returns a handler for GET /history.
func (s *Server) HandleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, err := parseLimit(q.Get("limit"))
		if err != nil {
			writeError(w, err)
			return
		}

		events, err := s.deps.History.List(history.Query{
			Type:   q.Get("type"),
			Status: q.Get("status"),
			Target: q.Get("target"),
			Limit:  limit,
		})
		if err != nil {
			writeError(w, apperr.Internal(err, err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, HistoryResponse{Events: events})
	}
}

// HandleHealth returns a handler for the /health endpoint.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.deps.Store.Ping(ctx); err != nil {
			logger.Error("Server", "HandleHealth", err)
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Info: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}

func (s *Server) listJobs(r *http.Request) ([]jobs.Job, error) {
	q := r.URL.Query()
	filter := jobs.Filter{Target: q.Get("target")}

	if raw := q.Get("kind"); raw != "" {
		kind, err := jobs.ParseKind(raw)
		if err != nil {
			return nil, apperr.InvalidInput("Invalid kind: %s", raw)
		}
		filter.Kind = kind
	}
	if raw := q.Get("status"); raw != "" {
		st, err := jobs.ParseStatus(raw)
		if err != nil {
			return nil, apperr.InvalidInput("Invalid status: %s", raw)
		}
		filter.Status = st
	}

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		return nil, err
	}
	filter.Limit = limit

	list, err := s.deps.Store.List(r.Context(), filter)
	if err != nil {
		return nil, apperr.Internal(err, err.Error())
	}
	return list, nil
}

// parseLimit returns the default for an empty value and caps at maxListLimit.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, apperr.InvalidInput("Invalid limit: %s", raw)
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders err as {info}. Conflicts also carry the holder's job_id
// and a Retry-After header.
func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	resp := ErrorResponse{Info: err.Error()}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		resp.Info = appErr.Message
		if code == apperr.CodeConflict {
			resp.JobID = appErr.JobID
			if appErr.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(appErr.RetryAfter/time.Second)))
			}
		}
	}

	writeJSON(w, apperr.HTTPStatus(code), resp)
}
