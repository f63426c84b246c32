// Package status reports the current state of a job.
package status

import (
	"context"
	"errors"

	"github.com/open-oni/oni-admin/internal/apperr"
	"github.com/open-oni/oni-admin/internal/content"
	"github.com/open-oni/oni-admin/internal/jobs"
	"github.com/open-oni/oni-admin/internal/logger"
)

// JobGetter loads a job by id.
type JobGetter interface {
	Get(ctx context.Context, id string) (*jobs.Job, error)
}

// Report is the status payload of a job.
type Report struct {
	Info      string `json:"info"`
	Status    string `json:"status"`
	PageCount *int64 `json:"page_count,omitempty"`
}

// Reporter is the Status Reporter.
type Reporter struct {
	jobs  JobGetter
	pages content.PageCounter
}

// NewReporter creates a Reporter. pages may be nil, in which case reports
// never carry a page count.
func NewReporter(store JobGetter, pages content.PageCounter) *Reporter {
	return &Reporter{jobs: store, pages: pages}
}

// Report resolves jobID to its current status.
func (r *Reporter) Report(ctx context.Context, jobID string) (*Report, error) {
	if !jobs.ValidID(jobID) {
		return nil, apperr.InvalidInput("Invalid job id: %s", jobID)
	}

	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return nil, apperr.NotFound("Job not found: %s", jobID)
		}
		logger.Error("Reporter", "Report", err)
		return nil, apperr.Internal(err, err.Error())
	}

	report := &Report{Info: job.Info, Status: job.Status.Label()}
	if job.Status == jobs.StatusInProgress && job.Kind.IsBatch() && r.pages != nil {
		count, err := r.pages.PageCount(ctx, job.Target)
		if err != nil {
			logger.Error("Reporter", "Report", err)
			return nil, apperr.Internal(err, err.Error())
		}
		report.PageCount = &count
	}
	return report, nil
}
