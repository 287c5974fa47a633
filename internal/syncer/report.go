package syncer

import (
	"strings"
	"time"

	"github.com/promptops/skillsync/internal/state"
)

// maxReportedErrors caps how many per-file errors end up in a run's
// error_detail column.
const maxReportedErrors = 5

// FileError describes one failed artifact fetch within a sync pass.
type FileError struct {
	Path   string
	Detail string
}

// SourceReport is the outcome of one sync pass for one source.
type SourceReport struct {
	SourceID  string
	Status    state.RunStatus
	Fetched   int
	Unchanged int
	Failed    int
	Errors    []FileError
	Duration  time.Duration
	RunID     int64
}

// Report is the aggregated outcome of a sync invocation, in source priority
// order.
type Report struct {
	Sources []SourceReport
}

// Status reduces the report to a single run status: success only if every
// source succeeded, error only if every source errored.
func (r *Report) Status() state.RunStatus {
	if len(r.Sources) == 0 {
		return state.RunSuccess
	}
	successes, errors := 0, 0
	for _, src := range r.Sources {
		switch src.Status {
		case state.RunSuccess:
			successes++
		case state.RunError:
			errors++
		}
	}
	switch {
	case successes == len(r.Sources):
		return state.RunSuccess
	case errors == len(r.Sources):
		return state.RunError
	default:
		return state.RunPartial
	}
}

// errorDetail joins up to maxReportedErrors file errors for the audit row.
func errorDetail(errs []FileError) string {
	if len(errs) == 0 {
		return ""
	}
	parts := make([]string, 0, maxReportedErrors)
	for i, e := range errs {
		if i == maxReportedErrors {
			break
		}
		parts = append(parts, e.Path+": "+e.Detail)
	}
	detail := strings.Join(parts, "; ")
	if len(errs) > maxReportedErrors {
		detail += "; ..."
	}
	return detail
}
