// Package model defines the core data types shared across the jobsift pipeline services.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Stage represents a named point in a run's lifecycle.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Stage string

const (
	// StagePending indicates the run is accepted but no worker has picked it up.
	StagePending Stage = "PENDING"
	// StageScraping indicates the scraper worker is collecting listings.
	StageScraping Stage = "SCRAPING"
	// StageLoading indicates the loader worker is persisting rows.
	StageLoading Stage = "LOADING"
	// StageComplete is the successful terminal stage.
	StageComplete Stage = "COMPLETE"
	// StageFailed is the failure terminal stage.
	StageFailed Stage = "FAILED"
)

// Valid returns true if the Stage is one of the known lifecycle stages.
func (s Stage) Valid() bool {
	switch s {
	case StagePending, StageScraping, StageLoading, StageComplete, StageFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for COMPLETE and FAILED, which accept no further mutation.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// rank orders stages along the pipeline's partial order
// PENDING < SCRAPING < LOADING < {COMPLETE, FAILED}.
func (s Stage) rank() int {
	switch s {
	case StagePending:
		return 0
	case StageScraping:
		return 1
	case StageLoading:
		return 2
	case StageComplete, StageFailed:
		return 3
	default:
		return -1
	}
}

// Before returns true if s is strictly earlier than other in the partial order.
func (s Stage) Before(other Stage) bool {
	return s.rank() < other.rank()
}

// UnmarshalText implements encoding.TextUnmarshaler so stages parse from env and JSON.
func (s *Stage) UnmarshalText(text []byte) error {
	v := Stage(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid Stage: %q", string(text))
	}
	*s = v
	return nil
}

// CanTransition reports whether a run currently at stage s may move to next.
// Moving to a strictly earlier stage is never allowed, terminal stages accept
// nothing, COMPLETE may only follow LOADING, and FAILED may follow any
// non-terminal stage (worker-reported failure or trigger publish failure).
func (s Stage) CanTransition(next Stage) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	switch next {
	case StageComplete:
		return s == StageLoading
	case StageFailed:
		return true
	case StagePending, StageScraping, StageLoading:
		return !next.Before(s)
	default:
		return false
	}
}

// JobState is the mutable status attached to a run. Percentage is
// non-decreasing for the life of the run; once Stage is terminal the record
// accepts no further mutation.
type JobState struct {
	RunID       string    `json:"run_id"`
	Stage       Stage     `json:"stage"`
	Percentage  float64   `json:"percentage"`
	Description string    `json:"description"`
	Error       string    `json:"error,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// TimeFilter restricts a scrape to listings posted within a window.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type TimeFilter string

const (
	// TimeFilterDay matches listings from the last 24 hours.
	TimeFilterDay TimeFilter = "24h"
	// TimeFilterWeek matches listings from the last week.
	TimeFilterWeek TimeFilter = "1w"
	// TimeFilterMonth matches listings from the last month.
	TimeFilterMonth TimeFilter = "1m"
)

// Valid returns true if the TimeFilter is one of the enumerated windows.
func (f TimeFilter) Valid() bool {
	return f == TimeFilterDay || f == TimeFilterWeek || f == TimeFilterMonth
}

// UnmarshalText implements encoding.TextUnmarshaler for TimeFilter.
func (f *TimeFilter) UnmarshalText(text []byte) error {
	v := TimeFilter(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid TimeFilter: %q", string(text))
	}
	*f = v
	return nil
}

// TriggerRequest is a request to start a pipeline run.
// Callers must Normalize before validating: titles are deduplicated
// case-insensitively and blank entries removed.
type TriggerRequest struct {
	JobTitles  []string   `json:"job_titles"  validate:"required,min=1,dive,required"`
	Location   string     `json:"location"    validate:"required"`
	TimeFilter TimeFilter `json:"time_filter" validate:"required,oneof=24h 1w 1m"`
	MaxJobs    int        `json:"max_jobs"    validate:"required,min=1"`
}

// Normalize trims and case-insensitively deduplicates job titles, keeping the
// first-seen casing, and trims the location.
func (r *TriggerRequest) Normalize() {
	seen := make(map[string]bool, len(r.JobTitles))
	titles := make([]string, 0, len(r.JobTitles))
	for _, title := range r.JobTitles {
		title = strings.TrimSpace(title)
		if title == "" {
			continue
		}
		key := strings.ToLower(title)
		if seen[key] {
			continue
		}
		seen[key] = true
		titles = append(titles, title)
	}
	r.JobTitles = titles
	r.Location = strings.TrimSpace(r.Location)
}

// Run is one pipeline execution: the immutable trigger parameters plus the
// identifier assigned at trigger time. Run identifiers are never reused.
type Run struct {
	RunID      string         `json:"run_id"`
	Parameters TriggerRequest `json:"parameters"`
	CreatedAt  time.Time      `json:"created_at"`
}
