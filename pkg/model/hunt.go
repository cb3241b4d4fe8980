// Package model defines the records shared by the hunt runner, the
// repository and the HTTP API.
package model

import (
	"fmt"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a hunt run.
type RunStatus int

const (
	RunStatusPending   RunStatus = 0
	RunStatusRunning   RunStatus = 1
	RunStatusCompleted RunStatus = 2
	RunStatusFailed    RunStatus = 3
)

// String returns the string representation of RunStatus.
func (s RunStatus) String() string {
	switch s {
	case RunStatusPending:
		return "pending"
	case RunStatusRunning:
		return "running"
	case RunStatusCompleted:
		return "completed"
	case RunStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseRunStatus is the inverse of RunStatus.String.
func ParseRunStatus(s string) (RunStatus, error) {
	switch strings.ToLower(s) {
	case "pending":
		return RunStatusPending, nil
	case "running":
		return RunStatusRunning, nil
	case "completed":
		return RunStatusCompleted, nil
	case "failed":
		return RunStatusFailed, nil
	}
	return RunStatusPending, fmt.Errorf("unknown run status: %q", s)
}

// Kind is what a fingerprint resolves to.
type Kind string

const (
	KindMethod Kind = "method"
	KindField  Kind = "field"
)

// Run is one execution of a fingerprint set against an image set.
type Run struct {
	ID           string     `json:"id"`
	Digest       string     `json:"digest"` // SHA-256 over the image signatures, in order
	Source       string     `json:"source"`
	Status       RunStatus  `json:"status"`
	StatusInfo   string     `json:"status_info,omitempty"`
	Fingerprints int        `json:"fingerprints"`
	Resolved     int        `json:"resolved"`
	Reused       int        `json:"reused"`
	CreateTime   time.Time  `json:"create_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}

// Finished reports whether the run reached a terminal state.
func (r *Run) Finished() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// Duration returns the wall time of a finished run, zero otherwise.
func (r *Run) Duration() time.Duration {
	if r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.CreateTime)
}

// Resolution is the outcome of one fingerprint in one run.
type Resolution struct {
	RunID    string   `json:"run_id"`
	Digest   string   `json:"digest"`
	Name     string   `json:"name"`
	QueryKey string   `json:"query_key"`
	Kind     Kind     `json:"kind"`
	Handles  []uint64 `json:"handles"`
	Refs     []string `json:"refs"`
	Error    string   `json:"error,omitempty"`
	Reused   bool     `json:"reused,omitempty"`
}

// Unique reports whether the fingerprint matched exactly one member.
func (r *Resolution) Unique() bool {
	return r.Error == "" && len(r.Handles) == 1
}
