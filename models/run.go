package models

import "time"

// Side names one of the two reconciled providers.
type Side string

const (
	SidePlex  Side = "plex"
	SideSimkl Side = "simkl"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SidePlex {
		return SideSimkl
	}
	return SidePlex
}

// SyncStatus is the terminal (or live) state of a run.
type SyncStatus string

const (
	SyncStatusIdle      SyncStatus = "IDLE"
	SyncStatusRunning   SyncStatus = "RUNNING"
	SyncStatusSuccess   SyncStatus = "SUCCESS"
	SyncStatusWarning   SyncStatus = "WARNING"
	SyncStatusFailed    SyncStatus = "FAILED"
	SyncStatusCancelled SyncStatus = "CANCELLED"
)

// VerifyResult classifies the post-write comparison of both sides.
type VerifyResult string

const (
	ResultEqual    VerifyResult = "EQUAL"
	ResultDiverged VerifyResult = "DIVERGED"
	ResultUnknown  VerifyResult = "UNKNOWN"
)

// Exit codes reported by a run.
const (
	ExitOK          = 0
	ExitUnexpected  = 1
	ExitConfig      = 2
	ExitRecoverable = 3
)

// Stage is a named step of a run. Stages are ordered; progress never moves backwards.
type Stage string

const (
	StageValidate   Stage = "validate"
	StageAuth       Stage = "auth"
	StageActivities Stage = "activities"
	StageFetch      Stage = "fetch"
	StageParse      Stage = "parse"
	StageIndex      Stage = "index"
	StageWrite      Stage = "write"
	StageVerify     Stage = "verify"
	StageDone       Stage = "done"
	StageCancelled  Stage = "cancelled"
	StageTimeout    Stage = "timeout"
	StageError      Stage = "error"
)

var stageRank = map[Stage]int{
	StageValidate:   0,
	StageAuth:       1,
	StageActivities: 2,
	StageFetch:      3,
	StageParse:      4,
	StageIndex:      5,
	StageWrite:      6,
	StageVerify:     7,
	StageDone:       8,
	StageCancelled:  8,
	StageTimeout:    8,
	StageError:      8,
}

// Rank returns the position of the stage in a run; unknown stages rank -1.
func (s Stage) Rank() int {
	if r, ok := stageRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s.Rank() == stageRank[StageDone]
}

// ProgressEvent is one step of a run's progress stream.
type ProgressEvent struct {
	RunID string         `json:"run_id"`
	Seq   int            `json:"seq"`
	Stage Stage          `json:"stage"`
	Done  int            `json:"done"`
	Total int            `json:"total"`
	Note  string         `json:"note,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	TS    time.Time      `json:"ts"`
}

// Timeline flags the phases a run has passed.
type Timeline struct {
	Start bool `json:"start"`
	Pre   bool `json:"pre"`
	Post  bool `json:"post"`
	Done  bool `json:"done"`
}

// SideTally counts writes per side.
type SideTally struct {
	Plex  int `json:"plex"`
	Simkl int `json:"simkl"`
}

// Add increments the tally of one side.
func (t *SideTally) Add(side Side, n int) {
	if side == SidePlex {
		t.Plex += n
		return
	}
	t.Simkl += n
}

// PlannedWrite is one write the engine intends to (or would, in dry run) perform.
type PlannedWrite struct {
	Side   Side   `json:"side"`
	Action string `json:"action"` // add | remove
	Key    string `json:"key"`
	Kind   Kind   `json:"type"`
	Title  string `json:"title,omitempty"`
	Year   int    `json:"year,omitempty"`
}

// RunSummary describes one run. It is immutable once FinishedAt is set.
type RunSummary struct {
	RunID       string         `json:"run_id"`
	Cmd         string         `json:"cmd"`
	Version     string         `json:"version"`
	Policy      string         `json:"policy"`
	DryRun      bool           `json:"dry_run"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	DurationSec float64        `json:"duration_sec"`
	PlexPre     *int           `json:"plex_pre,omitempty"`
	SimklPre    *int           `json:"simkl_pre,omitempty"`
	PlexPost    *int           `json:"plex_post,omitempty"`
	SimklPost   *int           `json:"simkl_post,omitempty"`
	Result      VerifyResult   `json:"result"`
	Status      SyncStatus     `json:"status"`
	ExitCode    *int           `json:"exit_code,omitempty"`
	Timeline    Timeline       `json:"timeline"`
	Running     bool           `json:"running"`
	Added       SideTally      `json:"added"`
	Removed     SideTally      `json:"removed"`
	Planned     []PlannedWrite `json:"planned,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
	Errors      []string       `json:"errors,omitempty"`
}

// Finished reports whether the summary has been finalized.
func (s RunSummary) Finished() bool {
	return s.FinishedAt != nil
}

// Clone returns a deep copy safe to hand to readers.
func (s RunSummary) Clone() RunSummary {
	out := s
	out.PlexPre = cloneInt(s.PlexPre)
	out.SimklPre = cloneInt(s.SimklPre)
	out.PlexPost = cloneInt(s.PlexPost)
	out.SimklPost = cloneInt(s.SimklPost)
	out.ExitCode = cloneInt(s.ExitCode)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	out.Planned = append([]PlannedWrite(nil), s.Planned...)
	out.Warnings = append([]string(nil), s.Warnings...)
	out.Errors = append([]string(nil), s.Errors...)
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IntPtr is a small helper for optional counts.
func IntPtr(v int) *int {
	return &v
}
