// Package types defines the shared domain model for the grading pipeline.
package types

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a grading job.
type JobStatus string

// Job lifecycle states.
const (
	StatusWaiting    JobStatus = "waiting"
	StatusProcessing JobStatus = "processing"
	StatusDone       JobStatus = "done"
	StatusFailed     JobStatus = "failed"
)

// Stage identifies the worker stage a processing job is currently in.
type Stage string

// Worker stages, in execution order.
const (
	StageTranscribing Stage = "transcribing"
	StageLoading      Stage = "loading"
	StageCollecting   Stage = "collecting"
	StageGrading      Stage = "grading"
	StageSaving       Stage = "saving"
)

// Origin describes the provenance of the encounter recording.
type Origin string

// Recording origins.
const (
	OriginVoiceAgent Origin = "voice_agent"
	OriginUpload     Origin = "upload"
)

// SectionID identifies one of the four fixed rubric sections.
type SectionID string

// The four rubric sections. These double as the keys of the persisted
// score payload, so the string values are part of the storage format.
const (
	SectionHistory      SectionID = "history"
	SectionPhysicalExam SectionID = "physical_exam"
	SectionEducation    SectionID = "education"
	SectionPPI          SectionID = "ppi"
)

// AllSections returns the rubric sections in their canonical order.
func AllSections() []SectionID {
	return []SectionID{SectionHistory, SectionPhysicalExam, SectionEducation, SectionPPI}
}

// Phase is a clinical-interview stage used for transcript segmentation.
// Phases correspond to sections, except PPI which has no span of its own:
// interaction quality is judged across the whole encounter.
type Phase string

// Clinical phases.
const (
	PhaseHistory   Phase = "history"
	PhaseExam      Phase = "physical_exam"
	PhaseEducation Phase = "education"
)

// Job is the unit of work tracked by the queue. Created on submission and
// mutated only by the worker holding the lease for it.
type Job struct {
	ID            uuid.UUID    `json:"id"`
	CaseID        string       `json:"case_id"`
	Origin        Origin       `json:"origin"`
	AudioRefs     []string     `json:"audio_refs,omitempty"`
	TranscriptRef string       `json:"transcript_ref,omitempty"`
	RubricRef     string       `json:"rubric_ref,omitempty"`
	OwnerID       uuid.UUID    `json:"owner_id"`
	Status        JobStatus    `json:"status"`
	Stage         Stage        `json:"stage,omitempty"`
	ProgressPct   int          `json:"progress_pct"`
	Result        *ScoreResult `json:"result,omitempty"`
	Error         string       `json:"error,omitempty"`
	TurnTimes     []float64    `json:"turn_times,omitempty"`
	TotalDuration float64      `json:"total_duration,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
}

// HasInput reports whether the job carries something to grade.
func (j *Job) HasInput() bool {
	return len(j.AudioRefs) > 0 || j.TranscriptRef != ""
}

// ChecklistItem is one scorable criterion within a rubric section.
type ChecklistItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Criteria string `json:"criteria"`
	Cap      int    `json:"cap,omitempty"` // maximum points; 0 means 1
}

// PointCap returns the effective cap for the item.
func (c ChecklistItem) PointCap() int {
	if c.Cap <= 0 {
		return 1
	}
	return c.Cap
}

// EvidenceRecord holds the verbatim quotations supporting one checklist item.
type EvidenceRecord struct {
	ItemID     string   `json:"item_id"`
	Quotations []string `json:"quotations"`
}

// GradeItem is the scored form of a checklist item.
type GradeItem struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Criteria string   `json:"criteria"`
	Evidence []string `json:"evidence"`
	Point    int      `json:"point"`
	Cap      int      `json:"cap"`
}

// PhaseSpan is a contiguous run of transcript turns belonging to one phase.
// The full set of spans for a transcript partitions [0, lastTurnIndex].
type PhaseSpan struct {
	Phase      Phase `json:"phase"`
	StartIndex int   `json:"start_index"`
	EndIndex   int   `json:"end_index"`
}

// TimingRecord carries the reconstructed duration for one phase.
// DurationSeconds is nil when no timing source was available.
type TimingRecord struct {
	DurationSeconds *float64 `json:"duration_seconds"`
}

// ScoreResult is the final output of a grading job. A regrade produces a
// new ScoreResult with its own ID; rows are never updated in place.
type ScoreResult struct {
	ID              uuid.UUID                 `json:"id"`
	GradesBySection map[SectionID][]GradeItem `json:"grades_by_section"`
	TimingBySection map[Phase]TimingRecord    `json:"timing_by_section,omitempty"`
}

// TotalScore sums all points across all sections.
func (r *ScoreResult) TotalScore() int {
	total := 0
	for _, items := range r.GradesBySection {
		for _, it := range items {
			total += it.Point
		}
	}
	return total
}

// Segment is a timed slice of transcription output, used for phase timing.
type Segment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

// Transcript is the resolved text to grade, optionally with per-segment
// timestamps that remain globally monotonic across multi-part recordings.
type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments,omitempty"`
}
