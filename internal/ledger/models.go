package ledger

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a transcription job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusValidating Status = "validating"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

var allStatuses = []Status{
	StatusPending,
	StatusUploading,
	StatusValidating,
	StatusProcessing,
	StatusCompleted,
	StatusError,
}

// statusRank orders statuses so transitions can be checked for regression.
// Both terminal statuses share the top rank; terminality is checked first.
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusUploading:  1,
	StatusValidating: 2,
	StatusProcessing: 3,
	StatusCompleted:  4,
	StatusError:      4,
}

// Stage is the finer-grained phase reported while a job is processing.
// It drives progress reporting only, never queue routing.
type Stage string

const (
	StageNone              Stage = ""
	StagePreprocessing     Stage = "preprocessing"
	StageSourceSeparation  Stage = "source_separation"
	StageTranscribing      Stage = "transcribing"
	StagePostProcessing    Stage = "post_processing"
	StageGeneratingExports Stage = "generating_exports"
	StageCompleted         Stage = "completed"
)

var processingStages = []Stage{
	StagePreprocessing,
	StageSourceSeparation,
	StageTranscribing,
	StagePostProcessing,
	StageGeneratingExports,
}

var stageRank = map[Stage]int{
	StageNone:              0,
	StagePreprocessing:     1,
	StageSourceSeparation:  2,
	StageTranscribing:      3,
	StagePostProcessing:    4,
	StageGeneratingExports: 5,
	StageCompleted:         6,
}

// stageProgress carries the reference progress percentage reached when a
// stage (or pre-processing status) begins.
var stageProgress = map[Stage]int{
	StagePreprocessing:     30,
	StageSourceSeparation:  40,
	StageTranscribing:      70,
	StagePostProcessing:    80,
	StageGeneratingExports: 90,
}

const (
	ProgressUploading  = 10
	ProgressValidating = 20
	ProgressCompleted  = 100
)

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ProcessingStages returns the ordered processing stages.
func ProcessingStages() []Stage {
	cp := make([]Stage, len(processingStages))
	copy(cp, processingStages)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	for _, status := range allStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// CompareStatus orders two statuses by lifecycle position. Terminal statuses
// share the top position. Negative means a precedes b.
func CompareStatus(a, b Status) int {
	return statusRank[a] - statusRank[b]
}

// CompareStage orders two processing stages. Negative means a precedes b.
func CompareStage(a, b Stage) int {
	return stageRank[a] - stageRank[b]
}

// IsTerminal reports whether a status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// TargetProgress returns the reference progress percentage for a stage.
func (s Stage) TargetProgress() int {
	if pct, ok := stageProgress[s]; ok {
		return pct
	}
	return 0
}

// Known reports whether the stage is part of the processing pipeline.
func (s Stage) Known() bool {
	_, ok := stageRank[s]
	return ok
}

// Result holds the transcription outcome persisted once a job completes.
type Result struct {
	Tempo           int     `json:"tempo"`
	TimeSignature   string  `json:"timeSignature"`
	DurationSeconds float64 `json:"durationSeconds"`
	AccuracyScore   float64 `json:"accuracyScore"`
}

// Job is a transcription job row persisted in SQLite.
type Job struct {
	ID           string
	Filename     string
	SizeBytes    int64
	Status       Status
	Stage        Stage
	Progress     int
	Message      string
	ErrorMessage string
	SourceKey    string
	ResultJSON   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// IsTerminal reports whether the job reached an absorbing status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Passed reports whether the job already advanced beyond the given lifecycle
// step. Within the processing status, steps are ordered by stage. A job is
// never past the step it currently sits on, so a resumed attempt re-runs it.
func (j *Job) Passed(status Status, stage Stage) bool {
	if statusRank[j.Status] > statusRank[status] {
		return true
	}
	if j.Status == status && status == StatusProcessing {
		return stageRank[j.Stage] > stageRank[stage]
	}
	return false
}

// Snapshot converts the job's current state into a progress event. Used when
// a late subscriber needs the current position without waiting for the next
// transition.
func (j *Job) Snapshot() ProgressEvent {
	message := j.Message
	if j.Status == StatusError && j.ErrorMessage != "" {
		message = j.ErrorMessage
	}
	return ProgressEvent{
		JobID:     j.ID,
		Status:    j.Status,
		Stage:     j.Stage,
		Progress:  j.Progress,
		Message:   message,
		EmittedAt: j.UpdatedAt,
	}
}
