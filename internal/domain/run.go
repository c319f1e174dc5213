package domain

import "time"

// RunStatus represents the terminal outcome of a reload run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunTrigger identifies which surface started a reload run.
type RunTrigger string

const (
	TriggerWebhook RunTrigger = "webhook"
	TriggerCommand RunTrigger = "command"
)

// ReloadRun is the audit record of one finished pipeline run. In-flight state
// is never persisted; a row is written only after the run reaches a terminal
// state.
type ReloadRun struct {
	ID           string     `gorm:"type:text;primaryKey" json:"id"`
	ListName     string     `gorm:"type:text;not null;index" json:"list_name"`
	ResourceID   string     `gorm:"type:text" json:"resource_id"`
	InternalID   string     `gorm:"type:text" json:"internal_id"`
	FilePath     string     `gorm:"type:text" json:"file_path"`
	Trigger      RunTrigger `gorm:"type:text;not null" json:"trigger"`
	Status       RunStatus  `gorm:"type:text;not null;index" json:"status"`
	Error        string     `json:"error,omitempty"`
	RowCount     int        `gorm:"default:0" json:"row_count"`
	PollAttempts int        `gorm:"default:0" json:"poll_attempts"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TableName returns the database table name for ReloadRun.
func (ReloadRun) TableName() string {
	return "reload_runs"
}
