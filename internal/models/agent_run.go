package models

import "time"

// Agent run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// AgentRun is one execution record of an agent. It is created when the run
// starts and mutated exactly once when the run completes or fails.
type AgentRun struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentName      string     `gorm:"size:64;not null;index" json:"agent_name"`
	Trigger        string     `gorm:"size:16;default:schedule" json:"trigger"`
	Status         string     `gorm:"size:16;not null;default:running;index" json:"status"`
	StartedAt      time.Time  `gorm:"not null;index" json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Summary        string     `gorm:"type:text" json:"summary,omitempty"`
	ItemsProcessed int        `gorm:"default:0" json:"items_processed"`
	ErrorMessage   string     `gorm:"type:text" json:"error_message,omitempty"`
}
