package models

import "time"

// Recommendation is a durable, user-facing suggestion produced by an agent.
type Recommendation struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	AgentName string     `gorm:"size:64;not null;index" json:"agent_name"`
	Title     string     `gorm:"size:256;not null" json:"title"`
	Body      string     `gorm:"type:text" json:"body"`
	Priority  string     `gorm:"size:8;not null;default:normal;index" json:"priority"`
	Status    string     `gorm:"size:16;not null;default:pending;index" json:"status"`
	Metadata  string     `gorm:"type:text" json:"-"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
	ViewedAt  *time.Time `json:"viewed_at,omitempty"`
	ActedAt   *time.Time `json:"acted_at,omitempty"`
}
