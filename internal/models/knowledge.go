package models

import "time"

// KnowledgeEntry is a curated, category-tagged fact.
type KnowledgeEntry struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Category  string    `gorm:"size:32;not null;index" json:"category"`
	Title     string    `gorm:"size:256;not null" json:"title"`
	Content   string    `gorm:"type:text" json:"content"`
	Source    string    `gorm:"size:32;default:manual" json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryFact is a conversation-derived memory, either a raw exchange or a
// consolidated fact.
type MemoryFact struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind      string    `gorm:"size:16;not null;default:exchange;index" json:"kind"`
	ThreadID  string    `gorm:"size:36;index" json:"thread_id,omitempty"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
