package models

import "time"

// Thread groups the messages of one chat conversation.
type Thread struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Title     *string   `gorm:"size:256" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// ChatMessage is one side of a chat exchange. The autoincrement ID gives a
// total creation order within a thread.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ThreadID  string    `gorm:"size:36;not null;index" json:"thread_id"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
