// Package conversation persists chat threads and their messages.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/fault"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Default configuration values for Store.
const (
	DefaultRecentLimit = 20
	DefaultThreadLimit = 50
)

// Store handles persistence of threads and messages.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB  *gorm.DB
	Now func() time.Time // defaults to time.Now
}

// NewStore creates a Store.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("conversation: db is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{db: opts.DB, now: now}, nil
}

// ThreadWithMessages is a thread and its full message history.
type ThreadWithMessages struct {
	models.Thread
	Messages []models.ChatMessage `json:"messages"`
}

// CreateThread creates a thread. A blank title leaves it unset so the first
// exchange can name it.
func (s *Store) CreateThread(ctx context.Context, title string) (*models.Thread, error) {
	now := s.now()
	th := &models.Thread{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now}
	if t := strings.TrimSpace(title); t != "" {
		th.Title = &t
	}
	if err := s.db.WithContext(ctx).Create(th).Error; err != nil {
		return nil, fmt.Errorf("conversation: create thread: %w: %w", fault.ErrPersistence, err)
	}
	return th, nil
}

// Thread returns one thread.
func (s *Store) Thread(ctx context.Context, id string) (*models.Thread, error) {
	var th models.Thread
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&th).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("conversation: thread %q: %w", id, fault.ErrNotFound)
		}
		return nil, fmt.Errorf("conversation: get thread %q: %w", id, err)
	}
	return &th, nil
}

// ThreadWithHistory returns a thread with every message in creation order.
func (s *Store) ThreadWithHistory(ctx context.Context, id string) (*ThreadWithMessages, error) {
	th, err := s.Thread(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.Messages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ThreadWithMessages{Thread: *th, Messages: msgs}, nil
}

// Threads lists threads, most recently active first.
func (s *Store) Threads(ctx context.Context, limit, offset int) ([]models.Thread, error) {
	if limit <= 0 {
		limit = DefaultThreadLimit
	}
	var threads []models.Thread
	if err := s.db.WithContext(ctx).Order("updated_at DESC").
		Limit(limit).Offset(offset).Find(&threads).Error; err != nil {
		return nil, fmt.Errorf("conversation: list threads: %w", err)
	}
	return threads, nil
}

// CountActiveSince returns how many threads had activity after t.
func (s *Store) CountActiveSince(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Thread{}).
		Where("updated_at > ?", t).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("conversation: count threads: %w", err)
	}
	return n, nil
}

// SetTitle replaces a thread's title.
func (s *Store) SetTitle(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("conversation: set title: empty title: %w", fault.ErrInvalidArgument)
	}
	res := s.db.WithContext(ctx).Model(&models.Thread{}).Where("id = ?", id).
		Updates(map[string]interface{}{"title": title, "updated_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("conversation: set title: %w: %w", fault.ErrPersistence, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("conversation: thread %q: %w", id, fault.ErrNotFound)
	}
	return nil
}

// SetTitleIfEmpty sets the title only when the thread has none. It reports
// whether the title was written.
func (s *Store) SetTitleIfEmpty(ctx context.Context, id, title string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Thread{}).
		Where("id = ? AND (title IS NULL OR title = '')", id).
		Update("title", title)
	if res.Error != nil {
		return false, fmt.Errorf("conversation: set title: %w: %w", fault.ErrPersistence, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteThread removes a thread and its messages.
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("thread_id = ?", id).Delete(&models.ChatMessage{}).Error; err != nil {
			return fmt.Errorf("conversation: delete messages: %w: %w", fault.ErrPersistence, err)
		}
		res := tx.Where("id = ?", id).Delete(&models.Thread{})
		if res.Error != nil {
			return fmt.Errorf("conversation: delete thread: %w: %w", fault.ErrPersistence, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("conversation: thread %q: %w", id, fault.ErrNotFound)
		}
		return nil
	})
}

// Append adds a message to a thread and bumps the thread's updated_at.
func (s *Store) Append(ctx context.Context, threadID, role, content string) (*models.ChatMessage, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("conversation: append: role %q: %w", role, fault.ErrInvalidArgument)
	}
	now := s.now()
	msg := &models.ChatMessage{ThreadID: threadID, Role: role, Content: content, CreatedAt: now}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Thread{}).Where("id = ?", threadID).Update("updated_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("thread %q: %w", threadID, fault.ErrNotFound)
		}
		return tx.Create(msg).Error
	})
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			return nil, fmt.Errorf("conversation: append: %w", err)
		}
		return nil, fmt.Errorf("conversation: append: %w: %w", fault.ErrPersistence, err)
	}
	return msg, nil
}

// Recent returns up to limit messages of a thread that precede beforeID
// (all messages when beforeID is 0), oldest first.
func (s *Store) Recent(ctx context.Context, threadID string, beforeID uint, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	q := s.db.WithContext(ctx).Where("thread_id = ?", threadID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.ChatMessage
	if err := q.Order("id DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("conversation: recent: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Messages returns every message of a thread in creation order.
func (s *Store) Messages(ctx context.Context, threadID string) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	if err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).
		Order("id ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("conversation: messages: %w", err)
	}
	return msgs, nil
}
