// Package integration defines the read-only views of the user's external
// accounts that agents and chat tools consume, and reports which of them
// are connected.
package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Capability names reported by Suite.Statuses.
const (
	NameCalendar     = "calendar"
	NameMail         = "mail"
	NameChats        = "chats"
	NameFiles        = "files"
	NameTimeTracking = "time_tracking"
)

// DefaultStatusTTL is how long a health probe result is reused.
const DefaultStatusTTL = time.Minute

// Attendee is one invitee of an Event.
type Attendee struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Response string `json:"response,omitempty"` // accepted, declined, notResponded, ...
}

// Event is a calendar entry. Times are UTC.
type Event struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	IsAllDay    bool       `json:"is_all_day,omitempty"`
	Location    string     `json:"location,omitempty"`
	Organizer   string     `json:"organizer,omitempty"`
	Attendees   []Attendee `json:"attendees,omitempty"`
	IsOnline    bool       `json:"is_online,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Overlaps reports whether e and o share any time. All-day events never
// overlap.
func (e Event) Overlaps(o Event) bool {
	if e.IsAllDay || o.IsAllDay {
		return false
	}
	return e.Start.Before(o.End) && o.Start.Before(e.End)
}

// AwaitingResponse reports whether any attendee has not responded.
func (e Event) AwaitingResponse() bool {
	for _, a := range e.Attendees {
		if a.Response == "notResponded" {
			return true
		}
	}
	return false
}

// Mail is an inbox message summary.
type Mail struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	From       string    `json:"from"`
	FromName   string    `json:"from_name,omitempty"`
	Received   time.Time `json:"received"`
	Preview    string    `json:"preview,omitempty"`
	IsRead     bool      `json:"is_read"`
	Importance string    `json:"importance,omitempty"`
}

// MailDetail is a full message.
type MailDetail struct {
	Mail
	To   []string `json:"to,omitempty"`
	Body string   `json:"body"`
}

// Chat is a chat conversation with its latest message.
type Chat struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic,omitempty"`
	Type        string    `json:"type,omitempty"`
	LastMessage string    `json:"last_message,omitempty"`
	LastFrom    string    `json:"last_from,omitempty"`
	LastAt      time.Time `json:"last_at,omitempty"`
}

// ChatMessage is one message in a Chat.
type ChatMessage struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Content string    `json:"content"`
	Created time.Time `json:"created"`
}

// File is a document in cloud storage.
type File struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	WebURL   string    `json:"web_url,omitempty"`
	Modified time.Time `json:"modified,omitempty"`
	Size     int64     `json:"size,omitempty"`
}

// Project is a tracked project with its budget position, in hours or
// currency depending on the account.
type Project struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Client   string  `json:"client,omitempty"`
	Budget   float64 `json:"budget"`
	Spent    float64 `json:"spent"`
	IsActive bool    `json:"is_active"`
}

// SpentRatio is Spent/Budget, or 0 when the project has no budget.
func (p Project) SpentRatio() float64 {
	if p.Budget <= 0 {
		return 0
	}
	return p.Spent / p.Budget
}

// PersonHours is one person's logged time against weekly capacity.
type PersonHours struct {
	Name     string  `json:"name"`
	Hours    float64 `json:"hours"`
	Capacity float64 `json:"capacity"`
}

// Utilization is Hours/Capacity, or 0 without capacity.
func (p PersonHours) Utilization() float64 {
	if p.Capacity <= 0 {
		return 0
	}
	return p.Hours / p.Capacity
}

// Calendar reads events.
type Calendar interface {
	Events(ctx context.Context, from, to time.Time, limit int) ([]Event, error)
}

// Mailbox reads the inbox.
type Mailbox interface {
	Messages(ctx context.Context, limit int, search string) ([]Mail, error)
	Message(ctx context.Context, id string) (*MailDetail, error)
}

// Chats reads chat conversations.
type Chats interface {
	Chats(ctx context.Context, limit int) ([]Chat, error)
	ChatMessages(ctx context.Context, chatID string, limit int) ([]ChatMessage, error)
}

// Files searches documents.
type Files interface {
	SearchFiles(ctx context.Context, query string, limit int) ([]File, error)
	RecentFiles(ctx context.Context, limit int) ([]File, error)
}

// TimeTracking reads project budgets and logged hours.
type TimeTracking interface {
	Projects(ctx context.Context, activeOnly bool) ([]Project, error)
	TeamHours(ctx context.Context, from, to time.Time) ([]PersonHours, error)
}

// Pinger is implemented by clients that can verify their credentials.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the connection state of one capability.
type Status struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Detail    string `json:"detail,omitempty"`
}

// Suite bundles the configured clients. A nil field means the capability
// is not connected.
type Suite struct {
	Calendar     Calendar
	Mail         Mailbox
	Chats        Chats
	Files        Files
	TimeTracking TimeTracking

	// StatusTTL bounds how often Pingers are probed. Defaults to
	// DefaultStatusTTL.
	StatusTTL time.Duration

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]probe
}

type probe struct {
	err error
	at  time.Time
}

// Connected reports whether the named capability has a client.
func (s *Suite) Connected(name string) bool {
	if s == nil {
		return false
	}
	switch name {
	case NameCalendar:
		return s.Calendar != nil
	case NameMail:
		return s.Mail != nil
	case NameChats:
		return s.Chats != nil
	case NameFiles:
		return s.Files != nil
	case NameTimeTracking:
		return s.TimeTracking != nil
	}
	return false
}

func (s *Suite) clients() map[string]any {
	return map[string]any{
		NameCalendar:     s.Calendar,
		NameMail:         s.Mail,
		NameChats:        s.Chats,
		NameFiles:        s.Files,
		NameTimeTracking: s.TimeTracking,
	}
}

// Statuses reports every capability, sorted by name. Clients implementing
// Pinger are probed; concurrent callers share one probe per capability and
// results are reused for StatusTTL.
func (s *Suite) Statuses(ctx context.Context) []Status {
	names := []string{NameCalendar, NameChats, NameFiles, NameMail, NameTimeTracking}
	out := make([]Status, 0, len(names))
	if s == nil {
		for _, n := range names {
			out = append(out, Status{Name: n, Detail: "not configured"})
		}
		return out
	}

	clients := s.clients()
	for _, n := range names {
		st := Status{Name: n}
		c := clients[n]
		if !s.Connected(n) {
			st.Detail = "not configured"
			out = append(out, st)
			continue
		}
		st.Connected = true
		if p, ok := c.(Pinger); ok {
			if err := s.probe(ctx, n, p); err != nil {
				st.Connected = false
				st.Detail = err.Error()
			}
		}
		out = append(out, st)
	}
	return out
}

func (s *Suite) probe(ctx context.Context, name string, p Pinger) error {
	ttl := s.StatusTTL
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	s.mu.Lock()
	if r, ok := s.cache[name]; ok && time.Since(r.at) < ttl {
		s.mu.Unlock()
		return r.err
	}
	s.mu.Unlock()

	v, _, _ := s.group.Do(name, func() (interface{}, error) {
		err := p.Ping(ctx)
		s.mu.Lock()
		if s.cache == nil {
			s.cache = make(map[string]probe)
		}
		s.cache[name] = probe{err: err, at: time.Now()}
		s.mu.Unlock()
		return probe{err: err}, nil
	})
	return v.(probe).err
}

// ConnectedNames lists the connected capabilities without probing.
func (s *Suite) ConnectedNames() []string {
	var out []string
	if s == nil {
		return out
	}
	for n := range s.clients() {
		if s.Connected(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}
