// Package graph reads calendar, mail, chats and files from Microsoft Graph.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/integration"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	defaultTenant  = "common"
	previewLength  = 200
)

// Scopes requested when refreshing the access token.
var Scopes = []string{
	"offline_access",
	"User.Read",
	"Calendars.Read",
	"Mail.Read",
	"Chat.Read",
	"Files.Read.All",
}

// Config holds the credentials for a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RefreshToken string

	BaseURL  string // defaults to DefaultBaseURL
	TokenURL string // defaults to the tenant's v2.0 token endpoint
	Timeout  time.Duration
}

// Client is a Graph API client authenticated with a refresh token.
type Client struct {
	baseURL string
	http    *http.Client
}

var (
	_ integration.Calendar = (*Client)(nil)
	_ integration.Mailbox  = (*Client)(nil)
	_ integration.Chats    = (*Client)(nil)
	_ integration.Files    = (*Client)(nil)
	_ integration.Pinger   = (*Client)(nil)
)

// New creates a Client. ctx scopes the token refreshes.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("graph: client id is required")
	}
	if cfg.RefreshToken == "" {
		return nil, fmt.Errorf("graph: refresh token is required")
	}
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = defaultTenant
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://login.microsoftonline.com/" + url.PathEscape(tenant) + "/oauth2/v2.0/token"
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
		Scopes:       Scopes,
	}
	hc := oauth2.NewClient(ctx, oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
	hc.Timeout = timeout
	return &Client{baseURL: base, http: hc}, nil
}

// Error is a non-2xx Graph response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return "graph: access token expired or invalid"
	case http.StatusForbidden:
		return "graph: insufficient permissions"
	}
	return fmt.Sprintf("graph: status %d: %s", e.StatusCode, e.Message)
}

// Ping verifies the credentials by reading the signed-in user.
func (c *Client) Ping(ctx context.Context) error {
	var me struct {
		ID string `json:"id"`
	}
	return c.get(ctx, "/me", nil, &me)
}

type emailAddress struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type dateTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEvent struct {
	ID       string       `json:"id"`
	Subject  string       `json:"subject"`
	Start    dateTimeZone `json:"start"`
	End      dateTimeZone `json:"end"`
	IsAllDay bool         `json:"isAllDay"`
	Location struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	Organizer emailAddress `json:"organizer"`
	Attendees []struct {
		emailAddress
		Status struct {
			Response string `json:"response"`
		} `json:"status"`
	} `json:"attendees"`
	IsOnlineMeeting bool   `json:"isOnlineMeeting"`
	BodyPreview     string `json:"bodyPreview"`
}

// Events returns calendar events intersecting [from, to), in start order.
func (c *Client) Events(ctx context.Context, from, to time.Time, limit int) ([]integration.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{}
	q.Set("startDateTime", from.UTC().Format(time.RFC3339))
	q.Set("endDateTime", to.UTC().Format(time.RFC3339))
	q.Set("$orderby", "start/dateTime")
	q.Set("$top", strconv.Itoa(limit))
	q.Set("$select", "id,subject,start,end,isAllDay,location,organizer,attendees,isOnlineMeeting,bodyPreview")

	var resp struct {
		Value []graphEvent `json:"value"`
	}
	if err := c.get(ctx, "/me/calendarView", q, &resp); err != nil {
		return nil, err
	}
	out := make([]integration.Event, 0, len(resp.Value))
	for _, e := range resp.Value {
		ev := integration.Event{
			ID:          e.ID,
			Subject:     orDefault(e.Subject, "(No title)"),
			Start:       parseGraphTime(e.Start),
			End:         parseGraphTime(e.End),
			IsAllDay:    e.IsAllDay,
			Location:    e.Location.DisplayName,
			Organizer:   e.Organizer.EmailAddress.Name,
			IsOnline:    e.IsOnlineMeeting,
			Description: truncate(e.BodyPreview, previewLength),
		}
		for _, a := range e.Attendees {
			ev.Attendees = append(ev.Attendees, integration.Attendee{
				Name:     a.EmailAddress.Name,
				Email:    a.EmailAddress.Address,
				Response: a.Status.Response,
			})
		}
		out = append(out, ev)
	}
	return out, nil
}

type graphMessage struct {
	ID               string         `json:"id"`
	Subject          string         `json:"subject"`
	From             emailAddress   `json:"from"`
	ToRecipients     []emailAddress `json:"toRecipients"`
	ReceivedDateTime time.Time      `json:"receivedDateTime"`
	BodyPreview      string         `json:"bodyPreview"`
	IsRead           bool           `json:"isRead"`
	Importance       string         `json:"importance"`
	Body             struct {
		Content string `json:"content"`
	} `json:"body"`
}

func (m graphMessage) summary() integration.Mail {
	return integration.Mail{
		ID:         m.ID,
		Subject:    orDefault(m.Subject, "(No subject)"),
		From:       orDefault(m.From.EmailAddress.Address, "Unknown"),
		FromName:   m.From.EmailAddress.Name,
		Received:   m.ReceivedDateTime.UTC(),
		Preview:    truncate(m.BodyPreview, previewLength),
		IsRead:     m.IsRead,
		Importance: orDefault(m.Importance, "normal"),
	}
}

// Messages returns inbox messages, newest first. A non-empty search uses
// Graph's $search, which cannot be combined with ordering.
func (c *Client) Messages(ctx context.Context, limit int, search string) ([]integration.Mail, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{}
	q.Set("$top", strconv.Itoa(limit))
	q.Set("$select", "id,subject,from,receivedDateTime,bodyPreview,isRead,importance")
	if search != "" {
		q.Set("$search", strconv.Quote(search))
	} else {
		q.Set("$orderby", "receivedDateTime desc")
	}

	var resp struct {
		Value []graphMessage `json:"value"`
	}
	if err := c.get(ctx, "/me/mailFolders/inbox/messages", q, &resp); err != nil {
		return nil, err
	}
	out := make([]integration.Mail, 0, len(resp.Value))
	for _, m := range resp.Value {
		out = append(out, m.summary())
	}
	return out, nil
}

// Message returns one message with its body.
func (c *Client) Message(ctx context.Context, id string) (*integration.MailDetail, error) {
	if id == "" {
		return nil, fmt.Errorf("graph: message id is required")
	}
	q := url.Values{}
	q.Set("$select", "id,subject,from,toRecipients,receivedDateTime,body,bodyPreview,isRead,importance")
	var m graphMessage
	if err := c.get(ctx, "/me/messages/"+url.PathEscape(id), q, &m); err != nil {
		return nil, err
	}
	d := &integration.MailDetail{Mail: m.summary(), Body: m.Body.Content}
	for _, r := range m.ToRecipients {
		d.To = append(d.To, r.EmailAddress.Address)
	}
	return d, nil
}

type chatBody struct {
	Content string `json:"content"`
}

type chatSender struct {
	User struct {
		DisplayName string `json:"displayName"`
	} `json:"user"`
}

// Chats returns recent chats with their latest message preview.
func (c *Client) Chats(ctx context.Context, limit int) ([]integration.Chat, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{}
	q.Set("$top", strconv.Itoa(limit))
	q.Set("$expand", "lastMessagePreview")
	q.Set("$orderby", "lastMessagePreview/createdDateTime desc")

	var resp struct {
		Value []struct {
			ID       string `json:"id"`
			Topic    string `json:"topic"`
			ChatType string `json:"chatType"`
			Last     *struct {
				Body            chatBody   `json:"body"`
				From            chatSender `json:"from"`
				CreatedDateTime time.Time  `json:"createdDateTime"`
			} `json:"lastMessagePreview"`
		} `json:"value"`
	}
	if err := c.get(ctx, "/me/chats", q, &resp); err != nil {
		return nil, err
	}
	out := make([]integration.Chat, 0, len(resp.Value))
	for _, ch := range resp.Value {
		chat := integration.Chat{ID: ch.ID, Topic: ch.Topic, Type: ch.ChatType}
		if ch.Last != nil {
			chat.LastMessage = truncate(ch.Last.Body.Content, 100)
			chat.LastFrom = ch.Last.From.User.DisplayName
			chat.LastAt = ch.Last.CreatedDateTime.UTC()
		}
		out = append(out, chat)
	}
	return out, nil
}

// ChatMessages returns the newest messages of a chat.
func (c *Client) ChatMessages(ctx context.Context, chatID string, limit int) ([]integration.ChatMessage, error) {
	if chatID == "" {
		return nil, fmt.Errorf("graph: chat id is required")
	}
	if limit <= 0 {
		limit = 20
	}
	q := url.Values{}
	q.Set("$top", strconv.Itoa(limit))
	q.Set("$orderby", "createdDateTime desc")

	var resp struct {
		Value []struct {
			ID              string      `json:"id"`
			Body            chatBody    `json:"body"`
			From            *chatSender `json:"from"`
			CreatedDateTime time.Time   `json:"createdDateTime"`
		} `json:"value"`
	}
	if err := c.get(ctx, "/me/chats/"+url.PathEscape(chatID)+"/messages", q, &resp); err != nil {
		return nil, err
	}
	out := make([]integration.ChatMessage, 0, len(resp.Value))
	for _, m := range resp.Value {
		from := "Unknown"
		if m.From != nil && m.From.User.DisplayName != "" {
			from = m.From.User.DisplayName
		}
		out = append(out, integration.ChatMessage{
			ID:      m.ID,
			From:    from,
			Content: m.Body.Content,
			Created: m.CreatedDateTime.UTC(),
		})
	}
	return out, nil
}

type driveItem struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	WebURL               string    `json:"webUrl"`
	LastModifiedDateTime time.Time `json:"lastModifiedDateTime"`
	Size                 int64     `json:"size"`
}

func (d driveItem) file() integration.File {
	return integration.File{
		ID:       d.ID,
		Name:     d.Name,
		WebURL:   d.WebURL,
		Modified: d.LastModifiedDateTime.UTC(),
		Size:     d.Size,
	}
}

// SearchFiles searches OneDrive and SharePoint.
func (c *Client) SearchFiles(ctx context.Context, query string, limit int) ([]integration.File, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("graph: search query is required")
	}
	if limit <= 0 {
		limit = 10
	}
	body := map[string]any{
		"requests": []map[string]any{{
			"entityTypes": []string{"driveItem"},
			"query":       map[string]string{"queryString": query},
			"from":        0,
			"size":        limit,
		}},
	}
	var resp struct {
		Value []struct {
			HitsContainers []struct {
				Hits []struct {
					Resource driveItem `json:"resource"`
				} `json:"hits"`
			} `json:"hitsContainers"`
		} `json:"value"`
	}
	if err := c.post(ctx, "/search/query", body, &resp); err != nil {
		return nil, err
	}
	var out []integration.File
	for _, v := range resp.Value {
		for _, hc := range v.HitsContainers {
			for _, h := range hc.Hits {
				out = append(out, h.Resource.file())
			}
		}
	}
	return out, nil
}

// RecentFiles returns recently used files.
func (c *Client) RecentFiles(ctx context.Context, limit int) ([]integration.File, error) {
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{}
	q.Set("$top", strconv.Itoa(limit))
	var resp struct {
		Value []driveItem `json:"value"`
	}
	if err := c.get(ctx, "/me/drive/recent", q, &resp); err != nil {
		return nil, err
	}
	out := make([]integration.File, 0, len(resp.Value))
	for _, d := range resp.Value {
		out = append(out, d.file())
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, dest any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("graph: create request: %w", err)
	}
	return c.do(req, dest)
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("graph: marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("graph: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("graph: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		var env struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		msg := string(data)
		if json.Unmarshal(data, &env) == nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		return &Error{StatusCode: resp.StatusCode, Message: msg}
	}
	if dest == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("graph: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// parseGraphTime reads Graph's zone-less dateTime strings. With the UTC
// Prefer header the zone is always UTC.
func parseGraphTime(v dateTimeZone) time.Time {
	loc := time.UTC
	if v.TimeZone != "" && v.TimeZone != "UTC" {
		if l, err := time.LoadLocation(v.TimeZone); err == nil {
			loc = l
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05.9999999", time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, v.DateTime, loc); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
