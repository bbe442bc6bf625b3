package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeGraph serves a token endpoint and a handful of Graph routes.
type fakeGraph struct {
	srv        *httptest.Server
	tokenCalls atomic.Int32
	lastQuery  atomic.Value
}

func newFakeGraph(t *testing.T, routes map[string]http.HandlerFunc) *fakeGraph {
	t.Helper()
	f := &fakeGraph{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt-1" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	})
	for path, h := range routes {
		h := h
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer at-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			f.lastQuery.Store(r.URL.Query())
			h(w, r)
		})
	}
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGraph) client(t *testing.T) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RefreshToken: "rt-1",
		BaseURL:      f.srv.URL,
		TokenURL:     f.srv.URL + "/token",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(context.Background(), Config{RefreshToken: "x"}); err == nil {
		t.Error("expected error without client id")
	}
	if _, err := New(context.Background(), Config{ClientID: "x"}); err == nil {
		t.Error("expected error without refresh token")
	}
}

func TestEvents(t *testing.T) {
	f := newFakeGraph(t, map[string]http.HandlerFunc{
		"/me/calendarView": func(w http.ResponseWriter, r *http.Request) {
			body := `{"value":[{"id":"e1","subject":"Standup",
				"start":{"dateTime":"2026-01-05T09:00:00.0000000","timeZone":"UTC"},
				"end":{"dateTime":"2026-01-05T09:15:00.0000000","timeZone":"UTC"},
				"location":{"displayName":"Room 4"},
				"organizer":{"emailAddress":{"name":"Dana","address":"dana@example.com"}},
				"attendees":[{"emailAddress":{"name":"Lee","address":"lee@example.com"},"status":{"response":"notResponded"}}]},
				{"id":"e2","subject":"",
				"start":{"dateTime":"2026-01-05T10:00:00.0000000","timeZone":"UTC"},
				"end":{"dateTime":"2026-01-05T11:00:00.0000000","timeZone":"UTC"}}]}`
			w.Write([]byte(body))
		},
	})
	c := f.client(t)

	from := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	events, err := c.Events(context.Background(), from, from.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	e := events[0]
	if e.Subject != "Standup" || e.Location != "Room 4" || e.Organizer != "Dana" {
		t.Errorf("event = %+v", e)
	}
	if !e.Start.Equal(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)) || e.End.Sub(e.Start) != 15*time.Minute {
		t.Errorf("Start/End = %v/%v", e.Start, e.End)
	}
	if !e.AwaitingResponse() {
		t.Error("attendee response not mapped")
	}
	if events[1].Subject != "(No title)" {
		t.Errorf("empty subject = %q", events[1].Subject)
	}

	q := f.lastQuery.Load().(url.Values)
	if q.Get("startDateTime") != "2026-01-05T00:00:00Z" || q.Get("$top") != "10" {
		t.Errorf("query start=%q top=%q", q.Get("startDateTime"), q.Get("$top"))
	}
	if n := f.tokenCalls.Load(); n != 1 {
		t.Errorf("token refreshes = %d, want 1", n)
	}
}

func TestMessagesAndMessage(t *testing.T) {
	f := newFakeGraph(t, map[string]http.HandlerFunc{
		"/me/mailFolders/inbox/messages": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{"value": []map[string]any{{
				"id":               "m1",
				"subject":          "Quarterly numbers",
				"from":             map[string]any{"emailAddress": map[string]string{"name": "Ana", "address": "ana@example.com"}},
				"receivedDateTime": "2026-01-04T18:30:00Z",
				"bodyPreview":      strings.Repeat("x", 300),
			}}})
		},
		"/me/messages/m1": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, map[string]any{
				"id":               "m1",
				"subject":          "Quarterly numbers",
				"receivedDateTime": "2026-01-04T18:30:00Z",
				"toRecipients":     []map[string]any{{"emailAddress": map[string]string{"address": "me@example.com"}}},
				"body":             map[string]string{"content": "Full body"},
			})
		},
	})
	c := f.client(t)
	ctx := context.Background()

	mails, err := c.Messages(ctx, 5, "")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(mails) != 1 || mails[0].From != "ana@example.com" || len([]rune(mails[0].Preview)) != 200 {
		t.Errorf("mails = %+v", mails)
	}
	if q := f.lastQuery.Load().(url.Values); q.Get("$orderby") != "receivedDateTime desc" {
		t.Errorf("$orderby = %q", q.Get("$orderby"))
	}

	if _, err := c.Messages(ctx, 5, "budget"); err != nil {
		t.Fatalf("Messages(search): %v", err)
	}
	q := f.lastQuery.Load().(url.Values)
	if q.Get("$search") != `"budget"` || q.Get("$orderby") != "" {
		t.Errorf("search query = %q orderby = %q", q.Get("$search"), q.Get("$orderby"))
	}

	d, err := c.Message(ctx, "m1")
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if d.Body != "Full body" || len(d.To) != 1 || d.From != "Unknown" {
		t.Errorf("detail = %+v", d)
	}
}

func TestChatsAndFiles(t *testing.T) {
	f := newFakeGraph(t, map[string]http.HandlerFunc{
		"/me/chats": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"value":[{"id":"c1","topic":"Launch","chatType":"group",
				"lastMessagePreview":{"body":{"content":"ship it"},"from":{"user":{"displayName":"Sam"}},"createdDateTime":"2026-01-05T08:00:00Z"}}]}`))
		},
		"/me/chats/c1/messages": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"value":[{"id":"1","body":{"content":"hello"},"from":null,"createdDateTime":"2026-01-05T08:00:00Z"}]}`))
		},
		"/search/query": func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.Write([]byte(`{"value":[{"hitsContainers":[{"hits":[{"resource":{"id":"f1","name":"plan.docx","webUrl":"https://x/plan.docx","size":42}}]}]}]}`))
		},
		"/me/drive/recent": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"value":[{"id":"f2","name":"notes.txt"}]}`))
		},
	})
	c := f.client(t)
	ctx := context.Background()

	chats, err := c.Chats(ctx, 5)
	if err != nil || len(chats) != 1 || chats[0].LastFrom != "Sam" || chats[0].LastMessage != "ship it" {
		t.Errorf("Chats = %+v, %v", chats, err)
	}
	msgs, err := c.ChatMessages(ctx, "c1", 5)
	if err != nil || len(msgs) != 1 || msgs[0].From != "Unknown" {
		t.Errorf("ChatMessages = %+v, %v", msgs, err)
	}
	files, err := c.SearchFiles(ctx, "plan", 5)
	if err != nil || len(files) != 1 || files[0].Name != "plan.docx" || files[0].Size != 42 {
		t.Errorf("SearchFiles = %+v, %v", files, err)
	}
	recent, err := c.RecentFiles(ctx, 5)
	if err != nil || len(recent) != 1 || recent[0].ID != "f2" {
		t.Errorf("RecentFiles = %+v, %v", recent, err)
	}
	if _, err := c.SearchFiles(ctx, " ", 5); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestErrorResponses(t *testing.T) {
	f := newFakeGraph(t, map[string]http.HandlerFunc{
		"/me": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		},
		"/me/drive/recent": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":"BadRequest","message":"bad $top"}}`))
		},
	})
	c := f.client(t)

	err := c.Ping(context.Background())
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.StatusCode != http.StatusForbidden {
		t.Fatalf("Ping err = %v, want 403 *Error", err)
	}
	_, err = c.RecentFiles(context.Background(), 5)
	if err == nil || !strings.Contains(err.Error(), "bad $top") {
		t.Errorf("RecentFiles err = %v, want graph message", err)
	}
}

func TestParseGraphTime(t *testing.T) {
	got := parseGraphTime(dateTimeZone{DateTime: "2026-01-05T09:00:00.0000000", TimeZone: "UTC"})
	if !got.Equal(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("parse = %v", got)
	}
	if !parseGraphTime(dateTimeZone{DateTime: "garbage"}).IsZero() {
		t.Error("garbage should parse to zero time")
	}
}
