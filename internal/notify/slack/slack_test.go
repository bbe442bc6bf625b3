package slack

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/switchboard/internal/notify"
)

// --- Mock Slack client ---

type mockClient struct {
	mu      sync.Mutex
	calls   int
	channel string
	options []slackapi.MsgOption
	errs    []error // returned in order, then nil
}

func (m *mockClient) PostMessageContext(_ context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", "", err
	}
	m.channel = channelID
	m.options = options
	return channelID, "1767596400.000100", nil
}

func notice() notify.Notice {
	return notify.Notice{
		Title:    "Invoice overdue",
		Body:     "Acme invoice is 14 days late",
		Priority: "urgent",
		Color:    "#e01e5a",
		Fields:   []notify.Field{{Name: "From", Value: "anomaly", Short: true}},
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "C01"}); err == nil {
		t.Error("expected error without bot token")
	}
	if _, err := New(Opts{BotToken: "xoxb-1"}); err == nil {
		t.Error("expected error without channel")
	}
	s, err := New(Opts{BotToken: "xoxb-1", ChannelID: "C01"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Name() != "slack" {
		t.Errorf("Name = %q", s.Name())
	}
}

func TestSend_PostsToConfiguredChannel(t *testing.T) {
	mc := &mockClient{}
	s, err := New(Opts{ChannelID: "C01", Client: mc})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), notice()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if mc.channel != "C01" {
		t.Errorf("channel = %q, want C01", mc.channel)
	}
	if len(mc.options) != 2 {
		t.Errorf("options = %d, want text + attachment", len(mc.options))
	}
}

func TestSend_RetriesRateLimit(t *testing.T) {
	mc := &mockClient{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	s, err := New(Opts{ChannelID: "C01", Client: mc})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), notice()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if mc.calls != 2 {
		t.Errorf("calls = %d, want 2", mc.calls)
	}
}

func TestSend_GivesUpAfterMaxRetries(t *testing.T) {
	rl := &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
	mc := &mockClient{errs: []error{rl, rl, rl, rl, rl}}
	s, _ := New(Opts{ChannelID: "C01", Client: mc})
	if err := s.Send(context.Background(), notice()); err == nil {
		t.Fatal("expected error")
	}
	if mc.calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", mc.calls, maxRetries+1)
	}
}

func TestSend_OtherErrorsNotRetried(t *testing.T) {
	mc := &mockClient{errs: []error{errors.New("channel_not_found")}}
	s, _ := New(Opts{ChannelID: "C01", Client: mc})
	err := s.Send(context.Background(), notice())
	if err == nil || err.Error() != "slack: post message: channel_not_found" {
		t.Errorf("err = %v", err)
	}
	if mc.calls != 1 {
		t.Errorf("calls = %d, want 1", mc.calls)
	}
}

func TestSend_CancelledWhileWaiting(t *testing.T) {
	mc := &mockClient{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Minute}}}
	s, _ := New(Opts{ChannelID: "C01", Client: mc})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, notice()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNoticeToAttachment(t *testing.T) {
	att := noticeToAttachment(notice())
	if att.Title != "Invoice overdue" || att.Color != "#e01e5a" {
		t.Errorf("attachment = %+v", att)
	}
	if att.Fallback != "[URGENT] Invoice overdue" {
		t.Errorf("Fallback = %q", att.Fallback)
	}
	if len(att.Fields) != 1 || att.Fields[0].Title != "From" || !att.Fields[0].Short {
		t.Errorf("Fields = %+v", att.Fields)
	}
}
