package discord

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/switchboard/internal/notify"
)

// --- Mock session ---

type mockSession struct {
	calls   int
	channel string
	sent    *discordgo.MessageSend
	errs    []error
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	m.channel = channelID
	m.sent = data
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

func notice() notify.Notice {
	return notify.Notice{
		Title:    "Morning Briefing",
		Body:     "Standup at 09:00",
		Priority: "high",
		Color:    "#ecb22e",
		Fields:   []notify.Field{{Name: "Priority", Value: "high", Short: true}},
	}
}

func newSender(t *testing.T, ms *mockSession) *Sender {
	t.Helper()
	s, err := New(Opts{ChannelID: "123", Session: ms})
	if err != nil {
		t.Fatal(err)
	}
	s.backoff = time.Millisecond
	return s
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "123"}); err == nil {
		t.Error("expected error without bot token")
	}
	if _, err := New(Opts{BotToken: "tok"}); err == nil {
		t.Error("expected error without channel")
	}
	s, err := New(Opts{BotToken: "tok", ChannelID: "123"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Name() != "discord" {
		t.Errorf("Name = %q", s.Name())
	}
}

func TestSend_BuildsEmbed(t *testing.T) {
	ms := &mockSession{}
	s := newSender(t, ms)
	if err := s.Send(context.Background(), notice()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ms.channel != "123" {
		t.Errorf("channel = %q", ms.channel)
	}
	if ms.sent.Content != "[HIGH] Morning Briefing" {
		t.Errorf("Content = %q", ms.sent.Content)
	}
	if len(ms.sent.Embeds) != 1 {
		t.Fatalf("Embeds = %d, want 1", len(ms.sent.Embeds))
	}
	e := ms.sent.Embeds[0]
	if e.Color != 0xecb22e || e.Description != "Standup at 09:00" {
		t.Errorf("embed = %+v", e)
	}
	if len(e.Fields) != 1 || !e.Fields[0].Inline {
		t.Errorf("Fields = %+v", e.Fields)
	}
}

func TestSend_RetriesRateLimit(t *testing.T) {
	ms := &mockSession{errs: []error{rateLimited(), rateLimited()}}
	s := newSender(t, ms)
	if err := s.Send(context.Background(), notice()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ms.calls != 3 {
		t.Errorf("calls = %d, want 3", ms.calls)
	}
}

func TestSend_GivesUpAfterMaxRetries(t *testing.T) {
	ms := &mockSession{errs: []error{rateLimited(), rateLimited(), rateLimited(), rateLimited(), rateLimited()}}
	s := newSender(t, ms)
	if err := s.Send(context.Background(), notice()); err == nil {
		t.Fatal("expected error")
	}
	if ms.calls != maxRetries+1 {
		t.Errorf("calls = %d, want %d", ms.calls, maxRetries+1)
	}
}

func TestSend_OtherErrorsNotRetried(t *testing.T) {
	ms := &mockSession{errs: []error{errors.New("missing access")}}
	s := newSender(t, ms)
	if err := s.Send(context.Background(), notice()); err == nil {
		t.Fatal("expected error")
	}
	if ms.calls != 1 {
		t.Errorf("calls = %d, want 1", ms.calls)
	}
}

func TestParseHexColor(t *testing.T) {
	for in, want := range map[string]int{
		"#36a64f": 0x36a64f,
		"FFFFFF":  0xffffff,
		"":        0,
		"#zzz":    0,
	} {
		if got := parseHexColor(in); got != want {
			t.Errorf("parseHexColor(%q) = %#x, want %#x", in, got, want)
		}
	}
}

func TestNoticeToEmbed_TruncatesDescription(t *testing.T) {
	n := notice()
	n.Body = string(make([]byte, maxEmbedDescription+100))
	if got := len(noticeToEmbed(n).Description); got != maxEmbedDescription {
		t.Errorf("description length = %d, want %d", got, maxEmbedDescription)
	}
}
