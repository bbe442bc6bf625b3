// Package discord implements notify.Sender for Discord using the REST API.
package discord

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/switchboard/internal/notify"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// maxEmbedDescription is Discord's limit on embed descriptions.
	maxEmbedDescription = 4096
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Sender posts notices to one Discord channel.
type Sender struct {
	sess      session
	channelID string
	backoff   time.Duration
}

// Opts holds parameters for creating a Discord Sender.
type Opts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Sender. Only the REST API is used, so no gateway
// connection is opened.
func New(opts Opts) (*Sender, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}
	s := &Sender{sess: opts.Session, channelID: opts.ChannelID, backoff: 2 * time.Second}
	if s.sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		s.sess = dg
	}
	return s, nil
}

// Name implements notify.Sender.
func (s *Sender) Name() string { return "discord" }

// Send posts n as a message with one embed.
func (s *Sender) Send(ctx context.Context, n notify.Notice) error {
	data := buildMessageSend(n)
	err := s.retryOnRateLimit(ctx, func() error {
		_, sendErr := s.sess.ChannelMessageSendComplex(s.channelID, data, discordgo.WithContext(ctx))
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

func buildMessageSend(n notify.Notice) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content: n.Text(),
		Embeds:  []*discordgo.MessageEmbed{noticeToEmbed(n)},
	}
}

func noticeToEmbed(n notify.Notice) *discordgo.MessageEmbed {
	desc := n.Body
	if len(desc) > maxEmbedDescription {
		desc = desc[:maxEmbedDescription]
	}
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: desc,
		Color:       parseHexColor(n.Color),
	}
	for _, f := range n.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts "#36a64f" to its integer value. Invalid input is 0.
func parseHexColor(hex string) int {
	v, err := strconv.ParseInt(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}

func (s *Sender) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * s.backoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
