package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/bus"
	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/recommend"
	"go.uber.org/zap"
)

const knowledgePrompt = `You extract knowledge worth remembering long-term from the content provided:
people (names, roles, preferences), projects (status, dates, stakeholders),
processes (how things work) and business context (clients, goals).

Return a JSON array, and nothing else:
[
  {
    "category": "team|clients|projects|processes|strategy",
    "title": "Brief title",
    "content": "The information to remember"
  }
]

Skip temporary, trivial or obvious information. If there is nothing
significant, return [].`

// Consolidator keeps memory tidy and proposes durable knowledge learned
// from meetings and conversations. Proposals need user approval before
// they reach the knowledge store.
type Consolidator struct {
	schedule string

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewConsolidator creates the memory agent.
func NewConsolidator(schedule string) *Consolidator {
	return &Consolidator{schedule: schedule, seen: make(map[string]struct{})}
}

func (c *Consolidator) Descriptor() Descriptor {
	return Descriptor{Name: "memory", Description: "Consolidates memories and proposes knowledge", Schedule: c.schedule}
}

type knowledgeItem struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

func (k knowledgeItem) valid() bool {
	return knowledge.ValidCategory(k.Category) &&
		strings.TrimSpace(k.Title) != "" && strings.TrimSpace(k.Content) != ""
}

// Run removes duplicate memories and proposes knowledge from meetings that
// ended in the past day.
func (c *Consolidator) Run(ctx context.Context, env *Env) (Result, error) {
	removed := 0
	if env.Memory != nil {
		n, err := env.Memory.Dedupe(ctx)
		if err != nil {
			env.Logger.Warn("memory: dedupe", zap.Error(err))
		}
		removed = n
	}

	proposed := 0
	if env.Integrations.Connected(integration.NameCalendar) && env.Reasoner != nil {
		n, err := c.fromMeetings(ctx, env)
		if err != nil {
			env.Logger.Warn("memory: meetings", zap.Error(err))
		}
		proposed = n
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{
		Summary:        fmt.Sprintf("Removed %d duplicate memories, proposed %d knowledge items", removed, proposed),
		ItemsProcessed: removed + proposed,
	}, nil
}

func (c *Consolidator) claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	return true
}

func (c *Consolidator) release(id string) {
	c.mu.Lock()
	delete(c.seen, id)
	c.mu.Unlock()
}

func (c *Consolidator) fromMeetings(ctx context.Context, env *Env) (int, error) {
	now := env.Now()
	events, err := env.Integrations.Calendar.Events(ctx, now.Add(-24*time.Hour), now, 5)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, e := range events {
		if e.End.After(now) || !c.claim(e.ID) {
			continue
		}
		items, err := c.extract(ctx, env, meetingContent(e))
		if err != nil {
			c.release(e.ID)
			if ctx.Err() != nil {
				return total, err
			}
			env.Logger.Warn("memory: meeting", zap.String("subject", e.Subject), zap.Error(err))
			continue
		}
		total += c.propose(ctx, env, items, "meeting: "+e.Subject)
	}
	return total, nil
}

func (c *Consolidator) extract(ctx context.Context, env *Env, content string) ([]knowledgeItem, error) {
	reply, err := env.complete(ctx, knowledgePrompt, "Extract important knowledge from:\n\n"+content)
	if err != nil {
		return nil, err
	}
	var items []knowledgeItem
	if err := extractJSONArray(reply, &items); err != nil {
		return nil, err
	}
	valid := items[:0]
	for _, it := range items {
		if it.valid() {
			valid = append(valid, it)
		}
	}
	return valid, nil
}

func (c *Consolidator) propose(ctx context.Context, env *Env, items []knowledgeItem, source string) int {
	n := 0
	for _, it := range items {
		meta := recommend.ProposalMetadata(recommend.Proposal{
			Category: it.Category,
			Title:    it.Title,
			Content:  it.Content,
		})
		meta["source"] = source
		_, err := env.Recommend(ctx, recommend.Draft{
			Title:    "Add to knowledge: " + it.Title,
			Body:     fmt.Sprintf("[%s] %s\n\nSource: %s", it.Category, it.Content, source),
			Priority: recommend.PriorityLow,
			Metadata: meta,
		})
		if err != nil {
			env.Logger.Warn("memory: store proposal", zap.String("title", it.Title), zap.Error(err))
			continue
		}
		n++
	}
	return n
}

// Listen proposes knowledge learned from each completed conversation turn.
func (c *Consolidator) Listen(env *Env) []*bus.Subscription {
	sub := env.Subscribe(bus.TopicConversationComplete, func(ctx context.Context, msg bus.Message) error {
		turn, ok := msg.Payload.(bus.ConversationComplete)
		if !ok {
			return fmt.Errorf("memory: unexpected payload %T", msg.Payload)
		}
		_, err := c.LearnFromConversation(ctx, env, turn)
		return err
	})
	if sub == nil {
		return nil
	}
	return []*bus.Subscription{sub}
}

// LearnFromConversation proposes knowledge found in one exchange.
func (c *Consolidator) LearnFromConversation(ctx context.Context, env *Env, turn bus.ConversationComplete) (int, error) {
	if env.Reasoner == nil {
		return 0, nil
	}
	content := fmt.Sprintf("User: %s\nAssistant: %s\n", turn.User, turn.Assistant)
	items, err := c.extract(ctx, env, content)
	if err != nil {
		return 0, fmt.Errorf("memory: learn from conversation: %w", err)
	}
	return c.propose(ctx, env, items, "conversation"), nil
}
