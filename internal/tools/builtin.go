package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/integration"
	"github.com/zulandar/switchboard/internal/knowledge"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/memory"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/recommend"
)

// ChatAgentName attributes recommendations created from chat.
const ChatAgentName = "chat"

// KnowledgeSearcher is the knowledge-store surface the tools use.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query, category string, limit int) ([]knowledge.Result, error)
}

// MemorySearcher is the memory-store surface the tools use.
type MemorySearcher interface {
	Search(ctx context.Context, query string, limit int) ([]memory.Result, error)
}

// Recommender stores recommendations.
type Recommender interface {
	Create(ctx context.Context, d recommend.Draft) (*models.Recommendation, error)
}

// Deps are the collaborators of the built-in tools. Tools whose
// collaborator is nil are not registered.
type Deps struct {
	Suite           *integration.Suite
	Knowledge       KnowledgeSearcher
	Memory          MemorySearcher
	Recommendations Recommender
	Location        *time.Location
	Now             func() time.Time
}

// Builtin returns the standard tool set.
func Builtin(d Deps) []*Tool {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	today := func() time.Time {
		y, m, day := now().In(loc).Date()
		return time.Date(y, m, day, 0, 0, 0, 0, loc)
	}
	s := d.Suite

	list := []*Tool{
		{
			Name:        "get_calendar_events",
			Description: "Get upcoming calendar events. Use this when the user asks about their schedule, meetings, or calendar.",
			Parameters: llm.Object(map[string]*llm.Schema{
				"days": llm.Integer("Number of days to look ahead (default: 7, max: 30)"),
			}),
			Requires: integration.NameCalendar,
			Handler: func(ctx context.Context, a Args) (map[string]any, error) {
				from := now()
				events, err := s.Calendar.Events(ctx, from, from.AddDate(0, 0, a.Int("days", 7, 30)), 50)
				if err != nil {
					return nil, err
				}
				return map[string]any{"events": events, "count": len(events)}, nil
			},
		},
		{
			Name:        "get_today_events",
			Description: "Get today's calendar events. Use this when the user specifically asks about today's schedule or meetings.",
			Requires:    integration.NameCalendar,
			Handler: func(ctx context.Context, _ Args) (map[string]any, error) {
				from := today()
				events, err := s.Calendar.Events(ctx, from, from.Add(24*time.Hour), 50)
				if err != nil {
					return nil, err
				}
				return map[string]any{"events": events, "count": len(events)}, nil
			},
		},
		{
			Name:        "get_emails",
			Description: "Get recent emails from the user's inbox. Use this when the user asks about their emails or messages.",
			Parameters: llm.Object(map[string]*llm.Schema{
				"limit":  llm.Integer("Maximum number of emails to return (default: 10, max: 25)"),
				"search": llm.String("Optional search query to filter emails by subject, sender, or content"),
			}),
			Requires: integration.NameMail,
			Handler: func(ctx context.Context, a Args) (map[string]any, error) {
				mails, err := s.Mail.Messages(ctx, a.Int("limit", 10, 25), a.String("search"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"emails": mails, "count": len(mails)}, nil
			},
		},
		{
			Name:        "get_email_details",
			Description: "Get the full content of a specific email by its ID. Use this after get_emails to read a specific email in detail.",
			Parameters: llm.Object(map[string]*llm.Schema{
				"email_id": llm.String("The ID of the email to retrieve"),
			}, "email_id"),
			Requires: integration.NameMail,
			Handler: func(ctx context.Context, a Args) (map[string]any, error) {
				m, err := s.Mail.Message(ctx, a.String("email_id"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"email": m}, nil
			},
		},
		{
			Name:        "get_teams_chats",
			Description: "Get recent Teams chat conversations. Use this when the user asks about their Teams messages or chats.",
			Parameters: llm.Object(map[string]*llm.Schema{
				"limit": llm.Integer("Maximum number of chats to return (default: 10, max: 25)"),
			}),
			Requires: integration.NameChats,
			Handler: func(ctx context.Context, a Args) (map[string]any, error) {
				chats, err := s.Chats.Chats(ctx, a.Int("limit", 10, 25))
				if err != nil {
					return nil, err
				}
				return map[string]any{"chats": chats, "count": len(chats)}, nil
			},
		},
		{
			Name:        "get_chat_messages",
			Description: "Get messages from a specific Teams chat. Use this after get_teams_chats to read messages from a conversation.",
			Parameters: llm.Object(map[string]*llm.Schema{
				"chat_id": llm.String("The ID of the chat to retrieve messages from"),
				"limit":   llm.Integer("Maximum number of messages to return (default: 20, max: 50)"),
			}, "chat_id"),
			Requires: integration.NameChats,
			Handler: func(ctx context.Context, a Args) (map[string]any, error) {
				msgs, err := s.Chats.ChatMessages(ctx, a.String("chat_id"), a.Int("limit", 20, 50))
				if err != nil {
					return nil, err
				}
				return map[string]any{"messages": msgs, "count": len(msgs)}, nil
			},
		},
		{
			Name:        "search_files",
			Description: "Search for files in OneDrive and SharePoint. Use this when the user asks about finding documents or files.",
			Parameters: llm.Object(map[string]*llm.Schema{
				"query": llm.String("Search query to find files"),
				"limit": llm.Integer("Maximum number of files to return (default: 10, max: 25)"),
			}, "query"),
			Requires: integration.NameFiles,
			Handler: func(ctx context.Context, a Args) (map[string]any, error) {
				files, err := s.Files.SearchFiles(ctx, a.String("query"), a.Int("limit", 10, 25))
				if err != nil {
					return nil, err
				}
				return map[string]any{"files": files, "count": len(files)}, nil
			},
		},
		{
			Name:        "get_recent_files",
			Description: "Get recently accessed files from OneDrive. Use this when the user asks about their recent documents.",
			Parameters: llm.Object(map[string]*llm.Schema{
				"limit": llm.Integer("Maximum number of files to return (default: 10, max: 25)"),
			}),
			Requires: integration.NameFiles,
			Handler: func(ctx context.Context, a Args) (map[string]any, error) {
				files, err := s.Files.RecentFiles(ctx, a.Int("limit", 10, 25))
				if err != nil {
					return nil, err
				}
				return map[string]any{"files": files, "count": len(files)}, nil
			},
		},
		{
			Name:        "get_projects",
			Description: "Get tracked projects with their budget position. Use this when the user asks about project budgets or burn.",
			Parameters: llm.Object(map[string]*llm.Schema{
				"active_only": llm.Boolean("Only include active projects (default: true)"),
			}),
			Requires: integration.NameTimeTracking,
			Handler: func(ctx context.Context, a Args) (map[string]any, error) {
				projects, err := s.TimeTracking.Projects(ctx, a.Bool("active_only", true))
				if err != nil {
					return nil, err
				}
				rows := make([]map[string]any, 0, len(projects))
				for _, p := range projects {
					rows = append(rows, map[string]any{
						"id":               p.ID,
						"name":             p.Name,
						"client":           p.Client,
						"budget":           p.Budget,
						"spent":            p.Spent,
						"budget_spent_pct": p.SpentRatio() * 100,
					})
				}
				return map[string]any{"projects": rows, "count": len(rows)}, nil
			},
		},
		{
			Name:        "get_team_hours",
			Description: "Get hours logged per team member against their capacity. Use this when the user asks about utilization or workload.",
			Parameters: llm.Object(map[string]*llm.Schema{
				"days": llm.Integer("Number of days to look back (default: 7, max: 31)"),
			}),
			Requires: integration.NameTimeTracking,
			Handler: func(ctx context.Context, a Args) (map[string]any, error) {
				to := now()
				people, err := s.TimeTracking.TeamHours(ctx, to.AddDate(0, 0, -a.Int("days", 7, 31)), to)
				if err != nil {
					return nil, err
				}
				rows := make([]map[string]any, 0, len(people))
				for _, p := range people {
					rows = append(rows, map[string]any{
						"name":            p.Name,
						"hours":           p.Hours,
						"capacity":        p.Capacity,
						"utilization_pct": p.Utilization() * 100,
					})
				}
				return map[string]any{"team": rows, "count": len(rows)}, nil
			},
		},
	}

	if d.Knowledge != nil {
		list = append(list, &Tool{
			Name:        "search_knowledge",
			Description: "Search the organization's knowledge base (strategy, team, processes, clients, projects).",
			Parameters: llm.Object(map[string]*llm.Schema{
				"query":    llm.String("What to look for"),
				"category": llm.String("Optional category filter", knowledge.Categories...),
			}, "query"),
			Handler: func(ctx context.Context, a Args) (map[string]any, error) {
				hits, err := d.Knowledge.Search(ctx, a.String("query"), a.String("category"), 5)
				if err != nil {
					return nil, err
				}
				rows := make([]map[string]any, 0, len(hits))
				for _, h := range hits {
					rows = append(rows, map[string]any{
						"category": h.Entry.Category,
						"title":    h.Entry.Title,
						"content":  h.Entry.Content,
					})
				}
				return map[string]any{"entries": rows, "count": len(rows)}, nil
			},
		})
	}
	if d.Memory != nil {
		list = append(list, &Tool{
			Name:        "search_memory",
			Description: "Search facts remembered from earlier conversations with the user.",
			Parameters: llm.Object(map[string]*llm.Schema{
				"query": llm.String("What to recall"),
			}, "query"),
			Handler: func(ctx context.Context, a Args) (map[string]any, error) {
				hits, err := d.Memory.Search(ctx, a.String("query"), 5)
				if err != nil {
					return nil, err
				}
				facts := make([]string, 0, len(hits))
				for _, h := range hits {
					facts = append(facts, h.Fact.Content)
				}
				return map[string]any{"memories": facts, "count": len(facts)}, nil
			},
		})
	}
	if d.Recommendations != nil {
		list = append(list,
			&Tool{
				Name:        "create_recommendation",
				Description: "Save a suggestion or reminder for the user to review later.",
				Parameters: llm.Object(map[string]*llm.Schema{
					"title":    llm.String("Short title"),
					"body":     llm.String("Details"),
					"priority": llm.String("Priority", recommend.PriorityLow, recommend.PriorityNormal, recommend.PriorityHigh, recommend.PriorityUrgent),
				}, "title"),
				Handler: func(ctx context.Context, a Args) (map[string]any, error) {
					rec, err := d.Recommendations.Create(ctx, recommend.Draft{
						AgentName: ChatAgentName,
						Title:     a.String("title"),
						Body:      a.String("body"),
						Priority:  a.String("priority"),
						Metadata:  map[string]any{"type": "chat"},
					})
					if err != nil {
						return nil, err
					}
					return map[string]any{"id": rec.ID, "status": rec.Status}, nil
				},
			},
			&Tool{
				Name:        "propose_knowledge",
				Description: "Propose adding a durable fact to the knowledge base. The user approves proposals before they are stored.",
				Parameters: llm.Object(map[string]*llm.Schema{
					"category": llm.String("Knowledge category", knowledge.Categories...),
					"title":    llm.String("Brief title"),
					"content":  llm.String("The information to remember"),
				}, "category", "title", "content"),
				Handler: func(ctx context.Context, a Args) (map[string]any, error) {
					p := recommend.Proposal{Category: a.String("category"), Title: a.String("title"), Content: a.String("content")}
					if !knowledge.ValidCategory(p.Category) {
						return nil, fmt.Errorf("unknown category %q", p.Category)
					}
					meta := recommend.ProposalMetadata(p)
					meta["source"] = "conversation"
					rec, err := d.Recommendations.Create(ctx, recommend.Draft{
						AgentName: ChatAgentName,
						Title:     "Add to knowledge: " + p.Title,
						Body:      fmt.Sprintf("[%s] %s", p.Category, p.Content),
						Priority:  recommend.PriorityLow,
						Metadata:  meta,
					})
					if err != nil {
						return nil, err
					}
					return map[string]any{"id": rec.ID, "status": "pending approval"}, nil
				},
			},
		)
	}
	return list
}
