package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/conversation"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/memory"
	"github.com/zulandar/switchboard/internal/models"
)

const basePrompt = `You are a helpful personal business assistant. You help the user manage their work life by:
- Answering questions about their business context
- Remembering important details from past conversations
- Helping them stay organized and productive

Today's date: %s

Guidelines:
- Be concise and direct in your responses
- When you don't have access to specific information, say so clearly
- Use the context from memory to personalize your responses
- When discussing dates, prefer specific dates over relative terms
- If a tool returns an error, explain the issue clearly and suggest next steps
`

func systemPrompt(now time.Time, statuses []string, memories []memory.Result, kb []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, basePrompt, now.Format("Monday, 02 January 2006"))

	if len(statuses) > 0 {
		sb.WriteString("\nConnected services:\n")
		sb.WriteString(strings.Join(statuses, "\n"))
		sb.WriteString("\nUse the available tools to fetch live data from connected services. If the user asks about a service that is not connected, tell them it needs to be connected first.\n")
	}
	if len(memories) > 0 {
		sb.WriteString("\nRelevant context from previous conversations:\n")
		for _, m := range memories {
			fmt.Fprintf(&sb, "- %s\n", m.Fact.Content)
		}
		sb.WriteString("Use this context to inform your response, but don't mention memory unless asked.\n")
	}
	if len(kb) > 0 {
		sb.WriteString("\nOrganization knowledge:\n")
		for _, k := range kb {
			fmt.Fprintf(&sb, "- %s\n", k)
		}
	}
	return sb.String()
}

// boundHistory converts stored history plus the new user text to model
// messages, dropping the oldest history until everything fits in max
// characters. The new message is always kept.
func boundHistory(system string, history []models.ChatMessage, text string, max int) []llm.Message {
	budget := max - len(system) - len(text)
	start := 0
	total := 0
	for _, m := range history {
		total += len(m.Content)
	}
	for start < len(history) && total > budget {
		total -= len(history[start].Content)
		start++
	}

	out := make([]llm.Message, 0, len(history)-start+1)
	for _, m := range history[start:] {
		role := llm.RoleUser
		if m.Role == conversation.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: text})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
