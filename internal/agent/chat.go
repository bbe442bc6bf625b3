package agent

import (
	"context"
	"fmt"
	"time"
)

// Chat is the conversational agent. Conversations are driven by the
// orchestrator; a run only reports activity.
type Chat struct{}

// NewChat creates the chat agent.
func NewChat() *Chat { return &Chat{} }

func (*Chat) Descriptor() Descriptor {
	return Descriptor{
		Name:        "chat",
		Description: "Handles user conversations with memory and tool support",
		Schedule:    ScheduleManual,
	}
}

// Run counts threads active in the last day and stored memories. It never
// fails; unavailable counts are reported as zero.
func (*Chat) Run(ctx context.Context, env *Env) (Result, error) {
	var threads, memories int64
	if env.Threads != nil {
		n, err := env.Threads.CountActiveSince(ctx, env.Now().Add(-24*time.Hour))
		if err == nil {
			threads = n
		}
	}
	if env.Memory != nil {
		n, err := env.Memory.Count(ctx)
		if err == nil {
			memories = n
		}
	}
	return Result{
		Summary:        fmt.Sprintf("%d active threads in the last day, %d memories", threads, memories),
		ItemsProcessed: int(threads),
	}, nil
}
