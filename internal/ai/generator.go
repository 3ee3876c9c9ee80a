// Package ai holds the response generator contract and its implementations.
// The room engine treats a generator as an opaque, potentially slow and
// potentially failing collaborator.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Turn is one prior message handed to the generator as context.
type Turn struct {
	Sender  string
	Content string
}

// Reply is a generated response plus optional suggested follow-up actions.
type Reply struct {
	Content string
	Actions map[string]string
}

// Generator produces a reply to the user's message. Implementations must
// respect ctx cancellation; the caller bounds the call with a timeout.
type Generator interface {
	Generate(ctx context.Context, userMessage string, history []Turn) (Reply, error)
}

// RulesGenerator is the canned keyword-matching bot. Delay simulates typing
// latency so the indicator is visible to connected clients.
type RulesGenerator struct {
	Delay time.Duration
}

func (g RulesGenerator) Generate(ctx context.Context, userMessage string, _ []Turn) (Reply, error) {
	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		}
	}

	lower := strings.ToLower(userMessage)
	switch {
	case strings.Contains(lower, "start"):
		return Reply{
			Content: "Let's get started! What would you like to do next?",
			Actions: map[string]string{
				"action1": "Learn More",
				"action2": "Get Help",
			},
		}, nil
	case strings.Contains(lower, "help"):
		return Reply{
			Content: "How can I assist you today?",
			Actions: map[string]string{
				"action1": "Account Issues",
				"action2": "Technical Support",
			},
		}, nil
	default:
		return Reply{Content: fmt.Sprintf("AI response to: %s", userMessage)}, nil
	}
}
