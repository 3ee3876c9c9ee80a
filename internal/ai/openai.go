package ai

import (
	"context"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a helpful assistant embedded in a chat widget. Keep replies short and conversational."

// OpenAIGenerator answers with a chat completion, feeding the recent
// conversation history back as prior turns.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	return &OpenAIGenerator{client: openai.NewClient(apiKey), model: model}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, userMessage string, history []Turn) (Reply, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: toChatMessages(userMessage, history),
	})
	if err != nil {
		return Reply{}, errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("chat completion returned no choices")
	}
	return Reply{Content: resp.Choices[0].Message.Content}, nil
}

func toChatMessages(userMessage string, history []Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Sender == "ai" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	return append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})
}
