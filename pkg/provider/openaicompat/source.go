// Package openaicompat adapts the OpenAI chat completions stream to
// provider.Stream. Both the public OpenAI API and Azure OpenAI go through it.
package openaicompat

import (
	"context"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"chatrelay/pkg/models"
	"chatrelay/pkg/provider"
)

// Source streams chat completions from a configured client.
type Source struct {
	client    openai.Client
	model     string
	maxTokens int
}

// New returns a source calling model through client. A maxTokens of zero
// leaves the limit to the server.
func New(client openai.Client, model string, maxTokens int) *Source {
	return &Source{client: client, model: model, maxTokens: maxTokens}
}

// Model returns the model or deployment name requests are sent to.
func (s *Source) Model() string { return s.model }

func (s *Source) StreamDeltas(ctx context.Context, conversation []models.Message) (provider.Stream, error) {
	params := openai.ChatCompletionNewParams{
		Messages: MessageParams(conversation),
		Model:    s.model,
	}
	if s.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(s.maxTokens))
	}
	return &stream{st: s.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

// MessageParams maps a conversation onto chat completion messages.
func MessageParams(conversation []models.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(conversation))
	for _, m := range conversation {
		text := m.Text()
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(text))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(text))
		default:
			out = append(out, openai.UserMessage(text))
		}
	}
	return out
}

type stream struct {
	st *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *stream) Next() (provider.Delta, error) {
	if s.st.Next() {
		chunk := s.st.Current()
		d := provider.Delta{MessageID: chunk.ID}
		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				d.Contents = append(d.Contents, models.TextContent(c.Delta.Content))
			}
		}
		return d, nil
	}
	if err := s.st.Err(); err != nil {
		return provider.Delta{}, err
	}
	return provider.Delta{}, io.EOF
}

func (s *stream) Close() error { return s.st.Close() }
