package ollama

import (
	"context"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/ai"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
)

// defaultContext is the num_ctx Ollama uses when none is requested.
const defaultContext = 4096

// responseReserve leaves room for the answer on top of the prompt.
const responseReserve = 512

// GenerateCompletion sends a single-turn prompt and returns assistant text.
func (c *OllamaClient) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.NewGenerateOptions(ai.GenerateOptions{
		Model:       c.chatModel,
		Temperature: 0.0,
	}, opts...)

	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}

	if needed := estimateTokens(msgs) + responseReserve; needed > defaultContext {
		req.Options["num_ctx"] = needed
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var final api.ChatResponse
	if err := c.Client.Chat(rCtx, req, func(cr api.ChatResponse) error {
		final.Message.Content += cr.Message.Content
		if cr.Done {
			final.Done = true
			final.Metrics = cr.Metrics
		}
		return nil
	}); err != nil {
		return "", wrapError(err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens:  final.Metrics.PromptEvalCount,
		OutputTokens: final.Metrics.EvalCount,
		TotalTokens:  final.Metrics.PromptEvalCount + final.Metrics.EvalCount,
		DurationMs:   final.Metrics.TotalDuration.Milliseconds(),
	})

	content := strings.TrimSpace(final.Message.Content)
	if content == "" {
		return "", ai.ErrEmptyResponse
	}
	return content, nil
}

var loadEncoding = sync.OnceValues(func() (*tiktoken.Tiktoken, error) {
	return tiktoken.GetEncoding("o200k_base")
})

// estimateTokens counts prompt tokens with the o200k encoding. Local models
// use their own tokenizers, so this is only used to size the context window.
// Without the encoding files it falls back to four bytes per token.
func estimateTokens(msgs []api.Message) int {
	enc, err := loadEncoding()
	total := 0
	for _, m := range msgs {
		if err != nil {
			total += len(m.Content)/4 + 1
			continue
		}
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total
}
