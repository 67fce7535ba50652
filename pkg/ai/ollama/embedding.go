package ollama

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateEmbeddings creates vector embeddings for all inputs with a single
// /api/embed call. The result is aligned with inputs.
func (c *OllamaClient) GenerateEmbeddings(
	ctx context.Context,
	inputs []string,
) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	req := &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: inputs,
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	rCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.Client.Embed(rCtx, req)
	if err != nil {
		return nil, wrapError(err)
	}

	c.modifyMetrics(ai.ModelMetrics{
		InputTokens: res.PromptEvalCount,
		TotalTokens: res.PromptEvalCount,
		DurationMs:  res.TotalDuration.Milliseconds(),
	})

	if len(res.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(inputs))
	}
	for i, v := range res.Embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: index %d", ai.ErrEmbeddingMissing, i)
		}
	}
	return res.Embeddings, nil
}
