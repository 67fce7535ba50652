package openai

import (
	"errors"
	"sync"
	"time"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"
)

// GeminiBaseURL is Google's OpenAI-compatible endpoint for Gemini models.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// OpenAIClient talks to any OpenAI-compatible API. It manages separate
// clients for chat and embeddings because the two are usually served by
// different hosts: a hosted Gemini endpoint for answers and a local
// text-embeddings server for vectors.
//
// An OpenAIClient should be created using NewOpenAIClient.
type OpenAIClient struct {
	chatModel      string
	embeddingModel string
	chatURL        string

	timeout time.Duration
	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewOpenAIClientParams defines the configuration parameters for creating
// a new OpenAIClient.
//
// ChatURL and ChatKey configure the chat/completion API endpoint.
// EmbeddingURL and EmbeddingKey configure the embedding API endpoint; a
// self-hosted embedding server usually needs no key.
// Timeout bounds each individual request.
type NewOpenAIClientParams struct {
	ChatModel      string
	EmbeddingModel string

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string

	MaxConcurrentRequests int64
	Timeout               time.Duration
}

// NewOpenAIClient creates and returns a new OpenAIClient configured with
// the provided parameters.
//
// Example:
//
//	client := openai.NewOpenAIClient(openai.NewOpenAIClientParams{
//		ChatModel:      "gemini-2.5-flash",
//		ChatURL:        openai.GeminiBaseURL,
//		ChatKey:        os.Getenv("GOOGLE_API_KEY"),
//		EmbeddingModel: "sentence-transformers/all-MiniLM-L6-v2",
//		EmbeddingURL:   "http://localhost:8081/v1",
//	})
func NewOpenAIClient(
	params NewOpenAIClientParams,
) *OpenAIClient {
	maxReq := params.MaxConcurrentRequests
	if maxReq <= 0 {
		maxReq = 4
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &OpenAIClient{
		chatModel:      params.ChatModel,
		embeddingModel: params.EmbeddingModel,
		chatURL:        params.ChatURL,

		timeout: timeout,
		reqLock: semaphore.NewWeighted(maxReq),

		metricsLock: sync.Mutex{},
		metrics:     ai.ModelMetrics{},

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

// EmbeddingModel returns the model name used for every embedding request.
func (c *OpenAIClient) EmbeddingModel() string {
	return c.embeddingModel
}

// newOpenaiClient returns nil when neither a URL nor a key is configured.
// Retries are disabled because the callers own the retry policy.
func newOpenaiClient(
	baseURL string,
	apiKey string,
) *openai.Client {
	if apiKey == "" && baseURL == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithMaxRetries(0),
	}
	if apiKey != "" {
		options = append(options, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ai.ProviderError{Provider: "openai", StatusCode: apiErr.StatusCode, Err: err}
	}
	return &ai.ProviderError{Provider: "openai", Err: err}
}
