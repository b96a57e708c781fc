package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/papercomputeco/supportrelay/pkg/llm"
)

// OpenAIConfig configures the OpenAICompleter.
type OpenAIConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint (e.g. an OpenAI-compatible gateway).
	// Empty uses the SDK default.
	BaseURL string

	// HTTPClient is optional; tests inject one pointed at a fake server.
	HTTPClient *http.Client

	Options llm.Options
}

// OpenAICompleter calls the Chat Completions API through the official SDK.
type OpenAICompleter struct {
	client  *openai.Client
	options llm.Options
}

// NewOpenAICompleter builds a completer. SDK retries are disabled: a failed
// call is reported to the caller, who decides whether to resubmit.
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key must be provided")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAICompleter{
		client:  openai.NewClient(opts...),
		options: cfg.Options,
	}, nil
}

// Complete sends messages to model and returns the first choice's content.
// A response without choices yields "".
func (c *OpenAICompleter) Complete(ctx context.Context, model string, messages []llm.Message) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, c.params(model, messages))
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", nil
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *OpenAICompleter) params(model string, messages []llm.Message) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: openai.F(toOpenAIMessages(messages)),
		Model:    openai.F(openai.ChatModel(model)),
	}
	if c.options.Temperature != nil {
		params.Temperature = openai.Float(*c.options.Temperature)
	}
	if c.options.TopP != nil {
		params.TopP = openai.Float(*c.options.TopP)
	}
	if c.options.MaxTokens != nil {
		params.MaxTokens = openai.Int(*c.options.MaxTokens)
	}
	return params
}

func toOpenAIMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

var _ Completer = (*OpenAICompleter)(nil)
