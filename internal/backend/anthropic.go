package backend

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// DefaultModel is used when no model is configured.
const DefaultModel = string(anthropic.ModelClaudeSonnet4_20250514)

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	// Model is the Claude model to use.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseAWSBedrock routes calls through AWS Bedrock instead of the direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// Anthropic is a Generator backed by the Anthropic Messages API.
type Anthropic struct {
	inner   anthropic.Client
	model   anthropic.Model
	bedrock bool
	tracker *TokenTracker
}

// NewAnthropic creates a client.
func NewAnthropic(ctx context.Context, cfg AnthropicConfig) (*Anthropic, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.Model(DefaultModel)
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	return &Anthropic{
		inner:   anthropic.NewClient(opts...),
		model:   model,
		bedrock: cfg.UseAWSBedrock,
		tracker: NewTokenTracker(),
	}, nil
}

// translateModelForBedrock converts standard model names to Bedrock
// cross-region inference profiles: us.anthropic.{model}-v1:0
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	if strings.HasPrefix(string(model), "us.anthropic.") {
		return model
	}
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if m, ok := bedrockModels[model]; ok {
		return anthropic.Model(m)
	}
	return model
}

// Model returns the configured model name.
func (c *Anthropic) Model() string {
	return string(c.model)
}

// Tracker returns the token tracker for this client.
func (c *Anthropic) Tracker() *TokenTracker {
	return c.tracker
}

// Generate implements Generator.
func (c *Anthropic) Generate(ctx context.Context, prompt string, params ModelParams) (string, error) {
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	model := c.model
	if params.Model != "" {
		model = anthropic.Model(params.Model)
		if c.bedrock {
			model = translateModelForBedrock(model)
		}
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	req := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if params.System != "" {
		req.System = []anthropic.TextBlockParam{{Text: params.System}}
	}
	if params.Temperature > 0 {
		req.Temperature = anthropic.Float(params.Temperature)
	}

	resp, err := c.inner.Messages.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	c.tracker.Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var sb strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(variant.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from an API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
