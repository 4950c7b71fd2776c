package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/animus-run/animus/internal/animuserr"
	"github.com/animus-run/animus/internal/backoff"
	"github.com/animus-run/animus/internal/observability"
	"github.com/animus-run/animus/internal/ratelimit"
	"github.com/animus-run/animus/pkg/model"
)

// AnthropicClient implements Client against the Anthropic Messages API,
// streaming-first with a retry/backoff loop around each call. Retry covers
// rate-limit (429) errors and transport/stream failures; other API error
// responses, 5xx included, are returned without retry. Model fallback and
// circuit breaking stay out of scope.
type AnthropicClient struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
	limiter      *ratelimit.Bucket
	metrics      *observability.Metrics
}

// WithMetrics attaches a Metrics instance so every Complete/CompleteStream
// call records its model, status, duration, and token usage.
func (c *AnthropicClient) WithMetrics(m *observability.Metrics) *AnthropicClient {
	c.metrics = m
	return c
}

// AnthropicConfig configures the client.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string

	// RateLimit, when Enabled, bounds outbound call rate client-side ahead
	// of the provider's own limits; a zero value leaves calls unthrottled.
	RateLimit ratelimit.Config
}

// NewAnthropicClient builds a client from config.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, animuserr.Validation("anthropic api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	c := &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		defaultModel: cfg.DefaultModel,
	}
	if cfg.RateLimit.Enabled {
		c.limiter = ratelimit.NewBucket(cfg.RateLimit)
	}
	return c, nil
}

func (c *AnthropicClient) model(req model.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.defaultModel
}

func (c *AnthropicClient) Complete(ctx context.Context, req model.CompletionRequest) (*model.CompletionResponse, error) {
	return c.run(ctx, req, nil)
}

func (c *AnthropicClient) CompleteStream(ctx context.Context, req model.CompletionRequest, sink model.EventSink) (*model.CompletionResponse, error) {
	return c.run(ctx, req, sink)
}

func (c *AnthropicClient) run(ctx context.Context, req model.CompletionRequest, sink model.EventSink) (resp *model.CompletionResponse, err error) {
	if c.metrics != nil {
		start := time.Now()
		defer func() {
			status := "success"
			inputTokens, outputTokens := 0, 0
			if err != nil {
				status = "error"
			} else if resp != nil {
				inputTokens, outputTokens = resp.Usage.InputTokens, resp.Usage.OutputTokens
			}
			c.metrics.RecordLLMRequest(c.model(req), status, time.Since(start).Seconds(), inputTokens, outputTokens)
		}()
	}

	params, buildErr := c.buildParams(req)
	if buildErr != nil {
		return nil, animuserr.Validation("build anthropic request: %v", buildErr)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if wait := c.limiter.WaitTime(); wait > 0 {
				if sleepErr := backoff.Sleep(ctx, wait); sleepErr != nil {
					return nil, animuserr.Cancelled("anthropic call cancelled waiting for rate limit")
				}
			}
			c.limiter.Allow()
		}
		resp, err := c.stream(ctx, params, sink)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		if attempt == c.maxRetries {
			break
		}
		if rlErr := new(animuserr.Error); errors.As(err, &rlErr) && rlErr.Kind == animuserr.KindRateLimited && rlErr.RetryAfter > 0 {
			if sleepErr := backoff.Sleep(ctx, rlErr.RetryAfter); sleepErr != nil {
				return nil, animuserr.Cancelled("anthropic call cancelled during backoff")
			}
			continue
		}
		policy := backoff.ForRetryDelay(c.retryDelay)
		if sleepErr := backoff.Sleep(ctx, policy.Delay(attempt+1)); sleepErr != nil {
			return nil, animuserr.Cancelled("anthropic call cancelled during backoff")
		}
	}
	return nil, animuserr.API(0, "anthropic: max retries exceeded: %v", lastErr)
}

func (c *AnthropicClient) buildParams(req model.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelOrDefault(req.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func (c *AnthropicClient) modelOrDefault(m string) string {
	if m != "" {
		return m
	}
	return c.defaultModel
}

func (c *AnthropicClient) stream(ctx context.Context, params anthropic.MessageNewParams, sink model.EventSink) (*model.CompletionResponse, error) {
	stream := c.client.Messages.NewStreaming(ctx, params)

	resp := &model.CompletionResponse{}
	var currentText strings.Builder
	var toolID, toolName string
	var toolInput strings.Builder
	haveOpenText := false

	flushText := func() {
		if haveOpenText {
			resp.Content = append(resp.Content, model.TextAssistantBlock(currentText.String()))
			currentText.Reset()
			haveOpenText = false
		}
	}
	emit := func(ev model.StreamEvent) {
		if sink != nil {
			sink(ev)
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			resp.Usage.InputTokens = int(ms.Message.Usage.InputTokens)
		case "content_block_start":
			cbs := event.AsContentBlockStart()
			if cbs.ContentBlock.Type == "tool_use" {
				tu := cbs.ContentBlock.AsToolUse()
				toolID, toolName = tu.ID, tu.Name
				toolInput.Reset()
				emit(model.StreamEvent{Kind: model.StreamToolStart, ToolUseID: toolID, ToolName: toolName})
			} else {
				haveOpenText = true
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				currentText.WriteString(delta.Text)
				emit(model.StreamEvent{Kind: model.StreamTextDelta, Text: delta.Text})
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
				emit(model.StreamEvent{Kind: model.StreamToolInputDelta, ToolUseID: toolID, PartialJSON: delta.PartialJSON})
			}
		case "content_block_stop":
			if toolID != "" {
				resp.Content = append(resp.Content, model.ToolUseBlock(toolID, toolName, json.RawMessage(toolInput.String())))
				toolID, toolName = "", ""
				toolInput.Reset()
			} else {
				flushText()
			}
		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				resp.Usage.OutputTokens = int(md.Usage.OutputTokens)
			}
			resp.StopReason = mapStopReason(string(md.Delta.StopReason))
		case "message_stop":
			flushText()
			emit(model.StreamEvent{Kind: model.StreamDone})
			return resp, nil
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapAnthropicError(err)
	}
	flushText()
	return resp, nil
}

func mapStopReason(s string) model.StopReason {
	switch s {
	case "end_turn":
		return model.StopEndTurn
	case "tool_use":
		return model.StopToolUse
	case "max_tokens":
		return model.StopMaxTokens
	default:
		if s == "" {
			return model.StopEndTurn
		}
		return model.StopOther
	}
}

func convertMessages(messages []model.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			// System content is carried on MessageNewParams.System, not in
			// the messages array; callers fold it into req.System.
			continue
		case model.RoleUser:
			var blocks []anthropic.ContentBlockParamUnion
			for _, b := range m.UserBlocks {
				switch b.Kind {
				case model.BlockText:
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				case model.BlockToolResult:
					blocks = append(blocks, anthropic.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
				case model.BlockImage:
					blocks = append(blocks, anthropic.NewImageBlockBase64(b.MediaType, b.Data))
				}
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case model.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			for _, b := range m.AssistantBlocks {
				switch b.Kind {
				case model.BlockText:
					blocks = append(blocks, anthropic.NewTextBlock(b.Text))
				case model.BlockToolUse:
					var input any
					_ = json.Unmarshal(b.Input, &input)
					blocks = append(blocks, anthropic.NewToolUseBlock(b.ID, input, b.Name))
				}
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out, nil
}

func convertTools(defs []model.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, d := range defs {
		var schema anthropic.ToolInputSchemaParam
		if len(d.InputSchema) > 0 {
			if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("tool %s: invalid input schema: %w", d.Name, err)
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        d.Name,
				Description: anthropic.String(d.Description),
				InputSchema: schema,
			},
		})
	}
	return out, nil
}

func isRetryable(err error) bool {
	return animuserr.IsRateLimited(err) || animuserr.IsTransport(err)
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 {
			return animuserr.RateLimited(0, "anthropic rate limited: %v", apiErr)
		}
		return animuserr.API(apiErr.StatusCode, "anthropic api error: %v", apiErr)
	}
	return animuserr.Transport(err, "anthropic stream error")
}
