// Package genai provides GenAI-enhanced operations using the OpenAI API.
//
// The Client wraps chat completions behind a small interface so callers can
// stub the model in tests. Draft generation for the conversation engine goes
// through GenerateThinkingWithMessages, which asks the model for a JSON
// object carrying both its reasoning and the user-facing content.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNoChoicesReturned indicates the model response carried no choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChat adapts the official client to the chatService interface.
type openaiChat struct {
	client openai.Client
}

func (c *openaiChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// ClientInterface is the surface consumers depend on. *Client implements it;
// tests substitute stubs.
type ClientInterface interface {
	GeneratePrompt(systemPrompt, userPrompt string) (string, error)
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	GenerateThinkingWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (*ThinkingResponse, error)
}

// ThinkingResponse is the structured output of a thinking-mode generation.
// Thinking holds the model's private reasoning; Content is the user-facing
// text.
type ThinkingResponse struct {
	Thinking string `json:"thinking"`
	Content  string `json:"content"`
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey              string
	BaseURL             string
	Model               string
	Temperature         float64
	MaxTokens           int64
	MaxCompletionTokens int64
	DebugMode           bool
	StateDir            string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the API key used to authenticate against the API.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBaseURL overrides the API endpoint, e.g. for OpenAI-compatible providers.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) {
		o.Temperature = t
	}
}

// WithMaxTokens caps completion length for plain prompt generation.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) {
		o.MaxTokens = n
	}
}

// WithMaxCompletionTokens caps completion length for thinking-mode generation.
func WithMaxCompletionTokens(n int64) Option {
	return func(o *Opts) {
		o.MaxCompletionTokens = n
	}
}

// WithDebugMode enables request/response logging under stateDir/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// Client wraps the OpenAI chat completion service for generating prompts.
type Client struct {
	chat                chatService
	model               string
	temperature         float64
	maxTokens           int64
	maxCompletionTokens int64
	debugMode           bool
	stateDir            string
}

var _ ClientInterface = (*Client)(nil)

// NewClient initializes a new GenAI client. The API key comes from options
// or the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Temperature:         0.7,
		MaxTokens:           400,
		MaxCompletionTokens: 800,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4oMini)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	slog.Debug("GenAI client initialized", "model", cfg.Model, "baseURL", cfg.BaseURL, "debugMode", cfg.DebugMode)
	return &Client{
		chat:                &openaiChat{client: cli},
		model:               cfg.Model,
		temperature:         cfg.Temperature,
		maxTokens:           cfg.MaxTokens,
		maxCompletionTokens: cfg.MaxCompletionTokens,
		debugMode:           cfg.DebugMode,
		stateDir:            cfg.StateDir,
	}, nil
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

// GeneratePromptWithContext generates a response based on the provided
// system and user prompts, honoring the caller's context.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	resp, err := c.chat.Create(ctx, params)
	c.logDebug("GeneratePromptWithContext", params, resp, err)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateWithMessages generates a response from a full message array,
// allowing callers to supply history and few-shot exchanges.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}

	resp, err := c.chat.Create(ctx, params)
	c.logDebug("GenerateWithMessages", params, resp, err)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateThinkingWithMessages generates a structured response carrying both
// the model's reasoning and the user-facing content. The system prompt must
// instruct the model to answer with a JSON object of the form
// {"thinking": "...", "content": "..."}. Unstructured output is not an
// error; the raw text becomes the content and the reasoning notes the
// fallback.
func (c *Client) GenerateThinkingWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (*ThinkingResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxCompletionTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxCompletionTokens)
	}

	resp, err := c.chat.Create(ctx, params)
	c.logDebug("GenerateThinkingWithMessages", params, resp, err)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoicesReturned
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	var out ThinkingResponse
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Debug("Client.GenerateThinkingWithMessages: response was not valid JSON, using raw content", "length", len(raw))
		return &ThinkingResponse{
			Thinking: "System fallback: response was not valid JSON, raw text used as content.",
			Content:  raw,
		}, nil
	}
	out.Thinking = strings.TrimSpace(out.Thinking)
	out.Content = strings.TrimSpace(out.Content)
	if out.Content == "" {
		note := "Model returned empty user-facing content."
		if out.Thinking == "" {
			out.Thinking = note
		} else {
			out.Thinking = out.Thinking + " " + note
		}
	}
	return &out, nil
}

// debugLogEntry is the on-disk shape of one debug record.
type debugLogEntry struct {
	Timestamp string `json:"timestamp"`
	Method    string `json:"method"`
	Model     string `json:"model"`
	Params    any    `json:"params"`
	Response  any    `json:"response"`
	Error     string `json:"error,omitempty"`
}

// logDebug writes the full request and response to stateDir/debug when debug
// mode is on. Failures are logged and swallowed; debug output never breaks a
// generation.
func (c *Client) logDebug(method string, params, response any, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	debugDir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0o755); err != nil {
		slog.Error("Client.logDebug: failed to create debug directory", "error", err, "dir", debugDir)
		return
	}
	entry := debugLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Method:    method,
		Model:     c.model,
		Params:    params,
		Response:  response,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Error("Client.logDebug: failed to marshal debug entry", "error", err, "method", method)
		return
	}
	name := fmt.Sprintf("%d_%s.json", time.Now().UnixNano(), method)
	if err := os.WriteFile(filepath.Join(debugDir, name), data, 0o644); err != nil {
		slog.Error("Client.logDebug: failed to write debug file", "error", err, "file", name)
	}
}
