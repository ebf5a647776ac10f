// Package llm wraps the Gemini SDK for the agronomy assistant.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

const (
	defaultModel       = "gemini-1.5-flash"
	defaultTemperature = 0.2
	defaultMaxTokens   = 1024
)

var (
	// ErrMissingAPIKey means neither GEMINI_API_KEY nor LLM_API_KEY is set.
	ErrMissingAPIKey = errors.New("missing GEMINI_API_KEY or LLM_API_KEY")
	ErrEmptyPrompt   = errors.New("prompt is empty")
	ErrNoText        = errors.New("no text candidates in model response")
)

// Config holds model selection and sampling parameters.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int32
	TopP        *float32
	TopK        *int32
}

// FromEnv reads GEMINI_API_KEY (or LLM_API_KEY), GEMINI_MODEL,
// GEMINI_TEMPERATURE, GEMINI_MAX_TOKENS, GEMINI_TOP_P and GEMINI_TOP_K.
// Unparseable sampling values are logged and ignored.
func FromEnv() (Config, error) {
	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	}
	if apiKey == "" {
		return Config{}, ErrMissingAPIKey
	}

	cfg := Config{
		APIKey:      apiKey,
		Model:       strings.TrimSpace(os.Getenv("GEMINI_MODEL")),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if v, ok := envFloat("GEMINI_TEMPERATURE"); ok {
		cfg.Temperature = v
	}
	if v, ok := envInt("GEMINI_MAX_TOKENS"); ok && v > 0 {
		cfg.MaxTokens = v
	}
	if v, ok := envFloat("GEMINI_TOP_P"); ok {
		cfg.TopP = &v
	}
	if v, ok := envInt("GEMINI_TOP_K"); ok {
		cfg.TopK = &v
	}
	return cfg, nil
}

func envFloat(key string) (float32, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		zap.L().Warn("ignoring invalid llm setting", zap.String("key", key), zap.String("value", raw))
		return 0, false
	}
	return float32(v), true
}

func envInt(key string) (int32, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		zap.L().Warn("ignoring invalid llm setting", zap.String("key", key), zap.String("value", raw))
		return 0, false
	}
	return int32(v), true
}

// Client issues single-turn prompts against one model.
type Client struct {
	client *genai.Client
	cfg    Config
	logger *zap.Logger
}

// New connects to the Gemini API.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	genClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create generative ai client: %w", err)
	}
	logger.Info("llm client ready", zap.String("model", cfg.Model))
	return &Client{client: genClient, cfg: cfg, logger: logger}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Close releases the SDK client.
func (c *Client) Close() error {
	return c.client.Close()
}

// GenerateText sends systemPrompt and the non-blank userParts and returns
// the first text candidate.
func (c *Client) GenerateText(ctx context.Context, systemPrompt string, userParts ...string) (string, error) {
	parts := promptParts(userParts)
	if len(parts) == 0 {
		return "", ErrEmptyPrompt
	}

	model := c.client.GenerativeModel(c.cfg.Model)
	c.applyGenerationConfig(model)
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Role: "system", Parts: []genai.Part{genai.Text(systemPrompt)}}
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text, err := extractText(resp)
	if err != nil {
		c.logger.Warn("llm returned no text", zap.String("model", c.cfg.Model))
		return "", err
	}
	return text, nil
}

func promptParts(userParts []string) []genai.Part {
	parts := make([]genai.Part, 0, len(userParts))
	for _, part := range userParts {
		if text := strings.TrimSpace(part); text != "" {
			parts = append(parts, genai.Text(text))
		}
	}
	return parts
}

func (c *Client) applyGenerationConfig(model *genai.GenerativeModel) {
	model.GenerationConfig.SetTemperature(c.cfg.Temperature)
	if c.cfg.MaxTokens > 0 {
		model.GenerationConfig.SetMaxOutputTokens(c.cfg.MaxTokens)
	}
	if c.cfg.TopP != nil {
		model.GenerationConfig.SetTopP(*c.cfg.TopP)
	}
	if c.cfg.TopK != nil {
		model.GenerationConfig.SetTopK(*c.cfg.TopK)
	}
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", ErrNoText
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			switch v := part.(type) {
			case genai.Text:
				sb.WriteString(string(v))
			case *genai.Text:
				sb.WriteString(string(*v))
			}
		}
		if sb.Len() > 0 {
			return sb.String(), nil
		}
	}
	return "", ErrNoText
}
