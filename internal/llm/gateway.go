package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/nelson-gpt/backend/internal/metrics"
	"github.com/nelson-gpt/backend/pkg/circuitbreaker"
	"github.com/nelson-gpt/backend/pkg/config"
	"github.com/nelson-gpt/backend/pkg/logger"
)

// FallbackAnswer is returned when no backend produced a completion.
const FallbackAnswer = "I apologize, but I'm currently unable to process your request due to technical issues. " +
	"Please consult with a healthcare professional for medical advice."

const SystemPrompt = `You are Nelson-GPT, a specialized pediatric medical AI assistant. You provide evidence-based ` +
	`medical information grounded in the Nelson Textbook of Pediatrics.

Guidelines:
- Base answers on established pediatric clinical practice and cite the provided references when available
- Consider age-specific dosing, developmental stages and pediatric presentations
- Flag red-flag symptoms that require urgent or emergency care
- Never replace an in-person evaluation; recommend consulting a pediatrician
- When asked for JSON, respond with a single JSON object and nothing else`

var errEmptyChoices = errors.New("completion returned no choices")

type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

// Completion is the outcome of one gateway call. Fallback is set when every
// backend failed and Text holds FallbackAnswer.
type Completion struct {
	Text     string
	Provider string
	Fallback bool
}

type Provider struct {
	name   string
	model  string
	client *openai.Client
	cb     *circuitbreaker.CircuitBreaker
}

func NewProvider(cfg config.ProviderConfig) *Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return newProvider(cfg.Name, cfg.Model, openai.NewClientWithConfig(clientCfg))
}

func newProvider(name, model string, client *openai.Client) *Provider {
	return &Provider{
		name:   name,
		model:  model,
		client: client,
		cb: circuitbreaker.NewCircuitBreaker("completion:"+name, circuitbreaker.Config{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			OnStateChange:    metrics.ObserveBreakerState,
			Logger:           logger.GetLogger(),
		}),
	}
}

func (p *Provider) Name() string { return p.name }

type Gateway struct {
	providers   []*Provider
	temperature float32
	maxTokens   int
	timeout     time.Duration
}

type GatewayOptions struct {
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

func NewGateway(opts GatewayOptions, providers ...*Provider) *Gateway {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.name+"/"+p.model)
	}
	logger.Info("Completion gateway initialized", zap.Strings("providers", names))

	return &Gateway{
		providers:   providers,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		timeout:     opts.Timeout,
	}
}

// Complete tries each backend once, in order. It never returns an error:
// total failure yields FallbackAnswer with Fallback set.
func (g *Gateway) Complete(ctx context.Context, req Request) Completion {
	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = SystemPrompt
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = g.temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.maxTokens
	}

	chat := openai.ChatCompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	for _, p := range g.providers {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		text, err := g.try(ctx, p, chat)
		if err == nil {
			metrics.UpstreamDuration.WithLabelValues("completion", p.name).Observe(time.Since(start).Seconds())
			return Completion{Text: text, Provider: p.name}
		}

		metrics.UpstreamFailures.WithLabelValues("completion", p.name).Inc()
		logger.Warn("Completion backend failed, trying next",
			zap.String("provider", p.name),
			zap.String("model", p.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
	}

	logger.Error("All completion backends failed, returning fallback answer")
	metrics.CompletionFallbacks.Inc()
	return Completion{Text: FallbackAnswer, Fallback: true}
}

func (g *Gateway) try(ctx context.Context, p *Provider, chat openai.ChatCompletionRequest) (string, error) {
	chat.Model = p.model

	var text string
	err := p.cb.Execute(ctx, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		resp, err := p.client.CreateChatCompletion(callCtx, chat)
		if err != nil {
			return fmt.Errorf("%s chat completion: %w", p.name, err)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return errEmptyChoices
		}

		logger.Debug("Completion generated",
			zap.String("provider", p.name),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		)
		metrics.TokensUsed.WithLabelValues(p.name, "prompt").Add(float64(resp.Usage.PromptTokens))
		metrics.TokensUsed.WithLabelValues(p.name, "completion").Add(float64(resp.Usage.CompletionTokens))

		text = resp.Choices[0].Message.Content
		return nil
	})
	return text, err
}
