// Package llm talks to the chat model providers. Failures come back as
// *ProviderError so callers can pick an apology without parsing provider text.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/fabfab/palms-chat/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation. Role is one of the Role constants.
type Message struct {
	Role    string
	Content string
}

// Client generates a single reply for a conversation.
//
// Generate returns the model's raw text. A failed call returns an error wrapping a
// *ProviderError whose Kind is KindAuth, KindRateLimit, KindTimeout or
// KindProvider; use KindOf to read it. An expired ctx deadline reports
// KindTimeout.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Options configures a provider client. A zero Timeout leaves the request bound
// only by ctx.
type Options struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func optionsFromConfig(cfg config.Config) Options {
	return Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		Timeout:       cfg.LLM.Timeout,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}
}

// NewClient builds the client for cfg.LLM.Provider. A missing OpenAI key fails here;
// a rejected one only shows up as KindAuth on the first Generate.
func NewClient(cfg config.Config) (Client, error) {
	opts := optionsFromConfig(cfg)

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}
