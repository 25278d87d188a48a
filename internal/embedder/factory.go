package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string // jina, openai, local; empty auto-detects
	Model     string
	APIKey    string
	BaseURL   string
	CacheSize int
}

// New creates an embedder from cfg. With no provider set it picks Jina when
// JINA_API_KEY is present, then OpenAI when OPENAI_API_KEY is, else the local provider.
func New(cfg Config) (Embedder, error) {
	cache := NewCache(cfg.CacheSize)

	switch DetectProvider(cfg.Provider) {
	case ProviderJina:
		return NewJinaProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL, cache)
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider New would use for the configured name
func DetectProvider(configured string) string {
	if configured != "" {
		return strings.ToLower(configured)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}
