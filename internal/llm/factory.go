package llm

import (
	"errors"
	"fmt"
	"strings"

	"jobmail/internal/config"
)

// ErrNotConfigured means the selected provider has no credentials; callers
// fall back to the plain report.
var ErrNotConfigured = errors.New("llm provider not configured")

// NewFromConfig builds the client for cfg.LLMProvider.
func NewFromConfig(cfg *config.Config) (Client, error) {
	switch config.LLMProvider(strings.ToLower(string(cfg.LLMProvider))) {
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is empty", ErrNotConfigured)
		}
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	case config.ProviderYandex:
		if cfg.YandexOAuthToken == "" || cfg.YandexFolderID == "" {
			return nil, fmt.Errorf("%w: YANDEX_OAUTH_TOKEN and YANDEX_FOLDER_ID are required", ErrNotConfigured)
		}
		return NewYandex(cfg.YandexOAuthToken, cfg.YandexFolderID)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLMProvider)
	}
}
