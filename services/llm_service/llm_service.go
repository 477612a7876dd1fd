package llm_service

import "context"

// LLMService generates a completion for an assembled prompt. Implementations
// own their retry policy and provider error handling.
type LLMService interface {
	CallLLM(ctx context.Context, systemPrompt, prompt string) (string, error)
}
