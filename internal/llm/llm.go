package llm

import "context"

// Generator is a minimal generation-provider interface. The RAG engine owns
// prompt construction and output parsing; providers only complete text.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
