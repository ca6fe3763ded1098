// Package llm contains the external-scorer contract for memory
// consolidation: prompt assembly, defensive response parsing, and the
// transport plumbing (Ollama client, circuit breaker) behind it.
package llm

import "context"

// TextGenerator is the interface for LLM text completion. All scoring
// prompts use single-string completion style (not chat).
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}
