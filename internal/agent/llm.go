package agent

import "context"

// TextCompleter is what generation-backed agents need from the LLM client.
// Unconfigured clients trigger deterministic mock output so the pipeline
// runs end-to-end in development.
type TextCompleter interface {
	Complete(ctx context.Context, system, user string) (string, error)
	IsConfigured() bool
}

const systemPrompt = `You are a short-form video script specialist working inside an automated pipeline.
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`
