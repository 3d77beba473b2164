// Package actorrt defines the boundary to the external agent runtime that
// actually invokes LLMs and tools. RoomCommandHandler depends only on this
// interface, never on a concrete provider stack.
package actorrt

import "context"

// AgentResult is what one actor invocation returns.
type AgentResult struct {
	Text              string
	TotalInputTokens  *int
	TotalOutputTokens *int
	TotalCost         *float64
	ToolCallsCount    int
	PrimaryModel      string
}

// ContextMessage mirrors rooms.ContextMessage without importing internal/rooms,
// keeping this package free of a dependency on the orchestrator.
type ContextMessage struct {
	Role    string
	Content string
}

// SteeringMessageProvider is polled by the runtime mid-turn to pick up
// inbound messages queued behind the run, letting the actor incorporate
// late-arriving input before it finishes.
type SteeringMessageProvider func(ctx context.Context) ([]ContextMessage, error)

// ProgressCallback streams intermediate actor output back to the channel
// (and, per the caller, into history) before the run completes.
type ProgressCallback func(ctx context.Context, text string) error

// PersistenceCallback records actor-internal monologue/state without
// sending it to the channel.
type PersistenceCallback func(ctx context.Context, text string) error

// RunParams is everything the orchestrator hands the runtime for one turn.
type RunParams struct {
	Context         []ContextMessage
	MyNick          string
	Mode            string
	SystemPrompt    string
	Model           string
	ReasoningEffort string
	AllowedTools    []string
	Arc             string
	Secrets         map[string]string
	NoContext       bool

	SteeringMessages SteeringMessageProvider
	Progress         ProgressCallback
	Persistence      PersistenceCallback
}

// ActorRuntime is the external collaborator that runs an LLM-backed turn.
type ActorRuntime interface {
	RunActor(ctx context.Context, params RunParams) (*AgentResult, error)
}

// RawModelCaller makes a single-shot model call outside the actor/tool loop,
// used for mode classification and proactive-interjection scoring — both
// need a plain prompt-in, text-out round trip against a specific model
// rather than a full tool-using turn.
type RawModelCaller interface {
	CallRaw(ctx context.Context, model string, context []ContextMessage, prompt string) (string, error)
}
