// Package history defines the conversation-history and LLM-call-ledger
// boundary the orchestrator depends on, plus a SQLite-backed implementation.
// Types here intentionally mirror (rather than import) internal/rooms's
// message shape, keeping this package free of any dependency back onto the
// orchestrator package.
package history

import (
	"context"
	"time"
)

// MessageRef identifies the room message a history operation concerns.
type MessageRef struct {
	ServerTag   string
	ChannelName string
	ThreadID    string
	Nick        string
	Content     string
	Arc         string
}

// ContextMessage is one entry of conversational context, role + content.
type ContextMessage struct {
	Role    string
	Content string
}

// Entry is one persisted room message.
type Entry struct {
	ID          int64
	ServerTag   string
	ChannelName string
	ThreadID    string
	Nick        string
	Content     string
	Mode        string
	LLMCallID   *int64
	Arc         string
	Timestamp   time.Time
}

// LLMCall is one persisted LLM invocation, logged so its cost and token
// usage can be attributed back to the message it produced.
type LLMCall struct {
	ID                int64
	Provider          string
	Model             string
	InputTokens       *int
	OutputTokens      *int
	Cost              *float64
	CallType          string
	Arc               string
	TriggerMessageID  int64
	ResponseMessageID *int64
	Timestamp         time.Time
}

// AddMessageOpts are the optional extras accepted by AddMessage: the command
// mode tag, a linked LLM call id, and a content wrapper template (used for
// the "internal monologue" persistence path, which never reaches the room).
type AddMessageOpts struct {
	Mode            string
	LLMCallID       *int64
	ContentTemplate string
}

// Store is the conversation-history and LLM-call-ledger boundary. Both the
// command path and the proactive path read fixed context snapshots from it
// and write their own responses back.
type Store interface {
	AddMessage(ctx context.Context, ref MessageRef, opts AddMessageOpts) (int64, error)
	GetContextForMessage(ctx context.Context, ref MessageRef, size int) ([]ContextMessage, error)
	GetRecentMessagesSince(ctx context.Context, serverTag, channelName, nick string, since time.Time, threadID string) ([]Entry, error)
	LogLLMCall(ctx context.Context, call LLMCall) (int64, error)
	UpdateLLMCallResponse(ctx context.Context, llmCallID, responseMessageID int64) error
	GetArcCostToday(ctx context.Context, arc string) (float64, error)
}
