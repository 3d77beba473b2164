// Package rooms implements the command & steering coordination core for a
// chat-room agent bot: prefix parsing and channel-policy resolution
// (CommandResolver), per-session work serialization with compaction
// (SteeringQueue), debounced proactive interjection (ProactiveDebouncer), and
// the RoomCommandHandler orchestrator that wires them together.
package rooms

import "strings"

// RoomMessage is one inbound delivery from a chat room. Immutable per delivery.
type RoomMessage struct {
	ServerTag   string
	ChannelName string
	Nick        string
	MyNick      string
	Content     string
	Arc         string // opaque conversation-group identifier
	Secrets     map[string]string
	ThreadID    string // empty if the platform/message isn't threaded
}

// HasThread reports whether this message belongs to a threaded conversation.
func (m RoomMessage) HasThread() bool { return m.ThreadID != "" }

// SteeringKey scopes a steering session: thread-shared across users when
// ThreadID is set, otherwise isolated per lowercased sender nick.
type SteeringKey struct {
	Arc      string
	Scope    string
	ThreadID string
}

// KeyForMessage derives the SteeringKey for a message per spec: threaded
// messages share one key across all participants ("*" scope); flat-channel
// messages are scoped per lowercased sender.
func KeyForMessage(msg RoomMessage) SteeringKey {
	if msg.HasThread() {
		return SteeringKey{Arc: msg.Arc, Scope: "*", ThreadID: msg.ThreadID}
	}
	return SteeringKey{Arc: msg.Arc, Scope: strings.ToLower(msg.Nick)}
}

// ContextMessage is one entry of conversation history/context as passed to
// the classifier, actor runtime, and steering drain — role + content pairs.
type ContextMessage struct {
	Role    string
	Content string
}

// SteeringContextMessage formats an inbound message the way a drained
// steering item is presented to the in-flight actor run.
func SteeringContextMessage(msg RoomMessage) ContextMessage {
	return ContextMessage{Role: "user", Content: "<" + msg.Nick + "> " + msg.Content}
}
