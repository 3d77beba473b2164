package rooms

import "sync"

// QueuedInboundMessage is one inbound item waiting on an active steering
// session runner. Kind distinguishes an explicit command from a passive
// (unaddressed) message — a two-variant tagged union rather than an
// interface hierarchy, per the source design notes.
type QueuedInboundMessage struct {
	Kind             string // "command" | "passive"
	Msg              RoomMessage
	TriggerMessageID int64 // set for commands, zero for passive
	ReplySender      func(text string) error

	completion chan error
	resolved   bool
}

const (
	KindCommand = "command"
	KindPassive = "passive"
)

func newQueuedInboundMessage(kind string, msg RoomMessage, triggerMessageID int64, replySender func(text string) error) *QueuedInboundMessage {
	return &QueuedInboundMessage{
		Kind:             kind,
		Msg:              msg,
		TriggerMessageID: triggerMessageID,
		ReplySender:      replySender,
		completion:       make(chan error, 1),
	}
}

// Wait blocks until the item has been processed, dropped, or steered,
// returning any failure recorded via FailItem/AbortSession.
func (q *QueuedInboundMessage) Wait() error {
	return <-q.completion
}

// steeringSession is the in-flight state for one SteeringKey: it exists iff
// a runner goroutine currently owns the key.
type steeringSession struct {
	queue []*QueuedInboundMessage
}

// SteeringQueue guarantees at-most-one in-flight runner per SteeringKey,
// queues follow-ups behind it, and compacts queued noise between runs.
// A single mutex protects the sessions map and every session's queue;
// critical sections never perform I/O — callers must not hold the lock
// across a blocking call.
type SteeringQueue struct {
	mu       sync.Mutex
	sessions map[SteeringKey]*steeringSession
}

// NewSteeringQueue constructs an empty queue.
func NewSteeringQueue() *SteeringQueue {
	return &SteeringQueue{sessions: make(map[SteeringKey]*steeringSession)}
}

// FinishItem resolves an item's completion successfully. Idempotent.
func (q *SteeringQueue) FinishItem(item *QueuedInboundMessage) {
	q.resolve(item, nil)
}

// FailItem resolves an item's completion with an error. Idempotent.
func (q *SteeringQueue) FailItem(item *QueuedInboundMessage, err error) {
	q.resolve(item, err)
}

func (q *SteeringQueue) resolve(item *QueuedInboundMessage, err error) {
	q.mu.Lock()
	if item.resolved {
		q.mu.Unlock()
		return
	}
	item.resolved = true
	q.mu.Unlock()
	item.completion <- err
}

// EnqueueCommandOrStartRunner either creates a new (empty) session for the
// message's key and reports the caller as the runner, or appends the item
// to an existing session's queue and reports the caller as a waiter.
func (q *SteeringQueue) EnqueueCommandOrStartRunner(msg RoomMessage, triggerMessageID int64, replySender func(text string) error) (isRunner bool, key SteeringKey, item *QueuedInboundMessage) {
	item = newQueuedInboundMessage(KindCommand, msg, triggerMessageID, replySender)
	key = KeyForMessage(msg)

	q.mu.Lock()
	defer q.mu.Unlock()

	session, ok := q.sessions[key]
	if !ok {
		q.sessions[key] = &steeringSession{}
		return true, key, item
	}
	session.queue = append(session.queue, item)
	return false, key, item
}

// EnqueuePassiveIfSessionExists appends a passive item behind an existing
// runner's session, or returns nil if no session owns the key — in which
// case the caller must handle the message inline (the proactive path).
func (q *SteeringQueue) EnqueuePassiveIfSessionExists(msg RoomMessage, replySender func(text string) error) *QueuedInboundMessage {
	key := KeyForMessage(msg)

	q.mu.Lock()
	defer q.mu.Unlock()

	session, ok := q.sessions[key]
	if !ok {
		return nil
	}
	item := newQueuedInboundMessage(KindPassive, msg, 0, replySender)
	session.queue = append(session.queue, item)
	return item
}

// DrainSteeringContextMessages snapshots and clears the session's queue,
// resolving each drained item's completion, and returns them formatted as
// steering context in FIFO order. Safe to call with no session present.
func (q *SteeringQueue) DrainSteeringContextMessages(key SteeringKey) []ContextMessage {
	q.mu.Lock()
	session, ok := q.sessions[key]
	if !ok || len(session.queue) == 0 {
		q.mu.Unlock()
		return nil
	}
	drained := session.queue
	session.queue = nil
	q.mu.Unlock()

	out := make([]ContextMessage, len(drained))
	for i, item := range drained {
		q.FinishItem(item)
		out[i] = SteeringContextMessage(item.Msg)
	}
	return out
}

// TakeNextWorkCompacted removes and returns the next item to process for a
// key, compacting queued noise:
//   - if a command exists in the queue, every passive ahead of it is dropped;
//   - otherwise (all passive), every item but the last is dropped.
//
// When the queue becomes empty the session is removed — the caller (the
// runner loop) must stop iterating the moment next is nil, since at that
// point ownership of the key has already been released.
func (q *SteeringQueue) TakeNextWorkCompacted(key SteeringKey) (dropped []*QueuedInboundMessage, next *QueuedInboundMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	session, ok := q.sessions[key]
	if !ok {
		return nil, nil
	}
	if len(session.queue) == 0 {
		delete(q.sessions, key)
		return nil, nil
	}

	queue := session.queue
	firstCommand := -1
	for i, item := range queue {
		if item.Kind == KindCommand {
			firstCommand = i
			break
		}
	}

	if firstCommand >= 0 {
		dropped = queue[:firstCommand]
		next = queue[firstCommand]
		session.queue = queue[firstCommand+1:]
		return dropped, next
	}

	dropped = queue[:len(queue)-1]
	next = queue[len(queue)-1]
	session.queue = nil
	return dropped, next
}

// AbortSession removes the session for key, fails every item still queued
// with exc (after releasing the lock), and returns those items. The runner's
// own in-flight item is not in the queue and is left to the caller.
func (q *SteeringQueue) AbortSession(key SteeringKey, exc error) []*QueuedInboundMessage {
	q.mu.Lock()
	session, ok := q.sessions[key]
	if ok {
		delete(q.sessions, key)
	}
	q.mu.Unlock()

	if !ok {
		return nil
	}
	for _, item := range session.queue {
		q.FailItem(item, exc)
	}
	return session.queue
}
