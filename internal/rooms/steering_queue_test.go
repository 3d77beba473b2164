package rooms

import "testing"

func noopReply(text string) error { return nil }

func TestKeyForMessage_ThreadedSharesScope(t *testing.T) {
	a := RoomMessage{Arc: "irc#general", Nick: "alice", ThreadID: "t1"}
	b := RoomMessage{Arc: "irc#general", Nick: "bob", ThreadID: "t1"}

	ka, kb := KeyForMessage(a), KeyForMessage(b)
	if ka != kb {
		t.Fatalf("expected threaded messages from different senders to share a key, got %+v vs %+v", ka, kb)
	}
	if ka.Scope != "*" {
		t.Errorf("expected threaded scope \"*\", got %q", ka.Scope)
	}
}

func TestKeyForMessage_FlatChannelScopedPerSenderLowercased(t *testing.T) {
	a := RoomMessage{Arc: "irc#general", Nick: "Alice"}
	b := RoomMessage{Arc: "irc#general", Nick: "alice"}
	c := RoomMessage{Arc: "irc#general", Nick: "bob"}

	ka, kb, kc := KeyForMessage(a), KeyForMessage(b), KeyForMessage(c)
	if ka != kb {
		t.Errorf("expected nick comparison to be case-insensitive, got %+v vs %+v", ka, kb)
	}
	if ka == kc {
		t.Errorf("expected different senders to get different keys, got same %+v", ka)
	}
}

func TestEnqueueCommandOrStartRunner_FirstCallerIsRunner(t *testing.T) {
	q := NewSteeringQueue()
	msg := RoomMessage{Arc: "a", Nick: "alice"}

	isRunner, key, item := q.EnqueueCommandOrStartRunner(msg, 1, noopReply)
	if !isRunner {
		t.Fatal("expected first enqueue for a fresh key to be the runner")
	}
	if item.Kind != KindCommand {
		t.Errorf("expected KindCommand, got %q", item.Kind)
	}

	isRunner2, key2, _ := q.EnqueueCommandOrStartRunner(msg, 2, noopReply)
	if isRunner2 {
		t.Fatal("expected second enqueue for the same key to be a waiter, not a runner")
	}
	if key != key2 {
		t.Fatalf("expected same key for same message, got %+v vs %+v", key, key2)
	}
}

func TestEnqueuePassiveIfSessionExists_NoSessionReturnsNil(t *testing.T) {
	q := NewSteeringQueue()
	msg := RoomMessage{Arc: "a", Nick: "alice"}

	if item := q.EnqueuePassiveIfSessionExists(msg, noopReply); item != nil {
		t.Fatalf("expected nil when no runner session exists, got %+v", item)
	}
}

func TestTakeNextWorkCompacted_CommandDropsLeadingPassives(t *testing.T) {
	q := NewSteeringQueue()
	msg := RoomMessage{Arc: "a", Nick: "alice"}

	_, key, _ := q.EnqueueCommandOrStartRunner(msg, 1, noopReply)

	p1 := q.EnqueuePassiveIfSessionExists(msg, noopReply)
	p2 := q.EnqueuePassiveIfSessionExists(msg, noopReply)
	_, _, cmd := q.EnqueueCommandOrStartRunner(msg, 2, noopReply)
	p3 := q.EnqueuePassiveIfSessionExists(msg, noopReply)

	dropped, next := q.TakeNextWorkCompacted(key)

	if len(dropped) != 2 || dropped[0] != p1 || dropped[1] != p2 {
		t.Fatalf("expected the two leading passives dropped, got %+v", dropped)
	}
	if next != cmd {
		t.Fatalf("expected the command to be next, got %+v", next)
	}

	// p3 (enqueued after the command) remains queued behind it.
	dropped2, next2 := q.TakeNextWorkCompacted(key)
	if len(dropped2) != 0 {
		t.Errorf("expected no drops on the all-passive tail, got %+v", dropped2)
	}
	if next2 != p3 {
		t.Fatalf("expected the trailing passive next, got %+v", next2)
	}

	// Queue is now empty; the session should be released.
	if _, next3 := q.TakeNextWorkCompacted(key); next3 != nil {
		t.Fatalf("expected nil once the queue drains, got %+v", next3)
	}
}

func TestTakeNextWorkCompacted_AllPassiveKeepsOnlyLast(t *testing.T) {
	q := NewSteeringQueue()
	msg := RoomMessage{Arc: "a", Nick: "alice"}

	_, key, _ := q.EnqueueCommandOrStartRunner(msg, 1, noopReply)
	p1 := q.EnqueuePassiveIfSessionExists(msg, noopReply)
	p2 := q.EnqueuePassiveIfSessionExists(msg, noopReply)
	p3 := q.EnqueuePassiveIfSessionExists(msg, noopReply)

	dropped, next := q.TakeNextWorkCompacted(key)
	if len(dropped) != 2 || dropped[0] != p1 || dropped[1] != p2 {
		t.Fatalf("expected all but the last passive dropped, got %+v", dropped)
	}
	if next != p3 {
		t.Fatalf("expected the last passive to survive, got %+v", next)
	}
}

func TestDrainSteeringContextMessages_FIFOAndResolves(t *testing.T) {
	q := NewSteeringQueue()
	msg := RoomMessage{Arc: "a", Nick: "alice"}

	_, key, _ := q.EnqueueCommandOrStartRunner(msg, 1, noopReply)
	m1 := RoomMessage{Arc: "a", Nick: "alice", Content: "first"}
	m2 := RoomMessage{Arc: "a", Nick: "alice", Content: "second"}
	i1 := q.EnqueuePassiveIfSessionExists(m1, noopReply)
	i2 := q.EnqueuePassiveIfSessionExists(m2, noopReply)

	drained := q.DrainSteeringContextMessages(key)
	if len(drained) != 2 || drained[0].Content != "<alice> first" || drained[1].Content != "<alice> second" {
		t.Fatalf("expected FIFO-ordered steering context, got %+v", drained)
	}
	if err := i1.Wait(); err != nil {
		t.Errorf("expected drained item to resolve with nil error, got %v", err)
	}
	if err := i2.Wait(); err != nil {
		t.Errorf("expected drained item to resolve with nil error, got %v", err)
	}

	if got := q.DrainSteeringContextMessages(key); got != nil {
		t.Errorf("expected nil on an already-drained/empty queue, got %+v", got)
	}
}

func TestFinishAndFailItem_Idempotent(t *testing.T) {
	q := NewSteeringQueue()
	msg := RoomMessage{Arc: "a", Nick: "alice"}
	_, _, item := q.EnqueueCommandOrStartRunner(msg, 1, noopReply)

	q.FinishItem(item)
	// A second resolve attempt, even with a different outcome, must not panic
	// or overwrite the first result or block.
	q.FailItem(item, errBoom)

	if err := item.Wait(); err != nil {
		t.Errorf("expected first resolution (nil) to stick, got %v", err)
	}
}

func TestAbortSession_FailsQueuedItemsAndClearsSession(t *testing.T) {
	q := NewSteeringQueue()
	msg := RoomMessage{Arc: "a", Nick: "alice"}
	_, key, _ := q.EnqueueCommandOrStartRunner(msg, 1, noopReply)
	p1 := q.EnqueuePassiveIfSessionExists(msg, noopReply)

	aborted := q.AbortSession(key, errBoom)
	if len(aborted) != 1 || aborted[0] != p1 {
		t.Fatalf("expected the queued passive to be returned, got %+v", aborted)
	}
	if err := p1.Wait(); err != errBoom {
		t.Errorf("expected queued item to fail with errBoom, got %v", err)
	}

	// Session is gone: a fresh enqueue for the key becomes the runner again.
	isRunner, _, _ := q.EnqueueCommandOrStartRunner(msg, 2, noopReply)
	if !isRunner {
		t.Error("expected a fresh session after abort")
	}
}

var errBoom = testError("boom")

type testError string

func (e testError) Error() string { return string(e) }
