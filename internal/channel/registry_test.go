package channel

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
)

type fakeSub struct {
	id     string
	user   string
	frames [][]byte
	fail   bool
}

func (f *fakeSub) ID() string     { return f.id }
func (f *fakeSub) UserID() string { return f.user }
func (f *fakeSub) Enqueue(data []byte) error {
	if f.fail {
		return errors.New("queue full")
	}
	f.frames = append(f.frames, data)
	return nil
}

func newSub(i int) *fakeSub {
	return &fakeSub{id: fmt.Sprintf("conn-%d", i), user: fmt.Sprintf("u-%d", i)}
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	subs := make([]*fakeSub, 0, 4)
	for i := 0; i < 4; i++ {
		s := newSub(i)
		subs = append(subs, s)
		r.Subscribe(s, "map", "12")
	}

	if got := r.Publish("map", "12", []byte("hi"), nil); got != 4 {
		t.Fatalf("publish sent = %d, want 4", got)
	}
	for _, s := range subs {
		if len(s.frames) != 1 {
			t.Fatalf("subscriber %s got %d frames, want 1", s.id, len(s.frames))
		}
	}

	if got := r.Publish("map", "12", []byte("hi"), subs[0]); got != 3 {
		t.Fatalf("publish with exclude sent = %d, want 3", got)
	}
	if len(subs[0].frames) != 1 {
		t.Fatalf("excluded subscriber received the frame")
	}
}

func TestPublishToMissingChannelSendsNothing(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	if got := r.Publish("map", "99", []byte("x"), nil); got != 0 {
		t.Fatalf("missing channel: sent = %d, want 0", got)
	}
	if got := r.BroadcastToGroup("party", []byte("x"), nil); got != 0 {
		t.Fatalf("missing group: sent = %d, want 0", got)
	}
	if r.HasGroup("map") {
		t.Fatalf("publish to missing channel must not create state")
	}
}

func TestSendFailureDoesNotAbortDelivery(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	bad := newSub(0)
	bad.fail = true
	good := newSub(1)
	r.Subscribe(bad, "map", "1")
	r.Subscribe(good, "map", "1")

	if got := r.Publish("map", "1", []byte("x"), nil); got != 1 {
		t.Fatalf("sent = %d, want 1 (failure skipped, not fatal)", got)
	}
	if len(good.frames) != 1 {
		t.Fatalf("healthy subscriber missed the frame")
	}
}

func TestUnsubscribeCleansEmptyEntries(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	a, b := newSub(0), newSub(1)
	r.Subscribe(a, "guild", "g-1")
	r.Subscribe(b, "guild", "g-1")

	r.Unsubscribe(a, "guild", "g-1")
	if !r.HasChannel("guild", "g-1") {
		t.Fatalf("channel removed while it still had a subscriber")
	}

	r.Unsubscribe(b, "guild", "g-1")
	if r.HasChannel("guild", "g-1") {
		t.Fatalf("empty channel entry survived")
	}
	if r.HasGroup("guild") {
		t.Fatalf("empty group entry survived")
	}
}

func TestSingleChannelPerGroup(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	s := newSub(0)
	r.Subscribe(s, "map", "1")
	r.Subscribe(s, "map", "2")

	if r.HasChannel("map", "1") {
		t.Fatalf("subscriber still present in previous channel of the group")
	}
	if got := r.Channel(s, "map"); got != "2" {
		t.Fatalf("Channel = %q, want %q", got, "2")
	}

	// A second subscribe to the same channel stays idempotent.
	r.Subscribe(s, "map", "2")
	if got := r.Publish("map", "2", []byte("x"), nil); got != 1 {
		t.Fatalf("idempotent subscribe: sent = %d, want 1", got)
	}

	// Different groups are independent.
	r.Subscribe(s, "party", "p-1")
	if got := r.Channel(s, "map"); got != "2" {
		t.Fatalf("subscribing in another group moved the map channel to %q", got)
	}
}

func TestUnsubscribeAllIsSafeAndComplete(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	// Never subscribed: must be a no-op.
	r.UnsubscribeAll(newSub(9))

	s := newSub(0)
	r.Subscribe(s, "map", "1")
	r.Subscribe(s, "party", "p-1")
	r.Subscribe(s, "guild", "g-1")

	r.UnsubscribeAll(s)
	for _, group := range []string{"map", "party", "guild"} {
		if r.HasGroup(group) {
			t.Fatalf("group %q survived full teardown", group)
		}
	}
	if got := r.Channel(s, "map"); got != "" {
		t.Fatalf("reverse index survived teardown: %q", got)
	}
}

func TestBroadcastToGroupUnionsChannels(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	a, b, c := newSub(0), newSub(1), newSub(2)
	r.Subscribe(a, "map", "1")
	r.Subscribe(b, "map", "1")
	r.Subscribe(c, "map", "2")

	if got := r.BroadcastToGroup("map", []byte("x"), b); got != 2 {
		t.Fatalf("group broadcast sent = %d, want 2", got)
	}
	if len(b.frames) != 0 {
		t.Fatalf("excluded subscriber received the broadcast")
	}
}

func TestSnapshotCounts(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	r.Subscribe(newSub(0), "map", "1")
	r.Subscribe(newSub(1), "map", "1")
	r.Subscribe(newSub(2), "trade", "t-abc")

	snap := r.Snapshot()
	counts := make(map[string]int)
	for _, gs := range snap {
		for ch, n := range gs.Channels {
			counts[gs.Group+"/"+ch] = n
		}
	}
	if counts["map/1"] != 2 || counts["trade/t-abc"] != 1 {
		t.Fatalf("snapshot counts wrong: %+v", counts)
	}
}
