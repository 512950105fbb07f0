package battle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emberlight/realtime-backend/pkg/protocol"
)

const battleChan = "b-7c1d"

// testEngine pins the clock so cooldown windows are deterministic.
func testEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()
	e := NewEngine(zap.NewNop())
	now := time.Unix(1_700_000_000, 0)
	e.now = func() time.Time { return now }
	return e, &now
}

func joinAll(t *testing.T, e *Engine, users ...string) {
	t.Helper()
	for i, u := range users {
		events := e.OnSubscribe(battleChan, u)
		require.Len(t, events, 1)
		require.Equal(t, protocol.CodeBattleJoined, events[0].Code)
		require.Equal(t, int64(i), events[0].Args[0], "actor index must follow join order")
	}
}

func action(actor, skill, target int, gauge float64) Input {
	in, _ := ParseInput(protocol.CodeBattleAction,
		[]any{int64(actor), int64(skill), int64(target), gauge})
	return in
}

func move(actor int, x, y float64) Input {
	in, _ := ParseInput(protocol.CodeBattleMove, []any{int64(actor), x, y})
	return in
}

func TestActorIndexAssignmentAndReconnect(t *testing.T) {
	e, _ := testEngine(t)
	joinAll(t, e, "u-0", "u-1")

	// Disconnect and rejoin: the slot and its index survive.
	e.OnUnsubscribe(battleChan, "u-1")
	events := e.OnSubscribe(battleChan, "u-1")
	require.Equal(t, int64(1), events[0].Args[0])

	// A genuinely new participant gets the next index.
	events = e.OnSubscribe(battleChan, "u-2")
	require.Equal(t, int64(2), events[0].Args[0])
}

func TestActorSpoofIsRejectedAndNeverRelayed(t *testing.T) {
	e, _ := testEngine(t)
	joinAll(t, e, "u-0", "u-1")

	// u-0 is actor 0 but claims actor 1.
	events := e.Handle(battleChan, "u-0", action(1, 10, 1, 100))
	require.Len(t, events, 1)
	assert.Equal(t, "u-0", events[0].To)
	assert.Equal(t, protocol.CodeBattleReject, events[0].Code)
	assert.Equal(t, ReasonActorMismatch, events[0].Args[0])
}

func TestActionCooldown(t *testing.T) {
	e, now := testEngine(t)
	joinAll(t, e, "u-0", "u-1")

	events := e.Handle(battleChan, "u-0", action(0, 10, 1, 100))
	require.Len(t, events, 2, "valid action: ack + relay")

	*now = now.Add(ActionCooldown / 2)
	events = e.Handle(battleChan, "u-0", action(0, 10, 1, 100))
	require.Len(t, events, 1)
	assert.Equal(t, ReasonTooFast, events[0].Args[0])

	*now = now.Add(ActionCooldown)
	events = e.Handle(battleChan, "u-0", action(0, 10, 1, 100))
	assert.Len(t, events, 2, "cooldown elapsed: action accepted again")
}

func TestGaugeBelowThresholdRejectedWithCorrection(t *testing.T) {
	e, _ := testEngine(t)
	joinAll(t, e, "u-0", "u-1")

	events := e.Handle(battleChan, "u-0", action(0, 10, 1, 50))
	require.Len(t, events, 1)
	assert.Equal(t, protocol.CodeBattleReject, events[0].Code)
	assert.Equal(t, ReasonGaugeTooLow, events[0].Args[0])
	assert.Equal(t, GaugeMax, events[0].Args[1], "server echoes its gauge view")
}

func TestSkillAndTargetBounds(t *testing.T) {
	e, now := testEngine(t)
	joinAll(t, e, "u-0", "u-1")

	cases := []struct {
		name   string
		in     Input
		reason string
	}{
		{"skill too high", action(0, SkillIDMax+1, 1, 100), ReasonSkillRange},
		{"skill zero", action(0, 0, 1, 100), ReasonSkillRange},
		{"target out of range", action(0, 10, 7, 100), ReasonInvalidTarget},
		{"negative target", action(0, 10, -1, 100), ReasonInvalidTarget},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			*now = now.Add(time.Second)
			events := e.Handle(battleChan, "u-0", tc.in)
			require.Len(t, events, 1)
			assert.Equal(t, tc.reason, events[0].Args[0])
		})
	}
}

func TestValidActionAcksAndRelays(t *testing.T) {
	e, _ := testEngine(t)
	joinAll(t, e, "u-0", "u-1")

	raw := []any{int64(0), int64(42), int64(1), float64(100), "opaque-client-payload"}
	in, err := ParseInput(protocol.CodeBattleAction, raw)
	require.NoError(t, err)

	events := e.Handle(battleChan, "u-0", in)
	require.Len(t, events, 2)

	ack, relay := events[0], events[1]
	assert.Equal(t, "u-0", ack.To)
	assert.Equal(t, protocol.CodeBattleAck, ack.Code)
	assert.Empty(t, relay.To)
	assert.Equal(t, "u-0", relay.Exclude)
	assert.Equal(t, protocol.CodeBattleAction, relay.Code)
	assert.Equal(t, raw, relay.Args, "relayed payload is the opaque original")
}

func TestOutOfBoundsPositionIsForceCorrected(t *testing.T) {
	e, _ := testEngine(t)
	joinAll(t, e, "u-0", "u-1")

	events := e.Handle(battleChan, "u-0", move(0, FieldWidth+50, -20))
	require.Len(t, events, 1)
	assert.Equal(t, "u-0", events[0].To)
	assert.Equal(t, protocol.CodeBattleCorrection, events[0].Code)
	assert.Equal(t, FieldWidth, events[0].Args[0])
	assert.Equal(t, 0.0, events[0].Args[1])
}

func TestFirstPositionReportSetsBaseline(t *testing.T) {
	e, _ := testEngine(t)
	joinAll(t, e, "u-0", "u-1")

	// A spawn far from the origin is not a teleport; there is no previous
	// position to measure against.
	events := e.Handle(battleChan, "u-0", move(0, 800, 600))
	require.Len(t, events, 1)
	assert.Equal(t, protocol.CodeBattleMove, events[0].Code)

	// The baseline took: a small step from there relays too.
	events = e.Handle(battleChan, "u-0", move(0, 790, 590))
	require.Len(t, events, 1)
	assert.Equal(t, protocol.CodeBattleMove, events[0].Code)

	// And a jump back across the field is now measurable and rejected.
	events = e.Handle(battleChan, "u-0", move(0, 10, 10))
	require.Len(t, events, 1)
	assert.Equal(t, ReasonTeleport, events[0].Args[0])
}

func TestMovementDeltaLimits(t *testing.T) {
	e, _ := testEngine(t)
	joinAll(t, e, "u-0", "u-1")

	// Establish a position.
	events := e.Handle(battleChan, "u-0", move(0, 100, 100))
	require.Len(t, events, 1)
	require.Equal(t, protocol.CodeBattleMove, events[0].Code)

	// Above the soft limit: logged but accepted.
	events = e.Handle(battleChan, "u-0", move(0, 400, 100))
	require.Len(t, events, 1)
	assert.Equal(t, protocol.CodeBattleMove, events[0].Code)

	// Above the hard limit: teleport, rejected.
	events = e.Handle(battleChan, "u-0", move(0, 400, 624))
	require.Len(t, events, 1)
	assert.Equal(t, protocol.CodeBattleReject, events[0].Code)
	assert.Equal(t, ReasonTeleport, events[0].Args[0])
}

func TestSweepLifecycles(t *testing.T) {
	e, now := testEngine(t)

	// End event + grace.
	e.OnSubscribe("b-ended", "u-0")
	endIn, _ := ParseInput(protocol.CodeBattleEnd, []any{int64(0)})
	e.Handle("b-ended", "u-0", endIn)

	// All disconnected + empty grace.
	e.OnSubscribe("b-empty", "u-1")
	e.OnUnsubscribe("b-empty", "u-1")

	// Still healthy.
	e.OnSubscribe("b-live", "u-2")

	assert.Empty(t, e.Sweep(*now), "nothing expires immediately")

	removed := e.Sweep(now.Add(EndGrace))
	assert.Equal(t, []string{"b-ended"}, removed)

	removed = e.Sweep(now.Add(EmptyGrace))
	assert.Equal(t, []string{"b-empty"}, removed)

	removed = e.Sweep(now.Add(HardTimeout))
	assert.Equal(t, []string{"b-live"}, removed)
	assert.Zero(t, e.Count())
}

func TestReconnectCancelsEmptyGrace(t *testing.T) {
	e, now := testEngine(t)
	e.OnSubscribe(battleChan, "u-0")
	e.OnUnsubscribe(battleChan, "u-0")
	e.OnSubscribe(battleChan, "u-0")

	assert.Empty(t, e.Sweep(now.Add(EmptyGrace)),
		"reconnection must clear the empty-grace clock")
}

func TestParseInputShapes(t *testing.T) {
	_, err := ParseInput(protocol.CodeBattleMove, []any{int64(0), "east", float64(1)})
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = ParseInput(protocol.CodeBattleAction, []any{int64(0)})
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = ParseInput("btl/unknown", []any{int64(0)})
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = ParseInput(protocol.CodeBattleGuard, nil)
	assert.ErrorIs(t, err, ErrMalformedInput)

	// Integer coordinates are accepted and widened.
	in, err := ParseInput(protocol.CodeBattleMove, []any{int64(0), int64(10), int64(20)})
	require.NoError(t, err)
	assert.Equal(t, 10.0, in.X)
	assert.Equal(t, 20.0, in.Y)
}
