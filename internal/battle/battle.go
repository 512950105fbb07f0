// Package battle implements relay-with-validation arbitration: clients
// compute combat outcomes locally, the server bounds-checks the numeric
// fields it understands and relays validated payloads to peers. It never
// re-derives damage.
package battle

import (
	"time"

	"go.uber.org/zap"

	"github.com/emberlight/realtime-backend/pkg/protocol"
)

const (
	// ActionCooldown is the minimum gap between submitted actions.
	ActionCooldown = 500 * time.Millisecond

	// Battlefield rectangle. Positions outside it are force-corrected.
	FieldWidth  = 816.0
	FieldHeight = 624.0

	// Movement deltas above the soft limit are logged (network jitter is
	// tolerated); above the hard limit they are rejected as teleportation.
	MoveSoftLimit = 200.0
	MoveHardLimit = 500.0

	// ATB gauge. Actions must claim a gauge at or near full.
	GaugeMax            = 100.0
	GaugeReadyThreshold = 96.0

	SkillIDMin = 1
	SkillIDMax = 2000

	// EmptyGrace keeps a battle alive with no connected participants, so a
	// dropped client can reconnect into its slot.
	EmptyGrace = time.Minute
	// EndGrace keeps a battle around briefly after its end event.
	EndGrace = 10 * time.Second
	// HardTimeout destroys a battle session regardless of state.
	HardTimeout = 30 * time.Minute
)

// Machine-readable rejection reasons.
const (
	ReasonTooFast       = "action_too_fast"
	ReasonActorMismatch = "actor_mismatch"
	ReasonGaugeTooLow   = "gauge_too_low"
	ReasonSkillRange    = "skill_out_of_range"
	ReasonInvalidTarget = "invalid_target"
	ReasonTeleport      = "teleport"
	ReasonNoBattle      = "no_battle"
	ReasonNotInBattle   = "not_in_battle"
	ReasonBadPayload    = "bad_payload"
)

// Slot is one participant's per-battle record.
type Slot struct {
	UserID         string
	ActorIndex     int
	LastActionTime time.Time
	LastX, LastY   float64
	// HasPosition is false until the first position report; there is no
	// delta to bound before then.
	HasPosition bool
	LastGauge   float64
	Connected   bool
}

// Session is one battle channel's state.
type Session struct {
	Channel   string
	Slots     map[string]*Slot
	Order     []string // join order; index == actor index
	CreatedAt time.Time
	EndedAt   time.Time // zero until an end event
	emptyAt   time.Time // zero while any participant is connected
}

// Event is a message the hub should deliver: direct when To is set,
// otherwise a relay to the whole battle channel minus Exclude.
type Event struct {
	To      string
	Exclude string
	Code    string
	Args    []any
}

// Engine owns every live battle. Driven from the hub goroutine only.
type Engine struct {
	log     *zap.Logger
	battles map[string]*Session
	now     func() time.Time
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		log:     log.Named("battle"),
		battles: make(map[string]*Session),
		now:     time.Now,
	}
}

// Count reports live battles, for the stats endpoint.
func (e *Engine) Count() int { return len(e.battles) }

// OnSubscribe assigns a stable actor index by join order, or reconnects a
// returning participant into its existing slot.
func (e *Engine) OnSubscribe(channel, userID string) []Event {
	st, ok := e.battles[channel]
	if !ok {
		st = &Session{
			Channel:   channel,
			Slots:     make(map[string]*Slot),
			CreatedAt: e.now(),
		}
		e.battles[channel] = st
	}

	slot, ok := st.Slots[userID]
	if !ok {
		slot = &Slot{
			UserID:     userID,
			ActorIndex: len(st.Order),
			LastGauge:  GaugeMax,
		}
		st.Slots[userID] = slot
		st.Order = append(st.Order, userID)
	}
	slot.Connected = true
	st.emptyAt = time.Time{}

	return []Event{{To: userID, Code: protocol.CodeBattleJoined, Args: []any{int64(slot.ActorIndex)}}}
}

// OnUnsubscribe marks the participant disconnected but keeps the slot, so a
// reconnect within the grace window resumes the same actor index.
func (e *Engine) OnUnsubscribe(channel, userID string) {
	st, ok := e.battles[channel]
	if !ok {
		return
	}
	slot, ok := st.Slots[userID]
	if !ok {
		return
	}
	slot.Connected = false
	for _, s := range st.Slots {
		if s.Connected {
			return
		}
	}
	st.emptyAt = e.now()
}

// Handle validates one battle message and produces the resulting events:
// either a rejection/correction to the sender, or an ack plus an opaque
// relay to the other participants.
func (e *Engine) Handle(channel, userID string, in Input) []Event {
	st, ok := e.battles[channel]
	if !ok {
		return reject(userID, ReasonNoBattle)
	}
	slot, ok := st.Slots[userID]
	if !ok {
		return reject(userID, ReasonNotInBattle)
	}

	// Actor index must match the slot assigned at join; a mismatch is a
	// forgery attempt and is never relayed.
	if in.ActorIndex != slot.ActorIndex {
		e.log.Warn("battle actor index forgery",
			zap.String("channel", channel),
			zap.String("user", userID),
			zap.Int("claimed", in.ActorIndex),
			zap.Int("assigned", slot.ActorIndex))
		return reject(userID, ReasonActorMismatch)
	}

	switch in.Kind {
	case protocol.CodeBattleMove:
		return e.handleMove(st, slot, in)
	case protocol.CodeBattleAction:
		return e.handleAction(st, slot, in)
	case protocol.CodeBattleGuard:
		return e.handleGuard(st, slot, in)
	case protocol.CodeBattleEnd:
		st.EndedAt = e.now()
		return []Event{{Exclude: slot.UserID, Code: protocol.CodeBattleEnd, Args: in.Raw}}
	}
	return reject(userID, ReasonBadPayload)
}

func (e *Engine) handleMove(st *Session, slot *Slot, in Input) []Event {
	// Out-of-bounds positions get a forced correction the client must
	// apply unconditionally, rather than a bare rejection.
	if in.X < 0 || in.X > FieldWidth || in.Y < 0 || in.Y > FieldHeight {
		cx := clamp(in.X, 0, FieldWidth)
		cy := clamp(in.Y, 0, FieldHeight)
		slot.LastX, slot.LastY = cx, cy
		slot.HasPosition = true
		return []Event{{To: slot.UserID, Code: protocol.CodeBattleCorrection, Args: []any{cx, cy}}}
	}

	// The first report establishes the baseline; delta checks start with
	// the second.
	if slot.HasPosition {
		dx, dy := in.X-slot.LastX, in.Y-slot.LastY
		delta := dx*dx + dy*dy
		if delta > MoveHardLimit*MoveHardLimit {
			e.log.Warn("battle teleport rejected",
				zap.String("channel", st.Channel),
				zap.String("user", slot.UserID),
				zap.Float64("x", in.X), zap.Float64("y", in.Y))
			return reject(slot.UserID, ReasonTeleport)
		}
		if delta > MoveSoftLimit*MoveSoftLimit {
			// Borderline deltas pass; hard-rejecting them punishes jitter.
			e.log.Info("battle movement delta above soft limit",
				zap.String("channel", st.Channel),
				zap.String("user", slot.UserID))
		}
	}

	slot.LastX, slot.LastY = in.X, in.Y
	slot.HasPosition = true
	return []Event{{Exclude: slot.UserID, Code: protocol.CodeBattleMove, Args: in.Raw}}
}

func (e *Engine) handleAction(st *Session, slot *Slot, in Input) []Event {
	now := e.now()
	if now.Sub(slot.LastActionTime) < ActionCooldown {
		return reject(slot.UserID, ReasonTooFast)
	}
	if in.Gauge < GaugeReadyThreshold {
		// Echo the server's view of the gauge so the client can resync.
		return []Event{{To: slot.UserID, Code: protocol.CodeBattleReject,
			Args: []any{ReasonGaugeTooLow, slot.LastGauge}}}
	}
	if in.SkillID < SkillIDMin || in.SkillID > SkillIDMax {
		return reject(slot.UserID, ReasonSkillRange)
	}
	if !in.HasTarget || in.TargetIndex < 0 || in.TargetIndex >= len(st.Order) {
		return reject(slot.UserID, ReasonInvalidTarget)
	}

	slot.LastActionTime = now
	slot.LastGauge = 0 // gauge spent; refills client-side
	return []Event{
		{To: slot.UserID, Code: protocol.CodeBattleAck, Args: []any{protocol.CodeBattleAction}},
		{Exclude: slot.UserID, Code: protocol.CodeBattleAction, Args: in.Raw},
	}
}

func (e *Engine) handleGuard(st *Session, slot *Slot, in Input) []Event {
	now := e.now()
	if now.Sub(slot.LastActionTime) < ActionCooldown {
		return reject(slot.UserID, ReasonTooFast)
	}
	if in.Gauge < GaugeReadyThreshold {
		return []Event{{To: slot.UserID, Code: protocol.CodeBattleReject,
			Args: []any{ReasonGaugeTooLow, slot.LastGauge}}}
	}

	slot.LastActionTime = now
	slot.LastGauge = 0
	return []Event{
		{To: slot.UserID, Code: protocol.CodeBattleAck, Args: []any{protocol.CodeBattleGuard}},
		{Exclude: slot.UserID, Code: protocol.CodeBattleGuard, Args: in.Raw},
	}
}

// Sweep destroys battles past their end grace, empty grace, or hard
// timeout, and returns the destroyed channel ids.
func (e *Engine) Sweep(now time.Time) []string {
	var removed []string
	for channel, st := range e.battles {
		switch {
		case !st.EndedAt.IsZero() && now.Sub(st.EndedAt) >= EndGrace:
		case !st.emptyAt.IsZero() && now.Sub(st.emptyAt) >= EmptyGrace:
		case now.Sub(st.CreatedAt) >= HardTimeout:
		default:
			continue
		}
		delete(e.battles, channel)
		removed = append(removed, channel)
		e.log.Info("battle session destroyed", zap.String("channel", channel))
	}
	return removed
}

func reject(userID, reason string) []Event {
	return []Event{{To: userID, Code: protocol.CodeBattleReject, Args: []any{reason}}}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
