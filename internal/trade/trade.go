// Package trade implements the server-authoritative escrow engine: a
// two-party offer/ready/atomic-swap state machine per trade channel. Clients
// only ever describe offers; every quantity is re-validated against storage
// at execution time, so nothing a client claims is trusted.
package trade

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/emberlight/realtime-backend/internal/storage"
	"github.com/emberlight/realtime-backend/pkg/protocol"
)

const (
	// GoldCap bounds a single offer's gold.
	GoldCap = 1_000_000
	// MaxOfferItems bounds the number of stacks in one offer.
	MaxOfferItems = 10
	// MaxStackQty bounds the quantity of one offered stack.
	MaxStackQty = 99
	// Timeout is the hard wall-clock lifetime of a trade from creation,
	// regardless of activity.
	Timeout = 5 * time.Minute
)

// Class is an offered item's category.
type Class string

const (
	ClassItem   Class = "item"
	ClassWeapon Class = "weapon"
	ClassArmor  Class = "armor"
)

func validClass(c Class) bool {
	return c == ClassItem || c == ClassWeapon || c == ClassArmor
}

type OfferItem struct {
	Class Class
	ID    int
	Qty   int64
}

type Offer struct {
	Gold  int64
	Items []OfferItem
}

// State is one trade channel's escrow.
type State struct {
	Channel   string
	PlayerA   string
	PlayerB   string
	OfferA    Offer
	OfferB    Offer
	ReadyA    bool
	ReadyB    bool
	Executed  bool
	CreatedAt time.Time
}

// Event is a message the hub should deliver on the engine's behalf.
type Event struct {
	To   string // user id
	Code string
	Args []any
}

var (
	ErrChannelFull    = errors.New("trade: channel full")
	ErrNoTrade        = errors.New("trade: no such trade")
	ErrNotParticipant = errors.New("trade: not a participant")
)

// Machine-readable rejection reasons.
const (
	ReasonInvalidGold  = "invalid_gold"
	ReasonTooManyItems = "too_many_items"
	ReasonInvalidQty   = "invalid_quantity"
	ReasonInvalidClass = "invalid_class"
	ReasonInvalidItem  = "invalid_item"
	ReasonInsufficient = "insufficient_items"
	ReasonIntegrity    = "integrity_failure"
	ReasonPartnerLeft  = "partner_left"
	ReasonTimeout      = "timeout"
	ReasonChannelFull  = "channel_full"
)

// Engine owns every live trade. It is driven from the hub goroutine only.
type Engine struct {
	log    *zap.Logger
	store  storage.Store
	trades map[string]*State
	now    func() time.Time
}

func NewEngine(store storage.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		log:    log.Named("trade"),
		store:  store,
		trades: make(map[string]*State),
		now:    time.Now,
	}
}

// Count reports live trades, for the stats endpoint.
func (e *Engine) Count() int { return len(e.trades) }

// OnSubscribe tracks the first two distinct subscribers of a trade channel
// as its parties. A third distinct subscriber is rejected.
func (e *Engine) OnSubscribe(channel, userID string) ([]Event, error) {
	st, ok := e.trades[channel]
	if !ok {
		e.trades[channel] = &State{Channel: channel, PlayerA: userID, CreatedAt: e.now()}
		return nil, nil
	}
	if st.PlayerA == userID || st.PlayerB == userID {
		return nil, nil
	}
	if st.PlayerB != "" {
		return nil, ErrChannelFull
	}
	st.PlayerB = userID
	return []Event{
		{To: st.PlayerA, Code: protocol.CodeTradeJoin, Args: []any{userID}},
		{To: userID, Code: protocol.CodeTradeJoin, Args: []any{st.PlayerA}},
	}, nil
}

// UpdateOffer replaces one side's offer. A validation failure is surfaced to
// the sender as a typed rejection, never as a Go error; changing terms also
// clears that side's ready flag.
func (e *Engine) UpdateOffer(channel, userID string, offer Offer) ([]Event, error) {
	st, other, err := e.lookup(channel, userID)
	if err != nil {
		return nil, err
	}
	if st.Executed {
		return nil, nil
	}

	if reason := validateOffer(offer); reason != "" {
		return []Event{{To: userID, Code: protocol.CodeTradeReject, Args: []any{reason}}}, nil
	}

	if userID == st.PlayerA {
		st.OfferA = offer
		st.ReadyA = false
	} else {
		st.OfferB = offer
		st.ReadyB = false
	}

	var events []Event
	if other != "" {
		events = append(events, Event{To: other, Code: protocol.CodeTradeUpdate, Args: offerArgs(userID, offer)})
	}
	return events, nil
}

// SetReady marks one side ready. When both sides are ready and identified,
// execution triggers exactly once.
func (e *Engine) SetReady(channel, userID string) ([]Event, error) {
	st, other, err := e.lookup(channel, userID)
	if err != nil {
		return nil, err
	}
	if st.Executed {
		return nil, nil
	}

	if userID == st.PlayerA {
		st.ReadyA = true
	} else {
		st.ReadyB = true
	}

	var events []Event
	if other != "" {
		events = append(events, Event{To: other, Code: protocol.CodeTradeReady, Args: []any{userID}})
	}

	if st.ReadyA && st.ReadyB && st.PlayerB != "" {
		events = append(events, e.execute(st)...)
	}
	return events, nil
}

// execute performs the two-phase swap. Phase 1 proves both players hold what
// they offered by re-reading storage; it mutates nothing on failure. Phase 2
// applies deduct/deduct/grant/grant; a failure there is an integrity anomaly
// (phase 1 already proved sufficiency) and pages operators via the log.
func (e *Engine) execute(st *State) []Event {
	st.Executed = true
	defer delete(e.trades, st.Channel)

	// Phase 1: sufficiency against current storage, never the offer-time view.
	invA, errA := storage.LoadInventory(e.store, st.PlayerA)
	invB, errB := storage.LoadInventory(e.store, st.PlayerB)
	if errA != nil || errB != nil {
		e.log.Error("trade inventory read failed",
			zap.String("channel", st.Channel),
			zap.NamedError("a", errA), zap.NamedError("b", errB))
		return failBoth(st, ReasonInsufficient)
	}
	if !covers(invA, st.OfferA) {
		return failBoth(st, ReasonInsufficient)
	}
	if !covers(invB, st.OfferB) {
		return failBoth(st, ReasonInsufficient)
	}

	// Phase 2: deduct A, deduct B, grant A's offer to B, grant B's to A.
	// No rollback from here; failures are logged as integrity anomalies.
	deduct(invA, st.OfferA)
	if err := storage.SaveInventory(e.store, st.PlayerA, invA); err != nil {
		return e.integrityFailure(st, "deduct A", err)
	}
	deduct(invB, st.OfferB)
	if err := storage.SaveInventory(e.store, st.PlayerB, invB); err != nil {
		return e.integrityFailure(st, "deduct B", err)
	}
	grant(invB, st.OfferA)
	if err := storage.SaveInventory(e.store, st.PlayerB, invB); err != nil {
		return e.integrityFailure(st, "grant to B", err)
	}
	grant(invA, st.OfferB)
	if err := storage.SaveInventory(e.store, st.PlayerA, invA); err != nil {
		return e.integrityFailure(st, "grant to A", err)
	}

	e.log.Info("trade executed",
		zap.String("channel", st.Channel),
		zap.String("playerA", st.PlayerA),
		zap.String("playerB", st.PlayerB))
	return []Event{
		{To: st.PlayerA, Code: protocol.CodeTradeComplete, Args: offerArgs(st.PlayerB, st.OfferB)},
		{To: st.PlayerB, Code: protocol.CodeTradeComplete, Args: offerArgs(st.PlayerA, st.OfferA)},
	}
}

func (e *Engine) integrityFailure(st *State, step string, err error) []Event {
	e.log.Error("trade integrity failure: phase-2 write failed after phase-1 passed",
		zap.String("integrity", "trade"),
		zap.String("channel", st.Channel),
		zap.String("step", step),
		zap.String("playerA", st.PlayerA),
		zap.String("playerB", st.PlayerB),
		zap.Error(err))
	return failBoth(st, ReasonIntegrity)
}

// OnUnsubscribe cancels the trade when either party leaves or disconnects.
func (e *Engine) OnUnsubscribe(channel, userID string) []Event {
	st, ok := e.trades[channel]
	if !ok || (st.PlayerA != userID && st.PlayerB != userID) {
		return nil
	}
	delete(e.trades, channel)
	other := st.PlayerA
	if userID == st.PlayerA {
		other = st.PlayerB
	}
	if other == "" {
		return nil
	}
	return []Event{{To: other, Code: protocol.CodeTradeFail, Args: []any{ReasonPartnerLeft}}}
}

// Sweep cancels trades past the hard timeout. A trade that resolved before
// its deadline is simply gone by the time the sweep runs.
func (e *Engine) Sweep(now time.Time) []Event {
	var events []Event
	for channel, st := range e.trades {
		if now.Sub(st.CreatedAt) < Timeout {
			continue
		}
		delete(e.trades, channel)
		events = append(events, failBoth(st, ReasonTimeout)...)
		e.log.Info("trade timed out", zap.String("channel", channel))
	}
	return events
}

func (e *Engine) lookup(channel, userID string) (*State, string, error) {
	st, ok := e.trades[channel]
	if !ok {
		return nil, "", ErrNoTrade
	}
	switch userID {
	case st.PlayerA:
		return st, st.PlayerB, nil
	case st.PlayerB:
		return st, st.PlayerA, nil
	}
	return nil, "", ErrNotParticipant
}

func failBoth(st *State, reason string) []Event {
	events := []Event{{To: st.PlayerA, Code: protocol.CodeTradeFail, Args: []any{reason}}}
	if st.PlayerB != "" {
		events = append(events, Event{To: st.PlayerB, Code: protocol.CodeTradeFail, Args: []any{reason}})
	}
	return events
}

func validateOffer(offer Offer) string {
	if offer.Gold < 0 || offer.Gold > GoldCap {
		return ReasonInvalidGold
	}
	if len(offer.Items) > MaxOfferItems {
		return ReasonTooManyItems
	}
	for _, it := range offer.Items {
		if !validClass(it.Class) {
			return ReasonInvalidClass
		}
		if it.ID <= 0 {
			return ReasonInvalidItem
		}
		if it.Qty < 1 || it.Qty > MaxStackQty {
			return ReasonInvalidQty
		}
	}
	return ""
}

// covers reports whether inv holds everything the offer promises, summing
// duplicate stacks of the same item.
func covers(inv *storage.Inventory, offer Offer) bool {
	if inv.Gold < offer.Gold {
		return false
	}
	need := make(map[string]int64)
	for _, it := range offer.Items {
		need[storage.ItemKey(string(it.Class), it.ID)] += it.Qty
	}
	for key, qty := range need {
		if inv.Items[key] < qty {
			return false
		}
	}
	return true
}

func deduct(inv *storage.Inventory, offer Offer) {
	inv.Gold -= offer.Gold
	for _, it := range offer.Items {
		inv.Items[storage.ItemKey(string(it.Class), it.ID)] -= it.Qty
	}
}

func grant(inv *storage.Inventory, offer Offer) {
	inv.Gold += offer.Gold
	for _, it := range offer.Items {
		inv.Items[storage.ItemKey(string(it.Class), it.ID)] += it.Qty
	}
}

func offerArgs(from string, offer Offer) []any {
	items := make([]any, 0, len(offer.Items))
	for _, it := range offer.Items {
		items = append(items, map[string]any{
			"class": string(it.Class),
			"id":    int64(it.ID),
			"qty":   it.Qty,
		})
	}
	return []any{from, offer.Gold, items}
}
