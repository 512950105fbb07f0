// Package ratelimit provides per-user token-bucket limiters, one bucket per
// action class. A Set lives on a session and disappears with it; nothing is
// persisted across reconnects.
package ratelimit

import "golang.org/x/time/rate"

// Action classifies inbound work for limiting purposes.
type Action string

const (
	// ActionMessage covers all inbound frames except the liveness ping.
	ActionMessage Action = "message"
	// ActionChat covers unrouted chat-style broadcasts.
	ActionChat Action = "chat"
	// ActionSave covers direct storage writes.
	ActionSave Action = "save"
	// ActionTrade covers trade offer/ready publishes.
	ActionTrade Action = "trade"
)

type policy struct {
	limit rate.Limit
	burst int
}

var policies = map[Action]policy{
	ActionMessage: {limit: 20, burst: 40},
	ActionChat:    {limit: 5, burst: 8},
	ActionSave:    {limit: 10, burst: 10},
	ActionTrade:   {limit: 4, burst: 4},
}

// Set holds one limiter per action class for a single user.
type Set struct {
	limiters map[Action]*rate.Limiter
}

func NewSet() *Set {
	s := &Set{limiters: make(map[Action]*rate.Limiter, len(policies))}
	for action, p := range policies {
		s.limiters[action] = rate.NewLimiter(p.limit, p.burst)
	}
	return s
}

// Allow reports whether one event of the given action may proceed now.
// Unknown actions are allowed; the caller picked a class we do not police.
func (s *Set) Allow(action Action) bool {
	lim, ok := s.limiters[action]
	if !ok {
		return true
	}
	return lim.Allow()
}
