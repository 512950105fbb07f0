package hub

import (
	"errors"

	"go.uber.org/zap"

	"github.com/emberlight/realtime-backend/internal/battle"
	"github.com/emberlight/realtime-backend/internal/channel"
	"github.com/emberlight/realtime-backend/internal/session"
	"github.com/emberlight/realtime-backend/internal/storage"
	"github.com/emberlight/realtime-backend/internal/trade"
	"github.com/emberlight/realtime-backend/internal/wire"
	"github.com/emberlight/realtime-backend/pkg/protocol"
)

// send encodes and enqueues one frame for a single session.
func (h *Hub) send(sess *session.Session, msg wire.ServerMessage) {
	frame, err := h.codec.EncodeServer(msg)
	if err != nil {
		h.log.Error("encode failed", zap.Error(err))
		return
	}
	if err := sess.Enqueue(frame); err != nil {
		h.log.Debug("send failed",
			zap.String("user", sess.UserID()),
			zap.Error(err))
	}
}

// sendToUser delivers a frame to a user's current session, if any.
func (h *Hub) sendToUser(userID string, msg wire.ServerMessage) bool {
	sess, ok := h.sessions[userID]
	if !ok {
		return false
	}
	h.send(sess, msg)
	return true
}

// publish encodes once and fans out to a channel via the registry.
func (h *Hub) publish(group, ch string, msg wire.ServerMessage, exclude channel.Subscriber) {
	frame, err := h.codec.EncodeServer(msg)
	if err != nil {
		h.log.Error("encode failed", zap.Error(err))
		return
	}
	h.registry.Publish(group, ch, frame, exclude)
}

// emitTradeEvents delivers engine events directly to their target users.
// Trade events are always addressed, never channel-relayed.
func (h *Hub) emitTradeEvents(events []trade.Event) {
	for _, ev := range events {
		h.sendToUser(ev.To, wire.Recv{
			Group:    protocol.GroupTrade,
			FromUser: protocol.FromServer,
			Code:     ev.Code,
			Args:     ev.Args,
		})
	}
}

// emitBattleEvents delivers engine events: addressed ones go straight to a
// user, relays go to the battle channel minus the excluded sender.
func (h *Hub) emitBattleEvents(ch string, events []battle.Event) {
	for _, ev := range events {
		if ev.To != "" {
			h.sendToUser(ev.To, wire.Recv{
				Group:    protocol.GroupBattle,
				FromUser: protocol.FromServer,
				Code:     ev.Code,
				Args:     ev.Args,
			})
			continue
		}
		var exclude channel.Subscriber
		if ev.Exclude != "" {
			if sess, ok := h.sessions[ev.Exclude]; ok {
				exclude = sess
			}
		}
		h.publish(protocol.GroupBattle, ch, wire.Recv{
			Group:    protocol.GroupBattle,
			FromUser: ev.Exclude,
			Code:     ev.Code,
			Args:     ev.Args,
		}, exclude)
	}
}

// isBlocked reports whether target's block list names sender.
func (h *Hub) isBlocked(targetID, senderID string) bool {
	social := h.personalMap(targetID, "social")
	blocks, _ := social["blocks"].([]any)
	for _, b := range blocks {
		if s, ok := b.(string); ok && s == senderID {
			return true
		}
	}
	return false
}

// personalMap reads a personal key as a map, treating missing or
// wrongly-shaped values as empty.
func (h *Hub) personalMap(userID, key string) map[string]any {
	v, err := h.store.GetPersonal(userID, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.log.Error("personal read failed",
				zap.String("user", userID), zap.String("key", key), zap.Error(err))
		}
		return map[string]any{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

// personalList reads a personal key as a list, missing means empty.
func (h *Hub) personalList(userID, key string) []any {
	v, err := h.store.GetPersonal(userID, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.log.Error("personal read failed",
				zap.String("user", userID), zap.String("key", key), zap.Error(err))
		}
		return nil
	}
	l, _ := v.([]any)
	return l
}

// globalMap reads a global key as a map, missing means empty.
func (h *Hub) globalMap(key string) map[string]any {
	v, err := h.store.GetGlobal(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.log.Error("global read failed", zap.String("key", key), zap.Error(err))
		}
		return map[string]any{}
	}
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}

// globalList reads a global key as a list, missing means empty.
func (h *Hub) globalList(key string) []any {
	v, err := h.store.GetGlobal(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.log.Error("global read failed", zap.String("key", key), zap.Error(err))
		}
		return nil
	}
	l, _ := v.([]any)
	return l
}

// stringArg fetches args[i] as a string.
func stringArg(args []any, i int) (string, bool) {
	if i >= len(args) {
		return "", false
	}
	s, ok := args[i].(string)
	return s, ok
}
