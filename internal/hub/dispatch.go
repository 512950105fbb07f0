package hub

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/emberlight/realtime-backend/internal/battle"
	"github.com/emberlight/realtime-backend/internal/channel"
	"github.com/emberlight/realtime-backend/internal/ratelimit"
	"github.com/emberlight/realtime-backend/internal/session"
	"github.com/emberlight/realtime-backend/internal/storage"
	"github.com/emberlight/realtime-backend/internal/trade"
	"github.com/emberlight/realtime-backend/internal/wire"
	"github.com/emberlight/realtime-backend/pkg/protocol"
)

// serverOwnedKeys are storage keys only server-side code may write. A direct
// client Save against one is refused silently and logged as a security event.
var serverOwnedKeys = map[string]struct{}{
	"guild":      {},
	"guildIndex": {},
	"mail":       {},
	"social":     {},
	"memberOf":   {},
}

// sendToAllowlist names the only codes a client may deliver point-to-point.
// Everything else must go through a subscribed channel.
var sendToAllowlist = map[string]struct{}{
	"tradeAsk":     {},
	"tradeAccept":  {},
	"tradeDecline": {},
	"tradeCancel":  {},
}

const maxReportLog = 500

// inspectKeys is the personal-key set AdminInspect reports. The KV contract
// has no key enumeration, so inspection covers the keys the server itself
// maintains.
var inspectKeys = []string{
	storage.KeyGold,
	storage.KeyItems,
	"social",
	"mail",
	"memberOf",
	"rewardClaims",
}

// route is the opcode switch. Runs on the hub goroutine.
func (h *Hub) route(sess *session.Session, m wire.ClientMessage) {
	sess.LastSeen = time.Now()

	// The liveness ping is exempt from rate limiting; throttling it would
	// turn a chatty client into a false disconnect.
	if _, isPing := m.(wire.Ping); !isPing {
		if !sess.Limits.Allow(ratelimit.ActionMessage) {
			h.log.Debug("message rate limit exceeded", zap.String("user", sess.UserID()))
			return
		}
	}

	switch msg := m.(type) {
	case wire.Ping:
		h.send(sess, wire.Pong{TS: msg.TS})
	case wire.Load:
		h.handleLoad(sess, msg)
	case wire.Save:
		h.handleSave(sess, msg)
	case wire.Subscribe:
		h.handleSubscribe(sess, msg)
	case wire.Broadcast:
		h.handleBroadcast(sess, msg)
	case wire.Publish:
		h.handlePublish(sess, msg)
	case wire.SendTo:
		h.handleSendTo(sess, msg)
	case wire.Report:
		h.handleReport(sess, msg)
	case wire.AdminOnline, wire.AdminBanned, wire.AdminBanning, wire.AdminInspect, wire.AdminOverwrite:
		h.handleAdmin(sess, m)
	}
}

func (h *Hub) handleLoad(sess *session.Session, msg wire.Load) {
	var (
		value any
		err   error
	)
	if msg.Global {
		value, err = h.store.GetGlobal(msg.Key)
	} else {
		value, err = h.store.GetPersonal(sess.UserID(), msg.Key)
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.log.Error("load failed",
			zap.String("user", sess.UserID()),
			zap.String("key", msg.Key),
			zap.Error(err))
		value = nil
	}
	h.send(sess, wire.Response{QueryID: msg.QueryID, Fields: value})
}

func (h *Hub) handleSave(sess *session.Session, msg wire.Save) {
	if !sess.Limits.Allow(ratelimit.ActionSave) {
		h.log.Debug("save rate limit exceeded", zap.String("user", sess.UserID()))
		return
	}
	if _, owned := serverOwnedKeys[msg.Key]; owned {
		h.log.Warn("client write to server-owned key refused",
			zap.String("user", sess.UserID()),
			zap.String("key", msg.Key),
			zap.Bool("global", msg.Global))
		return
	}

	var err error
	if msg.Global {
		err = h.store.SetGlobal(msg.Key, msg.Fields, sess.UserID())
	} else {
		err = h.store.SetPersonal(sess.UserID(), msg.Key, msg.Fields)
	}
	if err != nil {
		h.log.Error("save failed",
			zap.String("user", sess.UserID()),
			zap.String("key", msg.Key),
			zap.Error(err))
	}
}

// handleSubscribe moves the session between channels of one group. Side
// effects run in a fixed order: leave-notify the previous channel, leave it,
// join the new one, join-notify it, then hand the joiner the member list it
// found on arrival. An empty channel name is a plain leave.
func (h *Hub) handleSubscribe(sess *session.Session, msg wire.Subscribe) {
	if msg.Group == "" {
		return
	}
	prev := h.registry.Channel(sess, msg.Group)
	if prev == msg.Channel {
		return
	}

	// Admission runs before any state changes so a refused join leaves the
	// session exactly where it was.
	var pending []trade.Event
	var battleJoin []battle.Event
	if msg.Channel != "" {
		switch msg.Group {
		case protocol.GroupTrade:
			events, err := h.trades.OnSubscribe(msg.Channel, sess.UserID())
			if err != nil {
				h.send(sess, wire.Recv{
					Group:    protocol.GroupTrade,
					FromUser: protocol.FromServer,
					Code:     protocol.CodeTradeFail,
					Args:     []any{trade.ReasonChannelFull},
				})
				return
			}
			pending = events
		case protocol.GroupBattle:
			battleJoin = h.battles.OnSubscribe(msg.Channel, sess.UserID())
		}
	}

	if prev != "" {
		h.publish(msg.Group, prev, wire.Recv{
			Group:    msg.Group,
			FromUser: sess.UserID(),
			Code:     protocol.CodePlayerLeft,
			Args:     []any{sess.Username()},
		}, sess)
		h.registry.Unsubscribe(sess, msg.Group, prev)
		switch msg.Group {
		case protocol.GroupTrade:
			h.emitTradeEvents(h.trades.OnUnsubscribe(prev, sess.UserID()))
		case protocol.GroupBattle:
			h.battles.OnUnsubscribe(prev, sess.UserID())
		}
	}

	if msg.Channel == "" {
		return
	}
	h.registry.Subscribe(sess, msg.Group, msg.Channel)

	members := make([]any, 0, 8)
	for _, sub := range h.registry.Members(msg.Group, msg.Channel) {
		if sub.ID() != sess.ID() {
			members = append(members, sub.UserID())
		}
	}

	h.publish(msg.Group, msg.Channel, wire.Recv{
		Group:    msg.Group,
		FromUser: sess.UserID(),
		Code:     protocol.CodePlayerJoined,
		Args:     []any{sess.Username()},
	}, sess)

	// The joiner privately receives the member set as it stood before them.
	h.send(sess, wire.Recv{
		Group:    msg.Group,
		FromUser: protocol.FromServer,
		Code:     protocol.CodeMembers,
		Args:     members,
	})

	h.emitTradeEvents(pending)
	h.emitBattleEvents(msg.Channel, battleJoin)
}

// handleBroadcast either routes a recognized command prefix to its handler
// or fans a chat-style message out to every channel the sender occupies.
func (h *Hub) handleBroadcast(sess *session.Session, msg wire.Broadcast) {
	if handler := commandFor(msg.Code); handler != nil {
		handler(h, sess, msg.Code, msg.Args)
		return
	}

	if !sess.Limits.Allow(ratelimit.ActionChat) {
		h.log.Debug("chat rate limit exceeded", zap.String("user", sess.UserID()))
		return
	}
	exclude := channelExclude(sess, msg.Loopback)
	for _, mb := range h.registry.Memberships(sess) {
		h.publish(mb.Group, mb.Channel, wire.Recv{
			Group:    mb.Group,
			FromUser: sess.UserID(),
			Code:     msg.Code,
			Args:     msg.Args,
		}, exclude)
	}
}

// handlePublish targets the sender's current channel in one group. The trade
// and battle groups route through their engines; everything else relays.
func (h *Hub) handlePublish(sess *session.Session, msg wire.Publish) {
	ch := h.registry.Channel(sess, msg.Group)
	if ch == "" {
		// Publishing into a group without membership is either a client bug
		// or a probe; drop it loudly.
		h.log.Warn("publish to unsubscribed group dropped",
			zap.String("user", sess.UserID()),
			zap.String("group", msg.Group),
			zap.String("code", msg.Code))
		return
	}

	switch msg.Group {
	case protocol.GroupTrade:
		h.handleTradePublish(sess, ch, msg)
	case protocol.GroupBattle:
		h.handleBattlePublish(sess, ch, msg)
	default:
		h.publish(msg.Group, ch, wire.Recv{
			Group:    msg.Group,
			FromUser: sess.UserID(),
			Code:     msg.Code,
			Args:     msg.Args,
		}, channelExclude(sess, msg.Loopback))
	}
}

func (h *Hub) handleTradePublish(sess *session.Session, ch string, msg wire.Publish) {
	if !sess.Limits.Allow(ratelimit.ActionTrade) {
		h.log.Debug("trade rate limit exceeded", zap.String("user", sess.UserID()))
		return
	}

	var (
		events []trade.Event
		err    error
	)
	switch msg.Code {
	case protocol.CodeTradeUpdate:
		offer, perr := trade.ParseOffer(msg.Args)
		if perr != nil {
			h.log.Warn("malformed trade offer dropped",
				zap.String("user", sess.UserID()), zap.Error(perr))
			return
		}
		events, err = h.trades.UpdateOffer(ch, sess.UserID(), offer)
	case protocol.CodeTradeReady:
		events, err = h.trades.SetReady(ch, sess.UserID())
	default:
		h.log.Warn("unknown trade code dropped",
			zap.String("user", sess.UserID()), zap.String("code", msg.Code))
		return
	}
	if err != nil {
		h.log.Warn("trade publish rejected",
			zap.String("user", sess.UserID()),
			zap.String("channel", ch),
			zap.Error(err))
		return
	}
	h.emitTradeEvents(events)
}

func (h *Hub) handleBattlePublish(sess *session.Session, ch string, msg wire.Publish) {
	in, err := battle.ParseInput(msg.Code, msg.Args)
	if err != nil {
		h.log.Warn("malformed battle input dropped",
			zap.String("user", sess.UserID()),
			zap.String("code", msg.Code),
			zap.Error(err))
		return
	}
	h.emitBattleEvents(ch, h.battles.Handle(ch, sess.UserID(), in))
}

// handleSendTo is point-to-point delivery, restricted to an allow-list of
// codes and subject to the recipient's block list. All refusals are silent;
// a sender learns nothing about blocks or offline targets.
func (h *Hub) handleSendTo(sess *session.Session, msg wire.SendTo) {
	if _, ok := sendToAllowlist[msg.Code]; !ok {
		h.log.Warn("sendto code outside allow-list dropped",
			zap.String("user", sess.UserID()),
			zap.String("code", msg.Code))
		return
	}
	target, online := h.sessions[msg.TargetUser]
	if !online {
		return
	}
	if h.isBlocked(msg.TargetUser, sess.UserID()) {
		return
	}
	h.send(target, wire.Recv{
		Group:    protocol.GroupUsers,
		FromUser: sess.UserID(),
		Code:     msg.Code,
		Args:     msg.Args,
	})
}

// handleReport appends to the global abuse-report log, capped so one
// griefing spree cannot grow the record without bound.
func (h *Hub) handleReport(sess *session.Session, msg wire.Report) {
	if msg.ReportedUser == "" {
		return
	}
	reports := h.globalList("reports")
	reports = append(reports, map[string]any{
		"by":     sess.UserID(),
		"user":   msg.ReportedUser,
		"reason": msg.Reason,
		"at":     time.Now().UnixMilli(),
	})
	if len(reports) > maxReportLog {
		reports = reports[len(reports)-maxReportLog:]
	}
	if err := h.store.SetGlobal("reports", reports, protocol.FromServer); err != nil {
		h.log.Error("report write failed", zap.Error(err))
		return
	}
	h.log.Info("player reported",
		zap.String("by", sess.UserID()),
		zap.String("user", msg.ReportedUser),
		zap.String("reason", msg.Reason))
}

func (h *Hub) handleAdmin(sess *session.Session, m wire.ClientMessage) {
	if !sess.Admin() {
		// Silent refusal: a probing client gets no oracle for which
		// opcodes exist behind the privilege wall.
		h.log.Warn("admin op from non-admin refused",
			zap.String("user", sess.UserID()))
		return
	}

	switch msg := m.(type) {
	case wire.AdminOnline:
		args := make([]any, 0, len(h.sessions))
		for _, s := range h.sessions {
			args = append(args, map[string]any{
				"userId":   s.UserID(),
				"username": s.Username(),
			})
		}
		h.adminReply(sess, "admin/online", args)

	case wire.AdminBanned:
		bans, err := h.bans.List()
		if err != nil {
			h.log.Error("ban list failed", zap.Error(err))
			return
		}
		args := make([]any, 0, len(bans))
		for _, b := range bans {
			args = append(args, map[string]any{
				"userId": b.UserID,
				"until":  b.Until.UnixMilli(),
				"reason": b.Reason,
			})
		}
		h.adminReply(sess, "admin/banned", args)

	case wire.AdminBanning:
		d := time.Duration(msg.Minutes) * time.Minute
		if err := h.bans.Ban(msg.User, d, "banned by "+sess.UserID()); err != nil {
			h.log.Error("ban failed", zap.String("user", msg.User), zap.Error(err))
			return
		}
		if target, online := h.sessions[msg.User]; online {
			h.teardown(target, session.CloseBanned, "banned")
		}
		h.log.Info("user banned",
			zap.String("admin", sess.UserID()),
			zap.String("user", msg.User),
			zap.Uint32("minutes", msg.Minutes))
		h.adminReply(sess, "admin/banning", []any{msg.User})

	case wire.AdminInspect:
		fields := make(map[string]any, len(inspectKeys))
		for _, key := range inspectKeys {
			v, err := h.store.GetPersonal(msg.User, key)
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					h.log.Error("inspect read failed",
						zap.String("user", msg.User),
						zap.String("key", key),
						zap.Error(err))
				}
				continue
			}
			fields[key] = v
		}
		_, online := h.sessions[msg.User]
		h.adminReply(sess, "admin/inspect", []any{map[string]any{
			"userId": msg.User,
			"online": online,
			"keys":   fields,
		}})

	case wire.AdminOverwrite:
		// Admin writes bypass the server-owned key guard; this is the
		// operator path for repairing exactly those records.
		if err := h.store.SetPersonal(msg.User, msg.Key, msg.Value); err != nil {
			h.log.Error("overwrite failed",
				zap.String("user", msg.User),
				zap.String("key", msg.Key),
				zap.Error(err))
			return
		}
		h.log.Info("admin overwrite",
			zap.String("admin", sess.UserID()),
			zap.String("user", msg.User),
			zap.String("key", msg.Key))
		h.adminReply(sess, "admin/overwrite", []any{msg.User, msg.Key})
	}
}

func (h *Hub) adminReply(sess *session.Session, code string, args []any) {
	h.send(sess, wire.Recv{
		Group:    protocol.GroupUsers,
		FromUser: protocol.FromServer,
		Code:     code,
		Args:     args,
	})
}

// channelExclude maps the loopback flag to a Publish exclusion: loopback
// means the sender wants its own copy back.
func channelExclude(sess *session.Session, loopback bool) channel.Subscriber {
	if loopback {
		return nil
	}
	return sess
}
