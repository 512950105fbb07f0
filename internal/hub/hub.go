// Package hub owns all live connection state: the session table, the
// pub/sub registry, and the trade/battle engines. A single manager goroutine
// processes every inbound frame, timer tick, and admin request to completion
// before the next, so none of the structures it owns need locks; the only
// discipline required is "mutate inside a hub turn".
package hub

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/emberlight/realtime-backend/internal/auth"
	"github.com/emberlight/realtime-backend/internal/battle"
	"github.com/emberlight/realtime-backend/internal/channel"
	"github.com/emberlight/realtime-backend/internal/session"
	"github.com/emberlight/realtime-backend/internal/storage"
	"github.com/emberlight/realtime-backend/internal/trade"
	"github.com/emberlight/realtime-backend/internal/wire"
	"github.com/emberlight/realtime-backend/pkg/protocol"
)

// Config tunes the hub's timers.
type Config struct {
	// HeartbeatInterval is the transport ping period. A connection is only
	// force-closed after staying silent (no pong and no inbound frame) for
	// HeartbeatMisses intervals.
	HeartbeatInterval time.Duration
	// SweepInterval drives trade timeout and battle lifecycle cleanup.
	SweepInterval time.Duration
}

// HeartbeatMisses is how many silent intervals a connection survives before
// it is reaped.
const HeartbeatMisses = 3

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Second
	}
	return c
}

// Msg is a hub inbox message.
type Msg interface{ isHubMsg() }

// Register installs a freshly authenticated session. An existing session for
// the same user is evicted first.
type Register struct {
	Sess *session.Session
}

// Unregister tears a session down after its read loop exits.
type Unregister struct {
	Sess *session.Session
}

// Inbound is one decoded client frame.
type Inbound struct {
	Sess *session.Session
	Msg  wire.ClientMessage
}

// Kick force-closes a user's session. Reply receives whether they were online.
type Kick struct {
	UserID string
	Reason string
	Reply  chan bool
}

// Announce delivers a server notice to every connected session.
type Announce struct {
	Text string
}

// Stats is the dashboard snapshot.
type Stats struct {
	UptimeSeconds int64 `json:"uptimeSeconds"`
	Sessions      int   `json:"sessions"`
	Trades        int   `json:"trades"`
	Battles       int   `json:"battles"`
}

// StatsRequest asks for a Stats snapshot.
type StatsRequest struct {
	Reply chan Stats
}

// OnlinePlayer describes one connected user for the admin API.
type OnlinePlayer struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
	LastSeen int64  `json:"lastSeen"`
}

// OnlineRequest asks for the online-player list.
type OnlineRequest struct {
	Reply chan []OnlinePlayer
}

// ChannelsRequest asks for the pub/sub introspection snapshot.
type ChannelsRequest struct {
	Reply chan []channel.GroupSnapshot
}

func (Register) isHubMsg()        {}
func (Unregister) isHubMsg()      {}
func (Inbound) isHubMsg()         {}
func (Kick) isHubMsg()            {}
func (Announce) isHubMsg()        {}
func (StatsRequest) isHubMsg()    {}
func (OnlineRequest) isHubMsg()   {}
func (ChannelsRequest) isHubMsg() {}

// Hub is the manager actor.
type Hub struct {
	log   *zap.Logger
	cfg   Config
	codec *wire.Codec
	store storage.Store
	bans  auth.BanStore

	inbox     chan Msg
	registry  *channel.Registry
	sessions  map[string]*session.Session // by user id
	trades    *trade.Engine
	battles   *battle.Engine
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, cfg Config, store storage.Store, bans auth.BanStore, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		log:       log.Named("hub"),
		cfg:       cfg.withDefaults(),
		codec:     wire.NewCodec(log),
		store:     store,
		bans:      bans,
		inbox:     make(chan Msg, 256),
		registry:  channel.NewRegistry(log),
		sessions:  make(map[string]*session.Session),
		trades:    trade.NewEngine(store, log),
		battles:   battle.NewEngine(log),
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	go h.loop()
	return h
}

// Inbox accepts hub messages from the ws layer, the admin API, and tests.
func (h *Hub) Inbox() chan<- Msg { return h.inbox }

// Shutdown stops the manager goroutine and closes every session.
func (h *Hub) Shutdown() { h.cancel() }

func (h *Hub) loop() {
	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	sweep := time.NewTicker(h.cfg.SweepInterval)
	defer heartbeat.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-h.ctx.Done():
			for _, sess := range h.sessions {
				sess.Close(session.CloseNormal, "server shutting down")
			}
			return

		case m := <-h.inbox:
			h.handle(m)

		case now := <-heartbeat.C:
			h.heartbeat(now)

		case now := <-sweep.C:
			h.emitTradeEvents(h.trades.Sweep(now))
			h.battles.Sweep(now)
		}
	}
}

func (h *Hub) handle(m Msg) {
	switch msg := m.(type) {
	case Register:
		h.register(msg.Sess)

	case Unregister:
		// Only tear down if this exact session is still current; a
		// replacement login may already own the user id.
		if h.sessions[msg.Sess.UserID()] == msg.Sess {
			h.teardown(msg.Sess, session.CloseNormal, "connection closed")
		}

	case Inbound:
		h.dispatch(msg.Sess, msg.Msg)

	case Kick:
		sess, online := h.sessions[msg.UserID]
		if online {
			h.teardown(sess, session.CloseKicked, msg.Reason)
		}
		if msg.Reply != nil {
			msg.Reply <- online
		}

	case Announce:
		frame, err := h.codec.EncodeServer(wire.Recv{
			Group:    protocol.GroupUsers,
			FromUser: protocol.FromServer,
			Code:     protocol.CodeAnnounce,
			Args:     []any{msg.Text},
		})
		if err != nil {
			return
		}
		for _, sess := range h.sessions {
			if err := sess.Enqueue(frame); err != nil {
				h.log.Warn("announce send failed", zap.String("user", sess.UserID()), zap.Error(err))
			}
		}

	case StatsRequest:
		msg.Reply <- Stats{
			UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
			Sessions:      len(h.sessions),
			Trades:        h.trades.Count(),
			Battles:       h.battles.Count(),
		}

	case OnlineRequest:
		players := make([]OnlinePlayer, 0, len(h.sessions))
		for _, sess := range h.sessions {
			players = append(players, OnlinePlayer{
				UserID:   sess.UserID(),
				Username: sess.Username(),
				Admin:    sess.Admin(),
				LastSeen: sess.LastSeen.UnixMilli(),
			})
		}
		msg.Reply <- players

	case ChannelsRequest:
		msg.Reply <- h.registry.Snapshot()
	}
}

// register installs a session, evicting any previous login of the same user.
func (h *Hub) register(sess *session.Session) {
	if old, ok := h.sessions[sess.UserID()]; ok && old != sess {
		h.log.Info("evicting replaced session", zap.String("user", sess.UserID()))
		h.teardown(old, session.CloseSessionReplaced, "logged in elsewhere")
	}
	sess.LastSeen = time.Now()
	h.sessions[sess.UserID()] = sess
	h.log.Info("session registered",
		zap.String("user", sess.UserID()),
		zap.String("username", sess.Username()))
}

// teardown is the single exit path for a session: leave notifications,
// engine cancellations, registry cleanup, close.
func (h *Hub) teardown(sess *session.Session, code int, reason string) {
	for _, mb := range h.registry.Memberships(sess) {
		h.publish(mb.Group, mb.Channel, wire.Recv{
			Group:    mb.Group,
			FromUser: sess.UserID(),
			Code:     protocol.CodePlayerLeft,
			Args:     []any{sess.Username()},
		}, sess)

		switch mb.Group {
		case protocol.GroupTrade:
			h.emitTradeEvents(h.trades.OnUnsubscribe(mb.Channel, sess.UserID()))
		case protocol.GroupBattle:
			h.battles.OnUnsubscribe(mb.Channel, sess.UserID())
		}
	}
	h.registry.UnsubscribeAll(sess)
	if h.sessions[sess.UserID()] == sess {
		delete(h.sessions, sess.UserID())
	}
	sess.Close(code, reason)
}

// heartbeat pings every session and reaps the ones silent for
// HeartbeatMisses intervals. An inbound frame counts as liveness even when
// pongs are being lost.
func (h *Hub) heartbeat(now time.Time) {
	deadline := time.Duration(HeartbeatMisses) * h.cfg.HeartbeatInterval
	for _, sess := range h.sessions {
		lastAlive := sess.LastSeen
		if pong := sess.LastPong(); pong.After(lastAlive) {
			lastAlive = pong
		}
		if now.Sub(lastAlive) >= deadline {
			h.log.Info("heartbeat timeout",
				zap.String("user", sess.UserID()),
				zap.Duration("silent", now.Sub(lastAlive)))
			h.teardown(sess, session.CloseHeartbeatTimeout, "heartbeat timeout")
			continue
		}
		go func(s *session.Session) {
			ctx, cancel := context.WithTimeout(h.ctx, h.cfg.HeartbeatInterval)
			defer cancel()
			s.Ping(ctx)
		}(sess)
	}
}

// dispatch routes one decoded frame. A panicking handler is logged with its
// stack; it must never take the manager loop down with it.
func (h *Hub) dispatch(sess *session.Session, m wire.ClientMessage) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("handler panic",
				zap.Any("panic", r),
				zap.String("user", sess.UserID()),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	h.route(sess, m)
}
