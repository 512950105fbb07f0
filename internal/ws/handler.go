// Package ws bridges HTTP to the hub: it upgrades the connection, runs the
// handshake (token, ban check), and then pumps decoded frames into the hub
// inbox until the connection dies.
package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/emberlight/realtime-backend/internal/auth"
	"github.com/emberlight/realtime-backend/internal/hub"
	"github.com/emberlight/realtime-backend/internal/session"
	"github.com/emberlight/realtime-backend/internal/wire"
)

// maxFrameSize bounds a single inbound frame; the codec's own field caps
// keep legitimate frames far below this.
const maxFrameSize = 64 << 10

// conn adapts a websocket connection to the session transport surface.
type conn struct {
	c *websocket.Conn
}

func (c conn) Write(ctx context.Context, data []byte) error {
	return c.c.Write(ctx, websocket.MessageBinary, data)
}

func (c conn) Ping(ctx context.Context) error {
	return c.c.Ping(ctx)
}

func (c conn) Close(code int, reason string) error {
	return c.c.Close(websocket.StatusCode(code), reason)
}

// Handler authenticates ?token=, refuses banned users, and hands the
// connection to the hub.
func Handler(h *hub.Hub, verifier auth.Verifier, bans auth.BanStore, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")
	codec := wire.NewCodec(log)

	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		identity, err := verifier.Verify(token)
		if err != nil {
			log.Info("handshake rejected", zap.Error(err))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ban, err := bans.Check(identity.UserID)
		if err != nil {
			log.Error("ban check failed", zap.String("user", identity.UserID), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		wsc, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Info("accept failed", zap.Error(err))
			return
		}
		wsc.SetReadLimit(maxFrameSize)

		// Banned users get the application close code rather than an HTTP
		// error, so clients can distinguish "banned" from "token expired".
		if ban != nil {
			log.Info("banned user refused",
				zap.String("user", identity.UserID),
				zap.Time("until", ban.Until))
			_ = wsc.Close(websocket.StatusCode(session.CloseBanned), "banned: "+ban.Reason)
			return
		}

		sess := session.New(identity.UserID, identity.Username, identity.Admin, conn{c: wsc}, log)
		h.Inbox() <- hub.Register{Sess: sess}
		defer func() { h.Inbox() <- hub.Unregister{Sess: sess} }()

		for {
			_, data, err := wsc.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read loop ended",
						zap.String("user", identity.UserID), zap.Error(err))
				}
				return
			}

			msg, err := codec.DecodeClient(data)
			if err != nil {
				// A malformed frame is dropped, not fatal; the codec already
				// logged the detail.
				log.Warn("malformed frame dropped",
					zap.String("user", identity.UserID), zap.Error(err))
				continue
			}

			select {
			case <-sess.Done():
				return
			default:
			}
			h.Inbox() <- hub.Inbound{Sess: sess, Msg: msg}
		}
	}
}
