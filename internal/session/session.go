// Package session holds per-connection state: the authenticated identity,
// liveness timestamps, the outbound write pump, and the user's rate-limit
// buckets. Identity fields are immutable after the handshake; liveness
// fields are split between the hub goroutine (LastSeen) and the ping
// goroutine (pong timestamps, stored atomically).
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberlight/realtime-backend/internal/ratelimit"
)

// Application close codes (4000-range, reserved for private use).
const (
	// CloseNormal is an orderly server-side teardown with no sanction
	// attached: the transport ended or the write path failed.
	CloseNormal           = 4400
	CloseBanned           = 4402
	CloseKicked           = 4403
	CloseHeartbeatTimeout = 4408
	CloseSessionReplaced  = 4409
)

const (
	sendQueueSize = 256
	writeTimeout  = 10 * time.Second
)

// ErrQueueFull is returned by Enqueue when the outbound buffer is saturated;
// publishers log it and move on, and the heartbeat eventually reaps the
// connection if it never drains.
var ErrQueueFull = errors.New("session: send queue full")

var errClosed = errors.New("session: closed")

// Conn is the minimal transport surface the session needs. The ws package
// adapts a websocket connection to it; tests supply fakes.
type Conn interface {
	Write(ctx context.Context, data []byte) error
	Ping(ctx context.Context) error
	Close(code int, reason string) error
}

// Session is one authenticated connection.
type Session struct {
	id       string
	userID   string
	username string
	admin    bool

	conn   Conn
	log    *zap.Logger
	sendCh chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once

	// Limits is the per-user rate-limiter set; dropped with the session.
	Limits *ratelimit.Set

	// LastSeen is the arrival time of the most recent inbound message.
	// Owned by the hub goroutine.
	LastSeen time.Time

	lastPong atomic.Int64 // unix millis, written by the ping goroutine
}

func New(userID, username string, admin bool, conn Conn, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	s := &Session{
		id:       uuid.New().String(),
		userID:   userID,
		username: username,
		admin:    admin,
		conn:     conn,
		log:      log.Named("session").With(zap.String("user", userID)),
		sendCh:   make(chan []byte, sendQueueSize),
		ctx:      ctx,
		cancel:   cancel,
		Limits:   ratelimit.NewSet(),
		LastSeen: now,
	}
	s.lastPong.Store(now.UnixMilli())
	go s.writePump()
	return s
}

func (s *Session) ID() string       { return s.id }
func (s *Session) UserID() string   { return s.userID }
func (s *Session) Username() string { return s.username }
func (s *Session) Admin() bool      { return s.admin }

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Enqueue hands an encoded frame to the write pump without blocking.
func (s *Session) Enqueue(data []byte) error {
	select {
	case <-s.ctx.Done():
		return errClosed
	default:
	}
	select {
	case s.sendCh <- data:
		return nil
	default:
		return ErrQueueFull
	}
}

// Ping sends a transport-level ping and records the pong arrival. Called
// from a short-lived goroutine per heartbeat tick, never from the hub turn.
func (s *Session) Ping(ctx context.Context) {
	if err := s.conn.Ping(ctx); err != nil {
		return
	}
	s.lastPong.Store(time.Now().UnixMilli())
}

// LastPong is the arrival time of the most recent pong.
func (s *Session) LastPong() time.Time {
	return time.UnixMilli(s.lastPong.Load())
}

// Close shuts the session down exactly once.
func (s *Session) Close(code int, reason string) {
	s.once.Do(func() {
		s.cancel()
		if err := s.conn.Close(code, reason); err != nil {
			s.log.Debug("close failed", zap.Error(err))
		}
	})
}

func (s *Session) writePump() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.sendCh:
			ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := s.conn.Write(ctx, data)
			cancel()
			if err != nil {
				s.log.Debug("write failed, dropping connection", zap.Error(err))
				s.Close(CloseNormal, "write failure")
				return
			}
		}
	}
}
