// Package wire implements the binary frame codec: a single opcode byte,
// opcode-specific fields with 1-byte length-prefixed strings and values, and
// a trailing msgpack-encoded argument array covering the rest of the buffer.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// MaxFieldSize caps any individual length-prefixed string or value field.
const MaxFieldSize = 255

// TruncatedValue replaces an inline value whose encoding exceeds MaxFieldSize.
const TruncatedValue = "[truncated]"

var (
	ErrShortFrame    = errors.New("wire: frame too short")
	ErrUnknownOpcode = errors.New("wire: unknown opcode")
)

// Codec encodes and decodes frames. Oversized string/value fields never fail
// the encode; they are truncated (or replaced with a sentinel) and logged,
// so a single hostile payload cannot wedge the dispatcher.
type Codec struct {
	log *zap.Logger
}

func NewCodec(log *zap.Logger) *Codec {
	if log == nil {
		log = zap.NewNop()
	}
	return &Codec{log: log.Named("wire")}
}

// EncodeClient encodes a client→server frame. Used by tests and Go clients.
func (c *Codec) EncodeClient(m ClientMessage) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(m.clientOp()))

	switch v := m.(type) {
	case Ping:
		writeInt64(buf, v.TS)
	case Load:
		writeBool(buf, v.Global)
		c.writeString(buf, v.Key)
		writeUint32(buf, v.QueryID)
	case Save:
		writeBool(buf, v.Global)
		c.writeString(buf, v.Key)
		c.writeValue(buf, v.Fields)
	case Subscribe:
		c.writeString(buf, v.Group)
		c.writeString(buf, v.Channel)
		c.writeArgs(buf, v.Args)
	case Broadcast:
		writeBool(buf, v.Loopback)
		c.writeString(buf, v.Code)
		c.writeArgs(buf, v.Args)
	case Publish:
		writeBool(buf, v.Loopback)
		c.writeString(buf, v.Group)
		c.writeString(buf, v.Code)
		c.writeArgs(buf, v.Args)
	case SendTo:
		c.writeString(buf, v.TargetUser)
		c.writeString(buf, v.Code)
		c.writeArgs(buf, v.Args)
	case Report:
		c.writeString(buf, v.ReportedUser)
		c.writeString(buf, v.Reason)
	case AdminOnline, AdminBanned:
		// opcode only
	case AdminBanning:
		c.writeString(buf, v.User)
		writeUint32(buf, v.Minutes)
	case AdminInspect:
		c.writeString(buf, v.User)
	case AdminOverwrite:
		c.writeString(buf, v.User)
		c.writeString(buf, v.Key)
		c.writeValue(buf, v.Value)
	default:
		return nil, fmt.Errorf("wire: unsupported client message %T", m)
	}
	return buf.Bytes(), nil
}

// DecodeClient decodes a client→server frame.
func (c *Codec) DecodeClient(data []byte) (ClientMessage, error) {
	r := &reader{data: data}
	op, err := r.byte()
	if err != nil {
		return nil, err
	}

	switch ClientOp(op) {
	case OpPing:
		ts, err := r.int64()
		if err != nil {
			return nil, fmt.Errorf("ping: %w", err)
		}
		return Ping{TS: ts}, nil
	case OpLoad:
		var m Load
		if m.Global, err = r.bool(); err != nil {
			return nil, fmt.Errorf("load: %w", err)
		}
		if m.Key, err = r.str(); err != nil {
			return nil, fmt.Errorf("load: %w", err)
		}
		if m.QueryID, err = r.uint32(); err != nil {
			return nil, fmt.Errorf("load: %w", err)
		}
		return m, nil
	case OpSave:
		var m Save
		if m.Global, err = r.bool(); err != nil {
			return nil, fmt.Errorf("save: %w", err)
		}
		if m.Key, err = r.str(); err != nil {
			return nil, fmt.Errorf("save: %w", err)
		}
		if m.Fields, err = r.value(); err != nil {
			return nil, fmt.Errorf("save: %w", err)
		}
		return m, nil
	case OpSubscribe:
		var m Subscribe
		if m.Group, err = r.str(); err != nil {
			return nil, fmt.Errorf("subscribe: %w", err)
		}
		if m.Channel, err = r.str(); err != nil {
			return nil, fmt.Errorf("subscribe: %w", err)
		}
		m.Args = c.decodeArgs(r.rest())
		return m, nil
	case OpBroadcast:
		var m Broadcast
		if m.Loopback, err = r.bool(); err != nil {
			return nil, fmt.Errorf("broadcast: %w", err)
		}
		if m.Code, err = r.str(); err != nil {
			return nil, fmt.Errorf("broadcast: %w", err)
		}
		m.Args = c.decodeArgs(r.rest())
		return m, nil
	case OpPublish:
		var m Publish
		if m.Loopback, err = r.bool(); err != nil {
			return nil, fmt.Errorf("publish: %w", err)
		}
		if m.Group, err = r.str(); err != nil {
			return nil, fmt.Errorf("publish: %w", err)
		}
		if m.Code, err = r.str(); err != nil {
			return nil, fmt.Errorf("publish: %w", err)
		}
		m.Args = c.decodeArgs(r.rest())
		return m, nil
	case OpSendTo:
		var m SendTo
		if m.TargetUser, err = r.str(); err != nil {
			return nil, fmt.Errorf("sendto: %w", err)
		}
		if m.Code, err = r.str(); err != nil {
			return nil, fmt.Errorf("sendto: %w", err)
		}
		m.Args = c.decodeArgs(r.rest())
		return m, nil
	case OpReport:
		var m Report
		if m.ReportedUser, err = r.str(); err != nil {
			return nil, fmt.Errorf("report: %w", err)
		}
		if m.Reason, err = r.str(); err != nil {
			return nil, fmt.Errorf("report: %w", err)
		}
		return m, nil
	case OpAdminOnline:
		return AdminOnline{}, nil
	case OpAdminBanned:
		return AdminBanned{}, nil
	case OpAdminBanning:
		var m AdminBanning
		if m.User, err = r.str(); err != nil {
			return nil, fmt.Errorf("banning: %w", err)
		}
		if m.Minutes, err = r.uint32(); err != nil {
			return nil, fmt.Errorf("banning: %w", err)
		}
		return m, nil
	case OpAdminInspect:
		var m AdminInspect
		if m.User, err = r.str(); err != nil {
			return nil, fmt.Errorf("inspect: %w", err)
		}
		return m, nil
	case OpAdminOverwrite:
		var m AdminOverwrite
		if m.User, err = r.str(); err != nil {
			return nil, fmt.Errorf("overwrite: %w", err)
		}
		if m.Key, err = r.str(); err != nil {
			return nil, fmt.Errorf("overwrite: %w", err)
		}
		if m.Value, err = r.value(); err != nil {
			return nil, fmt.Errorf("overwrite: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownOpcode, op)
}

// EncodeServer encodes a server→client frame.
func (c *Codec) EncodeServer(m ServerMessage) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(m.serverOp()))

	switch v := m.(type) {
	case Pong:
		writeInt64(buf, v.TS)
	case Response:
		writeUint32(buf, v.QueryID)
		c.writeValue(buf, v.Fields)
	case Recv:
		c.writeString(buf, v.Group)
		c.writeString(buf, v.FromUser)
		c.writeString(buf, v.Code)
		c.writeArgs(buf, v.Args)
	default:
		return nil, fmt.Errorf("wire: unsupported server message %T", m)
	}
	return buf.Bytes(), nil
}

// DecodeServer decodes a server→client frame. Used by tests and Go clients.
func (c *Codec) DecodeServer(data []byte) (ServerMessage, error) {
	r := &reader{data: data}
	op, err := r.byte()
	if err != nil {
		return nil, err
	}

	switch ServerOp(op) {
	case OpPong:
		ts, err := r.int64()
		if err != nil {
			return nil, fmt.Errorf("pong: %w", err)
		}
		return Pong{TS: ts}, nil
	case OpResponse:
		var m Response
		if m.QueryID, err = r.uint32(); err != nil {
			return nil, fmt.Errorf("response: %w", err)
		}
		if m.Fields, err = r.value(); err != nil {
			return nil, fmt.Errorf("response: %w", err)
		}
		return m, nil
	case OpRecv:
		var m Recv
		if m.Group, err = r.str(); err != nil {
			return nil, fmt.Errorf("recv: %w", err)
		}
		if m.FromUser, err = r.str(); err != nil {
			return nil, fmt.Errorf("recv: %w", err)
		}
		if m.Code, err = r.str(); err != nil {
			return nil, fmt.Errorf("recv: %w", err)
		}
		m.Args = c.decodeArgs(r.rest())
		return m, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownOpcode, op)
}

// writeString writes a 1-byte length-prefixed string, truncating at a rune
// boundary if the encoding exceeds MaxFieldSize. Truncation is logged as a
// security signal but never fails the frame.
func (c *Codec) writeString(buf *bytes.Buffer, s string) {
	if len(s) > MaxFieldSize {
		c.log.Warn("oversized string field truncated",
			zap.Int("len", len(s)))
		s = truncateString(s, MaxFieldSize)
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
}

// writeValue writes a 1-byte length-prefixed msgpack value. A value that
// cannot be encoded within MaxFieldSize is replaced by the TruncatedValue
// sentinel (or msgpack nil as a last resort).
func (c *Codec) writeValue(buf *bytes.Buffer, v any) {
	b, err := msgpack.Marshal(v)
	if err != nil || len(b) > MaxFieldSize {
		c.log.Warn("oversized or unencodable value replaced",
			zap.Int("len", len(b)), zap.Error(err))
		if b, err = msgpack.Marshal(TruncatedValue); err != nil {
			b = []byte{0xc0} // msgpack nil
		}
	}
	buf.WriteByte(byte(len(b)))
	buf.Write(b)
}

// writeArgs appends the trailing argument array: one whole-remaining-buffer
// msgpack blob, not individually framed.
func (c *Codec) writeArgs(buf *bytes.Buffer, args []any) {
	b, err := msgpack.Marshal(args)
	if err != nil {
		c.log.Warn("unencodable args dropped", zap.Error(err))
		b, _ = msgpack.Marshal([]any(nil))
	}
	buf.Write(b)
}

// decodeArgs decodes the trailing blob, degrading to an empty argument list
// on failure rather than failing the whole message.
func (c *Codec) decodeArgs(rest []byte) []any {
	if len(rest) == 0 {
		return nil
	}
	v, err := decodeLoose(rest)
	if err != nil {
		c.log.Debug("malformed trailing args ignored", zap.Error(err))
		return nil
	}
	args, ok := v.([]any)
	if !ok {
		return nil
	}
	return args
}

// decodeLoose decodes msgpack into interface values with stable Go shapes
// (int64 for integers, float64 for floats, map[string]any for maps).
func decodeLoose(b []byte) (any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	return dec.DecodeInterface()
}

func truncateString(s string, max int) string {
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

// reader is a cursor over a frame buffer.
type reader struct {
	data []byte
	off  int
}

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.data) {
		return 0, ErrShortFrame
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *reader) bool() (bool, error) {
	b, err := r.byte()
	return b != 0, err
}

func (r *reader) uint32() (uint32, error) {
	if r.off+4 > len(r.data) {
		return 0, ErrShortFrame
	}
	v := binary.BigEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) int64() (int64, error) {
	if r.off+8 > len(r.data) {
		return 0, ErrShortFrame
	}
	v := int64(binary.BigEndian.Uint64(r.data[r.off:]))
	r.off += 8
	return v, nil
}

func (r *reader) str() (string, error) {
	n, err := r.byte()
	if err != nil {
		return "", err
	}
	if r.off+int(n) > len(r.data) {
		return "", ErrShortFrame
	}
	s := string(r.data[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *reader) value() (any, error) {
	n, err := r.byte()
	if err != nil {
		return nil, err
	}
	if r.off+int(n) > len(r.data) {
		return nil, ErrShortFrame
	}
	raw := r.data[r.off : r.off+int(n)]
	r.off += int(n)
	if len(raw) == 0 {
		return nil, nil
	}
	return decodeLoose(raw)
}

func (r *reader) rest() []byte {
	return r.data[r.off:]
}
