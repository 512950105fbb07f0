package wire

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCodec() *Codec {
	return NewCodec(zap.NewNop())
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestCodec()

	cases := []struct {
		name string
		msg  ClientMessage
	}{
		{"ping", Ping{TS: 1724400000123}},
		{"load personal", Load{Global: false, Key: "inventory", QueryID: 7}},
		{"load global", Load{Global: true, Key: "guildIndex", QueryID: 4294967295}},
		{"save", Save{Global: false, Key: "settings", Fields: map[string]any{"volume": int64(80)}}},
		{"subscribe", Subscribe{Group: "map", Channel: "12", Args: []any{"Alice", int64(3)}}},
		{"subscribe no args", Subscribe{Group: "party", Channel: "p-1"}},
		{"broadcast", Broadcast{Loopback: true, Code: "chat", Args: []any{"hello there"}}},
		{"publish", Publish{Loopback: false, Group: "battle", Code: "btl/action", Args: []any{int64(1), int64(42), float64(100)}}},
		{"sendto", SendTo{TargetUser: "u-9", Code: "tradeAsk", Args: []any{"u-1"}}},
		{"report", Report{ReportedUser: "u-3", Reason: "spam"}},
		{"admin online", AdminOnline{}},
		{"admin banned", AdminBanned{}},
		{"admin banning", AdminBanning{User: "u-5", Minutes: 1440}},
		{"admin inspect", AdminInspect{User: "u-5"}},
		{"admin overwrite", AdminOverwrite{User: "u-5", Key: "gold", Value: int64(0)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := c.EncodeClient(tc.msg)
			require.NoError(t, err)
			got, err := c.DecodeClient(data)
			require.NoError(t, err)
			assert.Equal(t, tc.msg, got)
		})
	}
}

func TestServerRoundTrip(t *testing.T) {
	c := newTestCodec()

	cases := []struct {
		name string
		msg  ServerMessage
	}{
		{"pong", Pong{TS: 99}},
		{"response", Response{QueryID: 12, Fields: map[string]any{"gold": int64(250)}}},
		{"recv", Recv{Group: "trade", FromUser: "server", Code: "tradeFail", Args: []any{"channel_full"}}},
		{"recv empty args", Recv{Group: "users", FromUser: "u-2", Code: "u/join"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := c.EncodeServer(tc.msg)
			require.NoError(t, err)
			got, err := c.DecodeServer(data)
			require.NoError(t, err)
			assert.Equal(t, tc.msg, got)
		})
	}
}

func TestOversizedStringTruncatesAtRuneBoundary(t *testing.T) {
	c := newTestCodec()

	// 254 ASCII bytes followed by a 3-byte rune that straddles the cap.
	long := strings.Repeat("a", 254) + "世界"
	data, err := c.EncodeClient(Report{ReportedUser: long, Reason: "x"})
	require.NoError(t, err, "encode must not fail on oversized fields")

	got, err := c.DecodeClient(data)
	require.NoError(t, err)
	rep := got.(Report)
	assert.True(t, utf8.ValidString(rep.ReportedUser))
	assert.LessOrEqual(t, len(rep.ReportedUser), MaxFieldSize)
	assert.Equal(t, strings.Repeat("a", 254), rep.ReportedUser)
	assert.Equal(t, "x", rep.Reason, "fields after the truncated one stay intact")
}

func TestOversizedValueBecomesSentinel(t *testing.T) {
	c := newTestCodec()

	big := strings.Repeat("z", 1024)
	data, err := c.EncodeClient(Save{Key: "notes", Fields: big})
	require.NoError(t, err)

	got, err := c.DecodeClient(data)
	require.NoError(t, err)
	assert.Equal(t, TruncatedValue, got.(Save).Fields)
}

func TestMalformedTrailingArgsDegradeToEmpty(t *testing.T) {
	c := newTestCodec()

	data, err := c.EncodeClient(Subscribe{Group: "map", Channel: "5"})
	require.NoError(t, err)
	// Append garbage where the msgpack array would live.
	data = append(data, 0xc1, 0xff, 0x01)

	got, err := c.DecodeClient(data)
	require.NoError(t, err, "a bad trailing blob must not fail the message")
	assert.Empty(t, got.(Subscribe).Args)
}

func TestDecodeErrors(t *testing.T) {
	c := newTestCodec()

	cases := []struct {
		name string
		data []byte
	}{
		{"empty frame", nil},
		{"unknown opcode", []byte{0xee}},
		{"ping short", []byte{byte(OpPing), 1, 2}},
		{"string length past end", []byte{byte(OpReport), 10, 'a'}},
		{"value length past end", []byte{byte(OpSave), 0, 1, 'k', 200}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.DecodeClient(tc.data)
			assert.Error(t, err)
		})
	}
}

// The 0/1/2 opcode values are reused across directions by design; the enums
// themselves must stay in sync with that layout.
func TestOpcodeLayout(t *testing.T) {
	assert.Equal(t, byte(OpPing), byte(OpPong))
	assert.Equal(t, byte(OpLoad), byte(OpResponse))
	assert.Equal(t, byte(OpSave), byte(OpRecv))
	assert.Equal(t, ClientOp(12), OpAdminOverwrite)
}
