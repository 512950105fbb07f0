package wire

// ClientMessage is a decoded client→server frame.
type ClientMessage interface{ clientOp() ClientOp }

// ServerMessage is a frame the server encodes for a client.
type ServerMessage interface{ serverOp() ServerOp }

// Client → server.

type Ping struct {
	TS int64
}

type Load struct {
	Global  bool
	Key     string
	QueryID uint32
}

type Save struct {
	Global bool
	Key    string
	Fields any
}

type Subscribe struct {
	Group   string
	Channel string
	Args    []any
}

type Broadcast struct {
	Loopback bool
	Code     string
	Args     []any
}

type Publish struct {
	Loopback bool
	Group    string
	Code     string
	Args     []any
}

type SendTo struct {
	TargetUser string
	Code       string
	Args       []any
}

type Report struct {
	ReportedUser string
	Reason       string
}

type AdminOnline struct{}

type AdminBanned struct{}

type AdminBanning struct {
	User    string
	Minutes uint32
}

type AdminInspect struct {
	User string
}

type AdminOverwrite struct {
	User  string
	Key   string
	Value any
}

func (Ping) clientOp() ClientOp           { return OpPing }
func (Load) clientOp() ClientOp           { return OpLoad }
func (Save) clientOp() ClientOp           { return OpSave }
func (Subscribe) clientOp() ClientOp      { return OpSubscribe }
func (Broadcast) clientOp() ClientOp      { return OpBroadcast }
func (Publish) clientOp() ClientOp        { return OpPublish }
func (SendTo) clientOp() ClientOp         { return OpSendTo }
func (Report) clientOp() ClientOp         { return OpReport }
func (AdminOnline) clientOp() ClientOp    { return OpAdminOnline }
func (AdminBanned) clientOp() ClientOp    { return OpAdminBanned }
func (AdminBanning) clientOp() ClientOp   { return OpAdminBanning }
func (AdminInspect) clientOp() ClientOp   { return OpAdminInspect }
func (AdminOverwrite) clientOp() ClientOp { return OpAdminOverwrite }

// Server → client.

type Pong struct {
	TS int64
}

type Response struct {
	QueryID uint32
	Fields  any
}

type Recv struct {
	Group    string
	FromUser string
	Code     string
	Args     []any
}

func (Pong) serverOp() ServerOp     { return OpPong }
func (Response) serverOp() ServerOp { return OpResponse }
func (Recv) serverOp() ServerOp     { return OpRecv }
