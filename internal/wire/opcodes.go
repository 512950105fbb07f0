package wire

// ClientOp identifies a client→server frame. The numeric space overlaps with
// ServerOp on purpose (0/1/2 mean different things per direction); direction
// is never ambiguous at the framing layer, but the two enums are distinct Go
// types so they can never be mixed up in code.
type ClientOp byte

const (
	OpPing ClientOp = iota
	OpLoad
	OpSave
	OpSubscribe
	OpBroadcast
	OpPublish
	OpSendTo
	OpReport
	OpAdminOnline
	OpAdminBanned
	OpAdminBanning
	OpAdminInspect
	OpAdminOverwrite
)

// ServerOp identifies a server→client frame.
type ServerOp byte

const (
	OpPong ServerOp = iota
	OpResponse
	OpRecv
)
