package bus

type opcode uint8

const (
	OpNop          opcode = 0x00
	OpRead         opcode = 0x40
	OpWrite        opcode = 0x80
	OpCapabilities opcode = 0xc0
)

// Status is the first byte the peer sends in answer to every command except a no-op.
type Status uint8

const (
	StatusNone     Status = 0x00 // no status is sent for a no-op
	StatusOK       Status = 0x01
	StatusRejected Status = 0xff
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusOK:
		return "ok"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}
