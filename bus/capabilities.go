package bus

import "fmt"

const (
	flagAccess8b     = 1 << 0
	flagAccess16b    = 1 << 1
	flagAccess32b    = 1 << 2
	flagAccess64b    = 1 << 3
	flagBurstNonIncr = 1 << 4
	flagBurstIncr    = 1 << 5
	flagNoAddr       = 1 << 6

	continuation = 0x80
	valueMask    = 0x7f

	// minimum number of bytes in a capability report
	capabilitiesLen = 4
	// a report longer than this means the peer is stuck sending continuation bytes
	maxCapabilitiesLen = 64
)

// Capabilities is the peer's capability report.
type Capabilities struct {
	Access8      bool
	Access16     bool
	Access32     bool
	Access64     bool
	BurstNonIncr bool
	BurstIncr    bool
	NoAddr       bool

	BurstWidth uint8
	AddrWidth  uint8
	DataWidth  uint8
}

// AddrByteCount returns the number of address bytes sent for a bus with the given address width.
func AddrByteCount(addrWidth int) int {
	return (addrWidth + 7) / 8
}

// AddrBytes is the number of little-endian address bytes following a read or write opcode.
func (c Capabilities) AddrBytes() int {
	return AddrByteCount(int(c.AddrWidth))
}

// Encode produces the 4-byte report as the peer sends it.
func (c Capabilities) Encode() []byte {
	var flags byte
	set := func(b bool, f byte) {
		if b {
			flags |= f
		}
	}
	set(c.Access8, flagAccess8b)
	set(c.Access16, flagAccess16b)
	set(c.Access32, flagAccess32b)
	set(c.Access64, flagAccess64b)
	set(c.BurstNonIncr, flagBurstNonIncr)
	set(c.BurstIncr, flagBurstIncr)
	set(c.NoAddr, flagNoAddr)

	return []byte{
		continuation | flags,
		continuation | (c.BurstWidth & valueMask),
		continuation | (c.AddrWidth & valueMask),
		c.DataWidth & valueMask,
	}
}

// DecodeCapabilities decodes a complete report. The last byte must have its
// continuation bit clear; bytes beyond the fourth are ignored.
func DecodeCapabilities(p []byte) (c Capabilities, err error) {
	if len(p) < capabilitiesLen {
		return c, &ProtocolError{Op: "capabilities", Reason: fmt.Sprintf("report too short: %d bytes", len(p))}
	}
	if p[len(p)-1]&continuation != 0 {
		return c, &ProtocolError{Op: "capabilities", Reason: "report is not terminated"}
	}

	for i, b := range p {
		switch i {
		case 0:
			c.Access8 = b&flagAccess8b != 0
			c.Access16 = b&flagAccess16b != 0
			c.Access32 = b&flagAccess32b != 0
			c.Access64 = b&flagAccess64b != 0
			c.BurstNonIncr = b&flagBurstNonIncr != 0
			c.BurstIncr = b&flagBurstIncr != 0
			c.NoAddr = b&flagNoAddr != 0
		case 1:
			c.BurstWidth = b & valueMask
		case 2:
			c.AddrWidth = b & valueMask
		case 3:
			c.DataWidth = b & valueMask
		}
	}

	return c, nil
}

func (c Capabilities) String() string {
	return fmt.Sprintf(
		"Capabilities(access_8b=%t, access_16b=%t, access_32b=%t, access_64b=%t, burst_nonincr=%t, burst_incr=%t, no_addr=%t, burst_width=%d, addr_width=%d, data_width=%d)",
		c.Access8, c.Access16, c.Access32, c.Access64,
		c.BurstNonIncr, c.BurstIncr, c.NoAddr,
		c.BurstWidth, c.AddrWidth, c.DataWidth,
	)
}
