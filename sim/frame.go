// frame
package sim

import (
	"github.com/srhaddock/drni/pdu"
)

// VlanTag is an outer C-VLAN or S-VLAN tag.
type VlanTag struct {
	TPID uint16
	Vid  uint16
}

// Frame is the envelope moved through the ISS: addresses, an optional
// VLAN tag, the parsed payload and the tick it was created.
type Frame struct {
	Da        [6]byte
	Sa        [6]byte
	EtherType uint16
	Vtag      *VlanTag
	// Pdu is the parsed payload: *pdu.LACP, *pdu.DRCP or a raw []byte
	// data payload.
	Pdu       interface{}
	TimeStamp int
}

// Copy returns a shallow copy suitable for fan-out through a relay; the
// Pdu is shared since nothing mutates a frame payload in flight.
func (f *Frame) Copy() *Frame {
	n := *f
	if f.Vtag != nil {
		tag := *f.Vtag
		n.Vtag = &tag
	}
	return &n
}

// IsControl reports whether the frame carries a control protocol PDU
// rather than client data.
func (f *Frame) IsControl() bool {
	switch f.Pdu.(type) {
	case *pdu.LACP, *pdu.DRCP:
		return true
	}
	return false
}
