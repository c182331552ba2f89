// bridge
package sim

// Bridge is a minimal relay component: an indication on one bridge port is
// flooded out every other enabled port.  No MAC learning, no spanning
// tree; the bridge exists so conversations traverse multi-hop topologies.
type Bridge struct {
	log      *SimLog
	Name     string
	VlanType uint16
	BPorts   []*BridgePort
}

// BridgePort is the bridge-side end of an ISS stack.  PIss points down at
// a Mac, an Aggregator or a DistributedRelay; nil disables the port.
type BridgePort struct {
	brg  *Bridge
	Idx  int
	PIss Iss
}

func NewBridge(log *SimLog, name string, vlanType uint16, numPorts int) *Bridge {
	b := &Bridge{log: log, Name: name, VlanType: vlanType}
	for i := 0; i < numPorts; i++ {
		b.BPorts = append(b.BPorts, &BridgePort{brg: b, Idx: i})
	}
	return b
}

// SetPortIss stacks the bridge port on the given service and registers the
// port as its client.
func (b *Bridge) SetPortIss(idx int, iss Iss) {
	b.BPorts[idx].PIss = iss
	if iss != nil {
		iss.SetClient(b.BPorts[idx])
	}
}

// Indication receives a frame from below and floods it.
func (bp *BridgePort) Indication(fr *Frame) {
	bp.brg.relay(fr, bp.Idx)
}

func (b *Bridge) relay(fr *Frame, inIdx int) {
	b.log.Logf(7, "%s relay frame from port %d", b.Name, inIdx)
	for _, bp := range b.BPorts {
		if bp.Idx == inIdx || bp.PIss == nil || !bp.PIss.Enabled() {
			continue
		}
		bp.PIss.Request(fr.Copy())
	}
}

func (b *Bridge) TimerTick()         {}
func (b *Bridge) Run(singleStep bool) {}
func (b *Bridge) Reset()             {}
