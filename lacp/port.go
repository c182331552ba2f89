// port
package lacp

import (
	"fmt"

	"github.com/srhaddock/drni/pdu"
	"github.com/srhaddock/drni/sim"
)

// 802.1ax-2014 Section 6.4.7
// LaAggPort is an aggregation-capable physical port and the per-port LACP
// state.  Cross references to Aggregators are indices into the owning
// LinkAgg shim's arrays; AggAttached is a lookup convenience, never an
// owning handle.
type LaAggPort struct {
	log *sim.SimLog
	la  *LinkAgg

	// position in the shim arrays; the Aggregator at the same index is
	// this port's preferred Aggregator
	Index int
	Name  string

	// Link Aggregation Control uses a Port Identifier comprising the
	// concatenation of a Port Priority and a Port Number
	PortNum      uint16
	portPriority uint16

	// admin values
	Key           uint16
	LinkNumberID  uint16
	WTRTime       uint16
	ProtocolDA    [6]byte
	PortAlgorithm LagAlgorithm

	actorAdmin   LacpPortInfo
	ActorOper    LacpPortInfo
	partnerAdmin LacpPortInfo
	PartnerOper  LacpPortInfo

	lacpEnabled bool
	PortEnabled bool
	wasEnabled  bool
	everEnabled bool
	portMoved   bool
	readyN      bool
	ntt         bool

	aggSelected    int
	SelectedAggIdx int // last selection target, -1 before first selection
	AggAttached    *LaAggregator

	// partner view learned from version 2 TLVs
	partnerLinkNumber    uint16
	partnerPortAlgorithm LagAlgorithm
	partnerDigest        [16]byte

	// duplicate link number diagnostic
	dupLinkNumber bool

	actorChurn bool
	churnCount int

	currentWhileTimer   lacpTimer
	currentWhileTimeout int
	periodicTimer       lacpTimer
	waitWhileTimer      lacpTimer
	txGuardTimer        lacpTimer
	churnTimer          lacpTimer
	wtrTimer            lacpTimer

	// the service below: a Mac, or an inner Aggregator for hierarchical
	// aggregation
	pIss   sim.Iss
	srcMac [6]byte
	rxPdus []*pdu.LACP

	RxMachineFsm  *LacpRxMachine
	PtxMachineFsm *LacpPtxMachine
	MuxMachineFsm *LacpMuxMachine
	TxMachineFsm  *LacpTxMachine
	CdMachineFsm  *LacpCdMachine
	WtrMachineFsm *LacpWtrMachine

	Counters struct {
		LacpInPkts  uint64
		LacpOutPkts uint64
		DataOutPkts uint64
		DataInPkts  uint64
	}
}

// NewLaAggPort allocates a port with default admin values and its state
// machines in their begin states.
func NewLaAggPort(log *sim.SimLog, la *LinkAgg, index int, portNum uint16) *LaAggPort {
	p := &LaAggPort{
		log:            log,
		la:             la,
		Index:          index,
		PortNum:        portNum,
		portPriority:   DefaultPortPriority,
		Key:            DefaultActorKey,
		LinkNumberID:   uint16(index + 1),
		ProtocolDA:     pdu.SlowProtocolsDMAC,
		lacpEnabled:    true,
		aggSelected:    LacpAggUnSelected,
		SelectedAggIdx: -1,
	}
	p.Name = fmt.Sprintf("%s:%x", la.Name, portNum)
	p.initPortInfo()

	p.RxMachineFsm = NewLacpRxMachine(p)
	p.PtxMachineFsm = NewLacpPtxMachine(p)
	p.MuxMachineFsm = NewLacpMuxMachine(p)
	p.TxMachineFsm = NewLacpTxMachine(p)
	p.CdMachineFsm = NewLacpCdMachine(p)
	p.WtrMachineFsm = NewLacpWtrMachine(p)
	return p
}

func (p *LaAggPort) initPortInfo() {
	p.actorAdmin = LacpPortInfo{
		System:  p.la.SystemId,
		Key:     p.Key,
		PortPri: p.portPriority,
		Port:    p.PortNum,
		State:   DefaultActorAdminState,
	}
	p.ActorOper = p.actorAdmin
	p.partnerAdmin = LacpPortInfo{State: DefaultPartnerAdminState}
	p.PartnerOper = p.partnerAdmin
}

func (p *LaAggPort) reset() {
	p.initPortInfo()
	p.PortEnabled = false
	p.wasEnabled = false
	p.everEnabled = false
	p.portMoved = false
	p.readyN = false
	p.ntt = false
	p.aggSelected = LacpAggUnSelected
	p.SelectedAggIdx = -1
	p.AggAttached = nil
	p.partnerLinkNumber = 0
	p.partnerPortAlgorithm = LagAlgorithmUnspecified
	p.partnerDigest = [16]byte{}
	p.dupLinkNumber = false
	p.actorChurn = false
	p.rxPdus = nil
	p.currentWhileTimer.stop()
	p.periodicTimer.stop()
	p.waitWhileTimer.stop()
	p.txGuardTimer.stop()
	p.churnTimer.stop()
	p.wtrTimer.stop()
	p.RxMachineFsm.restart()
	p.PtxMachineFsm.restart()
	p.MuxMachineFsm.restart()
	p.TxMachineFsm.restart()
	p.CdMachineFsm.restart()
	p.WtrMachineFsm.restart()
}

// SetMac stacks the port on its Mac.
func (p *LaAggPort) SetMac(m *sim.Mac) {
	p.pIss = m
	p.srcMac = m.HwAddr
	m.SetClient(p)
}

// SetLowerIss stacks the port on an arbitrary lower service (an inner
// Aggregator, for hierarchical aggregation); addr is the source address
// used in transmitted PDUs.
func (p *LaAggPort) SetLowerIss(iss sim.Iss, addr [6]byte) {
	p.pIss = iss
	p.srcMac = addr
	if iss != nil {
		iss.SetClient(p)
	}
}

// IsPortEnabled is true when the service below is operational.  A nil
// lower ISS disables the port.
func (p *LaAggPort) IsPortEnabled() bool {
	return p.pIss != nil && p.pIss.Enabled()
}

// send pushes a frame down the lower service.
func (p *LaAggPort) send(fr *sim.Frame) {
	if p.pIss != nil {
		p.pIss.Request(fr)
	}
}

// portId returns the actor port identifier (priority ++ number).
func (p *LaAggPort) portId() uint32 {
	return uint32(p.portPriority)<<16 | uint32(p.PortNum)
}

// Indication receives a frame from below: LACPDUs addressed to this
// port's protocol DA feed the Receive machine, everything else goes up
// through the attached Aggregator.  An outer shim's LACPDUs (Nearest
// Customer Bridge DA) pass through an inner LAG as ordinary frames.
func (p *LaAggPort) Indication(fr *sim.Frame) {
	switch l := fr.Pdu.(type) {
	case *pdu.LACP:
		if fr.Da == p.ProtocolDA {
			p.Counters.LacpInPkts++
			p.rxPdus = append(p.rxPdus, l)
			return
		}
		if p.AggAttached != nil {
			p.AggAttached.receive(fr, p)
		}
	case *pdu.DRCP:
		// not for the aggregation port
	default:
		if p.AggAttached != nil {
			p.AggAttached.receive(fr, p)
		}
	}
}

// OperLinkNumber is the link number used in the conversation map.  The
// numbering of the lower System prevails across the LAG.
func (p *LaAggPort) OperLinkNumber() uint16 {
	if p.partnerLinkNumber != 0 &&
		p.PartnerOper.System.Value() < p.ActorOper.System.Value() {
		return p.partnerLinkNumber
	}
	return p.LinkNumberID
}

func (p *LaAggPort) markUnselected() {
	if p.aggSelected != LacpAggUnSelected {
		p.aggSelected = LacpAggUnSelected
		// NTT on every UNSELECTED transition so the partner learns of
		// identity changes even while we are detached
		p.ntt = true
		p.la.transitions++
	}
}

func (p *LaAggPort) isDistributing() bool {
	return LacpStateIsSet(p.ActorOper.State, LacpStateDistributingBit)
}

func (p *LaAggPort) isCollecting() bool {
	return LacpStateIsSet(p.ActorOper.State, LacpStateCollectingBit)
}

// currentLagId assembles the operational LAG ID of the port.
func (p *LaAggPort) currentLagId() LagId {
	return LagId{Actor: p.ActorOper, Partner: p.PartnerOper}
}

// --- administrative setters exercised by scenarios ---

// SetAggPortActorAdminState replaces the actor admin state byte; the
// aggregation and activity bits take effect on the oper state immediately
// and force reselection.
func (p *LaAggPort) SetAggPortActorAdminState(state uint8) {
	p.actorAdmin.State = state
	changed := p.ActorOper.State&(LacpStateAggregationBit|LacpStateActivityBit|LacpStateTimeoutBit) !=
		state&(LacpStateAggregationBit|LacpStateActivityBit|LacpStateTimeoutBit)
	p.ActorOper.State = LacpStateClear(p.ActorOper.State,
		LacpStateAggregationBit|LacpStateActivityBit|LacpStateTimeoutBit)
	p.ActorOper.State |= state & (LacpStateAggregationBit | LacpStateActivityBit | LacpStateTimeoutBit)
	if changed {
		p.markUnselected()
	}
}

func (p *LaAggPort) GetAggPortActorAdminState() uint8 { return p.actorAdmin.State }

// SetAggPortActorAdminKey changes the port key, which changes the LAG ID.
func (p *LaAggPort) SetAggPortActorAdminKey(key uint16) {
	if p.Key == key {
		return
	}
	p.Key = key
	p.actorAdmin.Key = key
	p.ActorOper.Key = key
	p.markUnselected()
}

func (p *LaAggPort) GetAggPortActorAdminKey() uint16 { return p.Key }

// SetAggPortActorSystemPriority overrides the actor system priority on
// this port (which changes the LAG ID).
func (p *LaAggPort) SetAggPortActorSystemPriority(pri uint16) {
	p.actorAdmin.System.SystemPriority = pri
	p.ActorOper.System.SystemPriority = pri
	p.markUnselected()
}

// SetAggPortWTRTime sets the wait-to-restore time; the high bit selects
// non-revertive mode.
func (p *LaAggPort) SetAggPortWTRTime(wtr uint16) { p.WTRTime = wtr }

func (p *LaAggPort) GetAggPortWTRTime() uint16 { return p.WTRTime }

// SetAggPortLinkNumberID renumbers the link for conversation distribution.
func (p *LaAggPort) SetAggPortLinkNumberID(link uint16) {
	if p.LinkNumberID == link {
		return
	}
	p.LinkNumberID = link
	p.ntt = true
	if p.AggAttached != nil {
		p.AggAttached.convMapStale = true
	}
}

func (p *LaAggPort) SetAggPortProtocolDA(da [6]byte) { p.ProtocolDA = da }

// SetAggPortAlgorithm sets the port algorithm advertised in version 2
// LACPDUs.
func (p *LaAggPort) SetAggPortAlgorithm(alg LagAlgorithm) {
	if p.PortAlgorithm == alg {
		return
	}
	p.PortAlgorithm = alg
	p.ntt = true
}

// AggSelected reports the Selection Logic's current verdict for the port.
func (p *LaAggPort) AggSelected() int { return p.aggSelected }

// SetLacpEnabled turns the protocol off on this port (intra-portal and
// manually configured ports).  A disabled port never selects an
// Aggregator.
func (p *LaAggPort) SetLacpEnabled(ena bool) {
	if p.lacpEnabled == ena {
		return
	}
	p.lacpEnabled = ena
	if !ena {
		p.markUnselected()
	}
}

// MarkUnselected forces the port out of its Aggregator; the Distributed
// Relay uses it to restrict ports whose partner conflicts with the
// portal-wide partner.
func (p *LaAggPort) MarkUnselected() { p.markUnselected() }

// AssignActorSystem rebinds the port to a new actor System (used by the
// Distributed Relay when the portal identity changes).
func (p *LaAggPort) AssignActorSystem(sys LacpSystem, key uint16) {
	if p.ActorOper.System == sys && p.ActorOper.Key == key {
		return
	}
	p.actorAdmin.System = sys
	p.ActorOper.System = sys
	p.Key = key
	p.actorAdmin.Key = key
	p.ActorOper.Key = key
	p.markUnselected()
	p.ntt = true
}
