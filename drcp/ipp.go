// ipp
package drcp

import (
	"fmt"

	"github.com/looplab/fsm"
	"github.com/srhaddock/drni/lacp"
	"github.com/srhaddock/drni/pdu"
	"github.com/srhaddock/drni/sim"
)

// drxm states, analogous to the LACP Receive machine
const (
	DrcpRxmStateIppDisabled = "IPP_DISABLED"
	DrcpRxmStateExpired     = "EXPIRED"
	DrcpRxmStateDefaulted   = "DEFAULTED"
	DrcpRxmStateCurrent     = "CURRENT"
)

// drxm events
const (
	DrcpRxmEventNotIppEnabled = "notIppEnabled"
	DrcpRxmEventIppEnabled    = "ippEnabled"
	DrcpRxmEventDrcpWhileExp  = "drcpWhileExpired"
	DrcpRxmEventDefault       = "drcpWhileExpiredDefaulted"
	DrcpRxmEventPduRx         = "pduRx"
)

// DRCPIpp is an Intra-Portal Port: the DRCP exchange point between the
// two systems of a portal, plus the neighbor state learned from it.
type DRCPIpp struct {
	log *sim.SimLog
	dr  *DistributedRelay

	Index int
	Name  string
	mac   *sim.Mac

	ntt       bool
	drcpWhile drcpTimer
	periodic  drcpTimer
	txGuard   drcpTimer

	rxPdus []*pdu.DRCP

	RxMachineFsm *DrcpRxMachine

	// neighbor view populated from received DRCPDUs
	NeighborSystem           lacp.LacpSystem
	NeighborKey              uint16
	NeighborPortalSystemNum  uint8
	NeighborFlags            uint8
	NeighborGatewayEnable    [MaxConversationIDs]bool
	NeighborGatewayPref      [MaxConversationIDs]bool
	NeighborGatewaySequence  uint32
	NeighborGatewayAlgorithm lacp.LagAlgorithm
	NeighborPortAlgorithm    lacp.LagAlgorithm
	NeighborGatewayDigest    [16]byte
	NeighborPortDigest       [16]byte
	NeighborActiveLinks      []uint16
	NeighborAggPartner       lacp.LacpSystem
	NeighborAggPartnerKey    uint16

	Counters struct {
		DRCPDUsRx uint32
		DRCPDUsTx uint32
		IllegalRx uint32
	}
}

func newDRCPIpp(log *sim.SimLog, dr *DistributedRelay, index int, mac *sim.Mac) *DRCPIpp {
	ipp := &DRCPIpp{
		log:   log,
		dr:    dr,
		Index: index,
		Name:  fmt.Sprintf("%s:ipp%d", dr.Name, index),
		mac:   mac,
	}
	ipp.drcpWhile.stop()
	ipp.periodic.stop()
	ipp.txGuard.stop()
	mac.SetClient(ipp)
	ipp.RxMachineFsm = NewDrcpRxMachine(ipp)
	return ipp
}

func (ipp *DRCPIpp) Enabled() bool { return ipp.mac != nil && ipp.mac.Enabled() }

// Indication dispatches frames off the intra-portal link: DRCPDUs feed
// the per-IPP machine, anything else is portal data crossing the IPL.
func (ipp *DRCPIpp) Indication(fr *sim.Frame) {
	switch d := fr.Pdu.(type) {
	case *pdu.DRCP:
		ipp.Counters.DRCPDUsRx++
		ipp.rxPdus = append(ipp.rxPdus, d)
	case *pdu.LACP:
		ipp.Counters.IllegalRx++
	default:
		ipp.dr.ippDataIndication(fr)
	}
}

func (ipp *DRCPIpp) timerTick() {
	ipp.drcpWhile.tick()
	ipp.periodic.tick()
	ipp.txGuard.tick()
}

func (ipp *DRCPIpp) reset() {
	ipp.ntt = false
	ipp.rxPdus = nil
	ipp.drcpWhile.stop()
	ipp.periodic.stop()
	ipp.txGuard.stop()
	ipp.clearNeighborView()
	ipp.RxMachineFsm.restart()
	ipp.Counters.DRCPDUsRx = 0
	ipp.Counters.DRCPDUsTx = 0
	ipp.Counters.IllegalRx = 0
}

func (ipp *DRCPIpp) clearNeighborView() {
	ipp.NeighborSystem = lacp.LacpSystem{}
	ipp.NeighborKey = 0
	ipp.NeighborPortalSystemNum = 0
	ipp.NeighborFlags = 0
	ipp.NeighborGatewayEnable = [MaxConversationIDs]bool{}
	ipp.NeighborGatewayPref = [MaxConversationIDs]bool{}
	ipp.NeighborGatewaySequence = 0
	ipp.NeighborGatewayAlgorithm = lacp.LagAlgorithmUnspecified
	ipp.NeighborPortAlgorithm = lacp.LagAlgorithmUnspecified
	ipp.NeighborGatewayDigest = [16]byte{}
	ipp.NeighborPortDigest = [16]byte{}
	ipp.NeighborActiveLinks = nil
	ipp.NeighborAggPartner = lacp.LacpSystem{}
	ipp.NeighborAggPartnerKey = 0
}

// DrcpRxMachine is the per-IPP peer state machine: CURRENT, EXPIRED,
// DEFAULTED, IPP_DISABLED, driven by the drcpWhile timer.
type DrcpRxMachine struct {
	ipp     *DRCPIpp
	Machine *fsm.FSM
}

func NewDrcpRxMachine(ipp *DRCPIpp) *DrcpRxMachine {
	rxm := &DrcpRxMachine{ipp: ipp}
	all := []string{DrcpRxmStateIppDisabled, DrcpRxmStateExpired,
		DrcpRxmStateDefaulted, DrcpRxmStateCurrent}
	rxm.Machine = fsm.NewFSM(
		DrcpRxmStateIppDisabled,
		fsm.Events{
			{Name: DrcpRxmEventNotIppEnabled, Src: all, Dst: DrcpRxmStateIppDisabled},
			{Name: DrcpRxmEventIppEnabled,
				Src: []string{DrcpRxmStateIppDisabled}, Dst: DrcpRxmStateExpired},
			{Name: DrcpRxmEventDrcpWhileExp,
				Src: []string{DrcpRxmStateCurrent}, Dst: DrcpRxmStateExpired},
			{Name: DrcpRxmEventDefault,
				Src: []string{DrcpRxmStateExpired}, Dst: DrcpRxmStateDefaulted},
			{Name: DrcpRxmEventPduRx,
				Src: []string{DrcpRxmStateExpired, DrcpRxmStateDefaulted},
				Dst: DrcpRxmStateCurrent},
		},
		fsm.Callbacks{
			"enter_" + DrcpRxmStateIppDisabled: func(e *fsm.Event) {
				rxm.ipp.clearNeighborView()
				rxm.ipp.drcpWhile.stop()
				rxm.ipp.dr.changePortal = true
			},
			"enter_" + DrcpRxmStateExpired: func(e *fsm.Event) {
				rxm.ipp.drcpWhile.start(DrniShortTimeoutTime)
				rxm.ipp.ntt = true
			},
			"enter_" + DrcpRxmStateDefaulted: func(e *fsm.Event) {
				rxm.ipp.clearNeighborView()
				rxm.ipp.drcpWhile.stop()
				rxm.ipp.dr.changePortal = true
			},
			"enter_" + DrcpRxmStateCurrent: func(e *fsm.Event) {},
		},
	)
	return rxm
}

func (rxm *DrcpRxMachine) restart() { rxm.Machine.SetState(DrcpRxmStateIppDisabled) }

func (rxm *DrcpRxMachine) Current() string { return rxm.Machine.Current() }

func (rxm *DrcpRxMachine) fire(event string) {
	prev := rxm.Machine.Current()
	if err := rxm.Machine.Event(event); err == nil {
		rxm.ipp.log.Logf(6, "DRXM %s: %s -> %s on %s", rxm.ipp.Name, prev, rxm.Machine.Current(), event)
	}
}

func (rxm *DrcpRxMachine) Run() {
	ipp := rxm.ipp

	if !ipp.Enabled() {
		if rxm.Current() != DrcpRxmStateIppDisabled {
			rxm.fire(DrcpRxmEventNotIppEnabled)
		}
		ipp.rxPdus = nil
		return
	}
	if rxm.Current() == DrcpRxmStateIppDisabled {
		rxm.fire(DrcpRxmEventIppEnabled)
	}

	pdus := ipp.rxPdus
	ipp.rxPdus = nil
	for _, d := range pdus {
		rxm.recordPdu(d)
	}

	if ipp.drcpWhile.expired() {
		switch rxm.Current() {
		case DrcpRxmStateCurrent:
			rxm.fire(DrcpRxmEventDrcpWhileExp)
		case DrcpRxmStateExpired:
			rxm.fire(DrcpRxmEventDefault)
		}
	}
}

// recordPdu populates the neighbor view from a received DRCPDU and flags
// portal recomputation on any visible change.
func (rxm *DrcpRxMachine) recordPdu(d *pdu.DRCP) {
	ipp := rxm.ipp
	dr := ipp.dr

	sys := lacp.LacpSystem{SystemPriority: d.HomeInfo.SystemPriority, SystemMac: d.HomeInfo.SystemMac}
	if sys != ipp.NeighborSystem || d.HomeInfo.Key != ipp.NeighborKey ||
		d.HomeInfo.Flags != ipp.NeighborFlags {
		dr.changePortal = true
	}
	ipp.NeighborSystem = sys
	ipp.NeighborKey = d.HomeInfo.Key
	ipp.NeighborPortalSystemNum = d.HomeInfo.PortalSystemNum
	ipp.NeighborFlags = d.HomeInfo.Flags

	if d.GatewayVector != nil {
		unpackVector(d.GatewayVector, &ipp.NeighborGatewayEnable)
		ipp.NeighborGatewaySequence = d.GatewaySequence
	}
	if d.GatewayPreference != nil {
		unpackVector(d.GatewayPreference, &ipp.NeighborGatewayPref)
	}
	ipp.NeighborGatewayAlgorithm = lacp.LagAlgorithm(d.GatewayAlgorithm)
	ipp.NeighborPortAlgorithm = lacp.LagAlgorithm(d.PortAlgorithm)
	ipp.NeighborGatewayDigest = d.GatewayDigest
	ipp.NeighborPortDigest = d.PortDigest
	ipp.NeighborActiveLinks = append([]uint16(nil), d.ActiveLinks...)
	ipp.NeighborAggPartner = lacp.LacpSystem{
		SystemPriority: d.AggPartnerSystemPriority,
		SystemMac:      d.AggPartnerSystemMac,
	}
	ipp.NeighborAggPartnerKey = d.AggPartnerKey

	// the neighbor's echo of our state; answer when it is stale
	home := dr.homePortalInfo()
	if d.NeighborInfo.SystemPriority != home.SystemPriority ||
		d.NeighborInfo.SystemMac != home.SystemMac ||
		d.NeighborInfo.Key != home.Key {
		ipp.ntt = true
	}

	dr.changePortal = true

	timeout := DrniLongTimeoutTime
	if ipp.NeighborFlags&pdu.DrcpFlagShortTimeout != 0 {
		timeout = DrniShortTimeoutTime
	}
	ipp.drcpWhile.start(timeout)

	if rxm.Current() != DrcpRxmStateCurrent {
		rxm.fire(DrcpRxmEventPduRx)
	}
}

// runTx emits a DRCPDU when needed, rate limited to one per fast period.
func (ipp *DRCPIpp) runTx() {
	if !ipp.Enabled() {
		return
	}
	if ipp.periodic.expired() || !ipp.periodic.running() {
		ipp.ntt = true
		ipp.periodic.start(DrniFastPeriodicTime)
	}
	if !ipp.ntt || ipp.txGuard.running() {
		return
	}
	ipp.transmit()
	ipp.ntt = false
	ipp.txGuard.start(DrniFastPeriodicTime)
}

func (ipp *DRCPIpp) transmit() {
	dr := ipp.dr

	d := &pdu.DRCP{
		Version:  2,
		HomeInfo: dr.homePortalInfo(),
		NeighborInfo: pdu.PortalInfo{
			SystemPriority:  ipp.NeighborSystem.SystemPriority,
			SystemMac:       ipp.NeighborSystem.SystemMac,
			Key:             ipp.NeighborKey,
			PortalSystemNum: ipp.NeighborPortalSystemNum,
			Flags:           ipp.NeighborFlags,
		},
		PortAlgorithm:     uint32(dr.Agg.PortAlgorithm),
		GatewayAlgorithm:  uint32(dr.homeGatewayAlgorithm),
		PortDigest:        dr.Agg.ConversationDigest,
		GatewayDigest:     dr.gatewayDigest(),
		GatewaySequence:   dr.gatewaySequence,
		GatewayVector:     packVector(&dr.homeGatewayEnable),
		GatewayPreference: packVector(&dr.homeGatewayPref),
		ActiveLinks:       dr.homeActiveLinks(),
	}
	for _, p := range dr.AggPorts {
		d.HomeState = append(d.HomeState, pdu.PortState{
			Port:                  p.PortNum,
			LinkNumber:            p.OperLinkNumber(),
			State:                 p.ActorOper.State,
			PartnerSystemPriority: p.PartnerOper.System.SystemPriority,
			PartnerSystemMac:      p.PartnerOper.System.SystemMac,
			PartnerKey:            p.PartnerOper.Key,
		})
	}
	partner, key := dr.homeAggPartner()
	d.AggPartnerSystemPriority = partner.SystemPriority
	d.AggPartnerSystemMac = partner.SystemMac
	d.AggPartnerKey = key

	fr := &sim.Frame{
		Da:        pdu.DRCPDMAC,
		Sa:        ipp.mac.HwAddr,
		EtherType: pdu.EtherTypeDRCP,
		Pdu:       d,
	}
	ipp.Counters.DRCPDUsTx++
	ipp.log.Logf(6, "DTXM %s: tx drcpdu home %s key %04x", ipp.Name, dr.HomeSystem, d.HomeInfo.Key)
	ipp.mac.Request(fr)
}
