// rxmachine
package lacp

import (
	"github.com/looplab/fsm"
	"github.com/srhaddock/drni/pdu"
)

// rxm states
const (
	LacpRxmStateInitialize   = "INITIALIZE"
	LacpRxmStatePortDisabled = "PORT_DISABLED"
	LacpRxmStateExpired      = "EXPIRED"
	LacpRxmStateLacpDisabled = "LACP_DISABLED"
	LacpRxmStateDefaulted    = "DEFAULTED"
	LacpRxmStateCurrent      = "CURRENT"
)

// rxm events
const (
	LacpRxmEventBegin                     = "begin"
	LacpRxmEventNotPortEnabled            = "notPortEnabled"
	LacpRxmEventPortEnabledAndLacpEnabled = "portEnabledAndLacpEnabled"
	LacpRxmEventPortEnabledAndLacpDisabled = "portEnabledAndLacpDisabled"
	LacpRxmEventCurrentWhileExpired       = "currentWhileExpired"
	LacpRxmEventPduRx                     = "pduRx"
	LacpRxmEventPortMoved                 = "portMoved"
)

var lacpRxmAllStates = []string{
	LacpRxmStateInitialize, LacpRxmStatePortDisabled, LacpRxmStateExpired,
	LacpRxmStateLacpDisabled, LacpRxmStateDefaulted, LacpRxmStateCurrent,
}

// LacpRxMachine implements the Receive machine of 802.1ax-2014 6.4.12.
type LacpRxMachine struct {
	p       *LaAggPort
	Machine *fsm.FSM
}

func NewLacpRxMachine(p *LaAggPort) *LacpRxMachine {
	rxm := &LacpRxMachine{p: p}
	rxm.Machine = fsm.NewFSM(
		LacpRxmStateInitialize,
		fsm.Events{
			{Name: LacpRxmEventBegin, Src: lacpRxmAllStates, Dst: LacpRxmStateInitialize},
			{Name: LacpRxmEventNotPortEnabled, Src: lacpRxmAllStates, Dst: LacpRxmStatePortDisabled},
			{Name: LacpRxmEventPortMoved, Src: []string{LacpRxmStateCurrent}, Dst: LacpRxmStatePortDisabled},
			{Name: LacpRxmEventPortEnabledAndLacpEnabled,
				Src: []string{LacpRxmStateInitialize, LacpRxmStatePortDisabled, LacpRxmStateLacpDisabled},
				Dst: LacpRxmStateExpired},
			{Name: LacpRxmEventPortEnabledAndLacpDisabled,
				Src: []string{LacpRxmStateInitialize, LacpRxmStatePortDisabled},
				Dst: LacpRxmStateLacpDisabled},
			{Name: LacpRxmEventCurrentWhileExpired,
				Src: []string{LacpRxmStateCurrent}, Dst: LacpRxmStateExpired},
			{Name: LacpRxmEventCurrentWhileExpired + "Defaulted",
				Src: []string{LacpRxmStateExpired}, Dst: LacpRxmStateDefaulted},
			{Name: LacpRxmEventPduRx,
				Src: []string{LacpRxmStateExpired, LacpRxmStateDefaulted},
				Dst: LacpRxmStateCurrent},
		},
		fsm.Callbacks{
			"enter_" + LacpRxmStateInitialize:   func(e *fsm.Event) { rxm.initialize() },
			"enter_" + LacpRxmStatePortDisabled: func(e *fsm.Event) { rxm.portDisabled() },
			"enter_" + LacpRxmStateExpired:      func(e *fsm.Event) { rxm.expired() },
			"enter_" + LacpRxmStateLacpDisabled: func(e *fsm.Event) { rxm.lacpDisabled() },
			"enter_" + LacpRxmStateDefaulted:    func(e *fsm.Event) { rxm.defaulted() },
			"enter_" + LacpRxmStateCurrent:      func(e *fsm.Event) { rxm.current() },
		},
	)
	return rxm
}

func (rxm *LacpRxMachine) restart() { rxm.Machine.SetState(LacpRxmStateInitialize) }

func (rxm *LacpRxMachine) Current() string { return rxm.Machine.Current() }

func (rxm *LacpRxMachine) fire(event string) {
	prev := rxm.Machine.Current()
	if err := rxm.Machine.Event(event); err == nil {
		rxm.p.la.transitions++
		rxm.p.log.Logf(6, "RXM %s: %s -> %s on %s", rxm.p.Name, prev, rxm.Machine.Current(), event)
	}
}

func (rxm *LacpRxMachine) initialize() {
	p := rxm.p
	p.markUnselected()
	p.WaitWhileTimerStop()
	p.ActorOper.State = LacpStateClear(p.ActorOper.State, LacpStateExpiredBit)
	p.portMoved = false
}

func (rxm *LacpRxMachine) portDisabled() {
	p := rxm.p
	p.PartnerOper.State = LacpStateClear(p.PartnerOper.State, LacpStateSyncBit)
}

func (rxm *LacpRxMachine) expired() {
	p := rxm.p
	p.PartnerOper.State = LacpStateClear(p.PartnerOper.State, LacpStateSyncBit)
	p.PartnerOper.State = LacpStateSet(p.PartnerOper.State, LacpStateTimeoutBit)
	p.CurrentWhileTimerStart(LacpShortTimeoutTime)
	p.ActorOper.State = LacpStateSet(p.ActorOper.State, LacpStateExpiredBit)
	p.ntt = true
}

func (rxm *LacpRxMachine) lacpDisabled() {
	p := rxm.p
	p.CurrentWhileTimerStop()
	p.markUnselected()
	rxm.recordDefault()
	p.PartnerOper.State = LacpStateClear(p.PartnerOper.State, LacpStateAggregationBit)
	p.ActorOper.State = LacpStateClear(p.ActorOper.State, LacpStateExpiredBit)
}

func (rxm *LacpRxMachine) defaulted() {
	p := rxm.p
	rxm.updateDefaultSelected()
	rxm.recordDefault()
	p.CurrentWhileTimerStop()
	p.ActorOper.State = LacpStateClear(p.ActorOper.State, LacpStateExpiredBit)
}

func (rxm *LacpRxMachine) current() {
	p := rxm.p
	p.ActorOper.State = LacpStateClear(p.ActorOper.State,
		LacpStateExpiredBit|LacpStateDefaultedBit)
}

// recordDefault copies the admin partner parameters into the oper partner
// view.  802.1ax-2014 6.4.9.
func (rxm *LacpRxMachine) recordDefault() {
	p := rxm.p
	p.PartnerOper = p.partnerAdmin
	p.ActorOper.State = LacpStateSet(p.ActorOper.State, LacpStateDefaultedBit)
	p.partnerLinkNumber = 0
	p.partnerPortAlgorithm = LagAlgorithmUnspecified
	p.partnerDigest = [16]byte{}
}

// updateDefaultSelected: 802.1ax-2014 6.4.9.  Going to the admin partner
// values forces reselection if they differ from the oper view.
func (rxm *LacpRxMachine) updateDefaultSelected() {
	p := rxm.p
	if !LacpPortInfoIsEqual(&p.partnerAdmin, &p.PartnerOper, LacpStateAggregationBit) {
		p.markUnselected()
	}
}

// Run evaluates the machine to a fixed point for this tick, consuming any
// LACPDUs delivered since the last tick.
func (rxm *LacpRxMachine) Run() {
	p := rxm.p

	if !p.PortEnabled {
		if rxm.Current() != LacpRxmStatePortDisabled {
			rxm.fire(LacpRxmEventNotPortEnabled)
		}
		p.rxPdus = nil
		return
	}

	if rxm.Current() == LacpRxmStatePortDisabled && p.portMoved {
		rxm.fire(LacpRxmEventBegin)
	}
	if rxm.Current() == LacpRxmStateInitialize {
		rxm.fire(LacpRxmEventNotPortEnabled)
	}
	if rxm.Current() == LacpRxmStatePortDisabled {
		if p.lacpEnabled {
			rxm.fire(LacpRxmEventPortEnabledAndLacpEnabled)
		} else {
			rxm.fire(LacpRxmEventPortEnabledAndLacpDisabled)
		}
	}
	if rxm.Current() == LacpRxmStateLacpDisabled && p.lacpEnabled {
		rxm.fire(LacpRxmEventPortEnabledAndLacpEnabled)
	}

	pdus := p.rxPdus
	p.rxPdus = nil
	for _, l := range pdus {
		rxm.processPdu(l)
	}

	if p.currentWhileTimer.expired() {
		switch rxm.Current() {
		case LacpRxmStateCurrent:
			rxm.fire(LacpRxmEventCurrentWhileExpired)
		case LacpRxmStateExpired:
			rxm.fire(LacpRxmEventCurrentWhileExpired + "Defaulted")
		}
	}
}

// processPdu handles one received LACPDU: port-moved detection, selection
// and NTT updates, and recording of the partner view.  802.1ax-2014
// 6.4.9/6.4.10.
func (rxm *LacpRxMachine) processPdu(l *pdu.LACP) {
	p := rxm.p

	actor := LacpPortInfo{
		System:  LacpSystem{SystemPriority: l.Actor.SystemPriority, SystemMac: l.Actor.SystemMac},
		Key:     l.Actor.Key,
		PortPri: l.Actor.PortPriority,
		Port:    l.Actor.Port,
		State:   l.Actor.State,
	}

	if rxm.Current() == LacpRxmStateCurrent {
		// a different actor on a link we thought we knew: the partner
		// moved to a new port, force re-evaluation through PORT_DISABLED
		if !LacpStateIsSet(p.PartnerOper.State, LacpStateDefaultedBit) &&
			(actor.System != p.PartnerOper.System || actor.Port != p.PartnerOper.Port) {
			p.log.Logf(4, "RXM %s: partner moved, was %s:%x now %s:%x",
				p.Name, p.PartnerOper.System, p.PartnerOper.Port, actor.System, actor.Port)
			p.portMoved = true
			p.markUnselected()
			rxm.fire(LacpRxmEventPortMoved)
			return
		}
	}

	// updateSelected: reselect if the PDU actor no longer matches the
	// recorded partner
	if !LacpPortInfoIsEqual(&actor, &p.PartnerOper, LacpStateAggregationBit) {
		p.markUnselected()
	}

	// updateNTT: respond if the partner's view of us is out of date
	mirror := LacpPortInfo{
		System:  LacpSystem{SystemPriority: l.Partner.SystemPriority, SystemMac: l.Partner.SystemMac},
		Key:     l.Partner.Key,
		PortPri: l.Partner.PortPriority,
		Port:    l.Partner.Port,
		State:   l.Partner.State,
	}
	viewBits := uint8(LacpStateActivityBit | LacpStateTimeoutBit |
		LacpStateAggregationBit | LacpStateSyncBit)
	if !LacpPortInfoIsEqual(&mirror, &p.ActorOper, viewBits) {
		p.ntt = true
	}

	// recordPDU
	p.PartnerOper = actor
	p.ActorOper.State = LacpStateClear(p.ActorOper.State, LacpStateDefaultedBit)

	if l.Version >= 2 {
		p.partnerPortAlgorithm = LagAlgorithm(l.PortAlgorithm)
		p.partnerLinkNumber = l.LinkNumber
		p.partnerDigest = l.ConversationDigest
		if p.AggAttached != nil {
			p.AggAttached.convMapStale = true
		}
	}

	// restart currentWhile per our own timeout preference
	timeout := LacpLongTimeoutTime
	if LacpStateIsSet(p.ActorOper.State, LacpStateTimeoutBit) {
		timeout = LacpShortTimeoutTime
	}
	p.CurrentWhileTimerStart(timeout)

	if rxm.Current() != LacpRxmStateCurrent {
		rxm.fire(LacpRxmEventPduRx)
	}
}
