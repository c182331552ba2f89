// txmachine
package lacp

import (
	"github.com/srhaddock/drni/pdu"
	"github.com/srhaddock/drni/sim"
)

// LacpTxMachine implements the Transmit machine of 802.1ax-2014 6.4.16.
// The guard timer limits the port to one LACPDU per fast-periodic
// interval.
type LacpTxMachine struct {
	p *LaAggPort
}

func NewLacpTxMachine(p *LaAggPort) *LacpTxMachine {
	return &LacpTxMachine{p: p}
}

func (txm *LacpTxMachine) restart() {}

func (txm *LacpTxMachine) Run() {
	p := txm.p
	if !p.ntt || !p.lacpEnabled || !p.PortEnabled {
		return
	}
	if p.txGuardTimer.running() {
		// hold-off timer still running; NTT stays pending
		return
	}
	txm.transmit()
	p.ntt = false
	p.txGuardTimer.start(LacpFastPeriodicTime)
}

// transmit builds the LACPDU from the actor record and the current view
// of the partner and pushes it down the Mac.
func (txm *LacpTxMachine) transmit() {
	p := txm.p

	l := &pdu.LACP{
		Version: LacpActorSystemLacpVersion,
		Actor: pdu.PortInfo{
			SystemPriority: p.ActorOper.System.SystemPriority,
			SystemMac:      p.ActorOper.System.SystemMac,
			Key:            p.ActorOper.Key,
			PortPriority:   p.ActorOper.PortPri,
			Port:           p.ActorOper.Port,
			State:          p.ActorOper.State,
		},
		Partner: pdu.PortInfo{
			SystemPriority: p.PartnerOper.System.SystemPriority,
			SystemMac:      p.PartnerOper.System.SystemMac,
			Key:            p.PartnerOper.Key,
			PortPriority:   p.PartnerOper.PortPri,
			Port:           p.PartnerOper.Port,
			State:          p.PartnerOper.State,
		},
		CollectorMaxDelay: LacpCollectorMaxDelay,
		PortAlgorithm:     uint32(txm.operPortAlgorithm()),
		LinkNumber:        p.LinkNumberID,
	}
	if p.AggAttached != nil {
		l.ConversationDigest = p.AggAttached.ConversationDigest
	}

	fr := &sim.Frame{
		Da:        p.ProtocolDA,
		Sa:        p.srcMac,
		EtherType: pdu.EtherTypeSlowProtocols,
		Pdu:       l,
	}
	p.Counters.LacpOutPkts++
	p.log.Logf(6, "TXM %s: tx lacpdu actor %s:%x state %02x",
		p.Name, p.ActorOper.System, p.ActorOper.Port, p.ActorOper.State)
	p.send(fr)
}

// operPortAlgorithm: the Aggregator's algorithm when attached, the port's
// own admin value otherwise.
func (txm *LacpTxMachine) operPortAlgorithm() LagAlgorithm {
	p := txm.p
	if p.AggAttached != nil {
		return p.AggAttached.PortAlgorithm
	}
	return p.PortAlgorithm
}
