// linkagg
package lacp

import (
	"github.com/srhaddock/drni/sim"
)

// DistRelay is the hook a Distributed Relay presents to its owning shim.
// The concrete type lives in the drcp package.
type DistRelay interface {
	TimerTick()
	Run()
	Reset()
}

// LinkAgg is the Link Aggregation shim of one system: parallel arrays of
// AggPorts, their preferred Aggregators, and optional Distributed Relays.
// Cross-references between ports and Aggregators are indices into these
// arrays.
type LinkAgg struct {
	log      *sim.SimLog
	Name     string
	SystemId LacpSystem

	AggPorts    []*LaAggPort
	Aggregators []*LaAggregator
	DistRelays  []DistRelay

	// incremented on every state transition; the per-tick loop runs the
	// machines until this stops moving
	transitions int
}

// NewLinkAgg builds a shim with numPorts AggPort/Aggregator pairs.  Port
// numbers are 0x100+index, Aggregator IDs 0x200+index, the convention the
// scenarios (b00:100, b00:200) rely on.
func NewLinkAgg(log *sim.SimLog, name string, sysId LacpSystem, numPorts int) *LinkAgg {
	la := &LinkAgg{log: log, Name: name, SystemId: sysId}
	for i := 0; i < numPorts; i++ {
		la.Aggregators = append(la.Aggregators, NewLaAggregator(log, la, i, 0x200+i))
	}
	for i := 0; i < numPorts; i++ {
		la.AggPorts = append(la.AggPorts, NewLaAggPort(log, la, i, uint16(0x100+i)))
	}
	la.DistRelays = make([]DistRelay, numPorts)
	return la
}

// SetPortMac stacks AggPort i on the given Mac.
func (la *LinkAgg) SetPortMac(i int, m *sim.Mac) {
	la.AggPorts[i].SetMac(m)
}

func (la *LinkAgg) portByNum(num uint16) *LaAggPort {
	for _, p := range la.AggPorts {
		if p.PortNum == num {
			return p
		}
	}
	return nil
}

// TimerTick decrements all port timers and forwards the tick to any
// Distributed Relays.
func (la *LinkAgg) TimerTick() {
	for _, p := range la.AggPorts {
		p.timerTick()
	}
	for _, dr := range la.DistRelays {
		if dr != nil {
			dr.TimerTick()
		}
	}
}

// Run executes one tick: port status updates, the LACP machines and
// Selection Logic to a fixed point, then DRCP, conversation maps and
// finally transmission.
func (la *LinkAgg) Run(singleStep bool) {
	for _, p := range la.AggPorts {
		ena := p.IsPortEnabled()
		if ena && !p.wasEnabled {
			p.WtrMachineFsm.PortRestored()
		}
		p.PortEnabled = ena
		p.wasEnabled = ena
		if ena {
			p.everEnabled = true
		}
	}

	for iter := 0; iter < 8; iter++ {
		before := la.transitions
		for _, p := range la.AggPorts {
			p.RxMachineFsm.Run()
		}
		for _, p := range la.AggPorts {
			p.PtxMachineFsm.Run()
		}
		for _, p := range la.AggPorts {
			p.WtrMachineFsm.Run()
		}
		for _, p := range la.AggPorts {
			p.MuxMachineFsm.Run()
		}
		la.runSelection()
		if la.transitions == before {
			break
		}
	}

	la.wtrSweep()

	for _, dr := range la.DistRelays {
		if dr != nil {
			dr.Run()
		}
	}

	for _, a := range la.Aggregators {
		a.run()
	}

	for _, p := range la.AggPorts {
		p.CdMachineFsm.Run()
	}
	for _, p := range la.AggPorts {
		p.TxMachineFsm.Run()
	}
}

// wtrSweep is the administrative reversion rule: when every member of an
// Aggregator's LAG has gone non-revertive and none is active, all are
// reset to revertive except those still down.
func (la *LinkAgg) wtrSweep() {
	for _, a := range la.Aggregators {
		var members []*LaAggPort
		for _, p := range la.AggPorts {
			if p.SelectedAggIdx == a.Index {
				members = append(members, p)
			}
		}
		if len(members) == 0 {
			continue
		}
		sweep := true
		for _, p := range members {
			if p.WTRTime&LacpWTRNonRevertiveBit == 0 {
				sweep = false
				break
			}
			if LacpStateIsSet(p.ActorOper.State, LacpStateSyncBit) {
				sweep = false
				break
			}
		}
		if !sweep {
			continue
		}
		for _, p := range members {
			if p.PortEnabled {
				p.WTRTime &^= LacpWTRNonRevertiveBit
				la.log.Logf(3, "WTRM %s: administrative revert", p.Name)
			}
		}
	}
}

// Reset returns the shim to its construction state.
func (la *LinkAgg) Reset() {
	for _, p := range la.AggPorts {
		p.reset()
	}
	for _, a := range la.Aggregators {
		a.reset()
	}
	for _, dr := range la.DistRelays {
		if dr != nil {
			dr.Reset()
		}
	}
}
