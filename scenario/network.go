// network
package scenario

import (
	"fmt"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"

	"github.com/srhaddock/drni/drcp"
	"github.com/srhaddock/drni/lacp"
	"github.com/srhaddock/drni/pdu"
	"github.com/srhaddock/drni/sim"
)

// Dev pairs a simulated Device with typed handles on its components.
type Dev struct {
	*sim.Device
	Bridge *sim.Bridge
	EndStn *sim.EndStn
	Lag    *lacp.LinkAgg
}

// Network is the scenario driver's view of the whole topology.
type Network struct {
	Log     *sim.SimLog
	Devices []*Dev

	drsConfigured bool
}

const (
	BrgCnt       = 3
	BrgMacCnt    = 8
	EndStnCnt    = 3
	EndStnMacCnt = 4
)

// BuildDefault assembles the canonical topology: three C-VLAN bridges
// with eight MACs each, then three end stations with four MACs each.
// Device index orders the System IDs, so device 0 is always the lowest.
func BuildDefault(log *sim.SimLog) *Network {
	n := &Network{Log: log}
	for dev := 0; dev < BrgCnt+EndStnCnt; dev++ {
		var sysMac [6]byte
		sysMac[3] = 0x0D
		sysMac[4] = byte(dev + 1)
		if dev < BrgCnt {
			n.Devices = append(n.Devices, newBridgeDev(log, bridgeName(dev), sysMac, BrgMacCnt))
		} else {
			n.Devices = append(n.Devices, newEndStnDev(log, endStnName(dev), sysMac, EndStnMacCnt))
		}
	}
	return n
}

func bridgeName(dev int) string {
	return fmt.Sprintf("b%02d", dev)
}

func endStnName(dev int) string {
	return fmt.Sprintf("e%02d", dev)
}

func newBridgeDev(log *sim.SimLog, name string, sysMac [6]byte, macCnt int) *Dev {
	d := &Dev{Device: sim.NewDevice(log, name, sysMac, macCnt)}
	sysId := lacp.LacpSystem{SystemPriority: lacp.DefaultSystemPriority, SystemMac: sysMac}
	d.Bridge = sim.NewBridge(log, name, pdu.EtherTypeCVlan, macCnt)
	d.Lag = lacp.NewLinkAgg(log, name, sysId, macCnt)
	for i := 0; i < macCnt; i++ {
		d.Lag.SetPortMac(i, d.Macs[i])
		d.Bridge.SetPortIss(i, d.Lag.Aggregators[i])
	}
	d.AddComponent(d.Bridge)
	d.AddComponent(d.Lag)
	return d
}

func newEndStnDev(log *sim.SimLog, name string, sysMac [6]byte, macCnt int) *Dev {
	d := &Dev{Device: sim.NewDevice(log, name, sysMac, macCnt)}
	sysId := lacp.LacpSystem{SystemPriority: lacp.DefaultSystemPriority, SystemMac: sysMac}
	d.EndStn = sim.NewEndStn(log, name, sysMac)
	d.Lag = lacp.NewLinkAgg(log, name, sysId, macCnt)
	for i := 0; i < macCnt; i++ {
		d.Lag.SetPortMac(i, d.Macs[i])
	}
	d.EndStn.SetIss(d.Lag.Aggregators[0])
	d.AddComponent(d.EndStn)
	d.AddComponent(d.Lag)
	return d
}

// ConfigureDistRelays creates the Distributed Relays the DRNI scenarios
// use: a portal between the first two bridges (DRNI ports on MACs 4 and
// 5, IPPs on MACs 6 and 7) and a portal between the first two end
// stations (DRNI ports on MACs 0 and 1, IPPs on MACs 2 and 3).
func (n *Network) ConfigureDistRelays() {
	if n.drsConfigured {
		return
	}
	n.drsConfigured = true
	firstLink := uint16(1)
	for dev := 0; dev < 2; dev++ {
		d := n.Devices[dev]
		numDrniPorts := 2
		numIpp := 2
		drniMacIndex := BrgMacCnt - (numDrniPorts + numIpp)

		aggKey := uint16(dev<<8) | uint16(drniMacIndex+1)
		d.Lag.Aggregators[drniMacIndex].SetActorAdminKey(aggKey)
		for i := 0; i < numDrniPorts; i++ {
			d.Lag.AggPorts[drniMacIndex+i].SetAggPortActorAdminKey(aggKey)
		}

		cfg := drcp.DistributedRelayConfig{
			NumDrniPorts:    numDrniPorts,
			NumIpp:          numIpp,
			FirstLinkNumber: firstLink,
		}
		ippMacs := []*sim.Mac{d.Macs[drniMacIndex+numDrniPorts], d.Macs[drniMacIndex+numDrniPorts+1]}
		dr := drcp.NewDistributedRelay(n.Log, d.Lag, drniMacIndex, ippMacs, cfg)
		firstLink += uint16(numDrniPorts)

		d.Bridge.SetPortIss(drniMacIndex, dr)
		for px := drniMacIndex + 1; px < drniMacIndex+numDrniPorts+numIpp; px++ {
			d.Bridge.SetPortIss(px, nil)
		}
		// the ports under the IPP MACs are intra-portal, not aggregation
		for px := drniMacIndex + numDrniPorts; px < drniMacIndex+numDrniPorts+numIpp; px++ {
			d.Lag.AggPorts[px].SetLacpEnabled(false)
		}
	}

	firstLink = 1
	for dev := BrgCnt; dev < BrgCnt+2; dev++ {
		d := n.Devices[dev]
		numDrniPorts := 2
		numIpp := 2
		drniMacIndex := 0

		aggKey := uint16(dev<<8) | uint16(drniMacIndex+1)
		d.Lag.Aggregators[drniMacIndex].SetActorAdminKey(aggKey)
		for i := 0; i < numDrniPorts; i++ {
			d.Lag.AggPorts[drniMacIndex+i].SetAggPortActorAdminKey(aggKey)
		}

		cfg := drcp.DistributedRelayConfig{
			NumDrniPorts:    numDrniPorts,
			NumIpp:          numIpp,
			FirstLinkNumber: firstLink,
		}
		ippMacs := []*sim.Mac{d.Macs[drniMacIndex+numDrniPorts], d.Macs[drniMacIndex+numDrniPorts+1]}
		dr := drcp.NewDistributedRelay(n.Log, d.Lag, drniMacIndex, ippMacs, cfg)
		firstLink += uint16(numDrniPorts)

		d.EndStn.SetIss(dr)
		for px := drniMacIndex + numDrniPorts; px < drniMacIndex+numDrniPorts+numIpp; px++ {
			d.Lag.AggPorts[px].SetLacpEnabled(false)
		}
	}
}

// DistRelay fetches the DR bound at an aggregator index.
func (d *Dev) DistRelay(aggIdx int) *drcp.DistributedRelay {
	return d.Lag.DistRelays[aggIdx].(*drcp.DistributedRelay)
}

// Reset resets all devices (links are left alone, as in the original
// driver; scenarios disconnect at their end).
func (n *Network) Reset() {
	for _, d := range n.Devices {
		d.Reset()
	}
}

// DisconnectAll drops every link in the network.
func (n *Network) DisconnectAll() {
	for _, d := range n.Devices {
		d.DisconnectAll()
	}
}

// Event is one scripted mutation at a scenario-relative tick.
type Event struct {
	At   int
	Name string
	Do   func()
}

// Tick runs one global tick: timers, state machines, transmissions, then
// the clock advances.
func (n *Network) Tick() {
	for _, d := range n.Devices {
		d.TimerTick()
		d.Run(true)
	}
	for _, d := range n.Devices {
		d.Transmit()
	}
	n.Log.Time++
}

// Run schedules the events on a discrete-event manager and advances the
// network for the given number of ticks.  Mutations land on integer
// virtual times, the device sweep on half-tick offsets, so an event is
// always observed by the tick that follows it.
func (n *Network) Run(events []Event, ticks int) {
	em := evtm.New()

	for _, ev := range events {
		ev := ev
		em.Schedule(n, nil,
			func(em *evtm.EventManager, ctx any, data any) any {
				if ev.Name != "" {
					n.Log.Logf(1, "event: %s", ev.Name)
				}
				ev.Do()
				return nil
			},
			vrtime.SecondsToTime(float64(ev.At)))
	}

	var tick evtm.EventHandlerFunction
	remaining := ticks
	tick = func(em *evtm.EventManager, ctx any, data any) any {
		n.Tick()
		remaining--
		if remaining > 0 {
			em.Schedule(ctx, nil, tick, vrtime.SecondsToTime(1.0))
		}
		return nil
	}
	em.Schedule(n, nil, tick, vrtime.SecondsToTime(0.5))

	em.Run(float64(ticks) + 1.0)
}

// RunTicks advances the network with no scripted events.
func (n *Network) RunTicks(ticks int) {
	n.Run(nil, ticks)
}
