// scenarios
package scenario

import (
	"sort"

	"github.com/srhaddock/drni/lacp"
	"github.com/srhaddock/drni/pdu"
	"github.com/srhaddock/drni/sim"
)

// Scenario is a named scripted test: it returns the event list and the
// number of ticks to run.
type Scenario func(n *Network) ([]Event, int)

// Registry holds the scenarios the CLI can run, in the order the
// original driver ran them.
var Registry = []struct {
	Name string
	Fn   Scenario
}{
	{"basicLag", BasicLag},
	{"preferredAggregator", PreferredAggregator},
	{"lagLoopback", LagLoopback},
	{"nonAggregatablePort", NonAggregatablePort},
	{"limitedAggregators", LimitedAggregators},
	{"dualHoming", DualHoming},
	{"distribution", Distribution},
	{"waitToRestore", WaitToRestore},
	{"drniPartner", DrniPartner},
	{"drniCscdGatewaySelection", DrniCscdGatewaySelection},
}

func connect(n *Network, d1, m1, d2, m2, delay int) func() {
	return func() {
		sim.Connect(n.Devices[d1].Macs[m1], n.Devices[d2].Macs[m2], delay)
	}
}

func disconnect(n *Network, d, m int) func() {
	return func() { sim.Disconnect(n.Devices[d].Macs[m]) }
}

// send9Frames: one untagged test frame followed by C-tagged frames with
// VIDs 0..7.
func send9Frames(source *sim.EndStn) {
	source.GenerateTestFrame(nil)
	for vid := uint16(0); vid < 8; vid++ {
		source.GenerateTestFrame(&sim.VlanTag{TPID: pdu.EtherTypeCVlan, Vid: vid})
	}
}

// BasicLag: three links between the first two bridges come up into one
// LAG, then links fail, move and return.
func BasicLag(n *Network) ([]Event, int) {
	return []Event{
		{10, "connect b00:0-b01:0", connect(n, 0, 0, 1, 0, 5)},
		{100, "connect b00:1-b01:1", connect(n, 0, 1, 1, 1, 5)},
		{200, "connect b00:2-b01:2", connect(n, 0, 2, 1, 2, 5)},
		{300, "disconnect b00:0", disconnect(n, 0, 0)},
		{400, "reconnect b00:0", connect(n, 0, 0, 1, 0, 5)},
		{500, "disconnect b00:1", disconnect(n, 0, 1)},
		{600, "move b00:1 to b01:3", connect(n, 0, 1, 1, 3, 5)},
		{700, "connect b00:4-b02:0", connect(n, 0, 4, 2, 0, 5)},
		{800, "connect b00:5-b02:2", connect(n, 0, 5, 2, 2, 5)},
		{990, "disconnect all", n.DisconnectAll},
	}, 1000
}

// PreferredAggregator: the LAG must end up on the preferred Aggregator
// of the lowest-portId member even when a later link brings it in.
func PreferredAggregator(n *Network) ([]Event, int) {
	return []Event{
		{10, "connect b00:1-b01:2", connect(n, 0, 1, 1, 2, 5)},
		{100, "connect b00:2-b01:3", connect(n, 0, 2, 1, 3, 5)},
		{200, "connect b00:3-b01:1", connect(n, 0, 3, 1, 1, 5)},
		{990, "disconnect all", n.DisconnectAll},
	}, 1000
}

// LagLoopback: same-port and different-port loopbacks.
func LagLoopback(n *Network) ([]Event, int) {
	return []Event{
		{10, "loop b00:0", connect(n, 0, 0, 0, 0, 5)},
		{100, "loop b00:1-b00:3", connect(n, 0, 1, 0, 3, 5)},
		{200, "loop b00:5", connect(n, 0, 5, 0, 5, 5)},
		{300, "loop b00:2-b00:4", connect(n, 0, 2, 0, 4, 5)},
		{400, "disconnect b00:0", disconnect(n, 0, 0)},
		{500, "disconnect b00:5", disconnect(n, 0, 5)},
		{600, "loop b00:0-b00:5", connect(n, 0, 0, 0, 5, 5)},
		{990, "disconnect all", n.DisconnectAll},
	}, 1000
}

// NonAggregatablePort: ports with the aggregation bit clear stay
// solitary.
func NonAggregatablePort(n *Network) ([]Event, int) {
	clearAggBit := func(d, p int) func() {
		return func() {
			port := n.Devices[d].Lag.AggPorts[p]
			port.SetAggPortActorAdminState(port.GetAggPortActorAdminState() &^ lacp.LacpStateAggregationBit)
		}
	}
	return []Event{
		{1, "individual b00:101 b00:104 b01:101 b01:104", func() {
			clearAggBit(0, 1)()
			clearAggBit(1, 1)()
			clearAggBit(0, 4)()
			clearAggBit(1, 4)()
		}},
		{100, "connect three links", func() {
			connect(n, 0, 1, 1, 2, 5)()
			connect(n, 0, 2, 1, 3, 5)()
			connect(n, 0, 3, 1, 1, 5)()
		}},
		{200, "connect b00:4-b01:0", connect(n, 0, 4, 1, 0, 5)},
		{300, "connect b00:5-b01:5", connect(n, 0, 5, 1, 5, 5)},
		{990, "disconnect all", n.DisconnectAll},
	}, 1000
}

// LimitedAggregators: three ports share a key but only two Aggregators
// carry it.
func LimitedAggregators(n *Network) ([]Event, int) {
	lag := n.Devices[0].Lag
	return []Event{
		{1, "rekey ports 1,3,5 and aggregators 1,4", func() {
			lag.AggPorts[1].SetAggPortActorAdminKey(0x999)
			lag.AggPorts[3].SetAggPortActorAdminKey(0x999)
			lag.AggPorts[5].SetAggPortActorAdminKey(0x999)
			lag.Aggregators[1].SetActorAdminKey(0x999)
			lag.Aggregators[4].SetActorAdminKey(0x999)
		}},
		{10, "connect b00:0-b01:0", connect(n, 0, 0, 1, 0, 5)},
		{100, "connect b00:1-b01:1", connect(n, 0, 1, 1, 1, 5)},
		{200, "connect b00:3-b01:3", connect(n, 0, 3, 1, 3, 5)},
		{300, "connect b00:5-b01:5", connect(n, 0, 5, 1, 5, 5)},
		{400, "disconnect b00:3", disconnect(n, 0, 3)},
		{500, "disconnect b00:5", disconnect(n, 0, 5)},
		{600, "connect b00:3-b02:3", connect(n, 0, 3, 2, 3, 5)},
		{700, "connect b00:5-b02:5", connect(n, 0, 5, 2, 5, 5)},
		{990, "restore keys, disconnect", func() {
			lag.AggPorts[1].SetAggPortActorAdminKey(lacp.DefaultActorKey)
			lag.AggPorts[3].SetAggPortActorAdminKey(lacp.DefaultActorKey)
			lag.AggPorts[5].SetAggPortActorAdminKey(lacp.DefaultActorKey)
			lag.Aggregators[1].SetActorAdminKey(lacp.DefaultActorKey)
			lag.Aggregators[4].SetActorAdminKey(lacp.DefaultActorKey)
			n.DisconnectAll()
		}},
	}, 1000
}

// DualHoming: with a single usable Aggregator the bridge can only hold
// one LAG at a time; preference decides which.
func DualHoming(n *Network) ([]Event, int) {
	lag := n.Devices[0].Lag
	return []Event{
		{10, "connect initial links", func() {
			connect(n, 0, 0, 1, 0, 5)()
			connect(n, 0, 2, 2, 2, 5)()
			connect(n, 0, 3, 1, 3, 5)()
		}},
		{100, "park all aggregators but the first", func() {
			for _, a := range lag.Aggregators {
				a.SetActorAdminKey(lacp.UnusedAggregatorKey)
			}
			lag.Aggregators[0].SetActorAdminKey(lacp.DefaultActorKey)
		}},
		{200, "disconnect b00:0", disconnect(n, 0, 0)},
		{300, "disconnect b00:3", disconnect(n, 0, 3)},
		{400, "connect b00:1-b02:1", connect(n, 0, 1, 2, 1, 5)},
		{500, "reconnect b00:3-b01:3", connect(n, 0, 3, 1, 3, 5)},
		{600, "reconnect b00:0-b01:0", connect(n, 0, 0, 1, 0, 5)},
		{990, "restore keys, disconnect", func() {
			for _, a := range lag.Aggregators {
				a.SetActorAdminKey(lacp.DefaultActorKey)
			}
			n.DisconnectAll()
		}},
	}, 1000
}

// Distribution: conversation-ID to link selection across algorithms and
// conversation maps.
func Distribution(n *Network) ([]Event, int) {
	dev0Lag := n.Devices[0].Lag
	dev2Lag := n.Devices[2].Lag
	es3 := n.Devices[3].EndStn
	return []Event{
		{10, "mesh bridges", func() {
			connect(n, 0, 0, 1, 0, 5)()
			connect(n, 0, 1, 1, 1, 5)()
			connect(n, 0, 2, 1, 2, 5)()
			connect(n, 0, 3, 2, 3, 5)()
			connect(n, 0, 4, 2, 4, 5)()
			connect(n, 0, 5, 2, 5, 5)()
		}},
		{100, "attach end stations", func() {
			connect(n, 0, 6, 3, 0, 5)()
			connect(n, 0, 7, 3, 1, 5)()
			connect(n, 1, 4, 4, 2, 5)()
			connect(n, 1, 5, 4, 3, 5)()
			connect(n, 2, 0, 5, 0, 5)()
			connect(n, 2, 1, 5, 1, 5)()
		}},
		{200, "send 9 frames", func() { send9Frames(es3) }},
		{300, "move a link", func() {
			connect(n, 0, 3, 1, 3, 5)()
			disconnect(n, 3, 0)()
		}},
		{400, "send 9 frames", func() { send9Frames(es3) }},
		{500, "renumber links, C_VID everywhere", func() {
			dev0Lag.AggPorts[0].SetAggPortLinkNumberID(17)
			dev0Lag.AggPorts[1].SetAggPortLinkNumberID(25)
			for _, a := range dev0Lag.Aggregators {
				a.SetPortAlgorithm(lacp.LagAlgorithmCVid)
			}
			for _, a := range dev2Lag.Aggregators {
				a.SetPortAlgorithm(lacp.LagAlgorithmCVid)
			}
		}},
		{600, "send 9 frames", func() { send9Frames(es3) }},
		{700, "admin table on b02 aggregator 0", func() {
			a := dev2Lag.Aggregators[0]
			a.SetConversationAdminLink(0, []uint16{3, 2, 1})
			a.SetConversationAdminLink(1, []uint16{2, 1, 0})
			a.SetConversationAdminLink(2, []uint16{2, 0})
			a.SetConversationAdminLink(3, []uint16{2})
			a.SetConversationAdminLink(4, []uint16{0})
			a.SetConversationAdminLink(5, []uint16{1})
			a.SetConversationAdminLink(6, []uint16{1, 0})
			a.SetConversationAdminLink(7, []uint16{3, 1, 2})
			a.SetConvLinkMap(lacp.ConvLinkMapAdminTable)
		}},
		{800, "send 9 frames", func() { send9Frames(es3) }},
		{990, "disconnect all", n.DisconnectAll},
	}, 1000
}

// WaitToRestore: restored links rejoin only after the WTR countdown, and
// non-revertive links only after the administrative sweep.
func WaitToRestore(n *Network) ([]Event, int) {
	lag := n.Devices[0].Lag
	return []Event{
		{1, "WTR 30 on all b00 ports, dual-home ports 6/7", func() {
			for _, p := range lag.AggPorts {
				p.SetAggPortWTRTime(30)
			}
			lag.Aggregators[6].SetActorAdminKey(lacp.DefaultActorKey + 0x100)
			lag.AggPorts[6].SetAggPortActorAdminKey(lacp.DefaultActorKey + 0x100)
			lag.AggPorts[7].SetAggPortActorAdminKey(lacp.DefaultActorKey + 0x100)
			lag.Aggregators[7].SetEnabled(false)
		}},
		{10, "connect three links to e03, dual-home 6/7", func() {
			connect(n, 0, 0, 3, 0, 5)()
			connect(n, 0, 1, 3, 1, 5)()
			connect(n, 0, 2, 3, 2, 5)()
			connect(n, 0, 6, 1, 6, 5)()
			connect(n, 0, 7, 2, 7, 5)()
		}},
		{100, "links 2,3 down", func() {
			disconnect(n, 0, 1)()
			disconnect(n, 0, 2)()
		}},
		{115, "links 2,3 back", func() {
			connect(n, 0, 1, 3, 1, 5)()
			connect(n, 0, 2, 3, 2, 5)()
		}},
		{120, "link 3 down again", disconnect(n, 0, 2)},
		{125, "link 3 back, WTR restarts", connect(n, 0, 2, 3, 2, 5)},
		{300, "link 7 down", disconnect(n, 0, 6)},
		{350, "link 7 back", connect(n, 0, 6, 1, 6, 5)},
		{500, "non-revertive WTR, links 2,3 down", func() {
			for _, p := range lag.AggPorts {
				p.SetAggPortWTRTime(30 | lacp.LacpWTRNonRevertiveBit)
			}
			disconnect(n, 0, 1)()
			disconnect(n, 0, 2)()
		}},
		{515, "links 2,3 back (held)", func() {
			connect(n, 0, 1, 3, 1, 5)()
			connect(n, 0, 2, 3, 2, 5)()
		}},
		{630, "link 1 down triggers sweep", disconnect(n, 0, 0)},
		{650, "link 1 back (stays held)", connect(n, 0, 0, 3, 0, 5)},
		{990, "restore, disconnect", func() {
			for _, a := range lag.Aggregators {
				a.SetActorAdminKey(lacp.DefaultActorKey)
				a.SetEnabled(true)
			}
			for _, p := range lag.AggPorts {
				p.SetAggPortWTRTime(0)
			}
			n.DisconnectAll()
		}},
	}, 1000
}

// DrniPartner: the portal identity change when the IPP comes up drops
// the solo LAG, and the portal-wide partner restriction keeps a second
// end station out.
func DrniPartner(n *Network) ([]Event, int) {
	n.ConfigureDistRelays()
	return []Event{
		{10, "connect e04 to DRNI system 1", connect(n, 4, 0, 1, 4, 5)},
		{100, "connect e03 to DRNI system 0", connect(n, 3, 1, 0, 5, 5)},
		{200, "connect IPP", connect(n, 0, 6, 1, 6, 5)},
		{300, "disconnect e03 from system 0", disconnect(n, 3, 1)},
		{500, "reconnect e03 to system 0", connect(n, 3, 1, 0, 5, 5)},
		{700, "disconnect IPP", disconnect(n, 0, 6)},
		{800, "reconnect IPP", connect(n, 0, 6, 1, 6, 5)},
		{990, "disconnect all", n.DisconnectAll},
	}, 1000
}

// DrniCscdGatewaySelection: cooperative per-conversation link selection
// over an admin preference table, exercised by link down/up events on
// both sides of the portal.
func DrniCscdGatewaySelection(n *Network) ([]Event, int) {
	n.ConfigureDistRelays()
	dev0 := n.Devices[0]
	dev1 := n.Devices[1]
	return []Event{
		{10, "configure CSCD", func() {
			var en, pref [lacp.MaxConversationIDs]bool
			for cid := 0; cid < lacp.MaxConversationIDs; cid++ {
				en[cid] = true
				pref[cid] = cid&0x1 != 0
			}
			for _, d := range []*Dev{dev0, dev1} {
				dr := d.DistRelay(4)
				dr.SetHomeAdminGatewayEnable(&en)
				dr.SetHomeAdminGatewayPreference(&pref)
				dr.SetHomeAdminGatewayAlgorithm(lacp.LagAlgorithmCVid)
				dr.SetHomeAdminCscdGatewayControl(true)
				d.Lag.Aggregators[4].SetPortAlgorithm(lacp.LagAlgorithmCVid)
				d.Lag.Aggregators[4].SetConvLinkMap(lacp.ConvLinkMapAdminTable)
				d.Lag.Aggregators[4].SetConversationAdminLink(0, []uint16{3, 1, 4, 2})
			}
		}},
		{100, "connect IPP", connect(n, 0, 6, 1, 6, 10)},
		{240, "connect four aggregation links from e05", func() {
			connect(n, 5, 0, 0, 4, 2)()
			connect(n, 5, 1, 0, 5, 2)()
			connect(n, 5, 2, 1, 4, 2)()
			connect(n, 5, 3, 1, 5, 2)()
		}},
		{300, "event 1: link 3 down", disconnect(n, 5, 2)},
		{330, "event 2: link 1 down", disconnect(n, 5, 0)},
		{335, "event 3: link 1 up", connect(n, 5, 0, 0, 4, 2)},
		{365, "restore: link 3 up", connect(n, 5, 2, 1, 4, 2)},
		{750, "disconnect IPP", disconnect(n, 0, 6)},
		{990, "disconnect all", n.DisconnectAll},
	}, 1000
}

// OperationalAggregators lists the aggregator names currently operational
// on a device, for scenario diagnostics.
func (d *Dev) OperationalAggregators() []string {
	var out []string
	for _, a := range d.Lag.Aggregators {
		if a.Operational() {
			out = append(out, a.Name)
		}
	}
	sort.Strings(out)
	return out
}
