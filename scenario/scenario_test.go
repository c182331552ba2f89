package scenario

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srhaddock/drni/lacp"
	"github.com/srhaddock/drni/pdu"
	"github.com/srhaddock/drni/sim"
)

func newTestNetwork(t *testing.T) *Network {
	t.Helper()
	return BuildDefault(sim.NewSimLog(0, io.Discard))
}

func portDistributing(p *lacp.LaAggPort) bool {
	return lacp.LacpStateIsSet(p.ActorOper.State, lacp.LacpStateDistributingBit)
}

// S1: three links between the first two bridges form one LAG on the
// preferred Aggregator of the first port, and survive a member failure.
func TestBasicLag(t *testing.T) {
	n := newTestNetwork(t)
	b00 := n.Devices[0]
	b01 := n.Devices[1]

	events := []Event{
		{10, "", connect(n, 0, 0, 1, 0, 5)},
		{100, "", connect(n, 0, 1, 1, 1, 5)},
		{200, "", connect(n, 0, 2, 1, 2, 5)},
		{250, "", func() {
			agg := b00.Lag.Aggregators[0]
			require.Equal(t, []uint16{0x100, 0x101, 0x102}, agg.PortNumList)
			require.True(t, agg.Operational())
			for i := 0; i < 3; i++ {
				assert.True(t, portDistributing(b00.Lag.AggPorts[i]), "b00 port %d", i)
				assert.True(t, portDistributing(b01.Lag.AggPorts[i]), "b01 port %d", i)
			}
			// P4: symmetric LAG ID
			assert.Equal(t, b01.Lag.SystemId, b00.Lag.AggPorts[0].PartnerOper.System)
			assert.Equal(t, b00.Lag.SystemId, b01.Lag.AggPorts[0].PartnerOper.System)
		}},
		{300, "", disconnect(n, 0, 0)},
		{330, "", func() {
			agg := b00.Lag.Aggregators[0]
			assert.Equal(t, []uint16{0x101, 0x102}, agg.PortNumList)
			assert.True(t, agg.Operational(), "LAG survives a member failure")
			assert.False(t, portDistributing(b00.Lag.AggPorts[0]))
		}},
	}
	n.Run(events, 350)
}

// S2: the LAG must end up on the preferred Aggregator of the
// lowest-portId member (b01:201), not on the first landing (b01:202).
func TestPreferredAggregator(t *testing.T) {
	n := newTestNetwork(t)
	b01 := n.Devices[1]

	events := []Event{
		{10, "", connect(n, 0, 1, 1, 2, 5)},
		{100, "", connect(n, 0, 2, 1, 3, 5)},
		{150, "", func() {
			// initial landing: preferred Aggregator of b01:102
			assert.Equal(t, []uint16{0x102, 0x103}, b01.Lag.Aggregators[2].PortNumList)
		}},
		{200, "", connect(n, 0, 3, 1, 1, 5)},
		{400, "", func() {
			agg := b01.Lag.Aggregators[1]
			assert.Equal(t, []uint16{0x101, 0x102, 0x103}, agg.PortNumList,
				"LAG must move to the preferred Aggregator of b01:101")
			assert.True(t, agg.Operational())
			assert.Empty(t, b01.Lag.Aggregators[2].PortNumList)
		}},
	}
	n.Run(events, 420)
}

// S3: three individual ports stay solitary; the two fully aggregatable
// links form the only multi-link LAG, four LAGs in total.
func TestNonAggregatablePort(t *testing.T) {
	n := newTestNetwork(t)
	b00 := n.Devices[0]
	b01 := n.Devices[1]

	clearAggBit := func(d *Dev, i int) {
		p := d.Lag.AggPorts[i]
		p.SetAggPortActorAdminState(p.GetAggPortActorAdminState() &^ lacp.LacpStateAggregationBit)
	}
	events := []Event{
		{1, "", func() {
			clearAggBit(b00, 1)
			clearAggBit(b00, 4)
			clearAggBit(b01, 1)
			clearAggBit(b01, 4)
		}},
		{10, "", func() {
			connect(n, 0, 1, 1, 2, 5)()
			connect(n, 0, 2, 1, 3, 5)()
			connect(n, 0, 3, 1, 1, 5)()
			connect(n, 0, 4, 1, 0, 5)()
			connect(n, 0, 5, 1, 5, 5)()
		}},
		{300, "", func() {
			operational := 0
			multi := 0
			for _, a := range b00.Lag.Aggregators {
				if a.Operational() {
					operational++
					if len(a.PortNumList) > 1 {
						multi++
						assert.Equal(t, []uint16{0x102, 0x105}, a.PortNumList,
							"only b00:102 and b00:105 may aggregate")
					}
				}
			}
			assert.Equal(t, 4, operational, "expected 4 distinct LAGs")
			assert.Equal(t, 1, multi)
		}},
	}
	n.Run(events, 320)
}

// S4: conversation distribution under C_VID over active links {4,5,6},
// verified at both the map and the frame level.
func TestConvDistribution(t *testing.T) {
	n := newTestNetwork(t)
	b00 := n.Devices[0]
	b02 := n.Devices[2]
	es3 := n.Devices[3]

	var before [3]uint64
	events := []Event{
		{1, "", func() {
			for i := 3; i < 6; i++ {
				// link numbers 4, 5, 6
				b00.Lag.AggPorts[i].SetAggPortLinkNumberID(uint16(i + 1))
				b02.Lag.AggPorts[i].SetAggPortLinkNumberID(uint16(i + 1))
			}
			for _, a := range b00.Lag.Aggregators {
				a.SetPortAlgorithm(lacp.LagAlgorithmCVid)
			}
			for _, a := range b02.Lag.Aggregators {
				a.SetPortAlgorithm(lacp.LagAlgorithmCVid)
			}
		}},
		{10, "", func() {
			connect(n, 0, 3, 2, 3, 5)()
			connect(n, 0, 4, 2, 4, 5)()
			connect(n, 0, 5, 2, 5, 5)()
			connect(n, 0, 6, 3, 0, 5)() // end station feeding bridge 0
		}},
		{200, "", func() {
			agg := b00.Lag.Aggregators[3]
			require.True(t, agg.Operational())
			require.Len(t, agg.PortNumList, 3)
			active := []uint16{4, 5, 6}
			for cid := 0; cid < 8; cid++ {
				assert.Equal(t, active[cid%3], agg.ConversationLink(cid), "conversation %d", cid)
				// P5: both LAG ends agree on the link for every conversation
				assert.Equal(t, agg.ConversationLink(cid), b02.Lag.Aggregators[3].ConversationLink(cid))
			}
			for i := 0; i < 3; i++ {
				before[i] = b00.Lag.AggPorts[3+i].Counters.DataOutPkts
			}
			send9Frames(es3.EndStn)
		}},
		{250, "", func() {
			// conversations 0(x2),3,6 -> link 4; 1,4,7 -> link 5; 2,5 -> link 6
			assert.Equal(t, uint64(4), b00.Lag.AggPorts[3].Counters.DataOutPkts-before[0], "link 4")
			assert.Equal(t, uint64(3), b00.Lag.AggPorts[4].Counters.DataOutPkts-before[1], "link 5")
			assert.Equal(t, uint64(2), b00.Lag.AggPorts[5].Counters.DataOutPkts-before[2], "link 6")
		}},
	}
	n.Run(events, 270)
}

// S6: wait-to-restore holds a restored link out of the LAG for the
// configured time; a second failure restarts the countdown.
func TestWaitToRestore(t *testing.T) {
	n := newTestNetwork(t)
	b00 := n.Devices[0]
	es3 := n.Devices[3]

	events := []Event{
		{1, "", func() {
			for _, p := range b00.Lag.AggPorts {
				p.SetAggPortWTRTime(30)
			}
		}},
		{10, "", func() {
			connect(n, 0, 0, 3, 0, 5)()
			connect(n, 0, 1, 3, 1, 5)()
			connect(n, 0, 2, 3, 2, 5)()
		}},
		{90, "", func() {
			require.True(t, b00.Lag.Aggregators[0].Operational())
			require.Len(t, b00.Lag.Aggregators[0].PortNumList, 3)
			require.True(t, es3.Lag.Aggregators[0].Operational())
		}},
		{100, "", func() {
			disconnect(n, 0, 1)()
			disconnect(n, 0, 2)()
		}},
		{115, "", func() {
			connect(n, 0, 1, 3, 1, 5)()
			connect(n, 0, 2, 3, 2, 5)()
		}},
		{120, "", disconnect(n, 0, 2)},
		{125, "", connect(n, 0, 2, 3, 2, 5)},
		{140, "", func() {
			// WTR still running on both restored links
			assert.False(t, portDistributing(b00.Lag.AggPorts[1]))
			assert.False(t, portDistributing(b00.Lag.AggPorts[2]))
			assert.True(t, portDistributing(b00.Lag.AggPorts[0]), "surviving link stays up")
		}},
		{152, "", func() {
			// link 2 restored at 115 rejoins once its WTR expires at 145
			assert.True(t, portDistributing(b00.Lag.AggPorts[1]))
			// link 3's WTR restarted at 125 and runs until 155
			assert.False(t, portDistributing(b00.Lag.AggPorts[2]))
		}},
		{175, "", func() {
			assert.True(t, portDistributing(b00.Lag.AggPorts[2]))
			assert.Len(t, es3.Lag.Aggregators[0].PortNumList, 3)
		}},
	}
	n.Run(events, 200)
}

// S5: the portal identity change when the IPP comes up drops the solo
// LAG on system 1, and the portal-wide partner restriction keeps it down
// while system 0 holds a different partner.
func TestDrniPartner(t *testing.T) {
	n := newTestNetwork(t)
	n.ConfigureDistRelays()
	b00 := n.Devices[0]
	b01 := n.Devices[1]
	es4 := n.Devices[4]

	dr0 := b00.DistRelay(4)
	dr1 := b01.DistRelay(4)

	events := []Event{
		{10, "", connect(n, 4, 0, 1, 4, 5)},
		{150, "", func() {
			// solo LAG between ES4 and system 1 under system 1's identity
			require.True(t, b01.Lag.Aggregators[4].Operational())
			require.True(t, es4.Lag.Aggregators[0].Operational())
			assert.Equal(t, b01.Lag.SystemId, dr1.DrniPortalSystem)
			assert.Equal(t, b01.Lag.SystemId, b01.Lag.AggPorts[4].ActorOper.System)
		}},
		{160, "", connect(n, 3, 1, 0, 5, 5)}, // ES3 to system 0
		{300, "", connect(n, 0, 6, 1, 6, 5)}, // IPP
		{360, "", func() {
			// P3: both systems now report the portal identity, which is
			// the lower system's
			require.True(t, dr0.PairedWithNeighbor)
			require.True(t, dr1.PairedWithNeighbor)
			assert.Equal(t, b00.Lag.SystemId, dr0.DrniPortalSystem)
			assert.Equal(t, b00.Lag.SystemId, dr1.DrniPortalSystem)
			assert.Equal(t, dr0.DrniPortalKey, dr1.DrniPortalKey)
			assert.Equal(t, b00.Lag.SystemId, b01.Lag.AggPorts[4].ActorOper.System)
		}},
		{500, "", func() {
			// partner restriction: system 0 already has ES3, so the LAG
			// to ES4 stays down
			assert.True(t, b00.Lag.Aggregators[4].Operational(), "system 0 to ES3")
			assert.False(t, b01.Lag.Aggregators[4].Operational(), "system 1 to ES4 restricted")
		}},
		{520, "", disconnect(n, 3, 1)},
		{650, "", func() {
			// ES3 gone, the restriction clears and ES4 comes back
			assert.True(t, b01.Lag.Aggregators[4].Operational())
		}},
	}
	n.Run(events, 700)
}

// The per-conversation gateway rule: sole enabler wins, preference
// breaks double enables, ties go to the lower system, nobody gateways a
// conversation neither side enables.
func TestDrniGatewaySelection(t *testing.T) {
	n := newTestNetwork(t)
	n.ConfigureDistRelays()
	dr0 := n.Devices[0].DistRelay(4)
	dr1 := n.Devices[1].DistRelay(4)

	var en0, en1, pref0, pref1 [lacp.MaxConversationIDs]bool
	for cid := 0; cid < lacp.MaxConversationIDs; cid++ {
		pref0[cid] = cid&0x1 != 0
		pref1[cid] = cid&0x2 != 0
		en0[cid] = cid&0x4 == 0
		en1[cid] = cid&0x8 == 0
	}

	events := []Event{
		{1, "", func() {
			dr0.SetHomeAdminGatewayEnable(&en0)
			dr0.SetHomeAdminGatewayPreference(&pref0)
			dr1.SetHomeAdminGatewayEnable(&en1)
			dr1.SetHomeAdminGatewayPreference(&pref1)
		}},
		{10, "", connect(n, 0, 6, 1, 6, 5)},
		{100, "", func() {
			require.True(t, dr0.PairedWithNeighbor)
			for cid := 0; cid < 16; cid++ {
				g0 := dr0.OperGateway(cid)
				g1 := dr1.OperGateway(cid)
				assert.False(t, g0 && g1, "conversation %d gatewayed twice", cid)
				switch {
				case en0[cid] && !en1[cid]:
					assert.True(t, g0, "conversation %d: sole enabler 0", cid)
				case en1[cid] && !en0[cid]:
					assert.True(t, g1, "conversation %d: sole enabler 1", cid)
				case !en0[cid] && !en1[cid]:
					assert.False(t, g0 || g1, "conversation %d: no gateway", cid)
				case pref0[cid] && !pref1[cid]:
					assert.True(t, g0, "conversation %d: preference 0", cid)
				case pref1[cid] && !pref0[cid]:
					assert.True(t, g1, "conversation %d: preference 1", cid)
				default:
					assert.True(t, g0 && !g1, "conversation %d: tie to lower system", cid)
				}
			}
		}},
	}
	n.Run(events, 120)
}

// CSCD: both systems agree on a single per-conversation link choice from
// the admin preference list; link failures move the conversation (and
// its gateway) to the surviving preference.
func TestDrniCscd(t *testing.T) {
	n := newTestNetwork(t)
	n.ConfigureDistRelays()
	b00 := n.Devices[0]
	b01 := n.Devices[1]
	dr0 := b00.DistRelay(4)
	dr1 := b01.DistRelay(4)

	events := []Event{
		{1, "", func() {
			for _, d := range []*Dev{b00, b01} {
				dr := d.DistRelay(4)
				dr.SetHomeAdminGatewayAlgorithm(lacp.LagAlgorithmCVid)
				dr.SetHomeAdminCscdGatewayControl(true)
				d.Lag.Aggregators[4].SetPortAlgorithm(lacp.LagAlgorithmCVid)
				d.Lag.Aggregators[4].SetConvLinkMap(lacp.ConvLinkMapAdminTable)
				d.Lag.Aggregators[4].SetConversationAdminLink(0, []uint16{3, 1, 4, 2})
			}
		}},
		{10, "", connect(n, 0, 6, 1, 6, 5)},
		// links 1,2 on system 0 (ports 4,5), links 3,4 on system 1
		{50, "", func() {
			connect(n, 5, 0, 0, 4, 2)()
			connect(n, 5, 1, 0, 5, 2)()
			connect(n, 5, 2, 1, 4, 2)()
			connect(n, 5, 3, 1, 5, 2)()
		}},
		{150, "", func() {
			// all four links up: conversation 0 prefers link 3, which
			// lives on system 1
			require.True(t, b00.Lag.Aggregators[4].Operational())
			require.True(t, b01.Lag.Aggregators[4].Operational())
			assert.False(t, dr0.OperGateway(0))
			assert.True(t, dr1.OperGateway(0))
			assert.Equal(t, uint16(3), b01.Lag.Aggregators[4].ConversationLink(0))
			assert.Equal(t, uint16(0), b00.Lag.Aggregators[4].ConversationLink(0),
				"link 3 is not local to system 0")
		}},
		// event 1: the preferred link goes down, conversation 0 moves to
		// link 1 on system 0
		{160, "", disconnect(n, 5, 2)},
		{220, "", func() {
			assert.True(t, dr0.OperGateway(0))
			assert.False(t, dr1.OperGateway(0))
			assert.Equal(t, uint16(1), b00.Lag.Aggregators[4].ConversationLink(0))
		}},
		// event 2/3: link 1 bounces; conversation 0 returns to link 1
		{230, "", disconnect(n, 5, 0)},
		{260, "", func() {
			// with links 1 and 3 down the preference falls to link 4,
			// which lives on system 1
			assert.Equal(t, uint16(4), b01.Lag.Aggregators[4].ConversationLink(0))
			assert.False(t, dr0.OperGateway(0))
			assert.True(t, dr1.OperGateway(0))
		}},
		{270, "", connect(n, 5, 0, 0, 4, 2)},
		{340, "", func() {
			assert.Equal(t, uint16(1), b00.Lag.Aggregators[4].ConversationLink(0))
			assert.True(t, dr0.OperGateway(0))
		}},
	}
	n.Run(events, 360)
}

// R2: connect then disconnect returns the port to its pre-connect state.
func TestConnectDisconnectIdempotent(t *testing.T) {
	n := newTestNetwork(t)
	b00 := n.Devices[0]
	p := b00.Lag.AggPorts[0]

	events := []Event{
		{10, "", connect(n, 0, 0, 1, 0, 5)},
		{60, "", func() { require.True(t, portDistributing(p)) }},
		{70, "", disconnect(n, 0, 0)},
		{100, "", func() {
			assert.False(t, portDistributing(p))
			assert.Equal(t, lacp.LacpAggUnSelected, p.AggSelected())
			assert.Nil(t, p.AggAttached)
			assert.False(t, b00.Lag.Aggregators[0].Operational())
			// the stale partner is no longer believed to be in sync
			assert.False(t, lacp.LacpStateIsSet(p.PartnerOper.State, lacp.LacpStateSyncBit))
		}},
	}
	n.Run(events, 120)
}

// Data frames actually reach the far end station over the LAG.
func TestEndToEndFrameDelivery(t *testing.T) {
	n := newTestNetwork(t)
	es3 := n.Devices[3]
	es4 := n.Devices[4]

	events := []Event{
		{10, "", func() {
			connect(n, 0, 0, 1, 0, 5)() // bridge trunk
			connect(n, 0, 6, 3, 0, 5)() // es3 - b00
			connect(n, 1, 6, 4, 0, 5)() // es4 - b01
		}},
		{100, "", func() { es3.EndStn.GenerateTestFrame(nil) }},
		{150, "", func() {
			assert.Equal(t, 1, es4.EndStn.RxCount, "frame should be flooded to es4")
		}},
	}
	n.Run(events, 170)
}

func TestMacHashStable(t *testing.T) {
	fr := &sim.Frame{
		Da:        [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Sa:        [6]byte{0, 0, 0x0D, 4, 0, 0},
		EtherType: pdu.EtherTypeTestData,
	}
	cid := lacp.ConversationID(fr, lacp.LagAlgorithmUnspecified)
	assert.Equal(t, cid, lacp.ConversationID(fr, lacp.LagAlgorithmUnspecified))
}
