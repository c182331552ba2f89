package lacp

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srhaddock/drni/pdu"
	"github.com/srhaddock/drni/sim"
)

// harness wires two single-system shims back to back and drives the tick
// loop by hand.
type harness struct {
	log      *sim.SimLog
	laA, laB *LinkAgg
	macsA    []*sim.Mac
	macsB    []*sim.Mac
}

func newHarness(t *testing.T, numPorts int) *harness {
	t.Helper()
	log := sim.NewSimLog(0, io.Discard)
	h := &harness{log: log}
	sysA := LacpSystem{SystemMac: [6]uint8{0, 0, 0x0D, 1, 0, 0}}
	sysB := LacpSystem{SystemMac: [6]uint8{0, 0, 0x0D, 2, 0, 0}}
	h.laA = NewLinkAgg(log, "a", sysA, numPorts)
	h.laB = NewLinkAgg(log, "b", sysB, numPorts)
	for i := 0; i < numPorts; i++ {
		ma := sim.NewMac(log, "a:mac", [6]byte{0, 0, 0x0D, 1, 0, byte(i + 1)})
		mb := sim.NewMac(log, "b:mac", [6]byte{0, 0, 0x0D, 2, 0, byte(i + 1)})
		h.laA.SetPortMac(i, ma)
		h.laB.SetPortMac(i, mb)
		h.macsA = append(h.macsA, ma)
		h.macsB = append(h.macsB, mb)
	}
	return h
}

func (h *harness) tick() {
	h.laA.TimerTick()
	h.laB.TimerTick()
	for _, m := range h.macsA {
		m.DeliverArrived()
	}
	for _, m := range h.macsB {
		m.DeliverArrived()
	}
	h.laA.Run(true)
	h.laB.Run(true)
	for _, m := range h.macsA {
		m.Transmit()
	}
	for _, m := range h.macsB {
		m.Transmit()
	}
	h.log.Time++
}

func (h *harness) run(ticks int) {
	for i := 0; i < ticks; i++ {
		h.tick()
	}
}

func distributing(p *LaAggPort) bool {
	return LacpStateIsSet(p.ActorOper.State, LacpStateDistributingBit)
}

func TestSingleLinkConverges(t *testing.T) {
	h := newHarness(t, 2)
	sim.Connect(h.macsA[0], h.macsB[0], 5)
	h.run(30)

	pa := h.laA.AggPorts[0]
	pb := h.laB.AggPorts[0]
	require.True(t, distributing(pa), "A port should be distributing")
	require.True(t, distributing(pb), "B port should be distributing")

	// P1: distributing implies collecting, attachment and partner sync
	assert.True(t, LacpStateIsSet(pa.ActorOper.State, LacpStateCollectingBit))
	assert.NotNil(t, pa.AggAttached)
	assert.True(t, LacpStateIsSet(pa.PartnerOper.State, LacpStateSyncBit))

	// P2: the aggregator is operational
	assert.True(t, h.laA.Aggregators[0].Operational())

	// P4: the LAG ID is symmetric
	assert.Equal(t, h.laB.SystemId, pa.PartnerOper.System)
	assert.Equal(t, h.laA.SystemId, pb.PartnerOper.System)
	assert.Equal(t, pb.ActorOper.Port, pa.PartnerOper.Port)
}

func TestLinkDownDetaches(t *testing.T) {
	h := newHarness(t, 2)
	sim.Connect(h.macsA[0], h.macsB[0], 5)
	h.run(30)
	require.True(t, distributing(h.laA.AggPorts[0]))

	sim.Disconnect(h.macsA[0])
	h.run(10)

	pa := h.laA.AggPorts[0]
	assert.False(t, distributing(pa))
	assert.Equal(t, LacpRxmStatePortDisabled, pa.RxMachineFsm.Current())
	assert.Equal(t, LacpAggUnSelected, pa.aggSelected)
	assert.Nil(t, pa.AggAttached)
	// P2: no distributing port, not operational
	assert.False(t, h.laA.Aggregators[0].Operational())
}

func TestSilentPartnerExpiresThenDefaults(t *testing.T) {
	h := newHarness(t, 1)
	sim.Connect(h.macsA[0], h.macsB[0], 1)
	h.run(20)
	pa := h.laA.AggPorts[0]
	require.Equal(t, LacpRxmStateCurrent, pa.RxMachineFsm.Current())

	// the peer goes quiet without dropping the link
	h.macsB[0].SetAdminEnabled(false)
	h.run(4)
	assert.Equal(t, LacpRxmStateExpired, pa.RxMachineFsm.Current())
	assert.True(t, LacpStateIsSet(pa.ActorOper.State, LacpStateExpiredBit))
	assert.False(t, LacpStateIsSet(pa.PartnerOper.State, LacpStateSyncBit))

	h.run(4)
	assert.Equal(t, LacpRxmStateDefaulted, pa.RxMachineFsm.Current())
	assert.True(t, LacpStateIsSet(pa.ActorOper.State, LacpStateDefaultedBit))
}

func TestTxRateLimited(t *testing.T) {
	h := newHarness(t, 1)
	sim.Connect(h.macsA[0], h.macsB[0], 1)
	h.run(40)
	// at most one LACPDU per fast period per port
	assert.LessOrEqual(t, h.laA.AggPorts[0].Counters.LacpOutPkts, uint64(40))
	assert.Greater(t, h.laA.AggPorts[0].Counters.LacpOutPkts, uint64(10))
}

func TestDifferentKeysDoNotAggregate(t *testing.T) {
	h := newHarness(t, 2)
	// B1: partners with different keys must land in different LAGs
	h.laA.AggPorts[1].SetAggPortActorAdminKey(0x999)
	h.laA.Aggregators[1].SetActorAdminKey(0x999)
	h.laB.AggPorts[1].SetAggPortActorAdminKey(0x999)
	h.laB.Aggregators[1].SetActorAdminKey(0x999)

	sim.Connect(h.macsA[0], h.macsB[0], 2)
	sim.Connect(h.macsA[1], h.macsB[1], 2)
	h.run(30)

	a0 := h.laA.Aggregators[0]
	a1 := h.laA.Aggregators[1]
	require.True(t, a0.Operational())
	require.True(t, a1.Operational())
	assert.Equal(t, []uint16{0x100}, a0.PortNumList)
	assert.Equal(t, []uint16{0x101}, a1.PortNumList)
}

func TestIndividualPortStaysAlone(t *testing.T) {
	h := newHarness(t, 2)
	// B2: clearing the aggregation bit makes the port Individual
	p := h.laA.AggPorts[0]
	p.SetAggPortActorAdminState(p.GetAggPortActorAdminState() &^ LacpStateAggregationBit)

	sim.Connect(h.macsA[0], h.macsB[0], 2)
	sim.Connect(h.macsA[1], h.macsB[1], 2)
	h.run(40)

	require.True(t, h.laA.Aggregators[0].Operational())
	require.True(t, h.laA.Aggregators[1].Operational())
	assert.Equal(t, []uint16{0x100}, h.laA.Aggregators[0].PortNumList)
	assert.Equal(t, []uint16{0x101}, h.laA.Aggregators[1].PortNumList)
	// the partner of the individual port is individual too
	assert.Equal(t, []uint16{0x100}, h.laB.Aggregators[0].PortNumList)
}

func TestConversationIDAlgorithms(t *testing.T) {
	untagged := &sim.Frame{Da: [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, Sa: [6]byte{0, 0, 0x0D, 4, 0, 0}}
	tagged := untagged.Copy()
	tagged.Vtag = &sim.VlanTag{TPID: pdu.EtherTypeCVlan, Vid: 5}

	assert.Equal(t, uint16(0), ConversationID(untagged, LagAlgorithmCVid))
	assert.Equal(t, uint16(5), ConversationID(tagged, LagAlgorithmCVid))
	// S-VID algorithm ignores a C-tag
	assert.Equal(t, uint16(0), ConversationID(tagged, LagAlgorithmSVid))

	h1 := ConversationID(untagged, LagAlgorithmUnspecified)
	h2 := ConversationID(untagged, LagAlgorithmUnspecified)
	assert.Equal(t, h1, h2)
	assert.Less(t, h1, uint16(4096))
}

func TestDefaultSpreadOverActiveLinks(t *testing.T) {
	h := newHarness(t, 3)
	for i := 0; i < 3; i++ {
		// link numbers 4, 5, 6
		h.laA.AggPorts[i].SetAggPortLinkNumberID(uint16(4 + i))
		h.laB.AggPorts[i].SetAggPortLinkNumberID(uint16(4 + i))
		sim.Connect(h.macsA[i], h.macsB[i], 2)
	}
	h.run(40)

	agg := h.laA.Aggregators[0]
	require.True(t, agg.Operational())
	require.Len(t, agg.PortNumList, 3)

	active := []uint16{4, 5, 6}
	for cid := 0; cid < 8; cid++ {
		assert.Equal(t, active[cid%3], agg.ConversationLink(cid), "conversation %d", cid)
	}

	// P5: both ends agree on the mapping, so one link per conversation
	for cid := 0; cid < 8; cid++ {
		assert.Equal(t, agg.ConversationLink(cid), h.laB.Aggregators[0].ConversationLink(cid))
	}

	// a link failure respreads over the remaining links
	sim.Disconnect(h.macsA[0])
	h.run(5)
	active = []uint16{5, 6}
	for cid := 0; cid < 8; cid++ {
		assert.Equal(t, active[cid%2], agg.ConversationLink(cid), "conversation %d after failure", cid)
	}
}

func TestAdminTableSelection(t *testing.T) {
	h := newHarness(t, 3)
	agg := h.laA.Aggregators[0]
	agg.SetConvLinkMap(ConvLinkMapAdminTable)
	agg.SetConversationAdminLink(0, []uint16{3, 2, 1})
	agg.SetConversationAdminLink(1, []uint16{9})

	for i := 0; i < 3; i++ {
		sim.Connect(h.macsA[i], h.macsB[i], 2)
	}
	h.run(40)
	require.True(t, agg.Operational())

	// links 1..3 active; the highest-priority active entry wins
	assert.Equal(t, uint16(3), agg.ConversationLink(0))
	// no active link in the preference list
	assert.Equal(t, uint16(0), agg.ConversationLink(1))
	// unlisted conversations have no link
	assert.Equal(t, uint16(0), agg.ConversationLink(7))
}

func TestWaitToRestoreHoldsRejoin(t *testing.T) {
	h := newHarness(t, 2)
	for _, p := range h.laA.AggPorts {
		p.SetAggPortWTRTime(10)
	}
	sim.Connect(h.macsA[0], h.macsB[0], 2)
	sim.Connect(h.macsA[1], h.macsB[1], 2)
	h.run(30)
	require.True(t, distributing(h.laA.AggPorts[1]))

	sim.Disconnect(h.macsA[1])
	h.run(5)
	require.False(t, distributing(h.laA.AggPorts[1]))

	sim.Connect(h.macsA[1], h.macsB[1], 2)
	h.run(8) // WTR still running
	assert.False(t, distributing(h.laA.AggPorts[1]))
	assert.Equal(t, LacpWtrmStateRunning, h.laA.AggPorts[1].WtrMachineFsm.Current())

	h.run(12)
	assert.True(t, distributing(h.laA.AggPorts[1]))
}

func TestNonRevertiveSweep(t *testing.T) {
	h := newHarness(t, 2)
	sim.Connect(h.macsA[0], h.macsB[0], 2)
	sim.Connect(h.macsA[1], h.macsB[1], 2)
	h.run(30)
	for _, p := range h.laA.AggPorts {
		p.SetAggPortWTRTime(5 | LacpWTRNonRevertiveBit)
	}

	sim.Disconnect(h.macsA[1])
	h.run(5)
	sim.Connect(h.macsA[1], h.macsB[1], 2)
	h.run(20)
	// non-revertive: the restored port is parked
	assert.False(t, distributing(h.laA.AggPorts[1]))
	assert.Equal(t, LacpWtrmStateHeld, h.laA.AggPorts[1].WtrMachineFsm.Current())

	// the last active member failing triggers the administrative sweep
	sim.Disconnect(h.macsA[0])
	h.run(20)
	assert.True(t, distributing(h.laA.AggPorts[1]), "swept port should rejoin")
	// the still-down port keeps its non-revertive bit
	assert.NotZero(t, h.laA.AggPorts[0].GetAggPortWTRTime()&LacpWTRNonRevertiveBit)
}

func TestDuplicateLinkNumberDiagnostic(t *testing.T) {
	h := newHarness(t, 2)
	sim.Connect(h.macsA[0], h.macsB[0], 2)
	sim.Connect(h.macsA[1], h.macsB[1], 2)
	h.run(30)
	require.True(t, distributing(h.laA.AggPorts[0]))
	require.True(t, distributing(h.laA.AggPorts[1]))

	h.laA.AggPorts[1].SetAggPortLinkNumberID(1) // duplicate of port 0
	h.run(5)
	// the duplicate (higher portId) is marked non-distributing
	assert.False(t, distributing(h.laA.AggPorts[1]))
	assert.True(t, h.laA.AggPorts[1].dupLinkNumber)
}
