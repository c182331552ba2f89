// aggregator
package lacp

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/srhaddock/drni/sim"
)

// 802.1ax-2014 Section 6.4.6 / 7.3.1.1
// LaAggregator is the LAG endpoint: it collects frames from and
// distributes frames over its attached AggPorts, and owns the
// conversation-ID to link map.
type LaAggregator struct {
	log *sim.SimLog
	la  *LinkAgg

	Index int
	AggId int
	Name  string

	ActorSystem   LacpSystem
	actorAdminKey uint16
	ActorOperKey  uint16
	enabled       bool

	PartnerSystem LacpSystem
	PartnerKey    uint16

	// attached ports, sorted by port id
	PortNumList []uint16

	PortAlgorithm LagAlgorithm
	ConvMap       ConvLinkMap
	// per conversation ID, the ordered admin link preference list
	AdminConvLinkTable map[uint16][]uint16

	ConversationDigest       [16]byte
	DiscardWrongConversation bool
	adminDWC                 bool
	portalDWC                bool

	// conversation ID -> link number currently in use (0 = none)
	conversationLink [MaxConversationIDs]uint16
	convMapStale     bool

	// CSCD: portal-wide conversation map pushed down by the Distributed
	// Relay; overrides the local spread while enabled
	cscdMap     *[MaxConversationIDs]uint16
	cscdEnabled bool

	client sim.IssClient
}

func NewLaAggregator(log *sim.SimLog, la *LinkAgg, index int, aggId int) *LaAggregator {
	a := &LaAggregator{
		log:                log,
		la:                 la,
		Index:              index,
		AggId:              aggId,
		Name:               fmt.Sprintf("%s:%x", la.Name, aggId),
		ActorSystem:        la.SystemId,
		actorAdminKey:      DefaultActorKey,
		ActorOperKey:       DefaultActorKey,
		enabled:            true,
		AdminConvLinkTable: make(map[uint16][]uint16),
		convMapStale:       true,
	}
	a.updateDigest()
	return a
}

func (a *LaAggregator) reset() {
	a.ActorSystem = a.la.SystemId
	a.ActorOperKey = a.actorAdminKey
	a.PartnerSystem = LacpSystem{}
	a.PartnerKey = 0
	a.PortNumList = nil
	a.conversationLink = [MaxConversationIDs]uint16{}
	a.convMapStale = true
	a.cscdMap = nil
	a.cscdEnabled = false
	a.portalDWC = false
	a.DiscardWrongConversation = a.adminDWC
	a.updateDigest()
}

// Operational is true iff at least one attached port is distributing.
func (a *LaAggregator) Operational() bool {
	for _, p := range a.attachedPorts() {
		if p.isDistributing() {
			return true
		}
	}
	return false
}

func (a *LaAggregator) attachedPorts() []*LaAggPort {
	ports := make([]*LaAggPort, 0, len(a.PortNumList))
	for _, num := range a.PortNumList {
		if p := a.la.portByNum(num); p != nil {
			ports = append(ports, p)
		}
	}
	return ports
}

func (a *LaAggregator) addPort(p *LaAggPort) {
	for _, num := range a.PortNumList {
		if num == p.PortNum {
			return
		}
	}
	a.PortNumList = append(a.PortNumList, p.PortNum)
	sort.Slice(a.PortNumList, func(i, j int) bool {
		return a.PortNumList[i] < a.PortNumList[j]
	})
	// the LAG ID's actor half follows the attached ports
	a.ActorOperKey = p.ActorOper.Key
	a.PartnerSystem = p.PartnerOper.System
	a.PartnerKey = p.PartnerOper.Key
	a.convMapStale = true
	a.log.Logf(3, "AGG %s: attached port %s", a.Name, p.Name)
}

func (a *LaAggregator) removePort(p *LaAggPort) {
	for i, num := range a.PortNumList {
		if num == p.PortNum {
			a.PortNumList = append(a.PortNumList[:i], a.PortNumList[i+1:]...)
			break
		}
	}
	if len(a.PortNumList) == 0 {
		// empty Aggregator reverts to the null LAG ID
		a.PartnerSystem = LacpSystem{}
		a.PartnerKey = 0
		a.ActorOperKey = a.actorAdminKey
	}
	a.convMapStale = true
	a.log.Logf(3, "AGG %s: detached port %s", a.Name, p.Name)
}

// --- ISS toward the client above (bridge port / end station / DR) ---

func (a *LaAggregator) SetClient(client sim.IssClient) { a.client = client }

func (a *LaAggregator) Enabled() bool { return a.enabled && a.Operational() }

// Request distributes a frame onto the link selected for its conversation
// ID.
func (a *LaAggregator) Request(fr *sim.Frame) {
	if !a.enabled || !a.Operational() {
		return
	}
	cid := ConversationID(fr, a.PortAlgorithm)
	link := a.conversationLink[cid]
	if link == 0 {
		a.log.Logf(5, "AGG %s: no link for conversation %d, dropped", a.Name, cid)
		return
	}
	for _, p := range a.attachedPorts() {
		if p.isDistributing() && p.OperLinkNumber() == link {
			a.log.Logf(5, "AGG %s: conversation %d -> link %d (%s)", a.Name, cid, link, p.Name)
			p.Counters.DataOutPkts++
			p.send(fr.Copy())
			return
		}
	}
	a.log.Logf(5, "AGG %s: link %d for conversation %d not distributing, dropped", a.Name, link, cid)
}

// receive relays a frame collected on one of the attached ports up to the
// client, enforcing discardWrongConversation.
func (a *LaAggregator) receive(fr *sim.Frame, from *LaAggPort) {
	if !from.isCollecting() || a.client == nil {
		return
	}
	from.Counters.DataInPkts++
	if a.DiscardWrongConversation {
		cid := ConversationID(fr, a.PortAlgorithm)
		if a.conversationLink[cid] != from.OperLinkNumber() {
			a.log.Logf(5, "AGG %s: conversation %d arrived on wrong link %d, dropped",
				a.Name, cid, from.OperLinkNumber())
			return
		}
	}
	a.client.Indication(fr)
}

// run refreshes the conversation map and the DWC decision when needed.
func (a *LaAggregator) run() {
	if a.convMapStale {
		a.updateConversationLinkVector()
		a.updateOperDWC()
		a.convMapStale = false
	}
}

// updateConversationLinkVector recomputes the conversation ID to link
// mapping from the set of distributing links.
func (a *LaAggregator) updateConversationLinkVector() {
	// collect distributing links; ports carrying a duplicate link number
	// are marked non-distributing (the lowest portId keeps the number)
	seen := make(map[uint16]*LaAggPort)
	var active []uint16
	for _, p := range a.attachedPorts() {
		if p.MuxMachineFsm.Current() != LacpMuxmStateCollDist {
			p.dupLinkNumber = false
			continue
		}
		link := p.OperLinkNumber()
		if other, dup := seen[link]; dup {
			loser := p
			if other.portId() > p.portId() {
				loser = other
				seen[link] = p
			}
			if !loser.dupLinkNumber {
				loser.dupLinkNumber = true
				a.log.Logf(1, "AGG %s: duplicate link number %d, %s non-distributing",
					a.Name, link, loser.Name)
			}
			loser.ActorOper.State = LacpStateClear(loser.ActorOper.State, LacpStateDistributingBit)
			continue
		}
		seen[link] = p
		if p.dupLinkNumber {
			// conflict resolved, resume distributing
			p.dupLinkNumber = false
			p.ActorOper.State = LacpStateSet(p.ActorOper.State, LacpStateDistributingBit)
		}
	}
	for link := range seen {
		active = append(active, link)
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })

	if a.cscdEnabled && a.cscdMap != nil {
		// the portal-wide map already accounts for link location; keep
		// only entries served by a local link
		local := make(map[uint16]bool, len(active))
		for _, l := range active {
			local[l] = true
		}
		for cid := 0; cid < MaxConversationIDs; cid++ {
			if l := a.cscdMap[cid]; local[l] {
				a.conversationLink[cid] = l
			} else {
				a.conversationLink[cid] = 0
			}
		}
		return
	}

	k := len(active)
	for cid := 0; cid < MaxConversationIDs; cid++ {
		a.conversationLink[cid] = 0
		if k == 0 {
			continue
		}
		switch a.ConvMap {
		case ConvLinkMapDefault:
			a.conversationLink[cid] = active[cid%k]
		case ConvLinkMapEvenOdd:
			n := 2
			if k < 2 {
				n = k
			}
			a.conversationLink[cid] = active[cid%n]
		case ConvLinkMapEightLinkSpread:
			a.conversationLink[cid] = active[int(eightLinkSpread[cid%8])%k]
		case ConvLinkMapActiveStandby:
			a.conversationLink[cid] = active[0]
		case ConvLinkMapAdminTable:
			for _, pref := range a.AdminConvLinkTable[uint16(cid)] {
				if seen[pref] != nil {
					a.conversationLink[cid] = pref
					break
				}
			}
		}
	}
}

// updateOperDWC: both ends of the LAG must agree on the port algorithm
// and the conversation list digest; a mismatch forces
// discardWrongConversation true.
func (a *LaAggregator) updateOperDWC() {
	dwc := a.adminDWC || a.portalDWC
	for _, p := range a.attachedPorts() {
		if p.partnerPortAlgorithm != LagAlgorithmUnspecified &&
			p.partnerPortAlgorithm != a.PortAlgorithm {
			dwc = true
		}
		if p.partnerDigest != ([16]byte{}) && p.partnerDigest != a.ConversationDigest {
			dwc = true
		}
	}
	a.DiscardWrongConversation = dwc
}

// updateDigest recomputes the MD5 digest of the conversation
// configuration: algorithm, map selector and, for the admin table, the
// table contents.
func (a *LaAggregator) updateDigest() {
	h := md5.New()
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:], uint32(a.PortAlgorithm))
	binary.BigEndian.PutUint32(b[4:], uint32(a.ConvMap))
	h.Write(b[:])
	if a.ConvMap == ConvLinkMapAdminTable {
		cids := make([]int, 0, len(a.AdminConvLinkTable))
		for cid := range a.AdminConvLinkTable {
			cids = append(cids, int(cid))
		}
		sort.Ints(cids)
		for _, cid := range cids {
			binary.BigEndian.PutUint16(b[0:2], uint16(cid))
			h.Write(b[0:2])
			for _, link := range a.AdminConvLinkTable[uint16(cid)] {
				binary.BigEndian.PutUint16(b[0:2], link)
				h.Write(b[0:2])
			}
		}
	}
	copy(a.ConversationDigest[:], h.Sum(nil))
}

// ConversationLink exposes the current mapping (diagnostics and tests).
func (a *LaAggregator) ConversationLink(cid int) uint16 {
	return a.conversationLink[cid]
}

// --- administrative setters ---

func (a *LaAggregator) SetActorAdminKey(key uint16) {
	if a.actorAdminKey == key {
		return
	}
	a.actorAdminKey = key
	if len(a.PortNumList) == 0 {
		a.ActorOperKey = key
	}
	// ports holding the aggregator under the old key must reselect
	for _, p := range a.attachedPorts() {
		if p.ActorOper.Key != key {
			p.markUnselected()
		}
	}
}

func (a *LaAggregator) GetActorAdminKey() uint16 { return a.actorAdminKey }

func (a *LaAggregator) SetEnabled(ena bool) {
	a.enabled = ena
	if !ena {
		for _, p := range a.attachedPorts() {
			p.markUnselected()
		}
	}
}

func (a *LaAggregator) SetPortAlgorithm(alg LagAlgorithm) {
	if a.PortAlgorithm == alg {
		return
	}
	a.PortAlgorithm = alg
	a.updateDigest()
	a.convMapStale = true
	for _, p := range a.attachedPorts() {
		p.ntt = true
	}
}

func (a *LaAggregator) SetConvLinkMap(m ConvLinkMap) {
	if a.ConvMap == m {
		return
	}
	a.ConvMap = m
	a.updateDigest()
	a.convMapStale = true
	for _, p := range a.attachedPorts() {
		p.ntt = true
	}
}

// SetConversationAdminLink installs the ordered link preference list for
// one conversation ID.
func (a *LaAggregator) SetConversationAdminLink(cid uint16, links []uint16) {
	a.AdminConvLinkTable[cid] = append([]uint16(nil), links...)
	a.updateDigest()
	a.convMapStale = true
}

func (a *LaAggregator) SetAdminDiscardWrongConversation(dwc bool) {
	a.adminDWC = dwc
	a.convMapStale = true
}

// SetPortalDWC is the Distributed Relay's handle: a digest or algorithm
// mismatch across the portal forces discardWrongConversation.
func (a *LaAggregator) SetPortalDWC(dwc bool) {
	if a.portalDWC == dwc {
		return
	}
	a.portalDWC = dwc
	a.convMapStale = true
}

// SetCscdMap installs (or clears) the portal-wide conversation map the
// Distributed Relay computed under CSCD.
func (a *LaAggregator) SetCscdMap(m *[MaxConversationIDs]uint16, enabled bool) {
	a.cscdMap = m
	a.cscdEnabled = enabled
	a.convMapStale = true
}

// SetActorSystem overrides the Aggregator's actor System identity (used
// by the Distributed Relay and admin scenarios); all attached ports are
// rebound.
func (a *LaAggregator) SetActorSystem(sys LacpSystem, key uint16) {
	if a.ActorSystem == sys && a.actorAdminKey == key {
		return
	}
	a.ActorSystem = sys
	a.actorAdminKey = key
	a.ActorOperKey = key
	for _, p := range a.attachedPorts() {
		p.markUnselected()
	}
}

// eightLinkSpread is the bit-reversal slot permutation used by the
// EIGHT_LINK_SPREAD conversation map.
var eightLinkSpread = [8]uint8{0, 4, 2, 6, 1, 5, 3, 7}
