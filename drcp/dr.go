// dr
package drcp

import (
	"fmt"

	"github.com/srhaddock/drni/lacp"
	"github.com/srhaddock/drni/pdu"
	"github.com/srhaddock/drni/sim"
)

// DistributedRelayConfig is the single configuration record carrying the
// DR's administrative parameters.  Runtime setters exist for exactly the
// fields the admin scenarios mutate.
type DistributedRelayConfig struct {
	// zero value: the portal uses the identity of the DRNI system with
	// the numerically lower System ID
	AdminPortalSystem lacp.LacpSystem
	// zero value: the portal key is the preferred Aggregator's admin key
	// of the lowest system
	AdminPortalKey uint16

	NumDrniPorts    int
	NumIpp          int
	FirstLinkNumber uint16

	GatewayAlgorithm         lacp.LagAlgorithm
	PortAlgorithm            lacp.LagAlgorithm
	CscdGatewayControl       bool
	DiscardWrongConversation bool
}

// DistributedRelay makes two cooperating systems present themselves to
// external LACP partners as a single system.  802.1ax-2014 Clause 9.  It
// replaces the Aggregator in the ISS stack on the Bridge/EndStn side and
// owns the intra-portal ports the DRCP exchange runs on.
type DistributedRelay struct {
	log  *sim.SimLog
	Name string
	cfg  DistributedRelayConfig

	la       *lacp.LinkAgg
	Agg      *lacp.LaAggregator
	AggPorts []*lacp.LaAggPort
	Ipps     []*DRCPIpp

	HomeSystem      lacp.LacpSystem
	HomeAdminAggKey uint16

	// operational portal identity presented in LACPDUs
	DrniPortalSystem   lacp.LacpSystem
	DrniPortalKey      uint16
	PairedWithNeighbor bool

	// admin gateway vectors, runtime settable
	homeGatewayEnable    [MaxConversationIDs]bool
	homeGatewayPref      [MaxConversationIDs]bool
	homeGatewayAlgorithm lacp.LagAlgorithm
	homeCscdControl      bool

	// per conversation ID: true when this system is the gateway
	operGateway     [MaxConversationIDs]bool
	gatewaySequence uint32

	cscdActive bool
	cscdMap    [MaxConversationIDs]uint16

	changePortal bool
	lastTxState  string

	client sim.IssClient
}

// NewDistributedRelay binds a DR onto the shim's Aggregator at aggIdx,
// adopts the following numDrniPorts AggPorts as DRNI ports and the given
// Macs as intra-portal ports.
func NewDistributedRelay(log *sim.SimLog, la *lacp.LinkAgg, aggIdx int,
	ippMacs []*sim.Mac, cfg DistributedRelayConfig) *DistributedRelay {

	dr := &DistributedRelay{
		log:        log,
		Name:       fmt.Sprintf("%s:dr%d", la.Name, aggIdx),
		cfg:        cfg,
		la:         la,
		HomeSystem: la.SystemId,
	}
	dr.Agg = la.Aggregators[aggIdx]
	dr.HomeAdminAggKey = dr.Agg.GetActorAdminKey()
	dr.AggPorts = la.AggPorts[aggIdx : aggIdx+cfg.NumDrniPorts]
	for i, p := range dr.AggPorts {
		p.SetAggPortActorAdminKey(dr.HomeAdminAggKey)
		if cfg.FirstLinkNumber != 0 {
			p.SetAggPortLinkNumberID(cfg.FirstLinkNumber + uint16(i))
		}
	}
	for i, m := range ippMacs[:cfg.NumIpp] {
		dr.Ipps = append(dr.Ipps, newDRCPIpp(log, dr, i, m))
	}
	dr.Agg.SetClient(dr)
	if cfg.PortAlgorithm != lacp.LagAlgorithmUnspecified {
		dr.Agg.SetPortAlgorithm(cfg.PortAlgorithm)
	}
	if cfg.DiscardWrongConversation {
		dr.Agg.SetAdminDiscardWrongConversation(true)
	}
	dr.homeGatewayAlgorithm = cfg.GatewayAlgorithm
	dr.homeCscdControl = cfg.CscdGatewayControl
	for cid := 0; cid < MaxConversationIDs; cid++ {
		dr.homeGatewayEnable[cid] = true
		dr.homeGatewayPref[cid] = true
	}
	dr.DrniPortalSystem = dr.HomeSystem
	dr.DrniPortalKey = dr.HomeAdminAggKey
	dr.changePortal = true
	la.DistRelays[aggIdx] = dr
	return dr
}

// --- lacp.DistRelay contract ---

func (dr *DistributedRelay) TimerTick() {
	for _, ipp := range dr.Ipps {
		ipp.timerTick()
	}
}

func (dr *DistributedRelay) Run() {
	for _, ipp := range dr.Ipps {
		ipp.RxMachineFsm.Run()
	}
	dr.updatePortalIdentity()
	dr.enforcePortalPartner()
	dr.updateGatewaySelection()
	dr.updateDigestDWC()
	dr.updateCscd()
	dr.updateNtt()
	for _, ipp := range dr.Ipps {
		ipp.runTx()
	}
}

func (dr *DistributedRelay) Reset() {
	for _, ipp := range dr.Ipps {
		ipp.reset()
	}
	dr.DrniPortalSystem = dr.HomeSystem
	dr.DrniPortalKey = dr.HomeAdminAggKey
	dr.PairedWithNeighbor = false
	dr.cscdActive = false
	dr.changePortal = true
	dr.lastTxState = ""
}

// pairedIpp returns the first IPP whose peer machine is CURRENT.
func (dr *DistributedRelay) pairedIpp() *DRCPIpp {
	for _, ipp := range dr.Ipps {
		if ipp.RxMachineFsm.Current() == DrcpRxmStateCurrent {
			return ipp
		}
	}
	return nil
}

// homeIsLowest: the home system orders below the neighbor (or there is no
// neighbor).
func (dr *DistributedRelay) homeIsLowest() bool {
	ipp := dr.pairedIpp()
	if ipp == nil {
		return true
	}
	return dr.HomeSystem.Value() < ipp.NeighborSystem.Value()
}

func (dr *DistributedRelay) portalSystemNum() uint8 {
	if dr.homeIsLowest() {
		return 1
	}
	return 2
}

func (dr *DistributedRelay) homePortalInfo() pdu.PortalInfo {
	var flags uint8 = pdu.DrcpFlagShortTimeout
	if dr.homeCscdControl {
		flags |= pdu.DrcpFlagCscdGatewayControl
	}
	return pdu.PortalInfo{
		SystemPriority:  dr.HomeSystem.SystemPriority,
		SystemMac:       dr.HomeSystem.SystemMac,
		Key:             dr.HomeAdminAggKey,
		PortalSystemNum: dr.portalSystemNum(),
		Flags:           flags,
	}
}

// updatePortalIdentity arbitrates the portal System and key across the
// IPP.  When the IPP is down each DR falls back to a solo identity
// derived from its own system and aggregator key.
func (dr *DistributedRelay) updatePortalIdentity() {
	ipp := dr.pairedIpp()
	dr.PairedWithNeighbor = ipp != nil

	sys := dr.HomeSystem
	key := dr.HomeAdminAggKey
	if ipp != nil {
		switch {
		case !dr.cfg.AdminPortalSystem.IsZero():
			sys = dr.cfg.AdminPortalSystem
		case dr.HomeSystem.Value() <= ipp.NeighborSystem.Value():
			sys = dr.HomeSystem
		default:
			sys = ipp.NeighborSystem
		}
		switch {
		case dr.cfg.AdminPortalKey != 0:
			key = dr.cfg.AdminPortalKey
		case dr.HomeSystem.Value() <= ipp.NeighborSystem.Value():
			key = dr.HomeAdminAggKey
		default:
			key = ipp.NeighborKey
		}
	}

	if sys == dr.DrniPortalSystem && key == dr.DrniPortalKey {
		return
	}
	dr.log.Logf(1, "DR %s: portal identity now %s key %04x (was %s key %04x)",
		dr.Name, sys, key, dr.DrniPortalSystem, dr.DrniPortalKey)
	dr.DrniPortalSystem = sys
	dr.DrniPortalKey = key
	// present the unified identity to external LACP: the inner
	// Aggregator and every DRNI port re-form the LAG under the portal
	// System and key
	dr.Agg.SetActorSystem(sys, key)
	for _, p := range dr.AggPorts {
		p.AssignActorSystem(sys, key)
	}
	for _, i := range dr.Ipps {
		i.ntt = true
	}
	dr.changePortal = true
}

// homeAggPartner: the partner system currently seen on the home DRNI
// ports (the zero system when none).
func (dr *DistributedRelay) homeAggPartner() (lacp.LacpSystem, uint16) {
	for _, p := range dr.AggPorts {
		if !p.PortEnabled || p.PartnerOper.System.IsZero() {
			continue
		}
		if lacp.LacpStateIsSet(p.PartnerOper.State, lacp.LacpStateDefaultedBit) {
			continue
		}
		return p.PartnerOper.System, p.PartnerOper.Key
	}
	return lacp.LacpSystem{}, 0
}

// portalPartner: across the portal the lower system's partner wins.
func (dr *DistributedRelay) portalPartner() lacp.LacpSystem {
	home, _ := dr.homeAggPartner()
	ipp := dr.pairedIpp()
	if ipp == nil {
		return home
	}
	neigh := ipp.NeighborAggPartner
	if dr.homeIsLowest() {
		if !home.IsZero() {
			return home
		}
		return neigh
	}
	if !neigh.IsZero() {
		return neigh
	}
	return home
}

// enforcePortalPartner keeps the portal's LAG to a single partner system:
// a DRNI port whose partner conflicts with the portal partner stays
// unselected until the conflict clears.
func (dr *DistributedRelay) enforcePortalPartner() {
	partner := dr.portalPartner()
	if partner.IsZero() || !dr.PairedWithNeighbor {
		return
	}
	for _, p := range dr.AggPorts {
		if !p.PortEnabled || p.PartnerOper.System.IsZero() ||
			lacp.LacpStateIsSet(p.PartnerOper.State, lacp.LacpStateDefaultedBit) {
			continue
		}
		if p.PartnerOper.System != partner {
			dr.log.Logf(4, "DR %s: %s partner %s conflicts with portal partner %s",
				dr.Name, p.Name, p.PartnerOper.System, partner)
			p.MarkUnselected()
		}
	}
}

// homeActiveLinks lists the link numbers currently distributing on the
// home DRNI ports.
func (dr *DistributedRelay) homeActiveLinks() []uint16 {
	var links []uint16
	for _, p := range dr.AggPorts {
		if lacp.LacpStateIsSet(p.ActorOper.State, lacp.LacpStateDistributingBit) {
			links = append(links, p.OperLinkNumber())
		}
	}
	return links
}

// updateNtt compares the peer-visible home state against what was last
// advertised and raises NTT on every IPP when it moved.
func (dr *DistributedRelay) updateNtt() {
	partner, key := dr.homeAggPartner()
	state := fmt.Sprintf("%v|%04x|%v|%v|%d|%v", dr.DrniPortalSystem.Value(),
		dr.DrniPortalKey, dr.homeActiveLinks(), partner.Value(), key, dr.gatewaySequence)
	if state == dr.lastTxState && !dr.changePortal {
		return
	}
	dr.lastTxState = state
	dr.changePortal = false
	for _, ipp := range dr.Ipps {
		ipp.ntt = true
	}
}

// --- ISS toward the Bridge/EndStn above, and the data path ---

func (dr *DistributedRelay) SetClient(client sim.IssClient) { dr.client = client }

func (dr *DistributedRelay) Enabled() bool {
	return dr.Agg.Operational() || dr.PairedWithNeighbor
}

// Request takes a frame from the client above.  If this system is not the
// conversation's gateway the frame crosses the IPL; otherwise it goes
// down the local Aggregator, or across the IPL when the selected link
// lives on the neighbor.
func (dr *DistributedRelay) Request(fr *sim.Frame) {
	cid := lacp.ConversationID(fr, dr.homeGatewayAlgorithm)
	if !dr.operGateway[cid] && dr.PairedWithNeighbor {
		dr.sendOverIpp(fr)
		return
	}
	pcid := lacp.ConversationID(fr, dr.Agg.PortAlgorithm)
	if dr.Agg.ConversationLink(int(pcid)) != 0 || !dr.PairedWithNeighbor {
		dr.Agg.Request(fr)
		return
	}
	dr.sendOverIpp(fr)
}

// Indication receives a frame collected on the local Aggregator.  The
// gateway for its conversation passes it up; otherwise it crosses to the
// neighbor's gateway.
func (dr *DistributedRelay) Indication(fr *sim.Frame) {
	cid := lacp.ConversationID(fr, dr.homeGatewayAlgorithm)
	if dr.operGateway[cid] {
		if dr.client != nil {
			dr.client.Indication(fr)
		}
		return
	}
	if dr.PairedWithNeighbor {
		dr.sendOverIpp(fr)
		return
	}
	dr.log.Logf(5, "DR %s: no gateway for conversation %d, dropped", dr.Name, cid)
}

// ippDataIndication handles portal data arriving over the IPL: the
// gateway side passes it up, the non-gateway side sends it down its
// Aggregator.
func (dr *DistributedRelay) ippDataIndication(fr *sim.Frame) {
	cid := lacp.ConversationID(fr, dr.homeGatewayAlgorithm)
	if dr.operGateway[cid] {
		if dr.client != nil {
			dr.client.Indication(fr)
		}
		return
	}
	dr.Agg.Request(fr)
}

func (dr *DistributedRelay) sendOverIpp(fr *sim.Frame) {
	for _, ipp := range dr.Ipps {
		if ipp.Enabled() {
			ipp.mac.Request(fr.Copy())
			return
		}
	}
	dr.log.Logf(5, "DR %s: no operational IPP, frame dropped", dr.Name)
}

// --- administrative setters exercised by the scenarios ---

func (dr *DistributedRelay) SetHomeAdminGatewayEnable(v *[MaxConversationIDs]bool) {
	dr.homeGatewayEnable = *v
	dr.gatewaySequence++
	dr.changePortal = true
}

func (dr *DistributedRelay) GetHomeAdminGatewayEnable() [MaxConversationIDs]bool {
	return dr.homeGatewayEnable
}

func (dr *DistributedRelay) SetHomeAdminGatewayPreference(v *[MaxConversationIDs]bool) {
	dr.homeGatewayPref = *v
	dr.gatewaySequence++
	dr.changePortal = true
}

func (dr *DistributedRelay) GetHomeAdminGatewayPreference() [MaxConversationIDs]bool {
	return dr.homeGatewayPref
}

func (dr *DistributedRelay) SetHomeAdminGatewayAlgorithm(alg lacp.LagAlgorithm) {
	if dr.homeGatewayAlgorithm == alg {
		return
	}
	dr.homeGatewayAlgorithm = alg
	dr.changePortal = true
}

func (dr *DistributedRelay) SetHomeAdminCscdGatewayControl(ena bool) {
	if dr.homeCscdControl == ena {
		return
	}
	dr.homeCscdControl = ena
	dr.changePortal = true
}

// OperGateway reports whether this system is the gateway for cid.
func (dr *DistributedRelay) OperGateway(cid int) bool { return dr.operGateway[cid] }
