// gateway
package drcp

import (
	"crypto/md5"
	"encoding/binary"
	"sort"

	"github.com/srhaddock/drni/lacp"
	"github.com/srhaddock/drni/pdu"
)

// updateGatewaySelection chooses, per conversation ID, which portal
// system owns the gateway.  Rule: a conversation enabled on exactly one
// system gateways there; enabled on both, the preference bits decide with
// ties to the lower system; enabled on neither, no gateway.
func (dr *DistributedRelay) updateGatewaySelection() {
	ipp := dr.pairedIpp()
	homeLowest := dr.homeIsLowest()

	for cid := 0; cid < MaxConversationIDs; cid++ {
		homeEn := dr.homeGatewayEnable[cid]
		if ipp == nil {
			dr.operGateway[cid] = homeEn
			continue
		}
		neighEn := ipp.NeighborGatewayEnable[cid]
		switch {
		case homeEn && !neighEn:
			dr.operGateway[cid] = true
		case !homeEn && neighEn:
			dr.operGateway[cid] = false
		case !homeEn && !neighEn:
			dr.operGateway[cid] = false
		default:
			homePref := dr.homeGatewayPref[cid]
			neighPref := ipp.NeighborGatewayPref[cid]
			switch {
			case homePref && !neighPref:
				dr.operGateway[cid] = true
			case neighPref && !homePref:
				dr.operGateway[cid] = false
			default:
				dr.operGateway[cid] = homeLowest
			}
		}
	}
}

// gatewayDigest hashes the gateway algorithm only; the enable and
// preference vectors are not covered.  Portal peers compare digests, and
// inequality forces discardWrongConversation.
func (dr *DistributedRelay) gatewayDigest() [16]byte {
	h := md5.New()
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(dr.homeGatewayAlgorithm))
	h.Write(b[:])
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// updateDigestDWC measures port-conversation consistency across the
// portal by digest comparison; any mismatch forces DWC on the inner
// Aggregator.
func (dr *DistributedRelay) updateDigestDWC() {
	ipp := dr.pairedIpp()
	mismatch := false
	if ipp != nil {
		if ipp.NeighborPortAlgorithm != lacp.LagAlgorithmUnspecified &&
			ipp.NeighborPortAlgorithm != dr.Agg.PortAlgorithm {
			mismatch = true
		}
		if ipp.NeighborPortDigest != ([16]byte{}) &&
			ipp.NeighborPortDigest != dr.Agg.ConversationDigest {
			mismatch = true
		}
		if ipp.NeighborGatewayDigest != ([16]byte{}) &&
			ipp.NeighborGatewayDigest != dr.gatewayDigest() {
			mismatch = true
		}
	}
	dr.Agg.SetPortalDWC(mismatch)
}

// updateCscd implements Cooperative Shared Conversation-ID Distribution:
// when enabled on both systems, a single per-conversation link choice is
// computed over the union of both systems' active links, and the gateway
// follows the system owning the chosen link.
func (dr *DistributedRelay) updateCscd() {
	ipp := dr.pairedIpp()
	enabled := dr.homeCscdControl && ipp != nil &&
		ipp.NeighborFlags&pdu.DrcpFlagCscdGatewayControl != 0 &&
		ipp.NeighborGatewayAlgorithm == dr.homeGatewayAlgorithm
	if !enabled {
		if dr.cscdActive {
			dr.cscdActive = false
			dr.Agg.SetCscdMap(nil, false)
		}
		return
	}

	homeLinks := dr.homeActiveLinks()
	inHome := make(map[uint16]bool, len(homeLinks))
	for _, l := range homeLinks {
		inHome[l] = true
	}
	union := append([]uint16(nil), homeLinks...)
	for _, l := range ipp.NeighborActiveLinks {
		if !inHome[l] {
			union = append(union, l)
		}
	}
	sort.Slice(union, func(i, j int) bool { return union[i] < union[j] })

	var m [MaxConversationIDs]uint16
	for cid := 0; cid < MaxConversationIDs; cid++ {
		switch dr.Agg.ConvMap {
		case lacp.ConvLinkMapAdminTable:
			for _, pref := range dr.Agg.AdminConvLinkTable[uint16(cid)] {
				for _, l := range union {
					if l == pref {
						m[cid] = pref
						break
					}
				}
				if m[cid] != 0 {
					break
				}
			}
		default:
			if len(union) > 0 {
				m[cid] = union[cid%len(union)]
			}
		}
	}

	if !dr.cscdActive || m != dr.cscdMap {
		dr.cscdMap = m
		dr.cscdActive = true
		dr.Agg.SetCscdMap(&dr.cscdMap, true)
		dr.log.Logf(3, "DR %s: CSCD conversation map recomputed over %d links", dr.Name, len(union))
	}

	// the gateway for a conversation moves with the link that carries it
	for cid := 0; cid < MaxConversationIDs; cid++ {
		if m[cid] != 0 {
			dr.operGateway[cid] = inHome[m[cid]]
		}
	}
}
