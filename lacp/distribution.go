// distribution
package lacp

import (
	"github.com/srhaddock/drni/pdu"
	"github.com/srhaddock/drni/sim"
)

// ConversationID computes the 12-bit conversation identifier of a frame
// under the given port algorithm.  802.1ax-2014 8.2.
func ConversationID(fr *sim.Frame, alg LagAlgorithm) uint16 {
	switch alg {
	case LagAlgorithmCVid:
		if fr.Vtag != nil && fr.Vtag.TPID == pdu.EtherTypeCVlan {
			return fr.Vtag.Vid & 0x0fff
		}
		return 0
	case LagAlgorithmSVid:
		if fr.Vtag != nil && fr.Vtag.TPID == pdu.EtherTypeSVlan {
			return fr.Vtag.Vid & 0x0fff
		}
		return 0
	default:
		// UNSPECIFIED and the service-ID algorithms the simulator does
		// not model fall back to the address hash
		return addrHash(fr.Da, fr.Sa)
	}
}

// addrHash folds DA xor SA into 12 bits.  Deterministic by construction:
// the same address pair always lands on the same conversation.
func addrHash(da, sa [6]byte) uint16 {
	var h uint16
	for i := 0; i < 6; i++ {
		h = ((h << 3) | (h >> 9)) & 0x0fff
		h ^= uint16(da[i] ^ sa[i])
	}
	return h & 0x0fff
}
