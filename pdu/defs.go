// defs
package pdu

// Reserved group addresses used by the control protocols.  802.1ax-2014
// Table 6-1 and 9.4.4.
var (
	SlowProtocolsDMAC         = [6]byte{0x01, 0x80, 0xC2, 0x00, 0x00, 0x02}
	NearestCustomerBridgeDMAC = [6]byte{0x01, 0x80, 0xC2, 0x00, 0x00, 0x00}
	DRCPDMAC                  = [6]byte{0x01, 0x80, 0xC2, 0x00, 0x00, 0x03}
)

const (
	EtherTypeSlowProtocols uint16 = 0x8809
	EtherTypeDRCP          uint16 = 0x8952
	EtherTypeCVlan         uint16 = 0x8100
	EtherTypeSVlan         uint16 = 0x88A8
	// test frames generated by end stations
	EtherTypeTestData uint16 = 0x88B5
)

const (
	LacpSubType uint8 = 1
	LampSubType uint8 = 2
	DrcpSubType uint8 = 1
)

// LACPDU TLV types, 802.1ax-2014 6.4.2.3 / 6.4.2.4
const (
	LacpTlvTerminator       uint8 = 0x00
	LacpTlvActorInfo        uint8 = 0x01
	LacpTlvPartnerInfo      uint8 = 0x02
	LacpTlvCollectorInfo    uint8 = 0x03
	LacpTlvPortAlgorithm    uint8 = 0x04
	LacpTlvPortConvIdDigest uint8 = 0x05
)

// DRCPDU TLV types
const (
	DrcpTlvTerminator        uint8 = 0x00
	DrcpTlvHomePortalInfo    uint8 = 0x01
	DrcpTlvNeighborView      uint8 = 0x02
	DrcpTlvHomeState         uint8 = 0x03
	DrcpTlvPortAlgorithm     uint8 = 0x04
	DrcpTlvGatewayAlgorithm  uint8 = 0x05
	DrcpTlvPortDigest        uint8 = 0x06
	DrcpTlvGatewayDigest     uint8 = 0x07
	DrcpTlvGatewayVector     uint8 = 0x08
	DrcpTlvGatewayPreference uint8 = 0x09
	DrcpTlvActiveLinks       uint8 = 0x0A
	DrcpTlvAggPartner        uint8 = 0x0B
)

// flags carried in the home portal info TLV
const (
	DrcpFlagCscdGatewayControl uint8 = 1 << 0
	DrcpFlagShortTimeout       uint8 = 1 << 1
)

const (
	// total LACPDU length after the ethernet header (version 1 layout,
	// version 2 TLVs fit inside the pad)
	LacpPduLength = 110

	// conversation vector length: 4096 conversation IDs, one bit each
	ConversationVectorOctets = 512
)
