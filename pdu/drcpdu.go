// drcpdu
package pdu

import (
	"encoding/binary"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// PortalInfo identifies a portal system within a DRCPDU.
type PortalInfo struct {
	SystemPriority  uint16
	SystemMac       [6]byte
	Key             uint16
	PortalSystemNum uint8
	Flags           uint8
}

// PortState is the per-AggPort record in the home state TLV: the DRNI port
// identity, its LACP operational state byte and its partner view.
type PortState struct {
	Port                  uint16
	LinkNumber            uint16
	State                 uint8
	PartnerSystemPriority uint16
	PartnerSystemMac      [6]byte
	PartnerKey            uint16
}

// DRCP is a version 2 DRCPDU: a subtype/version header followed by a TLV
// stream summarizing home portal state for the neighbor.
type DRCP struct {
	layers.BaseLayer
	Version byte

	HomeInfo     PortalInfo
	NeighborInfo PortalInfo // sender's current view of its neighbor
	HomeState    []PortState

	PortAlgorithm    uint32
	GatewayAlgorithm uint32
	PortDigest       [16]byte
	GatewayDigest    [16]byte

	GatewaySequence   uint32
	GatewayVector     []byte // 512 octets, one bit per conversation ID
	GatewayPreference []byte // 512 octets

	ActiveLinks []uint16

	// portal-wide partner view of the DRNI Aggregator
	AggPartnerSystemPriority uint16
	AggPartnerSystemMac      [6]byte
	AggPartnerKey            uint16
}

var LayerTypeDRCP = gopacket.RegisterLayerType(
	1802,
	gopacket.LayerTypeMetadata{Name: "DRCP", Decoder: gopacket.DecodeFunc(decodeDRCP)})

func (d *DRCP) LayerType() gopacket.LayerType { return LayerTypeDRCP }

func (d *DRCP) CanDecode() gopacket.LayerClass { return LayerTypeDRCP }

func (d *DRCP) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

func decodeDRCP(data []byte, p gopacket.PacketBuilder) error {
	d := &DRCP{}
	if err := d.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(d)
	return nil
}

func putPortalInfo(b []byte, info *PortalInfo) {
	binary.BigEndian.PutUint16(b[0:], info.SystemPriority)
	copy(b[2:8], info.SystemMac[:])
	binary.BigEndian.PutUint16(b[8:], info.Key)
	b[10] = info.PortalSystemNum
	b[11] = info.Flags
}

func getPortalInfo(b []byte, info *PortalInfo) {
	info.SystemPriority = binary.BigEndian.Uint16(b[0:])
	copy(info.SystemMac[:], b[2:8])
	info.Key = binary.BigEndian.Uint16(b[8:])
	info.PortalSystemNum = b[10]
	info.Flags = b[11]
}

func (d *DRCP) length() int {
	n := 2                      // subtype, version
	n += 14 + 14                // portal info TLVs
	n += 2 + len(d.HomeState)*15 // home state TLV
	n += 6 + 6                  // algorithm TLVs
	n += 18 + 18                // digest TLVs
	if len(d.GatewayVector) > 0 {
		n += 2 + 4 + 2 + len(d.GatewayVector)
	}
	if len(d.GatewayPreference) > 0 {
		n += 2 + 2 + len(d.GatewayPreference)
	}
	n += 2 + len(d.ActiveLinks)*2
	n += 12 // aggregator partner TLV
	n += 2  // terminator
	return n
}

func (d *DRCP) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if len(d.HomeState) > 16 {
		return errors.Errorf("home state TLV cannot carry %d ports", len(d.HomeState))
	}
	bytes, err := b.PrependBytes(d.length())
	if err != nil {
		return err
	}
	for i := range bytes {
		bytes[i] = 0
	}
	bytes[0] = DrcpSubType
	bytes[1] = d.Version
	n := 2

	bytes[n] = DrcpTlvHomePortalInfo
	bytes[n+1] = 14
	putPortalInfo(bytes[n+2:], &d.HomeInfo)
	n += 14

	bytes[n] = DrcpTlvNeighborView
	bytes[n+1] = 14
	putPortalInfo(bytes[n+2:], &d.NeighborInfo)
	n += 14

	bytes[n] = DrcpTlvHomeState
	bytes[n+1] = uint8(2 + len(d.HomeState)*15)
	n += 2
	for i := range d.HomeState {
		ps := &d.HomeState[i]
		binary.BigEndian.PutUint16(bytes[n:], ps.Port)
		binary.BigEndian.PutUint16(bytes[n+2:], ps.LinkNumber)
		bytes[n+4] = ps.State
		binary.BigEndian.PutUint16(bytes[n+5:], ps.PartnerSystemPriority)
		copy(bytes[n+7:n+13], ps.PartnerSystemMac[:])
		binary.BigEndian.PutUint16(bytes[n+13:], ps.PartnerKey)
		n += 15
	}

	bytes[n] = DrcpTlvPortAlgorithm
	bytes[n+1] = 6
	binary.BigEndian.PutUint32(bytes[n+2:], d.PortAlgorithm)
	n += 6

	bytes[n] = DrcpTlvGatewayAlgorithm
	bytes[n+1] = 6
	binary.BigEndian.PutUint32(bytes[n+2:], d.GatewayAlgorithm)
	n += 6

	bytes[n] = DrcpTlvPortDigest
	bytes[n+1] = 18
	copy(bytes[n+2:], d.PortDigest[:])
	n += 18

	bytes[n] = DrcpTlvGatewayDigest
	bytes[n+1] = 18
	copy(bytes[n+2:], d.GatewayDigest[:])
	n += 18

	if len(d.GatewayVector) > 0 {
		if len(d.GatewayVector) != ConversationVectorOctets {
			return errors.Errorf("gateway vector length %d", len(d.GatewayVector))
		}
		// vector TLVs exceed 255 octets so the length octet holds the
		// whole TLV length in 4-octet units
		bytes[n] = DrcpTlvGatewayVector
		bytes[n+1] = uint8((2 + 4 + 2 + ConversationVectorOctets) / 4)
		binary.BigEndian.PutUint32(bytes[n+2:], d.GatewaySequence)
		// 2 reserved octets keep the TLV 4-octet aligned
		copy(bytes[n+8:], d.GatewayVector)
		n += 2 + 4 + 2 + ConversationVectorOctets
	}
	if len(d.GatewayPreference) > 0 {
		if len(d.GatewayPreference) != ConversationVectorOctets {
			return errors.Errorf("gateway preference length %d", len(d.GatewayPreference))
		}
		bytes[n] = DrcpTlvGatewayPreference
		bytes[n+1] = uint8((2 + 2 + ConversationVectorOctets) / 4)
		copy(bytes[n+4:], d.GatewayPreference)
		n += 2 + 2 + ConversationVectorOctets
	}

	bytes[n] = DrcpTlvActiveLinks
	bytes[n+1] = uint8(2 + len(d.ActiveLinks)*2)
	n += 2
	for _, link := range d.ActiveLinks {
		binary.BigEndian.PutUint16(bytes[n:], link)
		n += 2
	}

	bytes[n] = DrcpTlvAggPartner
	bytes[n+1] = 12
	binary.BigEndian.PutUint16(bytes[n+2:], d.AggPartnerSystemPriority)
	copy(bytes[n+4:n+10], d.AggPartnerSystemMac[:])
	binary.BigEndian.PutUint16(bytes[n+10:], d.AggPartnerKey)
	n += 12

	// terminator, already zero
	return nil
}

func (d *DRCP) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 2 {
		return errors.New("DRCPDU too short")
	}
	if data[0] != DrcpSubType {
		return errors.Errorf("not a DRCPDU, subtype %d", data[0])
	}
	d.Version = data[1]
	n := 2
	for n+2 <= len(data) {
		t := data[n]
		if t == DrcpTlvTerminator {
			break
		}
		length := int(data[n+1])
		// the conversation vector TLVs scale the length octet
		switch t {
		case DrcpTlvGatewayVector, DrcpTlvGatewayPreference:
			length *= 4
		}
		if length < 2 || n+length > len(data) {
			return errors.Errorf("DRCPDU TLV %d bad length %d", t, length)
		}
		v := data[n+2 : n+length]
		switch t {
		case DrcpTlvHomePortalInfo:
			if length != 14 {
				return errors.Errorf("home portal TLV bad length %d", length)
			}
			getPortalInfo(v, &d.HomeInfo)
		case DrcpTlvNeighborView:
			if length != 14 {
				return errors.Errorf("neighbor view TLV bad length %d", length)
			}
			getPortalInfo(v, &d.NeighborInfo)
		case DrcpTlvHomeState:
			if (length-2)%15 != 0 {
				return errors.Errorf("home state TLV bad length %d", length)
			}
			cnt := (length - 2) / 15
			d.HomeState = make([]PortState, cnt)
			for i := 0; i < cnt; i++ {
				ps := &d.HomeState[i]
				o := i * 15
				ps.Port = binary.BigEndian.Uint16(v[o:])
				ps.LinkNumber = binary.BigEndian.Uint16(v[o+2:])
				ps.State = v[o+4]
				ps.PartnerSystemPriority = binary.BigEndian.Uint16(v[o+5:])
				copy(ps.PartnerSystemMac[:], v[o+7:o+13])
				ps.PartnerKey = binary.BigEndian.Uint16(v[o+13:])
			}
		case DrcpTlvPortAlgorithm:
			if length == 6 {
				d.PortAlgorithm = binary.BigEndian.Uint32(v)
			}
		case DrcpTlvGatewayAlgorithm:
			if length == 6 {
				d.GatewayAlgorithm = binary.BigEndian.Uint32(v)
			}
		case DrcpTlvPortDigest:
			if length == 18 {
				copy(d.PortDigest[:], v)
			}
		case DrcpTlvGatewayDigest:
			if length == 18 {
				copy(d.GatewayDigest[:], v)
			}
		case DrcpTlvGatewayVector:
			if length == 2+4+2+ConversationVectorOctets {
				d.GatewaySequence = binary.BigEndian.Uint32(v)
				d.GatewayVector = append([]byte(nil), v[6:]...)
			}
		case DrcpTlvGatewayPreference:
			if length == 2+2+ConversationVectorOctets {
				d.GatewayPreference = append([]byte(nil), v[2:]...)
			}
		case DrcpTlvActiveLinks:
			d.ActiveLinks = make([]uint16, 0, (length-2)/2)
			for o := 0; o+2 <= len(v); o += 2 {
				d.ActiveLinks = append(d.ActiveLinks, binary.BigEndian.Uint16(v[o:]))
			}
		case DrcpTlvAggPartner:
			if length == 12 {
				d.AggPartnerSystemPriority = binary.BigEndian.Uint16(v)
				copy(d.AggPartnerSystemMac[:], v[2:8])
				d.AggPartnerKey = binary.BigEndian.Uint16(v[8:])
			}
		default:
			// tolerate unknown TLV types
		}
		n += length
	}
	d.BaseLayer = layers.BaseLayer{Contents: data}
	return nil
}
