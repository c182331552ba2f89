// lacppdu
package pdu

import (
	"encoding/binary"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// PortInfo is the actor or partner information carried in a LACPDU info
// TLV.  802.1ax-2014 6.4.2.3.
type PortInfo struct {
	SystemPriority uint16
	SystemMac      [6]byte
	Key            uint16
	PortPriority   uint16
	Port           uint16
	State          uint8
}

// LACP is a version 1 or version 2 LACPDU.  The version 1 layout is fixed;
// a version 2 PDU additionally carries the Port Algorithm and Port
// Conversation ID Digest TLVs inside what is otherwise pad.
type LACP struct {
	layers.BaseLayer
	Version byte

	Actor             PortInfo
	Partner           PortInfo
	CollectorMaxDelay uint16

	// version 2 TLVs
	PortAlgorithm      uint32
	LinkNumber         uint16
	ConversationDigest [16]byte
}

var LayerTypeLACP = gopacket.RegisterLayerType(
	1801,
	gopacket.LayerTypeMetadata{Name: "LACP", Decoder: gopacket.DecodeFunc(decodeLACP)})

func (l *LACP) LayerType() gopacket.LayerType { return LayerTypeLACP }

func (l *LACP) CanDecode() gopacket.LayerClass { return LayerTypeLACP }

func (l *LACP) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

func decodeLACP(data []byte, p gopacket.PacketBuilder) error {
	l := &LACP{}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)
	return nil
}

func putPortInfo(b []byte, info *PortInfo) {
	binary.BigEndian.PutUint16(b[0:], info.SystemPriority)
	copy(b[2:8], info.SystemMac[:])
	binary.BigEndian.PutUint16(b[8:], info.Key)
	binary.BigEndian.PutUint16(b[10:], info.PortPriority)
	binary.BigEndian.PutUint16(b[12:], info.Port)
	b[14] = info.State
	// 3 reserved octets
}

func getPortInfo(b []byte, info *PortInfo) {
	info.SystemPriority = binary.BigEndian.Uint16(b[0:])
	copy(info.SystemMac[:], b[2:8])
	info.Key = binary.BigEndian.Uint16(b[8:])
	info.PortPriority = binary.BigEndian.Uint16(b[10:])
	info.Port = binary.BigEndian.Uint16(b[12:])
	info.State = b[14]
}

// SerializeTo writes the fixed 110 octet LACPDU.  Version 2 TLVs are
// emitted ahead of the terminator and eat into the pad.
func (l *LACP) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	bytes, err := b.PrependBytes(LacpPduLength)
	if err != nil {
		return err
	}
	for i := range bytes {
		bytes[i] = 0
	}
	bytes[0] = LacpSubType
	bytes[1] = l.Version

	bytes[2] = LacpTlvActorInfo
	bytes[3] = 20
	putPortInfo(bytes[4:22], &l.Actor)

	bytes[22] = LacpTlvPartnerInfo
	bytes[23] = 20
	putPortInfo(bytes[24:42], &l.Partner)

	bytes[42] = LacpTlvCollectorInfo
	bytes[43] = 16
	binary.BigEndian.PutUint16(bytes[44:], l.CollectorMaxDelay)

	n := 58
	if l.Version >= 2 {
		bytes[n] = LacpTlvPortAlgorithm
		bytes[n+1] = 6
		binary.BigEndian.PutUint32(bytes[n+2:], l.PortAlgorithm)
		n += 6

		bytes[n] = LacpTlvPortConvIdDigest
		bytes[n+1] = 20
		binary.BigEndian.PutUint16(bytes[n+2:], l.LinkNumber)
		copy(bytes[n+4:n+20], l.ConversationDigest[:])
		n += 20
	}
	// terminator TLV followed by pad, all zero already
	return nil
}

// DecodeFromBytes parses a LACPDU, skipping TLV types it does not know.
func (l *LACP) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 2 {
		return errors.New("LACPDU too short")
	}
	if data[0] != LacpSubType {
		return errors.Errorf("not a LACPDU, subtype %d", data[0])
	}
	l.Version = data[1]
	n := 2
	for n+2 <= len(data) {
		t := data[n]
		if t == LacpTlvTerminator {
			break
		}
		length := int(data[n+1])
		if length < 2 || n+length > len(data) {
			return errors.Errorf("LACPDU TLV %d bad length %d", t, length)
		}
		v := data[n+2 : n+length]
		switch t {
		case LacpTlvActorInfo:
			if length != 20 {
				return errors.Errorf("actor TLV bad length %d", length)
			}
			getPortInfo(v, &l.Actor)
		case LacpTlvPartnerInfo:
			if length != 20 {
				return errors.Errorf("partner TLV bad length %d", length)
			}
			getPortInfo(v, &l.Partner)
		case LacpTlvCollectorInfo:
			if length != 16 {
				return errors.Errorf("collector TLV bad length %d", length)
			}
			l.CollectorMaxDelay = binary.BigEndian.Uint16(v)
		case LacpTlvPortAlgorithm:
			if length == 6 {
				l.PortAlgorithm = binary.BigEndian.Uint32(v)
			}
		case LacpTlvPortConvIdDigest:
			if length == 20 {
				l.LinkNumber = binary.BigEndian.Uint16(v)
				copy(l.ConversationDigest[:], v[2:18])
			}
		default:
			// tolerate unknown TLV types
		}
		n += length
	}
	l.BaseLayer = layers.BaseLayer{Contents: data}
	return nil
}
