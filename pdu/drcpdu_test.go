package pdu

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDRCP() *DRCP {
	d := &DRCP{
		Version: 2,
		HomeInfo: PortalInfo{
			SystemPriority:  0,
			SystemMac:       [6]byte{0, 0, 0x0D, 1, 0, 0},
			Key:             0x0005,
			PortalSystemNum: 1,
			Flags:           DrcpFlagShortTimeout,
		},
		NeighborInfo: PortalInfo{
			SystemMac:       [6]byte{0, 0, 0x0D, 2, 0, 0},
			Key:             0x0105,
			PortalSystemNum: 2,
		},
		HomeState: []PortState{
			{Port: 0x104, LinkNumber: 1, State: 0x3F,
				PartnerSystemMac: [6]byte{0, 0, 0x0D, 4, 0, 0}, PartnerKey: 0x0401},
			{Port: 0x105, LinkNumber: 2, State: 0x47},
		},
		PortAlgorithm:    1,
		GatewayAlgorithm: 1,
		GatewaySequence:  7,
		ActiveLinks:      []uint16{1, 2},
		AggPartnerSystemMac: [6]byte{0, 0, 0x0D, 4, 0, 0},
		AggPartnerKey:       0x0401,
	}
	copy(d.PortDigest[:], []byte("portdigestportdi"))
	copy(d.GatewayDigest[:], []byte("gatewaydigestgat"))
	d.GatewayVector = make([]byte, ConversationVectorOctets)
	d.GatewayPreference = make([]byte, ConversationVectorOctets)
	for i := 0; i < ConversationVectorOctets; i++ {
		d.GatewayVector[i] = byte(i)
		d.GatewayPreference[i] = byte(255 - i)
	}
	return d
}

func TestDRCPRoundTrip(t *testing.T) {
	in := sampleDRCP()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, in.SerializeTo(buf, gopacket.SerializeOptions{}))

	out := &DRCP{}
	require.NoError(t, out.DecodeFromBytes(buf.Bytes(), gopacket.NilDecodeFeedback))

	assert.Equal(t, in.HomeInfo, out.HomeInfo)
	assert.Equal(t, in.NeighborInfo, out.NeighborInfo)
	assert.Equal(t, in.HomeState, out.HomeState)
	assert.Equal(t, in.PortAlgorithm, out.PortAlgorithm)
	assert.Equal(t, in.GatewayAlgorithm, out.GatewayAlgorithm)
	assert.Equal(t, in.PortDigest, out.PortDigest)
	assert.Equal(t, in.GatewayDigest, out.GatewayDigest)
	assert.Equal(t, in.GatewaySequence, out.GatewaySequence)
	assert.Equal(t, in.GatewayVector, out.GatewayVector)
	assert.Equal(t, in.GatewayPreference, out.GatewayPreference)
	assert.Equal(t, in.ActiveLinks, out.ActiveLinks)
	assert.Equal(t, in.AggPartnerSystemMac, out.AggPartnerSystemMac)
	assert.Equal(t, in.AggPartnerKey, out.AggPartnerKey)
}

func TestDRCPWithoutVectors(t *testing.T) {
	in := sampleDRCP()
	in.GatewayVector = nil
	in.GatewayPreference = nil

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, in.SerializeTo(buf, gopacket.SerializeOptions{}))

	out := &DRCP{}
	require.NoError(t, out.DecodeFromBytes(buf.Bytes(), gopacket.NilDecodeFeedback))
	assert.Nil(t, out.GatewayVector)
	assert.Equal(t, in.HomeState, out.HomeState)
}

func TestDRCPSkipsUnknownTlv(t *testing.T) {
	data := []byte{
		DrcpSubType, 2,
		0x6E, 4, 0xDE, 0xAD, // unknown TLV
		DrcpTlvPortAlgorithm, 6, 0, 0, 0, 1,
		DrcpTlvTerminator, 0,
	}
	out := &DRCP{}
	require.NoError(t, out.DecodeFromBytes(data, gopacket.NilDecodeFeedback))
	assert.Equal(t, uint32(1), out.PortAlgorithm)
}

func TestDRCPMalformed(t *testing.T) {
	out := &DRCP{}
	assert.Error(t, out.DecodeFromBytes([]byte{DrcpSubType}, gopacket.NilDecodeFeedback))
	bad := []byte{DrcpSubType, 2, DrcpTlvHomeState, 1}
	assert.Error(t, out.DecodeFromBytes(bad, gopacket.NilDecodeFeedback))
}
