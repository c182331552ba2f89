package pdu

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePortInfo(seed byte) PortInfo {
	return PortInfo{
		SystemPriority: uint16(seed),
		SystemMac:      [6]byte{0x00, 0x00, 0x0D, seed, 0x00, 0x01},
		Key:            0x0111,
		PortPriority:   0x0000,
		Port:           uint16(0x100 + int(seed)),
		State:          0x47,
	}
}

func TestLACPRoundTrip(t *testing.T) {
	in := &LACP{
		Version:           2,
		Actor:             samplePortInfo(1),
		Partner:           samplePortInfo(2),
		CollectorMaxDelay: 50,
		PortAlgorithm:     1,
		LinkNumber:        17,
	}
	copy(in.ConversationDigest[:], []byte("0123456789abcdef"))

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, in.SerializeTo(buf, gopacket.SerializeOptions{}))
	require.Len(t, buf.Bytes(), LacpPduLength)

	out := &LACP{}
	require.NoError(t, out.DecodeFromBytes(buf.Bytes(), gopacket.NilDecodeFeedback))

	assert.Equal(t, in.Version, out.Version)
	assert.Equal(t, in.Actor, out.Actor)
	assert.Equal(t, in.Partner, out.Partner)
	assert.Equal(t, in.CollectorMaxDelay, out.CollectorMaxDelay)
	assert.Equal(t, in.PortAlgorithm, out.PortAlgorithm)
	assert.Equal(t, in.LinkNumber, out.LinkNumber)
	assert.Equal(t, in.ConversationDigest, out.ConversationDigest)
}

func TestLACPVersion1OmitsV2Tlvs(t *testing.T) {
	in := &LACP{Version: 1, Actor: samplePortInfo(1), Partner: samplePortInfo(2)}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, in.SerializeTo(buf, gopacket.SerializeOptions{}))

	out := &LACP{}
	require.NoError(t, out.DecodeFromBytes(buf.Bytes(), gopacket.NilDecodeFeedback))
	assert.Zero(t, out.PortAlgorithm)
	assert.Zero(t, out.LinkNumber)
}

func TestLACPSkipsUnknownTlv(t *testing.T) {
	in := &LACP{Version: 1, Actor: samplePortInfo(3), Partner: samplePortInfo(4)}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, in.SerializeTo(buf, gopacket.SerializeOptions{}))
	data := append([]byte(nil), buf.Bytes()...)

	// overwrite part of the pad with an unknown TLV ahead of the terminator
	data[58] = 0x7F
	data[59] = 4
	data[60] = 0xAA
	data[61] = 0xBB

	out := &LACP{}
	require.NoError(t, out.DecodeFromBytes(data, gopacket.NilDecodeFeedback))
	assert.Equal(t, in.Actor, out.Actor)
}

func TestLACPMalformed(t *testing.T) {
	out := &LACP{}
	assert.Error(t, out.DecodeFromBytes([]byte{LacpSubType}, gopacket.NilDecodeFeedback))
	assert.Error(t, out.DecodeFromBytes([]byte{0x09, 0x01, 0x00}, gopacket.NilDecodeFeedback))

	// actor TLV whose length runs past the buffer
	bad := []byte{LacpSubType, 1, LacpTlvActorInfo, 200, 0, 0}
	assert.Error(t, out.DecodeFromBytes(bad, gopacket.NilDecodeFeedback))
}
