// mac
package sim

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/srhaddock/drni/pdu"
)

type linkFrame struct {
	data   []byte
	arrive int
	dst    *Mac
}

// Link is a FIFO of frames in flight between two Macs.  A frame enqueued
// at tick T arrives at the peer at tick T+delay.  Connecting a Mac to
// itself models a same-port loopback.
type Link struct {
	delay int
	endA  *Mac
	endB  *Mac
	queue []linkFrame
}

// Mac is the MAC-level link emulation endpoint.  It is the bottom of every
// ISS stack: frames pushed down are serialized with gopacket onto the
// attached Link, frames arriving off the Link are parsed and indicated to
// the client above.
type Mac struct {
	log          *SimLog
	Name         string
	HwAddr       [6]byte
	adminEnabled bool

	link    *Link
	txQueue []*Frame
	client  IssClient
}

func NewMac(log *SimLog, name string, addr [6]byte) *Mac {
	return &Mac{log: log, Name: name, HwAddr: addr, adminEnabled: true}
}

// Connect wires two Macs with a Link of the given propagation delay.  Any
// existing link on either Mac is torn down first, so moving a cable is a
// single call.
func Connect(m1, m2 *Mac, delay int) {
	Disconnect(m1)
	Disconnect(m2)
	l := &Link{delay: delay, endA: m1, endB: m2}
	m1.link = l
	m2.link = l
	m1.log.Logf(2, "link up %s <-> %s delay %d", m1.Name, m2.Name, delay)
}

// Disconnect tears down the Mac's link.  Frames in flight are lost; both
// ends observe the loss of signal within one tick.
func Disconnect(m *Mac) {
	if m.link == nil {
		return
	}
	l := m.link
	l.endA.link = nil
	l.endB.link = nil
	l.queue = nil
	m.log.Logf(2, "link down %s", m.Name)
}

func (m *Mac) SetClient(client IssClient) { m.client = client }

func (m *Mac) SetAdminEnabled(ena bool) { m.adminEnabled = ena }

// Enabled is true when the Mac is administratively up and a link is
// attached (MAC_Operational).
func (m *Mac) Enabled() bool { return m.adminEnabled && m.link != nil }

func (m *Mac) peer() *Mac {
	if m.link == nil {
		return nil
	}
	if m.link.endA == m {
		return m.link.endB
	}
	return m.link.endA
}

// Request queues a frame for transmission; it goes onto the wire at the
// device's transmit phase.
func (m *Mac) Request(fr *Frame) {
	if !m.Enabled() {
		return
	}
	fr.TimeStamp = m.log.Time
	m.txQueue = append(m.txQueue, fr)
}

// Transmit drains the queue onto the link.
func (m *Mac) Transmit() {
	if len(m.txQueue) == 0 {
		return
	}
	frames := m.txQueue
	m.txQueue = nil
	if m.link == nil {
		return
	}
	for _, fr := range frames {
		data, err := m.serialize(fr)
		if err != nil {
			m.log.Logf(1, "%s tx serialize failed: %v", m.Name, err)
			continue
		}
		m.link.queue = append(m.link.queue, linkFrame{
			data:   data,
			arrive: m.log.Time + m.link.delay,
			dst:    m.peer(),
		})
	}
}

// DeliverArrived indicates every frame whose propagation delay has elapsed
// up to the client.  Called once per tick before the state machines run.
func (m *Mac) DeliverArrived() {
	if m.link == nil {
		return
	}
	var rest []linkFrame
	var arrived [][]byte
	for _, lf := range m.link.queue {
		if lf.dst == m && lf.arrive <= m.log.Time {
			arrived = append(arrived, lf.data)
		} else {
			rest = append(rest, lf)
		}
	}
	m.link.queue = rest
	for _, data := range arrived {
		fr := m.parse(data)
		if fr == nil || m.client == nil {
			continue
		}
		m.client.Indication(fr)
	}
}

// Reset drops everything queued or in flight on this Mac's link.
func (m *Mac) Reset() {
	m.txQueue = nil
	if m.link != nil {
		m.link.queue = nil
	}
}

func (m *Mac) serialize(fr *Frame) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC: net.HardwareAddr(fr.Sa[:]),
		DstMAC: net.HardwareAddr(fr.Da[:]),
	}
	var stack []gopacket.SerializableLayer
	stack = append(stack, eth)
	if fr.Vtag != nil {
		eth.EthernetType = layers.EthernetType(fr.Vtag.TPID)
		stack = append(stack, &layers.Dot1Q{
			VLANIdentifier: fr.Vtag.Vid,
			Type:           layers.EthernetType(fr.EtherType),
		})
	} else {
		eth.EthernetType = layers.EthernetType(fr.EtherType)
	}
	switch p := fr.Pdu.(type) {
	case *pdu.LACP:
		stack = append(stack, p)
	case *pdu.DRCP:
		stack = append(stack, p)
	case []byte:
		stack = append(stack, gopacket.Payload(p))
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, stack...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parse rebuilds a Frame from the wire bytes.  Malformed frames are
// dropped silently, per the no-fail protocol design.
func (m *Mac) parse(data []byte) *Frame {
	eth := &layers.Ethernet{}
	if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		m.log.Logf(5, "%s rx drop: %v", m.Name, err)
		return nil
	}
	fr := &Frame{TimeStamp: m.log.Time}
	copy(fr.Da[:], eth.DstMAC)
	copy(fr.Sa[:], eth.SrcMAC)
	etherType := uint16(eth.EthernetType)
	payload := eth.Payload

	if etherType == pdu.EtherTypeCVlan || etherType == pdu.EtherTypeSVlan {
		d1q := &layers.Dot1Q{}
		if err := d1q.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			m.log.Logf(5, "%s rx drop vlan: %v", m.Name, err)
			return nil
		}
		fr.Vtag = &VlanTag{TPID: etherType, Vid: d1q.VLANIdentifier}
		etherType = uint16(d1q.Type)
		payload = d1q.Payload
	}
	fr.EtherType = etherType

	switch etherType {
	case pdu.EtherTypeSlowProtocols:
		l := &pdu.LACP{}
		if err := l.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			m.log.Logf(5, "%s rx drop lacpdu: %v", m.Name, err)
			return nil
		}
		fr.Pdu = l
	case pdu.EtherTypeDRCP:
		d := &pdu.DRCP{}
		if err := d.DecodeFromBytes(payload, gopacket.NilDecodeFeedback); err != nil {
			m.log.Logf(5, "%s rx drop drcpdu: %v", m.Name, err)
			return nil
		}
		fr.Pdu = d
	default:
		fr.Pdu = append([]byte(nil), payload...)
	}
	return fr
}
