// device
package sim

import "fmt"

// Component is a system component of a Device (bridge, end station, shim).
// All components advance cooperatively once per tick.
type Component interface {
	TimerTick()
	Run(singleStep bool)
	Reset()
}

// Device groups a set of Macs with the components stacked above them.  The
// driver invokes TimerTick, Run and Transmit in that order on every device
// each tick.
type Device struct {
	log        *SimLog
	Name       string
	SysMac     [6]byte
	Macs       []*Mac
	Components []Component
}

func NewDevice(log *SimLog, name string, sysMac [6]byte, macCnt int) *Device {
	d := &Device{log: log, Name: name, SysMac: sysMac}
	for i := 0; i < macCnt; i++ {
		addr := sysMac
		addr[5] = byte(i + 1)
		d.Macs = append(d.Macs, NewMac(log, macName(name, i), addr))
	}
	return d
}

func macName(dev string, idx int) string {
	return fmt.Sprintf("%s:mac%d", dev, idx)
}

func (d *Device) AddComponent(c Component) {
	d.Components = append(d.Components, c)
}

// TimerTick decrements every timer in the device.
func (d *Device) TimerTick() {
	for _, c := range d.Components {
		c.TimerTick()
	}
}

// Run delivers arrived frames and then runs all state machines to a fixed
// point.
func (d *Device) Run(singleStep bool) {
	for _, m := range d.Macs {
		m.DeliverArrived()
	}
	for _, c := range d.Components {
		c.Run(singleStep)
	}
}

// Transmit drains every Mac's outbound queue onto its link.
func (d *Device) Transmit() {
	for _, m := range d.Macs {
		m.Transmit()
	}
}

// Reset returns every component to its initial state and flushes the Macs.
func (d *Device) Reset() {
	for _, m := range d.Macs {
		m.Reset()
	}
	for _, c := range d.Components {
		c.Reset()
	}
}

// DisconnectAll drops every remaining link on the device.
func (d *Device) DisconnectAll() {
	for _, m := range d.Macs {
		Disconnect(m)
	}
}
