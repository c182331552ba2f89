// endstn
package sim

import (
	"github.com/srhaddock/drni/pdu"
)

var broadcastDA = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// EndStn is an end station component: it generates addressed test frames
// down its single ISS stack and counts what comes back up.
type EndStn struct {
	log       *SimLog
	Name      string
	SystemMac [6]byte
	PIss      Iss

	RxCount int
	LastRx  *Frame
}

func NewEndStn(log *SimLog, name string, sysMac [6]byte) *EndStn {
	return &EndStn{log: log, Name: name, SystemMac: sysMac}
}

// SetIss stacks the station on the given service.
func (e *EndStn) SetIss(iss Iss) {
	e.PIss = iss
	if iss != nil {
		iss.SetClient(e)
	}
}

// GenerateTestFrame creates and transmits a broadcast test frame,
// optionally tagged.
func (e *EndStn) GenerateTestFrame(tag *VlanTag) {
	if e.PIss == nil || !e.PIss.Enabled() {
		e.log.Logf(2, "%s cannot send, no operational service", e.Name)
		return
	}
	fr := &Frame{
		Da:        broadcastDA,
		Sa:        e.SystemMac,
		EtherType: pdu.EtherTypeTestData,
		Vtag:      tag,
		Pdu:       []byte{0xde, 0xca, 0xfb, 0xad},
		TimeStamp: e.log.Time,
	}
	e.log.Logf(3, "%s sending test frame", e.Name)
	e.PIss.Request(fr)
}

// Indication counts received data frames.
func (e *EndStn) Indication(fr *Frame) {
	e.RxCount++
	e.LastRx = fr
	e.log.Logf(3, "%s received frame %d", e.Name, e.RxCount)
}

func (e *EndStn) TimerTick()          {}
func (e *EndStn) Run(singleStep bool) {}
func (e *EndStn) Reset() {
	e.RxCount = 0
	e.LastRx = nil
}
