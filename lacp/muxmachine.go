// muxmachine
package lacp

import (
	"github.com/looplab/fsm"
)

// muxm states (coupled control: collecting and distributing are not
// controlled independently)
const (
	LacpMuxmStateDetached  = "DETACHED"
	LacpMuxmStateWaiting   = "WAITING"
	LacpMuxmStateAttached  = "ATTACHED"
	LacpMuxmStateCollDist  = "COLLECTING_DISTRIBUTING"
)

// muxm events
const (
	LacpMuxmEventSelected           = "selected"
	LacpMuxmEventUnselected         = "unselected"
	LacpMuxmEventReadyAndSelected   = "readyAndSelected"
	LacpMuxmEventPartnerSync        = "partnerSync"
	LacpMuxmEventNotPartnerSync     = "notPartnerSync"
)

// LacpMuxMachine implements the coupled-control Mux machine of
// 802.1ax-2014 6.4.15, Figure 6-22.
type LacpMuxMachine struct {
	p       *LaAggPort
	Machine *fsm.FSM
}

func NewLacpMuxMachine(p *LaAggPort) *LacpMuxMachine {
	muxm := &LacpMuxMachine{p: p}
	muxm.Machine = fsm.NewFSM(
		LacpMuxmStateDetached,
		fsm.Events{
			{Name: LacpMuxmEventSelected,
				Src: []string{LacpMuxmStateDetached}, Dst: LacpMuxmStateWaiting},
			{Name: LacpMuxmEventUnselected,
				Src: []string{LacpMuxmStateWaiting, LacpMuxmStateAttached, LacpMuxmStateCollDist},
				Dst: LacpMuxmStateDetached},
			{Name: LacpMuxmEventReadyAndSelected,
				Src: []string{LacpMuxmStateWaiting}, Dst: LacpMuxmStateAttached},
			{Name: LacpMuxmEventPartnerSync,
				Src: []string{LacpMuxmStateAttached}, Dst: LacpMuxmStateCollDist},
			{Name: LacpMuxmEventNotPartnerSync,
				Src: []string{LacpMuxmStateCollDist}, Dst: LacpMuxmStateAttached},
		},
		fsm.Callbacks{
			"enter_" + LacpMuxmStateDetached: func(e *fsm.Event) { muxm.detached() },
			"enter_" + LacpMuxmStateWaiting:  func(e *fsm.Event) { muxm.waiting() },
			"enter_" + LacpMuxmStateAttached: func(e *fsm.Event) { muxm.attached() },
			"enter_" + LacpMuxmStateCollDist: func(e *fsm.Event) { muxm.collDist() },
		},
	)
	return muxm
}

func (muxm *LacpMuxMachine) restart() { muxm.Machine.SetState(LacpMuxmStateDetached) }

func (muxm *LacpMuxMachine) Current() string { return muxm.Machine.Current() }

func (muxm *LacpMuxMachine) fire(event string) {
	prev := muxm.Machine.Current()
	if err := muxm.Machine.Event(event); err == nil {
		muxm.p.la.transitions++
		muxm.p.log.Logf(6, "MUXM %s: %s -> %s on %s", muxm.p.Name, prev, muxm.Machine.Current(), event)
	}
}

// detached: detach from the Aggregator, stop passing traffic, tell the
// partner we are out of sync.
func (muxm *LacpMuxMachine) detached() {
	p := muxm.p
	if p.AggAttached != nil {
		p.AggAttached.removePort(p)
		p.AggAttached = nil
	}
	p.ActorOper.State = LacpStateClear(p.ActorOper.State,
		LacpStateDistributingBit|LacpStateCollectingBit|LacpStateSyncBit)
	p.readyN = false
	p.WaitWhileTimerStop()
	p.ntt = true
}

func (muxm *LacpMuxMachine) waiting() {
	p := muxm.p
	p.readyN = false
	p.WaitWhileTimerStart()
}

func (muxm *LacpMuxMachine) attached() {
	p := muxm.p
	if p.SelectedAggIdx >= 0 && p.SelectedAggIdx < len(p.la.Aggregators) {
		agg := p.la.Aggregators[p.SelectedAggIdx]
		agg.addPort(p)
		p.AggAttached = agg
	}
	p.ActorOper.State = LacpStateSet(p.ActorOper.State, LacpStateSyncBit)
	p.ActorOper.State = LacpStateClear(p.ActorOper.State,
		LacpStateCollectingBit|LacpStateDistributingBit)
	if p.AggAttached != nil {
		p.AggAttached.convMapStale = true
	}
	p.ntt = true
}

func (muxm *LacpMuxMachine) collDist() {
	p := muxm.p
	p.ActorOper.State = LacpStateSet(p.ActorOper.State,
		LacpStateCollectingBit|LacpStateDistributingBit)
	if p.AggAttached != nil {
		p.AggAttached.convMapStale = true
	}
	p.ntt = true
}

func (muxm *LacpMuxMachine) Run() {
	p := muxm.p

	selected := p.aggSelected == LacpAggSelected

	switch muxm.Current() {
	case LacpMuxmStateDetached:
		if selected && p.WtrMachineFsm.Open() {
			muxm.fire(LacpMuxmEventSelected)
		}
	case LacpMuxmStateWaiting:
		if !selected {
			muxm.fire(LacpMuxmEventUnselected)
			return
		}
		if p.waitWhileTimer.expired() {
			p.readyN = true
		}
		if p.readyN && p.WtrMachineFsm.Open() && p.la.aggReady(p.SelectedAggIdx) {
			muxm.fire(LacpMuxmEventReadyAndSelected)
		}
	case LacpMuxmStateAttached:
		if !selected {
			muxm.fire(LacpMuxmEventUnselected)
			return
		}
		if LacpStateIsSet(p.PartnerOper.State, LacpStateSyncBit) {
			muxm.fire(LacpMuxmEventPartnerSync)
		}
	case LacpMuxmStateCollDist:
		if !selected {
			muxm.fire(LacpMuxmEventUnselected)
			return
		}
		if !LacpStateIsSet(p.PartnerOper.State, LacpStateSyncBit) {
			muxm.fire(LacpMuxmEventNotPartnerSync)
		}
	}
}
