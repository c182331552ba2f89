// wtrmachine
package lacp

import (
	"github.com/looplab/fsm"
)

// wtrm states
const (
	LacpWtrmStateIdle    = "WTR_IDLE"
	LacpWtrmStateRunning = "WTR_RUNNING"
	LacpWtrmStateHeld    = "WTR_HELD"
)

// wtrm events
const (
	LacpWtrmEventRestored   = "portRestored"
	LacpWtrmEventExpired    = "wtrTimerExpired"
	LacpWtrmEventHold       = "nonRevertiveHold"
	LacpWtrmEventRevert     = "adminRevert"
	LacpWtrmEventPortDown   = "portDown"
)

// LacpWtrMachine governs revertive behavior when a previously failed port
// returns.  While the wait-to-restore countdown runs the Mux machine is
// held out of ATTACHED; in non-revertive mode expiry parks the port until
// the administrative sweep returns it to revertive.
type LacpWtrMachine struct {
	p       *LaAggPort
	Machine *fsm.FSM
}

func NewLacpWtrMachine(p *LaAggPort) *LacpWtrMachine {
	wtrm := &LacpWtrMachine{p: p}
	wtrm.Machine = fsm.NewFSM(
		LacpWtrmStateIdle,
		fsm.Events{
			{Name: LacpWtrmEventRestored,
				Src: []string{LacpWtrmStateIdle, LacpWtrmStateHeld}, Dst: LacpWtrmStateRunning},
			{Name: LacpWtrmEventExpired,
				Src: []string{LacpWtrmStateRunning}, Dst: LacpWtrmStateIdle},
			{Name: LacpWtrmEventHold,
				Src: []string{LacpWtrmStateRunning}, Dst: LacpWtrmStateHeld},
			{Name: LacpWtrmEventRevert,
				Src: []string{LacpWtrmStateHeld}, Dst: LacpWtrmStateIdle},
			{Name: LacpWtrmEventPortDown,
				Src: []string{LacpWtrmStateRunning, LacpWtrmStateHeld}, Dst: LacpWtrmStateIdle},
		},
		fsm.Callbacks{
			"enter_" + LacpWtrmStateRunning: func(e *fsm.Event) {
				wtrm.p.wtrTimer.start(int(wtrm.p.WTRTime &^ LacpWTRNonRevertiveBit))
			},
			"enter_" + LacpWtrmStateIdle: func(e *fsm.Event) {
				wtrm.p.wtrTimer.stop()
			},
		},
	)
	return wtrm
}

func (wtrm *LacpWtrMachine) restart() { wtrm.Machine.SetState(LacpWtrmStateIdle) }

func (wtrm *LacpWtrMachine) Current() string { return wtrm.Machine.Current() }

func (wtrm *LacpWtrMachine) fire(event string) {
	prev := wtrm.Machine.Current()
	if err := wtrm.Machine.Event(event); err == nil {
		wtrm.p.la.transitions++
		wtrm.p.log.Logf(6, "WTRM %s: %s -> %s on %s", wtrm.p.Name, prev, wtrm.Machine.Current(), event)
	}
}

func (wtrm *LacpWtrMachine) nonRevertive() bool {
	return wtrm.p.WTRTime&LacpWTRNonRevertiveBit != 0
}

// Open reports whether the Mux machine may proceed to ATTACHED.
func (wtrm *LacpWtrMachine) Open() bool {
	return wtrm.Current() == LacpWtrmStateIdle
}

// PortRestored is signaled when the link comes back after a failure.
// The first link-up of a port whose link has never been enabled does not
// arm the timer; wait-to-restore only applies to restore.
func (wtrm *LacpWtrMachine) PortRestored() {
	p := wtrm.p
	if !p.everEnabled {
		return
	}
	if p.WTRTime&^LacpWTRNonRevertiveBit == 0 && !wtrm.nonRevertive() {
		return
	}
	wtrm.fire(LacpWtrmEventRestored)
}

func (wtrm *LacpWtrMachine) Run() {
	p := wtrm.p
	if !p.PortEnabled {
		// a failed port has nothing to wait for; the hold is re-armed on
		// the next restore
		if wtrm.Current() != LacpWtrmStateIdle {
			wtrm.fire(LacpWtrmEventPortDown)
		}
		return
	}
	if wtrm.Current() == LacpWtrmStateRunning && p.wtrTimer.expired() {
		if wtrm.nonRevertive() {
			wtrm.fire(LacpWtrmEventHold)
		} else {
			wtrm.fire(LacpWtrmEventExpired)
		}
	}
	if wtrm.Current() == LacpWtrmStateHeld && !wtrm.nonRevertive() {
		wtrm.fire(LacpWtrmEventRevert)
	}
}
