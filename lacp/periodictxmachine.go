// periodictxmachine
package lacp

import (
	"github.com/looplab/fsm"
)

// ptxm states
const (
	LacpPtxmStateNoPeriodic   = "NO_PERIODIC"
	LacpPtxmStateFastPeriodic = "FAST_PERIODIC"
	LacpPtxmStateSlowPeriodic = "SLOW_PERIODIC"
	LacpPtxmStatePeriodicTx   = "PERIODIC_TX"
)

// ptxm events
const (
	LacpPtxmEventNoPeriodic       = "noPeriodic"
	LacpPtxmEventFastPeriodic     = "fastPeriodic"
	LacpPtxmEventSlowPeriodic     = "slowPeriodic"
	LacpPtxmEventPeriodicTimerExp = "periodicTimerExpired"
)

var lacpPtxmAllStates = []string{
	LacpPtxmStateNoPeriodic, LacpPtxmStateFastPeriodic,
	LacpPtxmStateSlowPeriodic, LacpPtxmStatePeriodicTx,
}

// LacpPtxMachine implements the Periodic Transmission machine of
// 802.1ax-2014 6.4.13: it drives NTT at the fast or slow interval selected
// by the partner's timeout preference.
type LacpPtxMachine struct {
	p       *LaAggPort
	Machine *fsm.FSM
}

func NewLacpPtxMachine(p *LaAggPort) *LacpPtxMachine {
	ptxm := &LacpPtxMachine{p: p}
	ptxm.Machine = fsm.NewFSM(
		LacpPtxmStateNoPeriodic,
		fsm.Events{
			{Name: LacpPtxmEventNoPeriodic, Src: lacpPtxmAllStates, Dst: LacpPtxmStateNoPeriodic},
			{Name: LacpPtxmEventFastPeriodic,
				Src: []string{LacpPtxmStateNoPeriodic, LacpPtxmStateSlowPeriodic, LacpPtxmStatePeriodicTx},
				Dst: LacpPtxmStateFastPeriodic},
			{Name: LacpPtxmEventSlowPeriodic,
				Src: []string{LacpPtxmStateNoPeriodic, LacpPtxmStateFastPeriodic, LacpPtxmStatePeriodicTx},
				Dst: LacpPtxmStateSlowPeriodic},
			{Name: LacpPtxmEventPeriodicTimerExp,
				Src: []string{LacpPtxmStateFastPeriodic, LacpPtxmStateSlowPeriodic},
				Dst: LacpPtxmStatePeriodicTx},
		},
		fsm.Callbacks{
			"enter_" + LacpPtxmStateNoPeriodic: func(e *fsm.Event) {
				ptxm.p.periodicTimer.stop()
			},
			"enter_" + LacpPtxmStateFastPeriodic: func(e *fsm.Event) {
				ptxm.p.periodicTimer.start(LacpFastPeriodicTime)
			},
			"enter_" + LacpPtxmStateSlowPeriodic: func(e *fsm.Event) {
				ptxm.p.periodicTimer.start(LacpSlowPeriodicTime)
			},
			"enter_" + LacpPtxmStatePeriodicTx: func(e *fsm.Event) {
				ptxm.p.ntt = true
			},
		},
	)
	return ptxm
}

func (ptxm *LacpPtxMachine) restart() { ptxm.Machine.SetState(LacpPtxmStateNoPeriodic) }

func (ptxm *LacpPtxMachine) Current() string { return ptxm.Machine.Current() }

func (ptxm *LacpPtxMachine) fire(event string) {
	if err := ptxm.Machine.Event(event); err == nil {
		ptxm.p.la.transitions++
	}
}

// noPeriodicCondition: periodic transmission is disabled while the port
// is down, LACP is off, or neither end is active LACP.
func (ptxm *LacpPtxMachine) noPeriodicCondition() bool {
	p := ptxm.p
	return !p.PortEnabled || !p.lacpEnabled ||
		(!LacpStateIsSet(p.ActorOper.State, LacpStateActivityBit) &&
			!LacpStateIsSet(p.PartnerOper.State, LacpStateActivityBit))
}

func (ptxm *LacpPtxMachine) Run() {
	p := ptxm.p

	if ptxm.noPeriodicCondition() {
		if ptxm.Current() != LacpPtxmStateNoPeriodic {
			ptxm.fire(LacpPtxmEventNoPeriodic)
		}
		return
	}

	// the partner's timeout preference selects our transmit rate
	fast := LacpStateIsSet(p.PartnerOper.State, LacpStateTimeoutBit)

	switch ptxm.Current() {
	case LacpPtxmStateNoPeriodic:
		if fast {
			ptxm.fire(LacpPtxmEventFastPeriodic)
		} else {
			ptxm.fire(LacpPtxmEventSlowPeriodic)
		}
	case LacpPtxmStateFastPeriodic:
		if !fast {
			ptxm.fire(LacpPtxmEventSlowPeriodic)
		} else if p.periodicTimer.expired() {
			ptxm.fire(LacpPtxmEventPeriodicTimerExp)
		}
	case LacpPtxmStateSlowPeriodic:
		if fast {
			// a change in the partner timeout bit restarts at the new rate
			ptxm.fire(LacpPtxmEventFastPeriodic)
		} else if p.periodicTimer.expired() {
			ptxm.fire(LacpPtxmEventPeriodicTimerExp)
		}
	}

	if ptxm.Current() == LacpPtxmStatePeriodicTx {
		if fast {
			ptxm.fire(LacpPtxmEventFastPeriodic)
		} else {
			ptxm.fire(LacpPtxmEventSlowPeriodic)
		}
	}
}
