// churndetectionmachine
package lacp

import (
	"github.com/looplab/fsm"
)

// cdm states
const (
	LacpCdmStateNoChurn      = "NO_ACTOR_CHURN"
	LacpCdmStateChurnMonitor = "ACTOR_CHURN_MONITOR"
	LacpCdmStateChurn        = "ACTOR_CHURN"
)

// cdm events
const (
	LacpCdmEventSyncOn       = "actorOperPortStateSyncOn"
	LacpCdmEventSyncOff      = "actorOperPortStateSyncOff"
	LacpCdmEventChurnTimeout = "actorChurnTimerExpired"
)

// LacpCdMachine is the Actor Churn Detection machine of 802.1ax-2014
// 6.4.17: a diagnostic that fires when the Mux has not stabilized within
// the churn detection time.  Not part of convergence.
type LacpCdMachine struct {
	p       *LaAggPort
	Machine *fsm.FSM
}

func NewLacpCdMachine(p *LaAggPort) *LacpCdMachine {
	cdm := &LacpCdMachine{p: p}
	cdm.Machine = fsm.NewFSM(
		LacpCdmStateNoChurn,
		fsm.Events{
			{Name: LacpCdmEventSyncOff,
				Src: []string{LacpCdmStateNoChurn}, Dst: LacpCdmStateChurnMonitor},
			{Name: LacpCdmEventSyncOn,
				Src: []string{LacpCdmStateChurnMonitor, LacpCdmStateChurn},
				Dst: LacpCdmStateNoChurn},
			{Name: LacpCdmEventChurnTimeout,
				Src: []string{LacpCdmStateChurnMonitor}, Dst: LacpCdmStateChurn},
		},
		fsm.Callbacks{
			"enter_" + LacpCdmStateNoChurn: func(e *fsm.Event) {
				cdm.p.actorChurn = false
				cdm.p.churnTimer.stop()
			},
			"enter_" + LacpCdmStateChurnMonitor: func(e *fsm.Event) {
				cdm.p.churnTimer.start(LacpChurnDetectionTime)
			},
			"enter_" + LacpCdmStateChurn: func(e *fsm.Event) {
				cdm.p.actorChurn = true
				cdm.p.churnCount++
				cdm.p.log.Logf(1, "CDM %s: actor churn detected (count %d)",
					cdm.p.Name, cdm.p.churnCount)
			},
		},
	)
	return cdm
}

func (cdm *LacpCdMachine) restart() { cdm.Machine.SetState(LacpCdmStateNoChurn) }

func (cdm *LacpCdMachine) Current() string { return cdm.Machine.Current() }

func (cdm *LacpCdMachine) fire(event string) {
	if err := cdm.Machine.Event(event); err == nil {
		cdm.p.la.transitions++
	}
}

func (cdm *LacpCdMachine) Run() {
	p := cdm.p
	if !p.PortEnabled {
		if cdm.Current() != LacpCdmStateNoChurn {
			cdm.fire(LacpCdmEventSyncOn)
		}
		return
	}
	sync := LacpStateIsSet(p.ActorOper.State, LacpStateSyncBit)
	switch cdm.Current() {
	case LacpCdmStateNoChurn:
		if !sync {
			cdm.fire(LacpCdmEventSyncOff)
		}
	case LacpCdmStateChurnMonitor:
		if sync {
			cdm.fire(LacpCdmEventSyncOn)
		} else if p.churnTimer.expired() {
			cdm.fire(LacpCdmEventChurnTimeout)
		}
	case LacpCdmStateChurn:
		if sync {
			cdm.fire(LacpCdmEventSyncOn)
		}
	}
}
