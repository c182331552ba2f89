// defs
package lacp

// 6.4.4 Constants, expressed in simulation ticks.  One tick is one
// fast-periodic sub-unit; the relative ordering
// fast < aggregateWait < shortTimeout < wtrDefaultMax < slow < long < churn
// is what the state machines depend on, not the absolute values.
const (
	LacpFastPeriodicTime   = 1
	LacpAggregateWaitTime  = 2
	LacpShortTimeoutTime   = 3
	LacpWTRDefaultMaxTime  = 15
	LacpSlowPeriodicTime   = 30
	LacpLongTimeoutTime    = 90
	LacpChurnDetectionTime = 120
)

// the version number of the Actor LACP implementation
const LacpActorSystemLacpVersion uint8 = 0x02

// CollectorMaxDelay advertised in LACPDUs, in tens of microseconds.
const LacpCollectorMaxDelay uint16 = 50

// high bit of aAggPortWTRTime selects non-revertive mode
const LacpWTRNonRevertiveBit uint16 = 0x8000

const (
	LacpStateActivityBit = 1 << iota
	LacpStateTimeoutBit
	LacpStateAggregationBit
	LacpStateSyncBit
	LacpStateCollectingBit
	LacpStateDistributingBit
	LacpStateDefaultedBit
	LacpStateExpiredBit
)

// Indicates on a port what state the aggSelected is in
const (
	LacpAggSelected = iota + 1
	LacpAggStandby
	LacpAggUnSelected
)

const (
	// default admin key shared by all ports and aggregators of a system
	DefaultActorKey uint16 = 0x0111
	// key value no AggPort uses; assigning it to an Aggregator parks it
	UnusedAggregatorKey uint16 = 0x0EEE
	// default port priority (upper half of the port id)
	DefaultPortPriority uint16 = 0x0000
	// default system priority
	DefaultSystemPriority uint16 = 0x0000
)

const MaxConversationIDs = 4096

// LagAlgorithm identifies the frame classification used to compute a
// conversation ID.  Values follow the 6.4.2.4.1 Port Algorithm encoding.
type LagAlgorithm uint32

const (
	LagAlgorithmUnspecified LagAlgorithm = 0
	LagAlgorithmCVid        LagAlgorithm = 1
	LagAlgorithmSVid        LagAlgorithm = 2
	LagAlgorithmISid        LagAlgorithm = 3
	LagAlgorithmTESid       LagAlgorithm = 4
	LagAlgorithmECMP        LagAlgorithm = 5
)

// ConvLinkMap selects how conversation IDs are spread over the active
// links of an Aggregator.
type ConvLinkMap int

const (
	ConvLinkMapDefault ConvLinkMap = iota
	ConvLinkMapEvenOdd
	ConvLinkMapEightLinkSpread
	ConvLinkMapActiveStandby
	ConvLinkMapAdminTable
)

func LacpStateSet(currState uint8, stateBits uint8) uint8 {
	return currState | stateBits
}

func LacpStateClear(currState uint8, stateBits uint8) uint8 {
	return currState & ^(stateBits)
}

func LacpStateIsSet(currState uint8, stateBits uint8) bool {
	return (currState & stateBits) == stateBits
}

// default actor admin state: active LACP, short timeout, aggregatable
const DefaultActorAdminState uint8 = LacpStateActivityBit |
	LacpStateTimeoutBit | LacpStateAggregationBit

// default partner admin state used while DEFAULTED: a LACP-unaware
// partner that is in sync and passing traffic
const DefaultPartnerAdminState uint8 = LacpStateSyncBit |
	LacpStateCollectingBit | LacpStateDistributingBit | LacpStateDefaultedBit |
	LacpStateAggregationBit
