// selection
package lacp

import "sort"

// Aggregation is represented by an Aggregation Port selecting an
// appropriate Aggregator and then attaching to it (802.1ax-2014 6.4.14.1).
// Ports that can aggregate together share an operational Key; ports that
// are members of the same LAG (same actor system/key and partner
// system/key, not Individual) select the same Aggregator.  The logic runs
// after the Receive machines on every pass of the LinkAgg shim's
// per-tick fixed-point loop.

// lagGroupKey partitions AggPorts into LAG groups.  Individual ports
// (actor or partner aggregation bit clear) carry their own portId so each
// stands alone; loopback slave ends carry a marker so the two ends of a
// looped-back link never share an Aggregator.
type lagGroupKey struct {
	actorSys   uint64
	actorKey   uint16
	partnerSys uint64
	partnerKey uint16
	individual uint32
	loopSlave  bool
}

type lagGroup struct {
	key      lagGroupKey
	ports    []*LaAggPort
	priority uint32 // lowest member portId; lower wins contention
}

func (la *LinkAgg) portGroupKey(p *LaAggPort) lagGroupKey {
	key := lagGroupKey{
		actorSys:   p.ActorOper.System.Value(),
		actorKey:   p.ActorOper.Key,
		partnerSys: p.PartnerOper.System.Value(),
		partnerKey: p.PartnerOper.Key,
	}
	if !LacpStateIsSet(p.ActorOper.State, LacpStateAggregationBit) ||
		!LacpStateIsSet(p.PartnerOper.State, LacpStateAggregationBit) {
		key.individual = p.portId()
	}
	// loopback: same System on both ends.  The end whose partner port is
	// lower is the slave and must land on a different Aggregator, so that
	// same-port and different-port loopbacks both work.
	if p.PartnerOper.System == p.ActorOper.System &&
		!LacpStateIsSet(p.PartnerOper.State, LacpStateDefaultedBit) &&
		p.PartnerOper.portId() < p.portId() {
		key.loopSlave = true
	}
	return key
}

// mirror returns the master-side key of a loopback slave group.
func (k lagGroupKey) mirror() lagGroupKey {
	m := k
	m.loopSlave = false
	return m
}

// runSelection maps every AggPort onto an Aggregator or leaves it
// unselected.  Contended Aggregators are resolved by group priority; an
// evicted group is reseated on a later tick, which is the source of the
// transient bouncing seen when many ports come up close together.
func (la *LinkAgg) runSelection() {
	groups := make(map[lagGroupKey]*lagGroup)
	for _, p := range la.AggPorts {
		if !p.PortEnabled || !p.lacpEnabled {
			p.markUnselected()
			continue
		}
		key := la.portGroupKey(p)
		g := groups[key]
		if g == nil {
			g = &lagGroup{key: key, priority: p.portId()}
			groups[key] = g
		}
		g.ports = append(g.ports, p)
		if p.portId() < g.priority {
			g.priority = p.portId()
		}
	}

	ordered := make([]*lagGroup, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g.ports, func(i, j int) bool {
			return g.ports[i].portId() < g.ports[j].portId()
		})
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].priority < ordered[j].priority
	})

	// holder resolves which group currently claims an Aggregator
	holder := func(aggIdx int) *lagGroup {
		for _, q := range la.AggPorts {
			if q.aggSelected == LacpAggSelected && q.SelectedAggIdx == aggIdx {
				if g := groups[la.portGroupKey(q)]; g != nil {
					return g
				}
			}
		}
		return nil
	}

	evicted := make(map[lagGroupKey]bool)

	for _, g := range ordered {
		if evicted[g.key] {
			continue
		}
		target := -1
		low := g.ports[0]

		// the Aggregator already holding members of this group
		incumbent := -1
		for _, q := range g.ports {
			if q.aggSelected == LacpAggSelected && q.SelectedAggIdx >= 0 &&
				la.aggUsable(q.SelectedAggIdx, g, holder) {
				incumbent = q.SelectedAggIdx
				break
			}
		}

		// 1. the incumbent keeps the LAG while the lowest-portId member
		//    sits on it; a LAG does not hop Aggregators because another
		//    member failed
		if incumbent >= 0 && low.aggSelected == LacpAggSelected &&
			low.SelectedAggIdx == incumbent {
			target = incumbent
		}

		// 2. the preferred Aggregator of the lowest-portId member, when
		//    free, already ours, or held only by a lower-priority group
		if target < 0 && la.aggUsable(low.Index, g, holder) {
			h := holder(low.Index)
			switch {
			case h == nil || h == g:
				target = low.Index
			case h.priority > g.priority:
				for _, q := range h.ports {
					q.markUnselected()
				}
				evicted[h.key] = true
				target = low.Index
			}
		}

		// 3. fall back to the incumbent
		if target < 0 {
			target = incumbent
		}

		// 4. the lowest-indexed free Aggregator with a matching key
		if target < 0 {
			for i := range la.Aggregators {
				if la.aggUsable(i, g, holder) && holder(i) == nil {
					target = i
					break
				}
			}
		}

		if target < 0 {
			// no free matching Aggregator: remain unselected indefinitely
			for _, q := range g.ports {
				q.markUnselected()
			}
			continue
		}

		for _, q := range g.ports {
			if q.AggAttached != nil && q.AggAttached.Index != target {
				// detach via the Mux machine before reseating
				q.markUnselected()
				q.SelectedAggIdx = target
				continue
			}
			if q.aggSelected != LacpAggSelected || q.SelectedAggIdx != target {
				q.aggSelected = LacpAggSelected
				q.SelectedAggIdx = target
				la.transitions++
			}
		}
	}
}

// aggUsable: the Aggregator must be enabled, share the group's key, and
// for a loopback slave group must not be the one its master end holds.
func (la *LinkAgg) aggUsable(aggIdx int, g *lagGroup, holder func(int) *lagGroup) bool {
	if aggIdx < 0 || aggIdx >= len(la.Aggregators) {
		return false
	}
	a := la.Aggregators[aggIdx]
	if !a.enabled || a.actorAdminKey != g.key.actorKey {
		return false
	}
	if g.key.loopSlave {
		if h := holder(aggIdx); h != nil && h.key == g.key.mirror() {
			return false
		}
	}
	return true
}

// aggReady is the Ready computation: true when every port waiting to
// attach to the Aggregator has its waitWhile satisfied, so the whole
// group attaches at once.
func (la *LinkAgg) aggReady(aggIdx int) bool {
	for _, q := range la.AggPorts {
		if q.aggSelected == LacpAggSelected && q.SelectedAggIdx == aggIdx &&
			q.MuxMachineFsm.Current() == LacpMuxmStateWaiting && !q.readyN {
			return false
		}
	}
	return true
}
