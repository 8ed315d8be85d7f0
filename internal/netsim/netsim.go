// Package netsim is a minimal in-process network condition simulator:
// packet loss, plus latency+jitter delivery delay, staged through a
// sequence of profiles. Grounded on original_source/tests/SoakTest.cpp's
// NetworkSimulator/AddState staged profile ({loss, jitter, latencyMs}
// tuples advanced one per tick). spec.md lists a network simulator as an
// assumed-but-unspecified external collaborator; this is the minimum
// needed to exercise the loss/latency/jitter/reorder scenarios in
// spec.md §8, so it stays internal rather than a public package.
package netsim

import (
	"math/rand"
	"sort"
)

// State is one staged network profile: packetLoss in [0,1], jitter and
// latency in seconds.
type State struct {
	PacketLoss float64
	Jitter     float64
	Latency    float64
}

// Simulator advances through a list of States, one per Tick call, holding
// on the last one once exhausted — the same progression SoakTest.cpp
// drives through AddState.
type Simulator struct {
	states []State
	index  int
	rng    *rand.Rand

	pending []scheduled
}

type scheduled struct {
	deliverAt float64
	payload   []byte
	addr      int // opaque peer index, for tests with more than two peers
}

// New builds a Simulator seeded deterministically so test runs reproduce.
func New(seed int64) *Simulator {
	return &Simulator{rng: rand.New(rand.NewSource(seed))}
}

// AddState appends one staged profile.
func (s *Simulator) AddState(st State) { s.states = append(s.states, st) }

// Tick advances to the next staged profile (clamped to the last one once
// the list is exhausted). Call once per connection tick.
func (s *Simulator) Tick() {
	if s.index < len(s.states)-1 {
		s.index++
	}
}

func (s *Simulator) current() State {
	if len(s.states) == 0 {
		return State{}
	}
	return s.states[s.index]
}

// Send decides whether a packet sent at time now survives the current
// loss rate, and if so schedules it for delivery at now + latency +
// uniform(-jitter, jitter). Returns false if the packet should be
// dropped.
func (s *Simulator) Send(now float64, payload []byte, addr int) bool {
	st := s.current()
	if s.rng.Float64() < st.PacketLoss {
		return false
	}
	jitter := 0.0
	if st.Jitter > 0 {
		jitter = (s.rng.Float64()*2 - 1) * st.Jitter
	}
	deliverAt := now + st.Latency + jitter
	if deliverAt < now {
		deliverAt = now
	}
	s.pending = append(s.pending, scheduled{deliverAt: deliverAt, payload: payload, addr: addr})
	return true
}

// Deliverable pops every scheduled packet whose deliverAt is <= now, in
// deliverAt order — a staged latency/jitter profile naturally reorders
// packets whose delivery windows overlap (spec.md §8 scenario 5).
func (s *Simulator) Deliverable(now float64) [][]byte {
	sort.SliceStable(s.pending, func(i, j int) bool { return s.pending[i].deliverAt < s.pending[j].deliverAt })

	var out [][]byte
	remaining := s.pending[:0]
	for _, p := range s.pending {
		if p.deliverAt <= now {
			out = append(out, p.payload)
		} else {
			remaining = append(remaining, p)
		}
	}
	s.pending = remaining
	return out
}

// Pending reports how many packets are in flight, awaiting delivery.
func (s *Simulator) Pending() int { return len(s.pending) }
