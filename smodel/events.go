package smodel

import (
	"fmt"
	"math"
	"sort"

	"bitbucket.org/Davydov/ppseq/spikes"
)

// Background is the assignment value of background spikes.
const Background = -1

// Assignments stores for every spike (in the store order) either an
// event id or Background.
type Assignments []int

// NewAssignments returns assignments with all the spikes in the
// background.
func NewAssignments(n int) Assignments {
	a := make(Assignments, n)
	for i := range a {
		a[i] = Background
	}
	return a
}

// Copy returns a copy of assignments.
func (a Assignments) Copy() Assignments {
	return append(Assignments(nil), a...)
}

// Event is a latent sequence event.
type Event struct {
	ID        int     `json:"id"`
	Type      int     `json:"type"`
	Warp      int     `json:"warp"`
	Time      float64 `json:"time"`
	Amplitude float64 `json:"amplitude"`
	Sacred    bool    `json:"sacred,omitempty"`

	// indices of the assigned spikes
	members []int
}

// Size returns number of spikes assigned to the event.
func (e *Event) Size() int {
	return len(e.members)
}

// Members returns indices of the assigned spikes in increasing order.
// The slice should not be modified.
func (e *Event) Members() []int {
	return e.members
}

// members are kept sorted, so that the order does not depend on the
// history of moves.
func (e *Event) addMember(i int) {
	j := sort.SearchInts(e.members, i)
	e.members = append(e.members, 0)
	copy(e.members[j+1:], e.members[j:])
	e.members[j] = i
}

func (e *Event) removeMember(i int) bool {
	j := sort.SearchInts(e.members, i)
	if j == len(e.members) || e.members[j] != i {
		return false
	}
	e.members = append(e.members[:j], e.members[j+1:]...)
	return true
}

// timeIndex groups event ids into buckets of fixed width, so that
// events near a given time can be found without a full scan.
type timeIndex struct {
	width   float64
	buckets map[int][]int
}

func (ix *timeIndex) key(t float64) int {
	if math.IsInf(ix.width, 1) {
		return 0
	}
	return int(math.Floor(t / ix.width))
}

func (ix *timeIndex) add(id int, t float64) {
	k := ix.key(t)
	ix.buckets[k] = append(ix.buckets[k], id)
}

func (ix *timeIndex) remove(id int, t float64) {
	k := ix.key(t)
	b := ix.buckets[k]
	for i, x := range b {
		if x == id {
			b[i] = b[len(b)-1]
			b = b[:len(b)-1]
			break
		}
	}
	if len(b) == 0 {
		delete(ix.buckets, k)
	} else {
		ix.buckets[k] = b
	}
}

// EventSet is the arena of live events. Ids increase monotonically and
// are never reused. Iteration is always in ascending id order.
type EventSet struct {
	events map[int]*Event
	ids    []int
	nextID int
	maxLen float64
	index  timeIndex
}

// NewEventSet creates an empty set. maxLen is the maximum distance
// between an event and its spikes (may be +Inf).
func NewEventSet(maxLen float64) *EventSet {
	return &EventSet{
		events: make(map[int]*Event),
		maxLen: maxLen,
		index:  timeIndex{width: maxLen, buckets: make(map[int][]int)},
	}
}

// MaxLen returns the maximum sequence length.
func (es *EventSet) MaxLen() float64 {
	return es.maxLen
}

// Len returns number of live events.
func (es *EventSet) Len() int {
	return len(es.ids)
}

// NextID returns the id the next added event will get.
func (es *EventSet) NextID() int {
	return es.nextID
}

// IDs returns a copy of live ids in ascending order.
func (es *EventSet) IDs() []int {
	return append([]int(nil), es.ids...)
}

// Get returns an event by id or nil.
func (es *EventSet) Get(id int) *Event {
	return es.events[id]
}

// Add adds a new event with a fresh id and returns it. Members of e
// are ignored.
func (es *EventSet) Add(e Event) *Event {
	e.ID = es.nextID
	ev, _ := es.insert(e)
	return ev
}

// Insert adds an event with a given id, which must not be live. Ids
// allocated later are greater than it.
func (es *EventSet) Insert(e Event) (*Event, error) {
	if e.ID < 0 {
		return nil, fmt.Errorf("negative event id %d", e.ID)
	}
	if _, ok := es.events[e.ID]; ok {
		return nil, fmt.Errorf("duplicate event id %d", e.ID)
	}
	return es.insert(e)
}

func (es *EventSet) insert(e Event) (*Event, error) {
	ev := &Event{}
	*ev = e
	ev.members = nil
	es.events[ev.ID] = ev
	i := sort.SearchInts(es.ids, ev.ID)
	es.ids = append(es.ids, 0)
	copy(es.ids[i+1:], es.ids[i:])
	es.ids[i] = ev.ID
	if ev.ID >= es.nextID {
		es.nextID = ev.ID + 1
	}
	es.index.add(ev.ID, ev.Time)
	return ev, nil
}

// Remove deletes an event. Assignments of its spikes are not changed.
func (es *EventSet) Remove(id int) {
	ev, ok := es.events[id]
	if !ok {
		return
	}
	es.index.remove(id, ev.Time)
	delete(es.events, id)
	i := sort.SearchInts(es.ids, id)
	es.ids = append(es.ids[:i], es.ids[i+1:]...)
}

// Move changes the event time.
func (es *EventSet) Move(id int, t float64) {
	ev := es.events[id]
	es.index.remove(id, ev.Time)
	ev.Time = t
	es.index.add(id, t)
}

// AddSpike records spike i as a member of the event.
func (es *EventSet) AddSpike(id, i int) {
	es.events[id].addMember(i)
}

// RemoveSpike removes spike i from the event members.
func (es *EventSet) RemoveSpike(id, i int) {
	es.events[id].removeMember(i)
}

// EventsNear appends to buf all the live events within maxLen of t in
// ascending id order.
func (es *EventSet) EventsNear(t float64, buf []*Event) []*Event {
	buf = buf[:0]
	if math.IsInf(es.maxLen, 1) {
		for _, id := range es.ids {
			buf = append(buf, es.events[id])
		}
		return buf
	}
	lo := es.index.key(t - es.maxLen)
	hi := es.index.key(t + es.maxLen)
	for k := lo; k <= hi; k++ {
		for _, id := range es.index.buckets[k] {
			ev := es.events[id]
			if math.Abs(t-ev.Time) <= es.maxLen {
				buf = append(buf, ev)
			}
		}
	}
	sort.Slice(buf, func(i, j int) bool {
		return buf[i].ID < buf[j].ID
	})
	return buf
}

// MergeCandidates returns pairs of event ids (lower id first) whose
// times differ by at most window, sorted.
func (es *EventSet) MergeCandidates(window float64) [][2]int {
	evs := make([]*Event, 0, len(es.ids))
	for _, id := range es.ids {
		evs = append(evs, es.events[id])
	}
	sort.SliceStable(evs, func(i, j int) bool {
		return evs[i].Time < evs[j].Time
	})
	var res [][2]int
	for i, a := range evs {
		for _, b := range evs[i+1:] {
			if b.Time-a.Time > window {
				break
			}
			if a.ID < b.ID {
				res = append(res, [2]int{a.ID, b.ID})
			} else {
				res = append(res, [2]int{b.ID, a.ID})
			}
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i][0] != res[j][0] {
			return res[i][0] < res[j][0]
		}
		return res[i][1] < res[j][1]
	})
	return res
}

// Admissible reports whether all the spikes of the event would be
// within maxLen of time t.
func (es *EventSet) Admissible(st *spikes.Store, members []int, t float64) bool {
	if math.IsInf(es.maxLen, 1) {
		return true
	}
	for _, i := range members {
		if math.Abs(st.At(i).Time-t) > es.maxLen {
			return false
		}
	}
	return true
}

// Values returns copies of all the live events in id order without
// membership.
func (es *EventSet) Values() []Event {
	res := make([]Event, len(es.ids))
	for i, id := range es.ids {
		res[i] = *es.events[id]
		res[i].members = nil
	}
	return res
}

// Copy returns a deep copy including membership.
func (es *EventSet) Copy() *EventSet {
	res := NewEventSet(es.maxLen)
	for _, id := range es.ids {
		ev := es.events[id]
		cp, _ := res.insert(*ev)
		cp.members = append([]int(nil), ev.members...)
	}
	res.nextID = es.nextID
	return res
}

// Restore creates a set from event values and assignments. Ids
// allocated later start at nextID.
func Restore(maxLen float64, events []Event, assign Assignments, nextID int) (*EventSet, error) {
	es := NewEventSet(maxLen)
	for _, e := range events {
		if _, err := es.Insert(e); err != nil {
			return nil, err
		}
	}
	if nextID > es.nextID {
		es.nextID = nextID
	}
	for i, z := range assign {
		if z == Background {
			continue
		}
		ev := es.events[z]
		if ev == nil {
			return nil, &ReferenceError{Spike: i, Neuron: -1, Event: z, Reason: "event does not exist"}
		}
		ev.addMember(i)
	}
	return es, nil
}

// CheckAssignments verifies that assignments and event membership are
// consistent: every non-background spike refers to a live event which
// lists it, masked spikes are in the background and every neuron id is
// known to the model.
func CheckAssignments(st *spikes.Store, numNeurons int, assign Assignments, es *EventSet, masked []bool) error {
	if len(assign) != st.Len() {
		return &ReferenceError{Spike: len(assign), Neuron: -1, Event: -1,
			Reason: fmt.Sprintf("got %d assignments for %d spikes", len(assign), st.Len())}
	}
	nassigned := 0
	for i, z := range assign {
		s := st.At(i)
		if s.Neuron < 0 || s.Neuron >= numNeurons {
			return &ReferenceError{Spike: i, Neuron: s.Neuron, Event: z, Reason: "unknown neuron"}
		}
		if z == Background {
			continue
		}
		if z < 0 || es.Get(z) == nil {
			return &ReferenceError{Spike: i, Neuron: s.Neuron, Event: z, Reason: "event does not exist"}
		}
		if masked != nil && masked[i] {
			return &ReferenceError{Spike: i, Neuron: s.Neuron, Event: z, Reason: "masked spike assigned to an event"}
		}
		nassigned++
	}
	nmembers := 0
	for _, id := range es.ids {
		ev := es.events[id]
		for _, i := range ev.members {
			if i < 0 || i >= len(assign) || assign[i] != id {
				return &ReferenceError{Spike: i, Neuron: -1, Event: id, Reason: "membership mismatch"}
			}
		}
		nmembers += len(ev.members)
	}
	if nmembers != nassigned {
		return &ReferenceError{Spike: -1, Neuron: -1, Event: -1,
			Reason: fmt.Sprintf("%d assigned spikes, %d event members", nassigned, nmembers)}
	}
	return nil
}
