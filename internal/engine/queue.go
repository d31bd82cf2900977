package engine

import (
	"sort"

	"github.com/mjolnir42/velotrain/internal/tod"
)

// entry is one pending passing waiting to be matched against a sector.
type entry struct {
	t  tod.TOD
	mp string
}

// refidQueue is the per-refid state carried across passings for one
// transponder: the last confirmed match, the choke marker, the per-MP
// last-seen map and the pending ordered queue.
type refidQueue struct {
	lt     tod.TOD            // time of last confirmed match
	lc     string             // MP of last confirmed match, "" if none yet
	choke  string             // MP currently choked, "" if none
	rs     *tod.TOD           // last isolated-match time, nil if none yet
	lastAt map[string]tod.TOD // MP -> time of last confirmed arrival there
	pq     []entry            // pending arrivals, kept sorted by t ascending
}

func newRefidQueue() *refidQueue {
	return &refidQueue{lastAt: map[string]tod.TOD{}}
}

// insert adds a pending arrival, keeping pq sorted by TOD ascending.
func (q *refidQueue) insert(t tod.TOD, mp string) {
	i := sort.Search(len(q.pq), func(i int) bool { return q.pq[i].t.Cmp(t) > 0 })
	q.pq = append(q.pq, entry{})
	copy(q.pq[i+1:], q.pq[i:])
	q.pq[i] = entry{t: t, mp: mp}
}

// peek returns the earliest pending arrival, if any.
func (q *refidQueue) peek() (entry, bool) {
	if len(q.pq) == 0 {
		return entry{}, false
	}
	return q.pq[0], true
}

// pop removes and returns the earliest pending arrival.
func (q *refidQueue) pop() entry {
	e := q.pq[0]
	q.pq = q.pq[1:]
	return e
}

// empty reports whether there is nothing left to process.
func (q *refidQueue) empty() bool { return len(q.pq) == 0 }
