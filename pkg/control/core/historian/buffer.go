package historian

import (
	"sort"
	"time"
)

// ring is a fixed-capacity circular buffer of one tag's points kept in timestamp order.
// In-order samples append at the tail; a late sample is shifted into place.
type ring struct {
	points []DataPoint
	head   int
	size   int
}

func newRing(capacity int) *ring {
	return &ring{points: make([]DataPoint, capacity)}
}

func (r *ring) at(i int) *DataPoint {
	return &r.points[(r.head+i)%len(r.points)]
}

// search returns the logical index of the first point at or after ts.
func (r *ring) search(ts time.Time) int {
	return sort.Search(r.size, func(i int) bool {
		return !r.at(i).Timestamp.Before(ts)
	})
}

// put stores p and reports whether a point was lost to capacity. A full buffer evicts its
// oldest timestamp; an incoming point older than everything held is the one dropped.
// A point with a timestamp already held overwrites it.
func (r *ring) put(p DataPoint) (evicted bool) {
	i := r.search(p.Timestamp)
	if i < r.size && r.at(i).Timestamp.Equal(p.Timestamp) {
		*r.at(i) = p
		return false
	}
	if r.size == len(r.points) {
		if i == 0 {
			return true
		}
		*r.at(0) = DataPoint{}
		r.head = (r.head + 1) % len(r.points)
		r.size--
		i--
		evicted = true
	}
	for j := r.size; j > i; j-- {
		*r.at(j) = *r.at(j - 1)
	}
	*r.at(i) = p
	r.size++
	return evicted
}

func (r *ring) oldest() DataPoint {
	return *r.at(0)
}

func (r *ring) newest() DataPoint {
	return *r.at(r.size - 1)
}

// between returns the points with start <= timestamp <= end in timestamp order.
func (r *ring) between(start, end time.Time) []DataPoint {
	var out []DataPoint
	for i := r.search(start); i < r.size; i++ {
		p := r.at(i)
		if p.Timestamp.After(end) {
			break
		}
		out = append(out, *p)
	}
	return out
}

// dropBefore removes every point older than cutoff and returns how many were removed.
func (r *ring) dropBefore(cutoff time.Time) int {
	n := r.search(cutoff)
	for i := 0; i < n; i++ {
		*r.at(i) = DataPoint{}
	}
	if n > 0 {
		r.head = (r.head + n) % len(r.points)
		r.size -= n
	}
	return n
}
