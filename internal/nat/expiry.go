package nat

import "container/heap"

// expiryEntry names one incarnation of a slab slot. Entries are lazy: a
// refreshed flow leaves its older entries in place, and the sweep recognizes
// them as stale because their bucket timestamp no longer matches the flow's
// last-seen time (or their generation no longer matches the slot).
type expiryEntry struct {
	h   flowHandle
	gen uint32
}

// expiryIndex is a multi-map from one-second timestamp buckets to flow
// entries, with the bucket timestamps kept in a min-heap so the sweep can
// walk buckets in ascending order and stop at the first young one.
type expiryIndex struct {
	buckets map[int64][]expiryEntry
	order   tsHeap
}

func newExpiryIndex(capacity int) *expiryIndex {
	return &expiryIndex{
		buckets: make(map[int64][]expiryEntry, capacity),
		order:   make(tsHeap, 0, capacity),
	}
}

// insert files an entry under ts. The caller (refresh) guarantees at most
// one insert per flow per second, so a bucket never holds two entries for
// the same incarnation.
func (x *expiryIndex) insert(ts int64, e expiryEntry) {
	bucket, ok := x.buckets[ts]
	if !ok {
		heap.Push(&x.order, ts)
	}
	x.buckets[ts] = append(bucket, e)
}

// sweep visits every entry in every bucket with now - ts > ttl, oldest
// bucket first, removing each visited bucket. Later buckets can only be
// younger, so the walk stops at the first one inside the window.
func (x *expiryIndex) sweep(now, ttl int64, visit func(ts int64, e expiryEntry)) {
	for len(x.order) > 0 {
		ts := x.order[0]
		if now-ts <= ttl {
			return
		}
		heap.Pop(&x.order)

		bucket := x.buckets[ts]
		delete(x.buckets, ts)
		for _, e := range bucket {
			visit(ts, e)
		}
	}
}

// entryCount is the total number of entries across all buckets, stale ones
// included.
func (x *expiryIndex) entryCount() int {
	n := 0
	for _, bucket := range x.buckets {
		n += len(bucket)
	}
	return n
}

type tsHeap []int64

func (h tsHeap) Len() int            { return len(h) }
func (h tsHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h tsHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *tsHeap) Push(v interface{}) { *h = append(*h, v.(int64)) }
func (h *tsHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}
