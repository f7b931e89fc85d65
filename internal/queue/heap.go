package queue

import "time"

// item is a heap element. index is maintained by the heap so a pending
// entry can be removed when its priority changes.
type item struct {
	entry Entry
	index int
}

// entryHeap is a min-heap ordered by creation time, then ID.
type entryHeap []*item

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	a, b := h[i].entry, h[j].entry
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

func (h entryHeap) oldest() time.Time {
	if len(h) == 0 {
		return time.Time{}
	}
	return h[0].entry.CreatedAt
}
