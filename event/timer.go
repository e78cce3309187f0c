package event

// timerHeap is a min-heap of events ordered by deadline. Each event tracks
// its own index so it can be fixed or removed in O(log n).
type timerHeap []*Event

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].id < h[j].id
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *timerHeap) Push(x interface{}) {
	ev := x.(*Event)
	ev.heapIndex = len(*h)
	*h = append(*h, ev)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.heapIndex = -1
	*h = old[:n-1]
	return ev
}
