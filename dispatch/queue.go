package dispatch

import "github.com/moviola-io/moviola/types"

// Priority orders queued requests. Lower values dispatch first.
type Priority int

const (
	// PriorityDisplay is the frame currently needed on screen.
	PriorityDisplay Priority = iota
	// PriorityPrefetch is the near-future playback window.
	PriorityPrefetch
	// PriorityReadAhead is far read-ahead beyond the playback window.
	PriorityReadAhead

	numPriorities
)

// requestQueue holds queued-but-undispatched requests, FIFO within each
// priority class. Display requests preempt queued prefetch and read-ahead
// by class ordering, not by reordering within a class.
type requestQueue struct {
	classes [numPriorities][]*pendingRequest
}

// push appends req to its priority class.
func (q *requestQueue) push(req *pendingRequest) {
	q.classes[req.priority] = append(q.classes[req.priority], req)
}

// pop removes and returns the highest-priority queued request, or nil.
func (q *requestQueue) pop() *pendingRequest {
	for pri := range q.classes {
		if len(q.classes[pri]) > 0 {
			req := q.classes[pri][0]
			q.classes[pri] = q.classes[pri][1:]
			return req
		}
	}
	return nil
}

// remove unlinks req from its class. Returns false if req is not queued
// (already popped for dispatch).
func (q *requestQueue) remove(req *pendingRequest) bool {
	class := q.classes[req.priority]
	for i, queued := range class {
		if queued == req {
			q.classes[req.priority] = append(class[:i], class[i+1:]...)
			return true
		}
	}
	return false
}

// drain empties the queue, returning all queued requests.
func (q *requestQueue) drain() []*pendingRequest {
	var all []*pendingRequest
	for pri := range q.classes {
		all = append(all, q.classes[pri]...)
		q.classes[pri] = nil
	}
	return all
}

// collect returns queued requests matching pred without removing them.
func (q *requestQueue) collect(pred func(key types.FrameKey, pri Priority) bool) []*pendingRequest {
	var matched []*pendingRequest
	for pri := range q.classes {
		for _, req := range q.classes[pri] {
			if pred(req.key, Priority(pri)) {
				matched = append(matched, req)
			}
		}
	}
	return matched
}

// len returns the total number of queued requests.
func (q *requestQueue) len() int {
	n := 0
	for pri := range q.classes {
		n += len(q.classes[pri])
	}
	return n
}
