package negotiation

import (
	"github.com/gammazero/deque"
	"github.com/pion/webrtc/v4"
)

// CandidateQueue holds remote ICE candidates that arrived before a remote
// description was set. Candidates leave the queue in arrival order.
type CandidateQueue struct {
	q deque.Deque[webrtc.ICECandidateInit]
}

// Push appends a candidate.
func (q *CandidateQueue) Push(c webrtc.ICECandidateInit) {
	q.q.PushBack(c)
}

// Len returns the number of queued candidates.
func (q *CandidateQueue) Len() int {
	return q.q.Len()
}

// Drain removes every queued candidate, oldest first, passing each to fn.
// Candidates pushed by fn are drained in the same call.
func (q *CandidateQueue) Drain(fn func(webrtc.ICECandidateInit)) {
	for q.q.Len() > 0 {
		fn(q.q.PopFront())
	}
}

// Clear drops every queued candidate.
func (q *CandidateQueue) Clear() {
	q.q.Clear()
}
