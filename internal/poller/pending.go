package poller

import (
	"bytes"
	"sort"
	"sync"

	"github.com/marlonbarreto-git/nimbus-xmr-tracker/internal/model"
)

// pendingSet holds ids waiting for the next bulk poll. Draining swaps the whole set out under
// the lock so enqueues that race with a drain land in the next batch.
type pendingSet struct {
	mu  sync.Mutex
	ids map[model.PaymentID]struct{}
}

func newPendingSet() *pendingSet {
	return &pendingSet{ids: make(map[model.PaymentID]struct{})}
}

// add reports whether id was newly added.
func (s *pendingSet) add(id model.PaymentID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *pendingSet) drain() []model.PaymentID {
	s.mu.Lock()
	taken := s.ids
	s.ids = make(map[model.PaymentID]struct{})
	s.mu.Unlock()

	out := make([]model.PaymentID, 0, len(taken))
	for id := range taken {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (s *pendingSet) requeue(ids []model.PaymentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

func (s *pendingSet) remove(id model.PaymentID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *pendingSet) contains(id model.PaymentID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *pendingSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
