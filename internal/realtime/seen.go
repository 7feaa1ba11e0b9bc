package realtime

import "github.com/elliotchance/orderedmap/v3"

// SeenSet is a bounded set of message IDs. When full, the oldest ID is
// evicted first. It is not safe for concurrent use.
type SeenSet struct {
	capacity int
	ids      *orderedmap.OrderedMap[string, struct{}]
}

// NewSeenSet creates a set holding at most capacity IDs.
func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &SeenSet{
		capacity: capacity,
		ids:      orderedmap.NewOrderedMap[string, struct{}](),
	}
}

// Add records id and reports whether it was new.
func (s *SeenSet) Add(id string) bool {
	if _, ok := s.ids.Get(id); ok {
		return false
	}
	s.ids.Set(id, struct{}{})
	for s.ids.Len() > s.capacity {
		s.ids.Delete(s.ids.Front().Key)
	}
	return true
}

// Has reports whether id is in the set.
func (s *SeenSet) Has(id string) bool {
	_, ok := s.ids.Get(id)
	return ok
}

// Len returns the number of IDs held.
func (s *SeenSet) Len() int {
	return s.ids.Len()
}
