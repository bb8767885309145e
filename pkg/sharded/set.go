package sharded

// Set is a concurrent string set.
type Set struct {
	m *Map[struct{}]
}

// NewSet creates a set with numShards shards. numShards must be a power of 2.
func NewSet(numShards int) *Set {
	return &Set{m: NewMap[struct{}](numShards)}
}

// Store adds a key to the set.
func (s *Set) Store(key string) { s.m.Store(key, struct{}{}) }

// Has checks only for the presence of a key.
func (s *Set) Has(key string) bool {
	_, ok := s.m.Load(key)
	return ok
}

// LoadOrStore ensures a key is present in the set, returning true if it was already present.
// It returns false if the key was newly stored. This is an atomic operation.
func (s *Set) LoadOrStore(key string) (loaded bool) {
	_, loaded = s.m.LoadOrStore(key, struct{}{})
	return loaded
}

// Delete removes a key.
func (s *Set) Delete(key string) { s.m.Delete(key) }

// Count returns the total number of elements in the set.
func (s *Set) Count() int { return s.m.Count() }
