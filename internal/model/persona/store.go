package persona

import "strings"

// Store resolves the personas a conversation can be opened with.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore keeps personas in seed order with a case-insensitive id index.
// Later duplicates of an id are ignored.
type MemoryStore struct {
	items []Persona
	index map[string]int
}

// NewMemoryStore indexes items by normalised id.
func NewMemoryStore(items []Persona) *MemoryStore {
	s := &MemoryStore{index: make(map[string]int, len(items))}
	for _, item := range items {
		key := normaliseID(item.ID)
		if _, dup := s.index[key]; dup {
			continue
		}
		s.index[key] = len(s.items)
		s.items = append(s.items, item)
	}
	return s
}

// List returns a copy of the personas in seed order.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID matches ids ignoring case and surrounding blanks, so "?persona=Francais" works.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	i, ok := s.index[normaliseID(id)]
	if !ok {
		return Persona{}, false
	}
	return s.items[i], true
}

func normaliseID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
