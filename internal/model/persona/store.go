package persona

// Store exposes persona retrieval for handlers and relay sessions.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns a copy of the stored personas.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// Resolve 按 id 查找人设，找不到时退回 fallback；两者都不存在时返回 false。
func Resolve(store Store, id, fallback string) (Persona, bool) {
	if store == nil {
		return Persona{}, false
	}
	if id != "" {
		if p, ok := store.FindByID(id); ok {
			return p, true
		}
	}
	return store.FindByID(fallback)
}
