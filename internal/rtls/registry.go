package rtls

import (
	"fmt"
	"sync"
)

// ReaderRegistry holds all registered readers. Readers are registered at
// configuration load and never removed while the process runs; control
// commands mutate power and enablement only.
type ReaderRegistry struct {
	mu      sync.RWMutex
	readers map[string]*ReaderDescriptor
}

// NewReaderRegistry creates an empty registry.
func NewReaderRegistry() *ReaderRegistry {
	return &ReaderRegistry{readers: make(map[string]*ReaderDescriptor)}
}

// Register adds or replaces a reader descriptor.
func (r *ReaderRegistry) Register(desc ReaderDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := desc
	r.readers[d.ID] = &d
}

// Get returns a copy of the descriptor for the given reader id.
func (r *ReaderRegistry) Get(id string) (ReaderDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.readers[id]
	if !ok {
		return ReaderDescriptor{}, fmt.Errorf("%w: %s", ErrReaderNotFound, id)
	}
	return *d, nil
}

// SetEnabled flips the enabled flag on a reader.
func (r *ReaderRegistry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.readers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReaderNotFound, id)
	}
	d.Enabled = enabled
	return nil
}

// SetPower updates the antenna power on a reader.
func (r *ReaderRegistry) SetPower(id string, powerDBm float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.readers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReaderNotFound, id)
	}
	d.PowerDBm = powerDBm
	return nil
}

// List returns copies of all registered descriptors.
func (r *ReaderRegistry) List() []ReaderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ReaderDescriptor, 0, len(r.readers))
	for _, d := range r.readers {
		out = append(out, *d)
	}
	return out
}

// Count returns the total and enabled reader counts.
func (r *ReaderRegistry) Count() (total, enabled int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total = len(r.readers)
	for _, d := range r.readers {
		if d.Enabled {
			enabled++
		}
	}
	return total, enabled
}
