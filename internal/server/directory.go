package server

import (
	"sync"

	"github.com/sudostealth/SecureChatApp/internal/errs"
)

// Directory maps live identities to their connection handlers. Shared by all
// connection goroutines.
type Directory struct {
	mu       sync.Mutex
	handlers map[string]*Handler
}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{handlers: make(map[string]*Handler)}
}

// Register claims name for h. Fails with ErrNameTaken if the identity already
// has a live handler; the check and the install are one critical section.
func (d *Directory) Register(name string, h *Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[name]; ok {
		return errs.ErrNameTaken
	}
	d.handlers[name] = h
	return nil
}

// Remove drops name, but only if it still maps to h. A stale teardown must
// not evict a newer connection that reused the name.
func (d *Directory) Remove(name string, h *Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.handlers[name]; ok && cur == h {
		delete(d.handlers, name)
	}
}

// Get returns the live handler for name.
func (d *Directory) Get(name string) (*Handler, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.handlers[name]
	return h, ok
}

// Names lists currently registered identities.
func (d *Directory) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.handlers))
	for n := range d.handlers {
		out = append(out, n)
	}
	return out
}
