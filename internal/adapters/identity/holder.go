package identity

import (
	"context"
	"sync"

	"gitlab.com/timkado/api/support-chat-client/internal/domain"
)

// Holder is a mutable domain.IdentityProvider. The host sets the principal on
// login and clears it on logout.
type Holder struct {
	mu      sync.RWMutex
	current *domain.Identity
}

// NewHolder starts with the given identity; nil means anonymous.
func NewHolder(initial *domain.Identity) *Holder {
	return &Holder{current: initial}
}

func (h *Holder) Current(context.Context) *domain.Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current == nil {
		return nil
	}
	id := *h.current
	return &id
}

// Set replaces the principal. Pass nil to become anonymous.
func (h *Holder) Set(id *domain.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id == nil {
		h.current = nil
		return
	}
	cp := *id
	h.current = &cp
}
