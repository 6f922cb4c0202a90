package bot

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const confirmationTTL = 2 * time.Minute

type pendingRemoval struct {
	IntegrationID string
	GuildID       string
	ChannelID     string
	UserID        string
	ExpiresAt     time.Time
}

// pendingRemovals tracks removals waiting for the admin's Confirm click.
// A token can be taken once, so a delete runs at most once per prompt.
type pendingRemovals struct {
	mu    sync.Mutex
	items map[string]pendingRemoval
	now   func() time.Time
}

func newPendingRemovals() *pendingRemovals {
	return &pendingRemovals{items: make(map[string]pendingRemoval), now: time.Now}
}

func (p *pendingRemovals) Add(item pendingRemoval) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked()

	token := ulid.Make().String()
	item.ExpiresAt = p.now().Add(confirmationTTL)
	p.items[token] = item
	return token
}

func (p *pendingRemovals) Peek(token string) (pendingRemoval, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[token]
	if !ok || p.now().After(item.ExpiresAt) {
		return pendingRemoval{}, false
	}
	return item, true
}

func (p *pendingRemovals) Take(token string) (pendingRemoval, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[token]
	if !ok {
		return pendingRemoval{}, false
	}
	delete(p.items, token)
	if p.now().After(item.ExpiresAt) {
		return pendingRemoval{}, false
	}
	return item, true
}

func (p *pendingRemovals) pruneLocked() {
	now := p.now()
	for token, item := range p.items {
		if now.After(item.ExpiresAt) {
			delete(p.items, token)
		}
	}
}
