package chat

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Handle is a pushable reference to exactly one live connection.
type Handle interface {
	ID() string
	// Push queues an event without blocking. It reports false when the
	// connection is closed or its queue is full.
	Push(Envelope) bool
}

// PresenceSnapshot is the registry at one point in time.
type PresenceSnapshot struct {
	Identities []string
	Handles    []Handle
}

// PresenceObserver is notified after every bind and every effective unbind.
// It runs while the registry is locked and must not call back into it.
type PresenceObserver interface {
	PresenceChanged(PresenceSnapshot)
}

// PresenceObserverFunc adapts a plain function to PresenceObserver.
type PresenceObserverFunc func(PresenceSnapshot)

func (f PresenceObserverFunc) PresenceChanged(s PresenceSnapshot) { f(s) }

// Presence maps identities to their single active connection.
type Presence struct {
	mu        sync.RWMutex
	bindings  map[string]Handle // identity -> handle
	observers []PresenceObserver
	log       *slog.Logger
}

func NewPresence(log *slog.Logger) *Presence {
	return &Presence{
		bindings: map[string]Handle{},
		log:      log,
	}
}

func (p *Presence) Observe(o PresenceObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, o)
}

// Bind overwrites any previous binding for identity. The previous connection
// stays open but no longer receives pushes.
func (p *Presence) Bind(identity string, h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.bindings[identity]; ok && prev.ID() != h.ID() {
		p.log.Info("Identity rebound", "identity", identity, "previous", prev.ID(), "session", h.ID())
	}
	p.bindings[identity] = h
	p.notify()
}

// Unbind removes identity only while it is still bound to h, so a late
// disconnect never evicts a newer session.
func (p *Presence) Unbind(identity string, h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.bindings[identity]
	if !ok || cur.ID() != h.ID() {
		return false
	}
	delete(p.bindings, identity)
	p.notify()
	return true
}

func (p *Presence) Lookup(identity string) (Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.bindings[identity]
	return h, ok
}

// Identities returns the bound identities in sorted order.
func (p *Presence) Identities() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identities()
}

func (p *Presence) identities() []string {
	ids := lo.Keys(p.bindings)
	sort.Strings(ids)
	return ids
}

// notify must be called with mu held for writing.
func (p *Presence) notify() {
	if len(p.observers) == 0 {
		return
	}
	ids := p.identities()
	snap := PresenceSnapshot{
		Identities: ids,
		Handles:    lo.Map(ids, func(id string, _ int) Handle { return p.bindings[id] }),
	}
	for _, o := range p.observers {
		o.PresenceChanged(snap)
	}
}

// BroadcastUserList pushes the identity list to every bound connection.
func BroadcastUserList(s PresenceSnapshot) {
	evt := userList(s.Identities)
	for _, h := range s.Handles {
		h.Push(evt)
	}
}
