package chat

import "sync"

// Presence is the set of users currently shown as online. Snapshot order is
// the order users came online.
type Presence struct {
	mu     sync.RWMutex
	order  []UserID
	online map[UserID]struct{}
}

func NewPresence() *Presence {
	return &Presence{online: make(map[UserID]struct{})}
}

// MarkOnline reports whether the user was newly added.
func (p *Presence) MarkOnline(user UserID) bool {
	if user == "" {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.online[user]; ok {
		return false
	}
	p.online[user] = struct{}{}
	p.order = append(p.order, user)
	return true
}

// MarkOffline reports whether the user was present.
func (p *Presence) MarkOffline(user UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.online[user]; !ok {
		return false
	}
	delete(p.online, user)
	for i, u := range p.order {
		if u == user {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

func (p *Presence) IsOnline(user UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[user]
	return ok
}

func (p *Presence) Snapshot() []UserID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]UserID, len(p.order))
	copy(out, p.order)
	return out
}

func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}
