package chat

import (
	"sync"

	"go.uber.org/zap"
)

// Endpoint is one live connection that frames can be pushed to.
type Endpoint interface {
	ID() EndpointID
	Send(frame []byte) error
}

// Registry maps users to their live endpoints. An endpoint is owned by at
// most one user at a time.
type Registry struct {
	mu     sync.RWMutex
	byUser map[UserID]map[EndpointID]Endpoint
	owner  map[EndpointID]UserID

	onGone func(UserID)
	log    *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		byUser: make(map[UserID]map[EndpointID]Endpoint),
		owner:  make(map[EndpointID]UserID),
		log:    log,
	}
}

// OnFullyDisconnected installs the callback raised when a user's last
// endpoint goes away. It runs outside the registry lock. Set it before the
// registry is shared.
func (r *Registry) OnFullyDisconnected(fn func(UserID)) {
	r.onGone = fn
}

// Register adds ep under user. Registering an endpoint already owned by a
// different user moves it.
func (r *Registry) Register(user UserID, ep Endpoint) {
	if user == "" || ep == nil {
		return
	}
	id := ep.ID()

	r.mu.Lock()
	var orphaned UserID
	if prev, ok := r.owner[id]; ok && prev != user {
		if r.removeLocked(prev, id) {
			orphaned = prev
		}
	}
	set := r.byUser[user]
	if set == nil {
		set = make(map[EndpointID]Endpoint)
		r.byUser[user] = set
	}
	set[id] = ep
	r.owner[id] = user
	count := len(set)
	r.mu.Unlock()

	r.log.Debug("endpoint registered",
		zap.String("user", string(user)), zap.String("endpoint", string(id)), zap.Int("endpoints", count))
	if orphaned != "" {
		r.fullyDisconnected(orphaned)
	}
}

// Deregister removes the endpoint from user. It reports whether this call
// removed the user's last endpoint; repeated calls are no-ops.
func (r *Registry) Deregister(user UserID, id EndpointID) bool {
	r.mu.Lock()
	gone := r.removeLocked(user, id)
	r.mu.Unlock()

	if gone {
		r.fullyDisconnected(user)
	}
	return gone
}

// removeLocked reports whether the user's entry was deleted.
func (r *Registry) removeLocked(user UserID, id EndpointID) bool {
	if r.owner[id] != user {
		return false
	}
	delete(r.owner, id)
	set := r.byUser[user]
	delete(set, id)
	if len(set) > 0 {
		return false
	}
	delete(r.byUser, user)
	return true
}

func (r *Registry) fullyDisconnected(user UserID) {
	r.log.Debug("user fully disconnected", zap.String("user", string(user)))
	if r.onGone != nil {
		r.onGone(user)
	}
}

// EndpointsFor returns the union of live endpoints of users. Unknown users and
// duplicates contribute nothing.
func (r *Registry) EndpointsFor(users []UserID) []Endpoint {
	if len(users) == 0 {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Endpoint
	seen := make(map[UserID]struct{}, len(users))
	for _, u := range users {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		for _, ep := range r.byUser[u] {
			out = append(out, ep)
		}
	}
	return out
}

// All returns every live endpoint.
func (r *Registry) All() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, 0, len(r.owner))
	for _, set := range r.byUser {
		for _, ep := range set {
			out = append(out, ep)
		}
	}
	return out
}

func (r *Registry) Counts() (users, endpoints int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser), len(r.owner)
}
