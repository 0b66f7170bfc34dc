package chat

// EndpointLookup is the part of the registry the resolver depends on.
type EndpointLookup interface {
	EndpointsFor(users []UserID) []Endpoint
}

// Resolver turns a set of users into the endpoints to target. Users with no
// live endpoint are skipped.
type Resolver struct {
	lookup EndpointLookup
}

func NewResolver(lookup EndpointLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

func (r *Resolver) Resolve(users []UserID) []Endpoint {
	return r.lookup.EndpointsFor(users)
}

// ResolveExcept resolves users and drops the endpoint skip, so an event is
// not echoed back to the connection that raised it.
func (r *Resolver) ResolveExcept(users []UserID, skip EndpointID) []Endpoint {
	eps := r.lookup.EndpointsFor(users)
	out := make([]Endpoint, 0, len(eps))
	for _, ep := range eps {
		if ep.ID() != skip {
			out = append(out, ep)
		}
	}
	return out
}
