package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
)

type HubConfig struct {
	Store        MessageStore
	Members      MembershipSource
	WriteTimeout time.Duration
}

// Hub owns the live state of this process (registry and presence) and
// routes client events through the resolver, dispatcher, and pipeline.
type Hub struct {
	registry   *Registry
	presence   *Presence
	resolver   *Resolver
	dispatcher *Dispatcher
	pipeline   *Pipeline
	log        *zap.Logger
}

func NewHub(cfg HubConfig, log *zap.Logger) *Hub {
	registry := NewRegistry(log.Named("registry"))
	resolver := NewResolver(registry)
	dispatcher := NewDispatcher(log.Named("dispatch"))
	h := &Hub{
		registry:   registry,
		presence:   NewPresence(),
		resolver:   resolver,
		dispatcher: dispatcher,
		pipeline: NewPipeline(PipelineConfig{
			Store:        cfg.Store,
			Members:      cfg.Members,
			WriteTimeout: cfg.WriteTimeout,
		}, resolver, dispatcher, log.Named("ingest")),
		log: log,
	}
	registry.OnFullyDisconnected(h.userGone)
	return h
}

// Connect records an authenticated endpoint.
func (h *Hub) Connect(s Session, ep Endpoint) {
	h.registry.Register(s.UserID, ep)
	users, endpoints := h.registry.Counts()
	h.log.Info("client connected",
		zap.String("user", string(s.UserID)), zap.String("endpoint", string(ep.ID())),
		zap.Int("users", users), zap.Int("endpoints", endpoints))
}

// Disconnect drops the endpoint. If it was the user's last one the user is
// forced offline and everyone else is told.
func (h *Hub) Disconnect(s Session, ep Endpoint) {
	h.registry.Deregister(s.UserID, ep.ID())
	h.log.Info("client disconnected",
		zap.String("user", string(s.UserID)), zap.String("endpoint", string(ep.ID())))
}

func (h *Hub) userGone(user UserID) {
	h.presence.MarkOffline(user)
	if _, err := h.dispatcher.Dispatch(EventOnlineUsers, h.registry.All(), h.presence.Snapshot()); err != nil {
		h.log.Error("broadcast online users", zap.Error(err))
	}
}

// HandleFrame routes one inbound frame. Errors caused by the client are sent
// back to ep only.
func (h *Hub) HandleFrame(ctx context.Context, s Session, ep Endpoint, f Frame) {
	var err error
	switch f.Event {
	case EventNewMessage:
		var in NewMessageIn
		if err = decode(f, &in); err == nil {
			_, err = h.NewMessage(ctx, s, in)
		}
	case EventTypingStart, EventTypingStop:
		var in TypingIn
		if err = decode(f, &in); err == nil {
			_, err = h.Typing(ctx, f.Event, s, ep, in)
		}
	case EventConversationJoined:
		var in MembershipIn
		if err = decode(f, &in); err == nil {
			_, err = h.Joined(ctx, s, in)
		}
	case EventConversationExited:
		var in MembershipIn
		if err = decode(f, &in); err == nil {
			_, err = h.Exited(ctx, s, in)
		}
	default:
		err = &ValidationError{Field: "event", Reason: "unsupported event " + f.Event}
	}
	if err == nil {
		return
	}

	if IsValidation(err) {
		h.log.Debug("rejected client event", zap.String("event", f.Event),
			zap.String("user", string(s.UserID)), zap.Error(err))
	} else {
		h.log.Error("handle client event", zap.String("event", f.Event),
			zap.String("user", string(s.UserID)), zap.Error(err))
	}
	if _, derr := h.dispatcher.Dispatch(EventError, []Endpoint{ep},
		ErrorOut{Event: f.Event, Message: err.Error()}); derr != nil {
		h.log.Error("report client error", zap.Error(derr))
	}
}

func decode(f Frame, v any) error {
	if len(f.Data) == 0 {
		return &ValidationError{Field: "data", Reason: "missing payload"}
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return &ValidationError{Field: "data", Reason: err.Error()}
	}
	return nil
}

// NewMessage runs the ingestion pipeline for a message sent by s.
func (h *Hub) NewMessage(ctx context.Context, s Session, in NewMessageIn) (Receipt, error) {
	return h.pipeline.Ingest(ctx, s, in)
}

// Typing relays typing-start/typing-stop to the members' other endpoints.
// Members come from the membership source when one is configured.
func (h *Hub) Typing(ctx context.Context, event string, s Session, from Endpoint, in TypingIn) (Delivery, error) {
	if in.ConversationID == "" {
		return Delivery{}, &ValidationError{Field: "conversationId", Reason: "required"}
	}
	members, err := h.pipeline.recipients(ctx, s, in.ConversationID, in.Members)
	if err != nil {
		return Delivery{}, err
	}
	var skip EndpointID
	if from != nil {
		skip = from.ID()
	}
	return h.dispatcher.Dispatch(event, h.resolver.ResolveExcept(members, skip),
		ConversationRef{ConversationID: in.ConversationID})
}

// Joined marks the user online and sends the online list to the members.
func (h *Hub) Joined(ctx context.Context, s Session, in MembershipIn) (Delivery, error) {
	user, err := membershipUser(s, in)
	if err != nil {
		return Delivery{}, err
	}
	members, err := h.presenceAudience(ctx, s, in)
	if err != nil {
		return Delivery{}, err
	}
	h.presence.MarkOnline(user)
	return h.dispatcher.Dispatch(EventOnlineUsers, h.resolver.Resolve(members), h.presence.Snapshot())
}

// Exited marks the user offline and sends the online list to the members.
func (h *Hub) Exited(ctx context.Context, s Session, in MembershipIn) (Delivery, error) {
	user, err := membershipUser(s, in)
	if err != nil {
		return Delivery{}, err
	}
	members, err := h.presenceAudience(ctx, s, in)
	if err != nil {
		return Delivery{}, err
	}
	h.presence.MarkOffline(user)
	return h.dispatcher.Dispatch(EventOnlineUsers, h.resolver.Resolve(members), h.presence.Snapshot())
}

// presenceAudience uses the membership source when the event names a
// conversation. Without one the client's list is used; the online list is
// already sent to every endpoint on disconnect.
func (h *Hub) presenceAudience(ctx context.Context, s Session, in MembershipIn) ([]UserID, error) {
	if in.ConversationID == "" {
		return in.Members, nil
	}
	return h.pipeline.recipients(ctx, s, in.ConversationID, in.Members)
}

// membershipUser only lets a connection announce its own presence.
func membershipUser(s Session, in MembershipIn) (UserID, error) {
	if in.UserID == "" {
		return s.UserID, nil
	}
	if in.UserID != s.UserID {
		return "", &ValidationError{Field: "userId", Reason: "does not match the connection"}
	}
	return in.UserID, nil
}

// Emit sends an event raised outside a connection (REST collaborators) to
// the given users.
func (h *Hub) Emit(event string, users []UserID, payload any) (Delivery, error) {
	if event == "" {
		return Delivery{}, errors.New("emit: empty event name")
	}
	return h.dispatcher.Dispatch(event, h.resolver.Resolve(users), payload)
}

type Stats struct {
	Users     int `json:"users"`
	Endpoints int `json:"endpoints"`
	Online    int `json:"online"`
}

func (h *Hub) Stats() Stats {
	users, endpoints := h.registry.Counts()
	return Stats{Users: users, Endpoints: endpoints, Online: h.presence.Count()}
}

// Shutdown refuses new messages, closes every live endpoint that can be
// closed, then waits for pending message writes.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.pipeline.refuse()
	eps := h.registry.All()
	for _, ep := range eps {
		if c, ok := ep.(io.Closer); ok {
			_ = c.Close()
		}
	}
	h.log.Info("hub draining", zap.Int("endpoints", len(eps)))
	return h.pipeline.Close(ctx)
}
