package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MessageStore durably records messages.
type MessageStore interface {
	SaveMessage(ctx context.Context, rec MessageRecord) error
}

// MembershipSource returns the members of a conversation. Results may lag
// behind membership changes.
type MembershipSource interface {
	Members(ctx context.Context, conversationID string) ([]UserID, error)
}

// Receipt carries the two independent outcomes of one ingested message: the
// fan-out that already happened, and the durable write that finishes later.
// Persisted yields exactly one value and is then closed.
type Receipt struct {
	MessageID string
	Fanout    Delivery
	Persisted <-chan error
}

type PipelineConfig struct {
	Store        MessageStore
	Members      MembershipSource // optional
	WriteTimeout time.Duration
}

// Pipeline fans a client message out to the live members of its
// conversation, then persists it in the background.
type Pipeline struct {
	resolver   *Resolver
	dispatcher *Dispatcher
	store      MessageStore
	members    MembershipSource

	writeTimeout time.Duration
	newID        func() string
	now          func() time.Time

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
	log     *zap.Logger
}

func NewPipeline(cfg PipelineConfig, resolver *Resolver, dispatcher *Dispatcher, log *zap.Logger) *Pipeline {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Pipeline{
		resolver:     resolver,
		dispatcher:   dispatcher,
		store:        cfg.Store,
		members:      cfg.Members,
		writeTimeout: cfg.WriteTimeout,
		newID:        uuid.NewString,
		now:          func() time.Time { return time.Now().UTC() },
		log:          log,
	}
}

// Ingest validates msg, delivers it live, and starts the durable write. A
// validation failure returns an error before anything is sent. Once fan-out
// has happened the caller gets a Receipt even if persistence later fails.
// After Close has started every message is refused with ErrShuttingDown.
func (p *Pipeline) Ingest(ctx context.Context, s Session, msg NewMessageIn) (Receipt, error) {
	if !p.begin() {
		return Receipt{}, ErrShuttingDown
	}
	persisting := false
	defer func() {
		if !persisting {
			p.wg.Done()
		}
	}()

	if err := validateMessage(&msg); err != nil {
		return Receipt{}, err
	}

	members, err := p.recipients(ctx, s, msg.ConversationID, msg.Members)
	if err != nil {
		return Receipt{}, err
	}

	pending := PendingMessage{
		ID:             p.newID(),
		Content:        msg.Message.Content,
		Attachments:    msg.Message.Attachments,
		Sender:         Sender{ID: s.UserID, Name: s.Name},
		ConversationID: msg.ConversationID,
		CreatedAt:      p.now(),
	}
	if pending.Attachments == nil {
		pending.Attachments = []Attachment{}
	}

	targets := p.resolver.Resolve(members)
	fanout, err := p.dispatcher.Dispatch(EventNewMessage, targets,
		NewMessageOut{ConversationID: msg.ConversationID, Message: pending})
	if err != nil {
		return Receipt{}, err
	}
	if _, err := p.dispatcher.Dispatch(EventNewMessageAlert, targets,
		ConversationRef{ConversationID: msg.ConversationID}); err != nil {
		return Receipt{}, err
	}

	rec := MessageRecord{
		Content:        msg.Message.Content,
		Attachments:    msg.Message.Attachments,
		Sender:         s.UserID,
		ConversationID: msg.ConversationID,
	}
	persisting = true
	persisted := p.persist(context.WithoutCancel(ctx), pending.ID, rec)

	return Receipt{MessageID: pending.ID, Fanout: fanout, Persisted: persisted}, nil
}

func (p *Pipeline) persist(ctx context.Context, messageID string, rec MessageRecord) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer p.wg.Done()
		defer close(done)

		ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()

		err := p.store.SaveMessage(ctx, rec)
		if err != nil {
			// Recipients already saw the message; it is now missing from history.
			p.log.Error("persist message failed",
				zap.String("message", messageID),
				zap.String("conversation", rec.ConversationID),
				zap.String("sender", string(rec.Sender)),
				zap.Error(err))
		} else {
			p.log.Debug("message persisted", zap.String("message", messageID))
		}
		done <- err
	}()
	return done
}

// begin reserves a slot in the write group unless the pipeline is closing.
// The slot is released by persist or by Ingest on an early return.
func (p *Pipeline) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return false
	}
	p.wg.Add(1)
	return true
}

func (p *Pipeline) refuse() {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()
}

// recipients prefers the membership source over the member list sent by the
// client. When the source cannot answer, the client list is used; a
// conversation the source does not know is rejected.
func (p *Pipeline) recipients(ctx context.Context, s Session, conversationID string, claimed []UserID) ([]UserID, error) {
	if p.members == nil {
		return claimed, nil
	}
	members, err := p.members.Members(ctx, conversationID)
	if errors.Is(err, ErrUnknownConversation) {
		return nil, &ValidationError{Field: "conversationId", Reason: err.Error()}
	}
	if err != nil {
		p.log.Warn("membership lookup failed, using client members",
			zap.String("conversation", conversationID), zap.Error(err))
		return claimed, nil
	}
	if contains(members, s.UserID) {
		return members, nil
	}
	return nil, &ValidationError{Field: "conversationId", Reason: "sender is not a member"}
}

// Close refuses further messages and waits for in-flight durable writes.
func (p *Pipeline) Close(ctx context.Context) error {
	p.refuse()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validateMessage(msg *NewMessageIn) error {
	msg.ConversationID = strings.TrimSpace(msg.ConversationID)
	if msg.ConversationID == "" {
		return &ValidationError{Field: "conversationId", Reason: "required"}
	}
	if strings.TrimSpace(msg.Message.Content) == "" && len(msg.Message.Attachments) == 0 {
		return &ValidationError{Field: "message", Reason: "content or attachments required"}
	}
	return nil
}
