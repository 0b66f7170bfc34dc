package relay

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"go-chat/internal/chat"
)

type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher sends events to every instance subscribed to channel.
type Publisher struct {
	rdb     publishClient
	channel string
}

func NewPublisher(rdb publishClient, channel string) *Publisher {
	return &Publisher{rdb: rdb, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	return errors.Wrapf(p.rdb.Publish(ctx, p.channel, raw).Err(), "publish %s", env.Event)
}

func (p *Publisher) send(ctx context.Context, event string, users []chat.UserID, data any, invalidate ...string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "encode payload")
	}
	return p.Publish(ctx, Envelope{Event: event, Users: users, Data: raw, Invalidate: invalidate})
}

// Alert shows a notice to users, e.g. after a group rename or a removal.
func (p *Publisher) Alert(ctx context.Context, users []chat.UserID, message string, conversationID string) error {
	return p.send(ctx, chat.EventAlert, users, struct {
		Message        string `json:"message"`
		ConversationID string `json:"conversationId,omitempty"`
	}{message, conversationID})
}

// RefetchChats tells users their conversation list changed. The given
// conversations get their cached member sets dropped as well.
func (p *Publisher) RefetchChats(ctx context.Context, users []chat.UserID, changed ...string) error {
	return p.send(ctx, chat.EventRefetchChats, users, struct{}{}, changed...)
}

// NewRequest notifies a user about an incoming friend request.
func (p *Publisher) NewRequest(ctx context.Context, user chat.UserID) error {
	return p.send(ctx, chat.EventNewRequest, []chat.UserID{user}, struct{}{})
}
