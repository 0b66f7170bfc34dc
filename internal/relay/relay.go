// Package relay carries events raised outside a websocket connection (REST
// controllers, admin tools, other instances) over Redis pub/sub and hands
// them to the local hub for delivery.
package relay

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-chat/internal/chat"
)

// Envelope is the wire form of a relayed event. Invalidate lists
// conversations whose cached member sets are stale.
type Envelope struct {
	Event      string          `json:"event"`
	Users      []chat.UserID   `json:"users"`
	Data       json.RawMessage `json:"data,omitempty"`
	Invalidate []string        `json:"invalidate,omitempty"`
}

// relayable are the events a collaborator may push through the relay.
// Presence and typing are owned by connections and are never accepted here.
var relayable = map[string]struct{}{
	chat.EventAlert:           {},
	chat.EventRefetchChats:    {},
	chat.EventNewRequest:      {},
	chat.EventNewMessage:      {},
	chat.EventNewMessageAlert: {},
}

type Emitter interface {
	Emit(event string, users []chat.UserID, payload any) (chat.Delivery, error)
}

type Invalidator interface {
	Invalidate(ctx context.Context, conversationIDs ...string) error
}

type subscribeClient interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type Subscriber struct {
	rdb     subscribeClient
	channel string
	emit    Emitter
	inval   Invalidator
	log     *zap.Logger
}

// NewSubscriber builds a subscriber. inval may be nil when no member cache
// is configured.
func NewSubscriber(rdb subscribeClient, channel string, emit Emitter, inval Invalidator, log *zap.Logger) *Subscriber {
	return &Subscriber{rdb: rdb, channel: channel, emit: emit, inval: inval, log: log}
}

// Run listens on the channel until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.rdb.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrapf(err, "subscribe %s", s.channel)
	}
	s.log.Info("relay subscribed", zap.String("channel", s.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload []byte) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.log.Warn("malformed relay envelope", zap.Error(err))
		return
	}

	if len(env.Invalidate) > 0 && s.inval != nil {
		if err := s.inval.Invalidate(ctx, env.Invalidate...); err != nil {
			s.log.Warn("invalidate members", zap.Strings("conversations", env.Invalidate), zap.Error(err))
		}
	}

	if env.Event == "" {
		return
	}
	if _, ok := relayable[env.Event]; !ok {
		s.log.Warn("relay event not allowed", zap.String("event", env.Event))
		return
	}

	data := env.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	res, err := s.emit.Emit(env.Event, env.Users, data)
	if err != nil {
		s.log.Error("relay emit", zap.String("event", env.Event), zap.Error(err))
		return
	}
	s.log.Debug("relayed event", zap.String("event", env.Event),
		zap.Int("targeted", res.Targeted), zap.Int("delivered", res.Delivered))
}
