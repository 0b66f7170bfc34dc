package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"go-chat/internal/chat"
)

type emitted struct {
	event   string
	users   []chat.UserID
	payload string
}

type fakeEmitter struct {
	calls []emitted
}

func (f *fakeEmitter) Emit(event string, users []chat.UserID, payload any) (chat.Delivery, error) {
	raw, _ := json.Marshal(payload)
	f.calls = append(f.calls, emitted{event, users, string(raw)})
	return chat.Delivery{Targeted: len(users), Delivered: len(users)}, nil
}

type fakeInvalidator struct {
	ids []string
	err error
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, ids ...string) error {
	f.ids = append(f.ids, ids...)
	return f.err
}

type fakePublish struct {
	channel string
	message []byte
}

func (f *fakePublish) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message = message.([]byte)
	return redis.NewIntResult(1, nil)
}

func newTestSubscriber(inval Invalidator) (*Subscriber, *fakeEmitter, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	em := &fakeEmitter{}
	return NewSubscriber(nil, "chat:events", em, inval, zap.New(core)), em, logs
}

func TestHandle_RoutesAllowedEvent(t *testing.T) {
	s, em, _ := newTestSubscriber(nil)

	s.handle(context.Background(), []byte(`{"event":"refetch-chats","users":["a","b"],"data":{"x":1}}`))

	require.Len(t, em.calls, 1)
	assert.Equal(t, chat.EventRefetchChats, em.calls[0].event)
	assert.Equal(t, []chat.UserID{"a", "b"}, em.calls[0].users)
	assert.JSONEq(t, `{"x":1}`, em.calls[0].payload)
}

func TestHandle_MissingDataBecomesEmptyObject(t *testing.T) {
	s, em, _ := newTestSubscriber(nil)

	s.handle(context.Background(), []byte(`{"event":"new-request","users":["a"]}`))

	require.Len(t, em.calls, 1)
	assert.JSONEq(t, `{}`, em.calls[0].payload)
}

func TestHandle_RejectsConnectionOwnedEvents(t *testing.T) {
	s, em, logs := newTestSubscriber(nil)

	for _, ev := range []string{chat.EventOnlineUsers, chat.EventTypingStart, "whatever"} {
		s.handle(context.Background(), []byte(`{"event":"`+ev+`","users":["a"]}`))
	}

	assert.Empty(t, em.calls)
	assert.Equal(t, 3, logs.FilterMessage("relay event not allowed").Len())
}

func TestHandle_MalformedEnvelope(t *testing.T) {
	s, em, logs := newTestSubscriber(nil)

	s.handle(context.Background(), []byte(`not json`))

	assert.Empty(t, em.calls)
	assert.Equal(t, 1, logs.FilterMessage("malformed relay envelope").Len())
}

func TestHandle_InvalidatesBeforeEmit(t *testing.T) {
	inval := &fakeInvalidator{}
	s, em, _ := newTestSubscriber(inval)

	s.handle(context.Background(), []byte(`{"invalidate":["c1","c2"]}`))
	assert.Equal(t, []string{"c1", "c2"}, inval.ids)
	assert.Empty(t, em.calls, "invalidate-only envelope emits nothing")

	inval.err = errors.New("redis down")
	s.handle(context.Background(), []byte(`{"event":"alert","users":["a"],"invalidate":["c3"]}`))
	assert.Len(t, em.calls, 1, "invalidate failure must not block delivery")
}

func TestPublisher_RoundTripsThroughHandle(t *testing.T) {
	rdb := &fakePublish{}
	pub := NewPublisher(rdb, "chat:events")
	inval := &fakeInvalidator{}
	s, em, _ := newTestSubscriber(inval)

	require.NoError(t, pub.RefetchChats(context.Background(), []chat.UserID{"a"}, "c9"))
	assert.Equal(t, "chat:events", rdb.channel)

	s.handle(context.Background(), rdb.message)
	assert.Equal(t, []string{"c9"}, inval.ids)
	require.Len(t, em.calls, 1)
	assert.Equal(t, chat.EventRefetchChats, em.calls[0].event)

	require.NoError(t, pub.Alert(context.Background(), []chat.UserID{"b"}, "renamed", "c9"))
	s.handle(context.Background(), rdb.message)
	require.Len(t, em.calls, 2)
	assert.JSONEq(t, `{"message":"renamed","conversationId":"c9"}`, em.calls[1].payload)
}
