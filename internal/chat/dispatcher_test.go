package chat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatch_EmptyTargets(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	res, err := d.Dispatch(EventTypingStart, nil, ConversationRef{ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, Delivery{}, res)
}

func TestDispatch_SameFrameToEveryTarget(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	a, b := newEndpoint("a"), newEndpoint("b")

	res, err := d.Dispatch(EventNewMessageAlert, []Endpoint{a, b}, ConversationRef{ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, Delivery{Targeted: 2, Delivered: 2}, res)

	for _, ep := range []*fakeEndpoint{a, b} {
		var got ConversationRef
		ep.last(t, EventNewMessageAlert, &got)
		assert.Equal(t, "c1", got.ConversationID)
	}
}

func TestDispatch_ClosedEndpointIsDropped(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	a, b := newEndpoint("a"), newEndpoint("b")
	b.close()

	res, err := d.Dispatch(EventNewMessageAlert, []Endpoint{a, b}, ConversationRef{ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, Delivery{Targeted: 2, Delivered: 1}, res)
	assert.Equal(t, []string{EventNewMessageAlert}, a.events())
	assert.Empty(t, b.events())
}

func TestDispatch_UnencodablePayload(t *testing.T) {
	d := NewDispatcher(zap.NewNop())
	a := newEndpoint("a")

	_, err := d.Dispatch("x", []Endpoint{a}, math.Inf(1))
	assert.Error(t, err)
	assert.Empty(t, a.events())
}
