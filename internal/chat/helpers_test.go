package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEndpoint records every frame pushed to it.
type fakeEndpoint struct {
	id EndpointID

	mu     sync.Mutex
	frames []Frame
	closed bool
}

func newEndpoint(id string) *fakeEndpoint {
	return &fakeEndpoint{id: EndpointID(id)}
}

func (e *fakeEndpoint) ID() EndpointID { return e.id }

func (e *fakeEndpoint) Send(raw []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEndpointClosed
	}
	f, err := DecodeFrame(raw)
	if err != nil {
		return err
	}
	e.frames = append(e.frames, f)
	return nil
}

func (e *fakeEndpoint) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Close lets the hub close the endpoint on shutdown.
func (e *fakeEndpoint) Close() error {
	e.close()
	return nil
}

func (e *fakeEndpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEndpoint) events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.frames))
	for i, f := range e.frames {
		out[i] = f.Event
	}
	return out
}

func (e *fakeEndpoint) last(t *testing.T, event string, v any) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.frames) - 1; i >= 0; i-- {
		if e.frames[i].Event == event {
			require.NoError(t, json.Unmarshal(e.frames[i].Data, v))
			return
		}
	}
	t.Fatalf("endpoint %s never got %q", e.id, event)
}

// blockingMembers never answers before ctx is done.
type blockingMembers struct{}

func (blockingMembers) Members(ctx context.Context, id string) ([]UserID, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type memStore struct {
	mu      sync.Mutex
	recs    []MessageRecord
	err     error
	release chan struct{} // when set, SaveMessage waits for it
}

func (s *memStore) SaveMessage(ctx context.Context, rec MessageRecord) error {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memStore) saved() []MessageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MessageRecord(nil), s.recs...)
}

type staticMembers struct {
	members map[string][]UserID
	err     error
}

func (m staticMembers) Members(ctx context.Context, id string) ([]UserID, error) {
	if m.err != nil {
		return nil, m.err
	}
	got, ok := m.members[id]
	if !ok {
		return nil, ErrUnknownConversation
	}
	return got, nil
}

func count(events []string, want string) int {
	n := 0
	for _, e := range events {
		if e == want {
			n++
		}
	}
	return n
}
