package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	myMiddleware "go-chat/internal/middleware"
)

// sliceHistory holds messages newest first.
type sliceHistory struct {
	msgs []StoredMessage
	err  error
}

func (s sliceHistory) History(ctx context.Context, id string, offset, limit int) ([]StoredMessage, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	if offset >= len(s.msgs) {
		return nil, len(s.msgs), nil
	}
	end := offset + limit
	if end > len(s.msgs) {
		end = len(s.msgs)
	}
	return append([]StoredMessage(nil), s.msgs[offset:end]...), len(s.msgs), nil
}

func newestFirst(n int) []StoredMessage {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]StoredMessage, n)
	for i := range out {
		out[i] = StoredMessage{ID: fmt.Sprint(n - i), CreatedAt: base.Add(time.Duration(n-i) * time.Minute)}
	}
	return out
}

func historyRouter(h *HistoryHandler) http.Handler {
	auth := myMiddleware.NewAuthMiddleware(tokenTable{"tok-a": {"A", "Ada"}, "tok-z": {"Z", "Zed"}})
	r := chi.NewRouter()
	r.With(auth.Handle).Get("/api/messages/{id}", h.Messages)
	return r
}

func getHistory(t *testing.T, h http.Handler, path, token string) (*httptest.ResponseRecorder, HistoryPage) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var page HistoryPage
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	}
	return rec, page
}

func TestHistory_PagesOldestFirst(t *testing.T) {
	members := staticMembers{members: map[string][]UserID{"c1": {"A", "B"}}}
	h := historyRouter(NewHistoryHandler(sliceHistory{msgs: newestFirst(25)}, members, zap.NewNop()))

	rec, page := getHistory(t, h, "/api/messages/c1", "tok-a")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Messages, HistoryPageSize)
	assert.Equal(t, "6", page.Messages[0].ID)
	assert.Equal(t, "25", page.Messages[HistoryPageSize-1].ID)

	_, page = getHistory(t, h, "/api/messages/c1?page=2", "tok-a")
	require.Len(t, page.Messages, 5)
	assert.Equal(t, "1", page.Messages[0].ID)

	_, page = getHistory(t, h, "/api/messages/c1?page=9", "tok-a")
	assert.NotNil(t, page.Messages)
	assert.Empty(t, page.Messages)
}

func TestHistory_Access(t *testing.T) {
	members := staticMembers{members: map[string][]UserID{"c1": {"A", "B"}}}
	h := historyRouter(NewHistoryHandler(sliceHistory{}, members, zap.NewNop()))

	rec, _ := getHistory(t, h, "/api/messages/c1", "tok-z")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = getHistory(t, h, "/api/messages/ghost", "tok-a")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = getHistory(t, h, "/api/messages/c1", "bad")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHistory_WithoutMembershipSourceRefusesEveryone(t *testing.T) {
	h := historyRouter(NewHistoryHandler(sliceHistory{msgs: newestFirst(3)}, nil, zap.NewNop()))

	rec, page := getHistory(t, h, "/api/messages/someone-elses-chat", "tok-z")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, page.Messages)

	rec, _ = getHistory(t, h, "/api/messages/c1", "tok-a")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHistory_StoreFailure(t *testing.T) {
	members := staticMembers{members: map[string][]UserID{"c1": {"A"}}}
	h := historyRouter(NewHistoryHandler(sliceHistory{err: errors.New("boom")}, members, zap.NewNop()))
	rec, _ := getHistory(t, h, "/api/messages/c1", "tok-a")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
