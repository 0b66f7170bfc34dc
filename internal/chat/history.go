package chat

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	myMiddleware "go-chat/internal/middleware"
)

// HistoryPageSize is the number of messages per history page.
const HistoryPageSize = 20

// StoredMessage is a persisted message as read back from the store.
type StoredMessage struct {
	ID             string       `json:"id"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments"`
	Sender         Sender       `json:"sender"`
	ConversationID string       `json:"conversationId"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// HistoryStore pages through a conversation newest first. It also returns
// the total number of messages in the conversation.
type HistoryStore interface {
	History(ctx context.Context, conversationID string, offset, limit int) ([]StoredMessage, int, error)
}

type HistoryPage struct {
	Messages   []StoredMessage `json:"messages"`
	Page       int             `json:"page"`
	TotalPages int             `json:"totalPages"`
}

type HistoryHandler struct {
	store   HistoryStore
	members MembershipSource
	log     *zap.Logger
}

func NewHistoryHandler(store HistoryStore, members MembershipSource, log *zap.Logger) *HistoryHandler {
	return &HistoryHandler{store: store, members: members, log: log}
}

// Messages serves GET /api/messages/{id}?page=N. Each page is returned
// oldest first. Without a membership source nobody can prove membership, so
// every request is refused.
func (h *HistoryHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	convID := chi.URLParam(r, "id")
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	if h.members == nil {
		http.Error(w, "You are not allowed to access this chat", http.StatusForbidden)
		return
	}
	members, err := h.members.Members(r.Context(), convID)
	switch {
	case errors.Is(err, ErrUnknownConversation):
		http.Error(w, "No chat found", http.StatusNotFound)
		return
	case err != nil:
		h.log.Error("history membership lookup", zap.String("conversation", convID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	case !contains(members, UserID(userID)):
		http.Error(w, "You are not allowed to access this chat", http.StatusForbidden)
		return
	}

	msgs, total, err := h.store.History(r.Context(), convID, (page-1)*HistoryPageSize, HistoryPageSize)
	if err != nil {
		h.log.Error("load history", zap.String("conversation", convID), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if msgs == nil {
		msgs = []StoredMessage{}
	}

	writeJSON(w, http.StatusOK, HistoryPage{
		Messages:   msgs,
		Page:       page,
		TotalPages: (total + HistoryPageSize - 1) / HistoryPageSize,
	})
}

func contains(users []UserID, u UserID) bool {
	for _, m := range users {
		if m == u {
			return true
		}
	}
	return false
}
