package user

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	myMiddleware "go-chat/internal/middleware"
)

// DefaultTokenTTL matches the lifetime of the web client's session cookie.
const DefaultTokenTTL = 15 * 24 * time.Hour

type Handler struct {
	Service  *Service
	TokenTTL time.Duration
	log      *zap.Logger
}

type authResponse struct {
	User  *User  `json:"user"`
	Token string `json:"access_token"`
}

func NewHandler(s *Service, log *zap.Logger) *Handler {
	return &Handler{Service: s, TokenTTL: DefaultTokenTTL, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	u, err := h.Service.Register(r.Context(), &req)
	switch {
	case errors.Is(err, ErrUsernameTaken):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, ErrInvalidCredentials):
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	case err != nil:
		h.log.Error("register", zap.String("username", req.Username), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.respondWithToken(w, http.StatusCreated, u)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	u, err := h.Service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			h.log.Error("login", zap.String("username", req.Username), zap.Error(err))
		}
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	h.respondWithToken(w, http.StatusOK, u)
}

// Logout clears the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     myMiddleware.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondWithToken(w http.ResponseWriter, status int, u *User) {
	token, err := h.Service.IssueToken(u, h.TokenTTL)
	if err != nil {
		h.log.Error("issue token", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     myMiddleware.TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.TokenTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(authResponse{User: u, Token: token})
}
