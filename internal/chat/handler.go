package chat

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	myMiddleware "go-chat/internal/middleware"
)

type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	opts     ClientOptions
	log      *zap.Logger
}

// NewHandler serves websocket upgrades. An empty allowedOrigins list accepts
// any origin.
func NewHandler(hub *Hub, opts ClientOptions, allowedOrigins []string, log *zap.Logger) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RateInterval <= 0 {
		opts.RateInterval = time.Second
	}
	if opts.HandleTimeout <= 0 {
		opts.HandleTimeout = 5 * time.Second
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		opts: opts,
		log:  log,
	}
}

// ServeWs upgrades an authenticated request. The auth middleware has already
// rejected requests without a valid token.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, name, ok := myMiddleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s := Session{UserID: UserID(userID), Name: name}
	client := newClient(EndpointID(uuid.NewString()), s, h.hub, conn, h.opts, h.log.Named("client"))
	h.hub.Connect(s, client)

	go client.writePump()
	go client.readPump()
}

// Health reports live connection counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Stats())
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients do not send an Origin.
			return true
		}
		_, ok := set[strings.TrimRight(strings.ToLower(origin), "/")]
		return ok
	}
}
