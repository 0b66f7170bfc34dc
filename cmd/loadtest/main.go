// Command loadtest drives a running server with pairs of users chatting over
// websockets. Accounts and conversations are created directly in Postgres and
// tokens are minted with the server's secret.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"go-chat/internal/chat"
	"go-chat/internal/config"
	"go-chat/internal/db"
	"go-chat/internal/logger"
	"go-chat/internal/store"
	"go-chat/internal/user"
)

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
}

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	wsURL := flag.String("url", "ws://localhost:8080/ws", "websocket endpoint")
	pairs := flag.Int("pairs", 50, "number of user pairs")
	msgs := flag.Int("messages", 20, "messages per user")
	gap := flag.Duration("gap", 60*time.Millisecond, "pause between messages (keep under the server rate limit)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync()
	if cfg.Store.DSN == "" || cfg.JWTSecret == "" {
		log.Fatal("DB_DSN and JWT_SECRET are required")
	}

	ctx := context.Background()
	database, err := db.NewDatabase(ctx, cfg.Store.DSN)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer database.Close()
	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	users := user.NewService(user.NewRepository(database.Conn), cfg.JWTSecret)
	convs := store.NewPostgres(database.Conn)

	log.Info("starting load test", zap.Int("users", *pairs*2), zap.Int("messages", *msgs))
	start := time.Now()
	var (
		wg sync.WaitGroup
		st stats
	)
	// User 0 talks to user 1, user 2 to user 3...
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(ctx, pairID, users, convs, *wsURL, *msgs, *gap, &st); err != nil {
				st.failed.Add(1)
				log.Warn("pair failed", zap.Int("pair", pairID), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()

	log.Info("load test complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("sent", st.sent.Load()),
		zap.Int64("received", st.received.Load()),
		zap.Int64("failedPairs", st.failed.Load()))
}

func runPair(ctx context.Context, pairID int, users *user.Service, convs *store.Postgres, wsURL string, msgs int, gap time.Duration, st *stats) error {
	var (
		tokens  [2]string
		members []chat.UserID
	)
	for i, side := range []string{"a", "b"} {
		username := fmt.Sprintf("u_%d_%s", pairID, side)
		u, err := users.CreateUser(ctx, &user.CreateRequest{Name: username, Username: username, Password: "password123"})
		if err != nil {
			return err
		}
		if tokens[i], err = users.IssueToken(u, time.Hour); err != nil {
			return err
		}
		members = append(members, chat.UserID(u.ID))
	}

	convID := uuid.NewString()
	if err := convs.CreateConversation(ctx, convID, "", false, members[0], members); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := range tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			errs <- chatter(wsURL, token, convID, members, msgs, gap, st)
		}(tokens[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// chatter sends msgs messages and counts the new-message frames it gets back
// until the peer's messages (and its own echoes) have arrived or reads stall.
func chatter(wsURL, token, convID string, members []chat.UserID, msgs int, gap time.Duration, st *stats) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		want := msgs * 2
		for got := 0; got < want; {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := chat.DecodeFrame(raw)
			if err == nil && f.Event == chat.EventNewMessage {
				got++
				st.received.Add(1)
			}
		}
	}()

	for i := 0; i < msgs; i++ {
		frame, err := chat.EncodeFrame(chat.EventNewMessage, chat.NewMessageIn{
			ConversationID: convID,
			Members:        members,
			Message:        chat.MessageBody{Content: fmt.Sprintf("load test msg %d", i)},
		})
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		st.sent.Add(1)
		time.Sleep(gap)
	}
	<-readDone
	return nil
}
