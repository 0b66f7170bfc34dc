// Command seed creates demo accounts and a conversation between them, then
// prints a session token per account.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"go-chat/internal/chat"
	"go-chat/internal/config"
	"go-chat/internal/db"
	"go-chat/internal/logger"
	"go-chat/internal/relay"
	"go-chat/internal/store"
	"go-chat/internal/user"
)

type seeded struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	users := flag.String("users", "alice,bob,carol", "comma separated usernames")
	password := flag.String("password", "password123", "password for every seeded account")
	name := flag.String("name", "", "conversation name (group chats)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
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

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	database, err := db.NewDatabase(ctx, cfg.Store.DSN)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer database.Close()
	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}

	svc := user.NewService(user.NewRepository(database.Conn), cfg.JWTSecret)

	var (
		out     []seeded
		members []chat.UserID
	)
	for _, username := range strings.Split(*users, ",") {
		username = strings.TrimSpace(username)
		if username == "" {
			continue
		}
		u, err := svc.CreateUser(ctx, &user.CreateRequest{
			Name:     strings.ToUpper(username[:1]) + username[1:],
			Username: username,
			Password: *password,
		})
		if err != nil {
			log.Fatal("create user", zap.String("username", username), zap.Error(err))
		}
		token, err := svc.IssueToken(u, *ttl)
		if err != nil {
			log.Fatal("issue token", zap.Error(err))
		}
		out = append(out, seeded{ID: u.ID, Username: u.Username, Token: token})
		members = append(members, chat.UserID(u.ID))
	}
	if len(members) < 2 {
		log.Fatal("need at least two users for a conversation")
	}

	convID := uuid.NewString()
	group := len(members) > 2
	if err := store.NewPostgres(database.Conn).CreateConversation(ctx, convID, *name, group, members[0], members); err != nil {
		log.Fatal("create conversation", zap.Error(err))
	}
	log.Info("conversation created", zap.String("id", convID), zap.Bool("group", group), zap.Int("members", len(members)))

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pub := relay.NewPublisher(rdb, cfg.Redis.EventChannel)
		if err := pub.RefetchChats(ctx, members, convID); err != nil {
			log.Warn("publish refetch-chats", zap.Error(err))
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{"conversationId": convID, "users": out})
}
