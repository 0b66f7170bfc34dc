// Package store holds the durable message stores and the conversation
// membership lookups used by the chat hub.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"go-chat/internal/chat"
)

// Postgres keeps messages and conversation participants in the tables
// created by db.AutoMigrate.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) SaveMessage(ctx context.Context, rec chat.MessageRecord) error {
	atts := rec.Attachments
	if atts == nil {
		atts = []chat.Attachment{}
	}
	raw, err := json.Marshal(atts)
	if err != nil {
		return errors.Wrap(err, "encode attachments")
	}

	query := `INSERT INTO messages (conversation_id, sender_id, content, attachments)
        VALUES ($1, $2, $3, $4)`
	if _, err := p.db.ExecContext(ctx, query, rec.ConversationID, string(rec.Sender), rec.Content, string(raw)); err != nil {
		return errors.Wrapf(err, "insert message into %s", rec.ConversationID)
	}
	return nil
}

// Members returns chat.ErrUnknownConversation when the conversation has no
// participants.
func (p *Postgres) Members(ctx context.Context, conversationID string) ([]chat.UserID, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT user_id FROM participants WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, errors.Wrapf(err, "query members of %s", conversationID)
	}
	defer rows.Close()

	var members []chat.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan member")
		}
		members = append(members, chat.UserID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate members")
	}
	if len(members) == 0 {
		return nil, chat.ErrUnknownConversation
	}
	return members, nil
}

// CreateConversation inserts a conversation and its participants in one
// transaction. Existing rows are left alone.
func (p *Postgres) CreateConversation(ctx context.Context, id, name string, group bool, creator chat.UserID, members []chat.UserID) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, name, group_chat, creator_id) VALUES ($1, $2, $3, $4)
         ON CONFLICT (id) DO NOTHING`, id, name, group, string(creator)); err != nil {
		return errors.Wrapf(err, "insert conversation %s", id)
	}
	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2)
             ON CONFLICT DO NOTHING`, id, string(m)); err != nil {
			return errors.Wrapf(err, "insert participant %s", m)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// History returns a page of the conversation newest first, with sender names
// joined from users, plus the conversation's message count.
func (p *Postgres) History(ctx context.Context, conversationID string, offset, limit int) ([]chat.StoredMessage, int, error) {
	var total int
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&total); err != nil {
		return nil, 0, errors.Wrapf(err, "count messages of %s", conversationID)
	}

	query := `
		SELECT m.id, m.content, m.attachments, m.created_at, m.sender_id, COALESCE(u.name, '')
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := p.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "query history of %s", conversationID)
	}
	defer rows.Close()

	var out []chat.StoredMessage
	for rows.Next() {
		var (
			id     int64
			atts   []byte
			sender string
			msg    = chat.StoredMessage{ConversationID: conversationID}
		)
		if err := rows.Scan(&id, &msg.Content, &atts, &msg.CreatedAt, &sender, &msg.Sender.Name); err != nil {
			return nil, 0, errors.Wrap(err, "scan message")
		}
		if err := json.Unmarshal(atts, &msg.Attachments); err != nil {
			return nil, 0, errors.Wrapf(err, "decode attachments of message %d", id)
		}
		msg.ID = strconv.FormatInt(id, 10)
		msg.Sender.ID = chat.UserID(sender)
		out = append(out, msg)
	}
	return out, total, errors.Wrap(rows.Err(), "iterate history")
}
