package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go-chat/internal/chat"
)

const messagesCollection = "messages"

// Mongo stores messages as documents in the "messages" collection, one
// InsertOne per message.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

type messageDoc struct {
	ID          primitive.ObjectID `bson:"_id"`
	Content     string             `bson:"content"`
	Attachments []chat.Attachment  `bson:"attachments"`
	Sender      string             `bson:"sender"`
	Chat        string             `bson:"chat"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetMaxPoolSize(20))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, errors.Wrap(err, "ping mongo")
	}
	return &Mongo{
		client: cli,
		coll:   cli.Database(database).Collection(messagesCollection),
		now:    time.Now,
	}, nil
}

func (m *Mongo) SaveMessage(ctx context.Context, rec chat.MessageRecord) error {
	if _, err := m.coll.InsertOne(ctx, newMessageDoc(rec, m.now())); err != nil {
		return errors.Wrapf(err, "insert message into %s", rec.ConversationID)
	}
	return nil
}

// History pages through the conversation newest first. Sender names are not
// stored alongside Mongo documents, so only the sender id is filled.
func (m *Mongo) History(ctx context.Context, conversationID string, offset, limit int) ([]chat.StoredMessage, int, error) {
	filter := bson.M{"chat": conversationID}
	total, err := m.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "count messages of %s", conversationID)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "find history of %s", conversationID)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, errors.Wrap(err, "decode history")
	}

	out := make([]chat.StoredMessage, len(docs))
	for i, d := range docs {
		out[i] = d.stored()
	}
	return out, int(total), nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func newMessageDoc(rec chat.MessageRecord, now time.Time) messageDoc {
	atts := rec.Attachments
	if atts == nil {
		atts = []chat.Attachment{}
	}
	now = now.UTC()
	return messageDoc{
		ID:          primitive.NewObjectIDFromTimestamp(now),
		Content:     rec.Content,
		Attachments: atts,
		Sender:      string(rec.Sender),
		Chat:        rec.ConversationID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (d messageDoc) stored() chat.StoredMessage {
	atts := d.Attachments
	if atts == nil {
		atts = []chat.Attachment{}
	}
	return chat.StoredMessage{
		ID:             d.ID.Hex(),
		Content:        d.Content,
		Attachments:    atts,
		Sender:         chat.Sender{ID: chat.UserID(d.Sender)},
		ConversationID: d.Chat,
		CreatedAt:      d.CreatedAt,
	}
}
