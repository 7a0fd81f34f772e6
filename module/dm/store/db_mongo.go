package store

import (
	"context"
	"errors"
	"time"

	"DMSync/data/database/mgo/mongoutil"
	"DMSync/module/dm/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	FieldID             = "_id"
	FieldParticipants   = "participants"
	FieldPairKey        = "pair_key"
	FieldCreatedAt      = "created_at"
	FieldUpdatedAt      = "updated_at"
	FieldLastMessage    = "last_message"
	FieldMaxSeq         = "max_seq"
	FieldLastAt         = "last_at"
	FieldConversationID = "conversation_id"
	FieldSeq            = "seq"
	FieldUserID         = "user_id"
	FieldRead           = "read"
	FieldReadAt         = "read_at"

	UserTable = "users"
)

// ClientFunc 每次操作取当前连接（MongoManager 重连后 client 会变）
type ClientFunc func() (*mongoutil.Client, bool)

type MongoStore struct {
	client ClientFunc
}

func NewMongoStore(client ClientFunc) *MongoStore {
	return &MongoStore{client: client}
}

func (s *MongoStore) handle() (*mongo.Database, mongoutil.Tx, error) {
	cli, ok := s.client()
	if !ok || cli == nil {
		return nil, nil, ErrUnavailable
	}
	tx := cli.GetTx()
	if tx == nil {
		tx = mongoutil.NoTx{}
	}
	return cli.GetDB(), tx, nil
}

func (s *MongoStore) coll(name string) (*mongo.Collection, error) {
	db, _, err := s.handle()
	if err != nil {
		return nil, err
	}
	return db.Collection(name), nil
}

func closeCursor(ctx context.Context, cur *mongo.Cursor) {
	_ = cur.Close(ctx)
}

// ---------------- conversation ----------------

func (s *MongoStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	c, err := s.coll(model.Conversation{}.GetTableName())
	if err != nil {
		return nil, err
	}
	var out model.Conversation
	if err := c.FindOne(ctx, bson.M{FieldID: id}).Decode(&out); err != nil {
		if mongoutil.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (s *MongoStore) FindConversationByPair(ctx context.Context, a, b string) (*model.Conversation, error) {
	c, err := s.coll(model.Conversation{}.GetTableName())
	if err != nil {
		return nil, err
	}
	// 精确匹配：数组恰好两个元素且同时包含 a、b
	filter := bson.M{FieldParticipants: bson.M{"$all": bson.A{a, b}, "$size": 2}}
	opts := options.Find().SetSort(bson.D{{Key: FieldCreatedAt, Value: 1}}).SetLimit(8)
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer closeCursor(ctx, cur)

	for cur.Next(ctx) {
		var conv model.Conversation
		if err := cur.Decode(&conv); err != nil {
			return nil, err
		}
		if conv.ExactPair(a, b) {
			return &conv, nil
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}

func (s *MongoStore) CreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	c, err := s.coll(conv.GetTableName())
	if err != nil {
		return nil, false, err
	}
	res, err := c.UpdateOne(ctx,
		bson.M{FieldID: conv.ID},
		bson.M{"$setOnInsert": conv},
		options.Update().SetUpsert(true),
	)
	switch {
	case err == nil && res.UpsertedCount > 0:
		return conv, true, nil
	case err == nil, mongoutil.IsDuplicate(err):
		// 并发创建：另一方已写入，读回胜出的文档
		stored, gerr := s.GetConversation(ctx, conv.ID)
		if errors.Is(gerr, ErrNotFound) && conv.PairKey != "" {
			stored, gerr = s.conversationByPairKey(ctx, conv.PairKey)
		}
		if gerr != nil {
			return nil, false, gerr
		}
		return stored, false, nil
	default:
		return nil, false, err
	}
}

func (s *MongoStore) conversationByPairKey(ctx context.Context, key string) (*model.Conversation, error) {
	c, err := s.coll(model.Conversation{}.GetTableName())
	if err != nil {
		return nil, err
	}
	var out model.Conversation
	if err := c.FindOne(ctx, bson.M{FieldPairKey: key}).Decode(&out); err != nil {
		if mongoutil.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (s *MongoStore) ListConversations(ctx context.Context, userID string, limit int) ([]*model.Conversation, error) {
	c, err := s.coll(model.Conversation{}.GetTableName())
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: FieldUpdatedAt, Value: -1}, {Key: FieldID, Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := c.Find(ctx, bson.M{FieldParticipants: userID}, opts)
	if err != nil {
		return nil, err
	}
	defer closeCursor(ctx, cur)

	var out []*model.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------- message ----------------

// AppendMessage 在一个事务里：会话 max_seq+1、last_at 取 max($$NOW, last_at)、
// 写 last_message 摘要，然后插入消息
func (s *MongoStore) AppendMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	db, tx, err := s.handle()
	if err != nil {
		return nil, err
	}
	summary := msg.Summary()

	var out *model.Message
	err = tx.Transaction(ctx, func(ctx context.Context) error {
		filter := bson.M{FieldID: msg.ConversationID, FieldParticipants: msg.SenderID}
		update := mongo.Pipeline{
			{{Key: "$set", Value: bson.D{
				{Key: FieldMaxSeq, Value: bson.D{{Key: "$add", Value: bson.A{
					bson.D{{Key: "$ifNull", Value: bson.A{"$" + FieldMaxSeq, 0}}}, 1,
				}}}},
				{Key: FieldLastAt, Value: bson.D{{Key: "$max", Value: bson.A{
					"$$NOW", bson.D{{Key: "$ifNull", Value: bson.A{"$" + FieldLastAt, "$$NOW"}}},
				}}}},
			}}},
			{{Key: "$set", Value: bson.D{
				{Key: FieldUpdatedAt, Value: "$" + FieldLastAt},
				{Key: FieldLastMessage, Value: bson.D{
					{Key: "text", Value: bson.D{{Key: "$literal", Value: summary.Text}}},
					{Key: "sender_id", Value: bson.D{{Key: "$literal", Value: summary.SenderID}}},
					{Key: "created_at", Value: "$" + FieldLastAt},
					{Key: "seq", Value: "$" + FieldMaxSeq},
				}},
			}}},
		}
		opts := options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.M{FieldMaxSeq: 1, FieldLastAt: 1})

		var head struct {
			MaxSeq int64     `bson:"max_seq"`
			LastAt time.Time `bson:"last_at"`
		}
		err := db.Collection(model.Conversation{}.GetTableName()).FindOneAndUpdate(ctx, filter, update, opts).Decode(&head)
		if mongoutil.IsNotFound(err) {
			return s.missReason(ctx, db, msg.ConversationID)
		}
		if err != nil {
			return err
		}

		m := cloneMsg(msg)
		m.Seq = head.MaxSeq
		m.CreatedAt = head.LastAt
		if _, err := db.Collection(m.GetTableName()).InsertOne(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) missReason(ctx context.Context, db *mongo.Database, convID string) error {
	n, err := db.Collection(model.Conversation{}.GetTableName()).CountDocuments(ctx, bson.M{FieldID: convID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrNotParticipant
}

func (s *MongoStore) ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]*model.Message, error) {
	c, err := s.coll(model.Message{}.GetTableName())
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: FieldSeq, Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	filter := bson.M{FieldConversationID: conversationID, FieldSeq: bson.M{"$gt": afterSeq}}
	cur, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer closeCursor(ctx, cur)

	out := make([]*model.Message, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---------------- notification ----------------

func (s *MongoStore) InsertNotification(ctx context.Context, n *model.Notification) (bool, error) {
	c, err := s.coll(n.GetTableName())
	if err != nil {
		return false, err
	}
	res, err := c.UpdateOne(ctx,
		bson.M{FieldID: n.ID},
		bson.M{"$setOnInsert": n},
		options.Update().SetUpsert(true),
	)
	if mongoutil.IsDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return res.UpsertedCount > 0, nil
}

func (s *MongoStore) GetNotification(ctx context.Context, id string) (*model.Notification, error) {
	c, err := s.coll(model.Notification{}.GetTableName())
	if err != nil {
		return nil, err
	}
	var out model.Notification
	if err := c.FindOne(ctx, bson.M{FieldID: id}).Decode(&out); err != nil {
		if mongoutil.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (s *MongoStore) ListNotifications(ctx context.Context, userID string, limit int) ([]*model.Notification, error) {
	c, err := s.coll(model.Notification{}.GetTableName())
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(bson.D{{Key: FieldCreatedAt, Value: -1}, {Key: FieldID, Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := c.Find(ctx, bson.M{FieldUserID: userID}, opts)
	if err != nil {
		return nil, err
	}
	defer closeCursor(ctx, cur)

	var out []*model.Notification
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) CountUnread(ctx context.Context, userID string) (int64, error) {
	c, err := s.coll(model.Notification{}.GetTableName())
	if err != nil {
		return 0, err
	}
	return c.CountDocuments(ctx, bson.M{FieldUserID: userID, FieldRead: false})
}

func (s *MongoStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	db, tx, err := s.handle()
	if err != nil {
		return 0, err
	}
	var modified int64
	err = tx.Transaction(ctx, func(ctx context.Context) error {
		res, err := db.Collection(model.Notification{}.GetTableName()).UpdateMany(ctx,
			bson.M{FieldUserID: userID, FieldRead: false},
			bson.M{"$set": bson.M{FieldRead: true, FieldReadAt: at}},
		)
		if err != nil {
			return err
		}
		modified = res.ModifiedCount
		return nil
	})
	if err != nil {
		return 0, err
	}
	return modified, nil
}

func (s *MongoStore) DeleteNotification(ctx context.Context, id string) (bool, error) {
	c, err := s.coll(model.Notification{}.GetTableName())
	if err != nil {
		return false, err
	}
	res, err := c.DeleteOne(ctx, bson.M{FieldID: id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// ---------------- users ----------------

func (s *MongoStore) GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error) {
	out := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	c, err := s.coll(UserTable)
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, bson.M{FieldID: bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer closeCursor(ctx, cur)

	for cur.Next(ctx) {
		var u model.User
		if err := cur.Decode(&u); err != nil {
			return nil, err
		}
		out[u.ID] = &u
	}
	return out, cur.Err()
}
