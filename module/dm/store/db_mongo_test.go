package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"DMSync/data/database/mgo/mongoutil"
	"DMSync/module/dm/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	mongoURI string
	dbSeq    atomic.Int64
)

// TestMain 启动单节点副本集（事务需要副本集）；没有 docker 时只跑内存实现的用例
func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := startMongo(ctx)
	if err != nil {
		log.Printf("mongo container unavailable, skipping mongo store tests: %v", err)
	} else {
		uri, err := container.ConnectionString(ctx)
		if err != nil {
			log.Printf("failed to get connection string: %v", err)
		} else {
			mongoURI = directURI(uri)
		}
	}

	code := m.Run()

	if container != nil {
		if err := container.Terminate(ctx); err != nil {
			log.Printf("failed to terminate container: %s", err)
		}
	}
	os.Exit(code)
}

func startMongo(ctx context.Context) (c *mongodb.MongoDBContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, fmt.Errorf("start mongo: %v", r)
		}
	}()
	return mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
}

// directURI 副本集成员地址是容器内地址，测试从宿主机直连
func directURI(uri string) string {
	switch {
	case strings.Contains(uri, "?"):
		return uri + "&directConnection=true"
	case strings.HasSuffix(uri, "/"):
		return uri + "?directConnection=true"
	}
	return uri + "/?directConnection=true"
}

func newMongoStore(t *testing.T) (*MongoStore, *mongoutil.Client) {
	t.Helper()
	if mongoURI == "" {
		t.Skip("mongo container not running")
	}
	ctx := context.Background()
	cli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{
		Uri:      mongoURI,
		Database: fmt.Sprintf("dmsync_test_%d", dbSeq.Add(1)),
	})
	require.NoError(t, err)
	require.True(t, cli.GetTx().Supported(), "replica set should support transactions")
	t.Cleanup(func() {
		_ = cli.GetDB().Drop(context.Background())
		_ = cli.Close(context.Background())
	})

	st := NewMongoStore(func() (*mongoutil.Client, bool) { return cli, true })
	require.NoError(t, st.EnsureIndexes(ctx))
	return st, cli
}

func TestMongoStoreCreateConversationConcurrent(t *testing.T) {
	st, cli := newMongoStore(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		ids     = make([]string, workers)
		errs    = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, ok, err := st.CreateConversation(ctx, model.NewConversation(a, b, time.Now()))
			errs[i] = err
			if err == nil {
				ids[i] = conv.ID
				if ok {
					created.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, model.ConversationID("u1", "u2"), ids[i])
	}
	assert.Equal(t, int32(1), created.Load())

	n, err := cli.GetDB().Collection(model.Conversation{}.GetTableName()).CountDocuments(ctx, bson.M{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMongoStoreCreateConversationPairKeyWinner(t *testing.T) {
	st, _ := newMongoStore(t)
	ctx := context.Background()

	legacy := model.NewConversation("u1", "u2", time.Now())
	legacy.ID = "legacy-u1-u2"
	_, created, err := st.CreateConversation(ctx, legacy)
	require.NoError(t, err)
	require.True(t, created)

	// 新 id 撞上已有 pair_key，返回已存在的文档
	got, created, err := st.CreateConversation(ctx, model.NewConversation("u2", "u1", time.Now()))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "legacy-u1-u2", got.ID)
}

func TestMongoStoreFindByPairIsExact(t *testing.T) {
	st, cli := newMongoStore(t)
	ctx := context.Background()
	coll := cli.GetDB().Collection(model.Conversation{}.GetTableName())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	docs := []any{
		&model.Conversation{ID: "group-abc", Participants: []string{"a", "b", "c"}, CreatedAt: base},
		&model.Conversation{ID: "legacy-ab-2", Participants: []string{"b", "a"}, CreatedAt: base.Add(time.Hour)},
		&model.Conversation{ID: "legacy-ab-1", Participants: []string{"a", "b"}, CreatedAt: base.Add(time.Minute)},
	}
	_, err := coll.InsertMany(ctx, docs)
	require.NoError(t, err)

	got, err := st.FindConversationByPair(ctx, "b", "a")
	require.NoError(t, err)
	assert.Equal(t, "legacy-ab-1", got.ID)

	_, err = st.FindConversationByPair(ctx, "a", "c")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoStoreAppendMessage(t *testing.T) {
	st, cli := newMongoStore(t)
	ctx := context.Background()

	conv, _, err := st.CreateConversation(ctx, model.NewConversation("u1", "u2", time.Now()))
	require.NoError(t, err)

	texts := []string{"hello", "hi", "$price is {$gt: 5}"}
	var prev time.Time
	for i, text := range texts {
		sender := conv.Participants[i%2]
		m, err := st.AppendMessage(ctx, &model.Message{ID: fmt.Sprintf("m%d", i), ConversationID: conv.ID, SenderID: sender, Text: text})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), m.Seq)
		assert.False(t, m.CreatedAt.Before(prev))
		prev = m.CreatedAt
	}

	got, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.MaxSeq)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "$price is {$gt: 5}", got.LastMessage.Text)
	assert.Equal(t, int64(3), got.LastMessage.Seq)
	assert.Equal(t, conv.Participants[0], got.LastMessage.SenderID)
	assert.True(t, got.LastMessage.CreatedAt.Equal(prev))

	page, err := st.ListMessages(ctx, conv.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].Seq)

	// 服务器时钟回拨：created_at 不早于 last_at
	future := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	_, err = cli.GetDB().Collection(conv.GetTableName()).UpdateOne(ctx,
		bson.M{FieldID: conv.ID}, bson.M{"$set": bson.M{FieldLastAt: future}})
	require.NoError(t, err)
	m, err := st.AppendMessage(ctx, &model.Message{ID: "m-future", ConversationID: conv.ID, SenderID: "u1", Text: "later"})
	require.NoError(t, err)
	assert.True(t, m.CreatedAt.Equal(future))

	_, err = st.AppendMessage(ctx, &model.Message{ID: "x1", ConversationID: conv.ID, SenderID: "u3", Text: "spoof"})
	assert.ErrorIs(t, err, ErrNotParticipant)
	_, err = st.AppendMessage(ctx, &model.Message{ID: "x2", ConversationID: "p2p:none", SenderID: "u1", Text: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	after, err := st.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), after.MaxSeq)
	assert.Equal(t, "later", after.LastMessage.Text)
}

func TestMongoStoreAppendConcurrent(t *testing.T) {
	st, _ := newMongoStore(t)
	ctx := context.Background()
	conv, _, err := st.CreateConversation(ctx, model.NewConversation("u1", "u2", time.Now()))
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.AppendMessage(ctx, &model.Message{ID: fmt.Sprintf("c%d", i), ConversationID: conv.ID, SenderID: "u2", Text: fmt.Sprint(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := st.ListMessages(ctx, conv.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}
}

func TestMongoStoreNotifications(t *testing.T) {
	st, _ := newMongoStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	for i := 0; i < 3; i++ {
		created, err := st.InsertNotification(ctx, &model.Notification{
			ID: fmt.Sprintf("n%d", i), UserID: "u1", Type: model.NotifySystem,
			Payload: map[string]any{"message": "hi"}, CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		assert.True(t, created)
	}
	created, err := st.InsertNotification(ctx, &model.Notification{ID: "n0", UserID: "u1", Type: model.NotifySystem, CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, created)
	_, err = st.InsertNotification(ctx, &model.Notification{ID: "other", UserID: "u2", Type: model.NotifySystem, CreatedAt: now})
	require.NoError(t, err)

	unread, err := st.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), unread)

	list, err := st.ListNotifications(ctx, "u1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID)

	cleared, err := st.MarkAllRead(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cleared)
	cleared, err = st.MarkAllRead(ctx, "u1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cleared)

	unread, err = st.CountUnread(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, unread)
	unread, err = st.CountUnread(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	n, err := st.GetNotification(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, n.Read)
	require.NotNil(t, n.ReadAt)

	ok, err := st.DeleteNotification(ctx, "n1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = st.GetNotification(ctx, "n1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoStoreUsersAndInbox(t *testing.T) {
	st, cli := newMongoStore(t)
	ctx := context.Background()

	_, err := cli.GetDB().Collection(UserTable).InsertOne(ctx, &model.User{ID: "u2", DisplayName: "Bob"})
	require.NoError(t, err)
	users, err := st.GetUsers(ctx, []string{"u2", "ghost"})
	require.NoError(t, err)
	require.Contains(t, users, "u2")
	assert.Equal(t, "Bob", users["u2"].DisplayName)
	assert.NotContains(t, users, "ghost")

	c1, _, err := st.CreateConversation(ctx, model.NewConversation("u1", "u2", time.Now()))
	require.NoError(t, err)
	c2, _, err := st.CreateConversation(ctx, model.NewConversation("u1", "u3", time.Now()))
	require.NoError(t, err)
	_, err = st.AppendMessage(ctx, &model.Message{ID: "m1", ConversationID: c1.ID, SenderID: "u1", Text: "ping"})
	require.NoError(t, err)

	list, err := st.ListConversations(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, c1.ID, list[0].ID)
	assert.Equal(t, c2.ID, list[1].ID)
}
