package live

import (
	"context"
	"time"

	"DMSync/logger"
	"DMSync/module/dm/model"
	"DMSync/module/dm/store"
	"DMSync/tools/safe"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// DBFunc 每次重连后拿到最新的 database
type DBFunc func() (*mongo.Database, bool)

// Projector 把 change stream 投影成总线提示，覆盖其它进程直接写库的情况。
// 删除事件没有 fullDocument，通知删除仍依赖服务层直接发布。
type Projector struct {
	DB      DBFunc
	Bus     Bus
	Backoff time.Duration
}

type changeDoc struct {
	OperationType string         `bson:"operationType"`
	FullDocument  map[string]any `bson:"fullDocument"`
}

func (p *Projector) Run(ctx context.Context) {
	if p.Backoff <= 0 {
		p.Backoff = 3 * time.Second
	}
	colls := []string{
		model.Message{}.GetTableName(),
		model.Conversation{}.GetTableName(),
		model.Notification{}.GetTableName(),
	}
	done := make(chan struct{}, len(colls))
	for _, name := range colls {
		name := name
		safe.SafeGo("live.projector."+name, func() {
			defer func() { done <- struct{}{} }()
			p.loop(ctx, name)
		})
	}
	for range colls {
		<-done
	}
}

func (p *Projector) loop(ctx context.Context, coll string) {
	for {
		if db, ok := p.DB(); ok {
			err := p.watch(ctx, db.Collection(coll))
			if ctx.Err() != nil {
				return
			}
			logger.Warn("[projector] change stream closed", zap.String("coll", coll), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Backoff):
		}
	}
}

func (p *Projector) watch(ctx context.Context, c *mongo.Collection) error {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace"}}}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := c.Watch(ctx, pipeline, opts)
	if err != nil {
		return err
	}
	defer cs.Close(context.Background())
	logger.Info("[projector] watching", zap.String("coll", c.Name()))

	for cs.Next(ctx) {
		var ch changeDoc
		if err := cs.Decode(&ch); err != nil {
			logger.Warn("[projector] decode", zap.Error(err))
			continue
		}
		if ch.FullDocument == nil {
			continue
		}
		for _, ev := range project(c.Name(), ch.FullDocument) {
			if err := p.Bus.Publish(ctx, ev); err != nil {
				logger.Warn("[projector] publish", zap.String("kind", string(ev.Kind)), zap.String("key", ev.Key), zap.Error(err))
			}
		}
	}
	return cs.Err()
}

// project maps one changed document to the hints it implies.
func project(coll string, doc map[string]any) []Event {
	now := time.Now()
	switch coll {
	case model.Message{}.GetTableName():
		id, _ := doc[store.FieldConversationID].(string)
		if id == "" {
			return nil
		}
		return []Event{{Kind: KindMessage, Key: id, Seq: toInt64(doc[store.FieldSeq]), At: now}}
	case model.Conversation{}.GetTableName():
		seq := toInt64(doc[store.FieldMaxSeq])
		var out []Event
		for _, u := range toStrings(doc[store.FieldParticipants]) {
			out = append(out, Event{Kind: KindInbox, Key: u, Seq: seq, At: now})
		}
		return out
	case model.Notification{}.GetTableName():
		uid, _ := doc[store.FieldUserID].(string)
		if uid == "" {
			return nil
		}
		return []Event{{Kind: KindNotify, Key: uid, At: now}}
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func toStrings(v any) []string {
	switch a := v.(type) {
	case []string:
		return a
	case bson.A:
		return toStrings([]any(a))
	case []any:
		out := make([]string, 0, len(a))
		for _, x := range a {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
