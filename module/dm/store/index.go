package store

import (
	"context"

	"DMSync/logger"
	"DMSync/module/dm/model"
	"DMSync/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func indexModels() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		model.Conversation{}.GetTableName(): {
			{
				// 历史数据可能没有 pair_key，只约束有值的文档
				Keys: bson.D{{Key: FieldPairKey, Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_pair_key").
					SetPartialFilterExpression(bson.M{FieldPairKey: bson.M{"$type": "string"}}),
			},
			{
				Keys:    bson.D{{Key: FieldParticipants, Value: 1}, {Key: FieldUpdatedAt, Value: -1}},
				Options: options.Index().SetName("ix_participants_updated"),
			},
		},
		model.Message{}.GetTableName(): {{
			Keys:    bson.D{{Key: FieldConversationID, Value: 1}, {Key: FieldSeq, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_conv_seq"),
		}},
		model.Notification{}.GetTableName(): {
			{
				Keys:    bson.D{{Key: FieldUserID, Value: 1}, {Key: FieldRead, Value: 1}},
				Options: options.Index().SetName("ix_user_read"),
			},
			{
				Keys:    bson.D{{Key: FieldUserID, Value: 1}, {Key: FieldCreatedAt, Value: -1}},
				Options: options.Index().SetName("ix_user_created"),
			},
		},
	}
}

// EnsureIndexes 只创建缺失的索引，可重复调用
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	db, _, err := s.handle()
	if err != nil {
		return err
	}

	for collName, indexes := range indexModels() {
		coll := db.Collection(collName)

		existing, err := coll.Indexes().ListSpecifications(ctx)
		if err != nil {
			return errs.WrapMsg(err, "list indexes", "collection", collName)
		}
		existingNames := make(map[string]struct{}, len(existing))
		for _, spec := range existing {
			existingNames[spec.Name] = struct{}{}
		}

		for _, idx := range indexes {
			name := *idx.Options.Name
			if _, ok := existingNames[name]; ok {
				continue
			}
			if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
				return errs.WrapMsg(err, "create index", "index", name, "collection", collName)
			}
			logger.Infof("[store] created index %s on %s", name, collName)
		}
	}
	return nil
}
