package mongoutil

import (
	"context"

	"DMSync/logger"
	"DMSync/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Tx runs fn as one unit. fn must use the ctx it is given so that
// collection calls join the session.
type Tx interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
	Supported() bool
}

// NewMongoTx 探测部署形态：副本集 / mongos 支持多文档事务，单机不支持
func NewMongoTx(ctx context.Context, cli *mongo.Client) (Tx, error) {
	var hello bson.M
	if err := cli.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello); err != nil {
		return nil, errs.WrapMsg(err, "mongo hello command failed")
	}
	_, replSet := hello["setName"]
	mongos := hello["msg"] == "isdbgrid"
	if !replSet && !mongos {
		logger.Warnf("[mongo] standalone deployment, transactions degrade to best effort")
		return NoTx{}, nil
	}
	return &mongoTx{cli: cli}, nil
}

type mongoTx struct {
	cli *mongo.Client
}

func (m *mongoTx) Supported() bool { return true }

func (m *mongoTx) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := m.cli.StartSession()
	if err != nil {
		return errs.WrapMsg(err, "start mongo session")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// NoTx runs fn directly; used on standalone servers, where each write is applied on its own.
type NoTx struct{}

func (NoTx) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (NoTx) Supported() bool { return false }
