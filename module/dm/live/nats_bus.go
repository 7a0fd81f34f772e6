package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"DMSync/logger"
	"DMSync/service/natsx"
	"DMSync/tools/idem"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const dedupTTL = 2 * time.Minute

// NatsBus 多节点部署：提示经 NATS Core 广播到所有网关节点
type NatsBus struct {
	producer *natsx.NatsxProducer
	consumer *natsx.NatsxConsumer
	idem     idem.Store
}

func NewNatsBus(client *natsx.NatsxClient, store idem.Store) (*NatsBus, error) {
	for _, k := range []Kind{KindMessage, KindInbox, KindNotify} {
		if err := client.RegisterRoute(natsx.NatsxRoute{Biz: string(k), Prefix: "dm." + string(k)}); err != nil {
			return nil, err
		}
	}
	if store == nil {
		store = idem.NewMemIdem(dedupTTL)
	}
	return &NatsBus{
		producer: natsx.NewNatsxProducer(client),
		consumer: natsx.NewNatsxConsumer(client, natsx.NatsxRecoverMiddleware()),
		idem:     store,
	}, nil
}

func (b *NatsBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.producer.PublishOnce(ctx, string(ev.Kind), ev.Key, data, nil, ev.ID())
}

func (b *NatsBus) Subscribe(kind Kind, key string, fn func(Event)) (func(), error) {
	scope := uuid.NewString()
	unsub, err := b.consumer.Subscribe(string(kind), key, func(ctx context.Context, msg natsx.NatsxMessage) error {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Warn("[live] drop malformed event", zap.String("subject", msg.Subject), zap.Error(err))
			return err
		}
		// subject token 做过转义，以事件体里的 key 为准
		if ev.Key != key {
			return nil
		}
		fn(ev)
		return nil
	}, natsx.NatsxIdemMiddleware(b.idem, scope, dedupTTL))
	if err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := unsub(); err != nil {
				logger.Debug("[live] unsubscribe", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
