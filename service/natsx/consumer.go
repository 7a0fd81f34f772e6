package natsx

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NatsxConsumer 消费端
type NatsxConsumer struct {
	c   *NatsxClient
	mws []NatsxMiddleware
}

func NewNatsxConsumer(c *NatsxClient, mws ...NatsxMiddleware) *NatsxConsumer {
	return &NatsxConsumer{c: c, mws: mws}
}

// Subscribe 订阅 biz 路由下 key 对应的 subject，返回退订函数
func (cs *NatsxConsumer) Subscribe(biz, key string, h NatsxHandler, mws ...NatsxMiddleware) (func() error, error) {
	r, ok := cs.c.route(biz)
	if !ok {
		return nil, fmt.Errorf("route not found: %s", biz)
	}
	h = NatsxChain(h, append(append([]NatsxMiddleware(nil), cs.mws...), mws...)...)

	cb := func(m *nats.Msg) {
		_ = h(context.Background(), NatsxMessage{
			Subject: m.Subject,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		})
	}

	var (
		sub *nats.Subscription
		err error
	)
	subject := r.Subject(key)
	if r.Queue == "" {
		sub, err = cs.c.nc.Subscribe(subject, cb)
	} else {
		sub, err = cs.c.nc.QueueSubscribe(subject, r.Queue, cb)
	}
	if err != nil {
		return nil, err
	}
	_ = sub.SetPendingLimits(65536, 8*1024*1024)
	return sub.Unsubscribe, nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
