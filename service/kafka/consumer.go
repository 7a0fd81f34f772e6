package kafka

import (
	"context"
	"encoding/json"
	"time"

	"DMSync/logger"
	"DMSync/module/dm/model"
	"DMSync/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

const (
	handleAttempts = 3
	handleBackoff  = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

func backoff(attempt int) time.Duration {
	d := handleBackoff * time.Duration(attempt)
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

type ConsumerGroupHandler struct {
	router *Router
}

func NewConsumerGroupHandler(r *Router) *ConsumerGroupHandler {
	return &ConsumerGroupHandler{router: r}
}

func (h *ConsumerGroupHandler) Setup(s sarama.ConsumerGroupSession) error {
	logger.Info("[kafka] consumer group setup", zap.String("member", s.MemberID()))
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Info("[kafka] consumer group cleanup")
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for msg := range claim.Messages() {
		handler, err := h.router.Get(msg.Topic)
		if err != nil {
			logger.Warn("[kafka] no handler", zap.String("topic", msg.Topic))
			session.MarkMessage(msg, "")
			continue
		}
		// 可恢复错误（存储不可用等）一直重试到会话结束，不提交位点，重平衡后重新投递；
		// 其余错误重试 handleAttempts 次后丢弃
		for attempt := 1; ; attempt++ {
			if err = handler(ctx, msg.Topic, msg.Key, msg.Value); err == nil {
				break
			}
			retryable := errs.Recoverable(err)
			logger.Warn("[kafka] handler error",
				zap.String("topic", msg.Topic), zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset),
				zap.Int("attempt", attempt), zap.Bool("recoverable", retryable), zap.Error(err))
			if !retryable && attempt >= handleAttempts {
				break
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff(attempt)):
			}
		}
		if err != nil {
			logger.Error("[kafka] drop message", zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// RunConsumerGroup blocks until ctx is done.
func RunConsumerGroup(ctx context.Context, c *Config, r *Router) error {
	cfg, err := BuildBaseConfig(c)
	if err != nil {
		return err
	}
	group, err := sarama.NewConsumerGroup(c.Brokers, c.GroupID, cfg)
	if err != nil {
		return err
	}
	defer group.Close()

	go func() {
		for err := range group.Errors() {
			logger.Warn("[kafka] consumer group error", zap.Error(err))
		}
	}()

	handler := NewConsumerGroupHandler(r)
	topics := r.Topics()
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			logger.Warn("[kafka] consume", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// MessageSentHandler decodes dm.message.sent records for fn.
func MessageSentHandler(fn func(ctx context.Context, ev model.MessageSent) error) MessageHandler {
	return func(ctx context.Context, topic string, key, value []byte) error {
		var ev model.MessageSent
		if err := json.Unmarshal(value, &ev); err != nil {
			// 坏消息重试无意义
			logger.Error("[kafka] malformed message event", zap.String("topic", topic), zap.ByteString("key", key), zap.Error(err))
			return nil
		}
		return fn(ctx, ev)
	}
}
