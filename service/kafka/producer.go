package kafka

import (
	"context"
	"encoding/json"

	"DMSync/logger"
	"DMSync/module/dm/model"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Producer 把已提交的消息写入 dm.message.sent
type Producer struct {
	prod  sarama.SyncProducer
	topic string
}

func NewProducer(c *Config) (*Producer, error) {
	cfg, err := BuildBaseConfig(c)
	if err != nil {
		return nil, err
	}
	p, err := sarama.NewSyncProducer(c.Brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewProducerWith(p, c.Topic), nil
}

func NewProducerWith(p sarama.SyncProducer, topic string) *Producer {
	return &Producer{prod: p, topic: topic}
}

func (p *Producer) MessageSent(ctx context.Context, ev model.MessageSent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.ConversationID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("message_id"), Value: []byte(ev.MessageID)},
		},
	}
	partition, offset, err := p.prod.SendMessage(msg)
	if err != nil {
		return err
	}
	logger.Debug("[kafka] message event sent",
		zap.String("topic", p.topic), zap.Int32("partition", partition), zap.Int64("offset", offset),
		zap.String("message", ev.MessageID))
	return nil
}

func (p *Producer) Close() error { return p.prod.Close() }
