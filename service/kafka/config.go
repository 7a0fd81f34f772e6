package kafka

import (
	"strings"
	"time"

	"DMSync/logger"

	"github.com/Shopify/sarama"
)

type Config struct {
	Brokers           []string
	Topic             string // dm.message.sent
	GroupID           string
	Version           string // 例如 "2.1.0"
	Partitions        int32
	ReplicationFactor int16
	Compression       string // none/snappy/lz4/zstd
	InitialOffset     string // newest/oldest
	ProducerRetries   int
}

func (c *Config) withDefaults() {
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 3
	}
	if c.InitialOffset == "" {
		c.InitialOffset = "oldest"
	}
}

// BuildBaseConfig 生产者与消费组共用的 sarama 配置
func BuildBaseConfig(c *Config) (*sarama.Config, error) {
	c.withDefaults()
	sarama.Logger = logger.StdLog("kafka")

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, err
		}
		cfg.Version = v
	}

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.ProducerRetries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // key = conversation id，同会话有序
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(c.InitialOffset) {
	case "newest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}
