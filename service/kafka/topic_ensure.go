package kafka

import (
	"errors"
	"fmt"

	"DMSync/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopic 启动时确保 dm.message.sent 存在
func EnsureTopic(c *Config) error {
	cfg, err := BuildBaseConfig(c)
	if err != nil {
		return err
	}
	admin, err := sarama.NewClusterAdmin(c.Brokers, cfg)
	if err != nil {
		return err
	}
	defer admin.Close()
	return EnsureTopicsWith(admin, []string{c.Topic}, c)
}

// EnsureTopicsWith 不存在则创建；已存在且分区数不足时扩分区（只能增不能减）
func EnsureTopicsWith(admin sarama.ClusterAdmin, topics []string, appCfg *Config) error {
	appCfg.withDefaults()
	for _, t := range topics {
		descs, err := admin.DescribeTopics([]string{t})
		if err != nil {
			return fmt.Errorf("describe topic %s: %w", t, err)
		}
		exists := len(descs) == 1 && errors.Is(sarama.ErrNoError, descs[0].Err)

		// 期望配置
		minISR := "1"
		if appCfg.ReplicationFactor >= 3 {
			minISR = "2" // 生产更安全：rf>=3 则至少 2
		}

		if !exists {
			td := &sarama.TopicDetail{
				NumPartitions:     appCfg.Partitions,
				ReplicationFactor: appCfg.ReplicationFactor,
				ConfigEntries: map[string]*string{
					"cleanup.policy":                 strPtr("delete"),
					"min.insync.replicas":            strPtr(minISR),
					"unclean.leader.election.enable": strPtr("false"),
					"compression.type":               strPtr("producer"),
				},
			}
			if err := admin.CreateTopic(t, td, false); err != nil {
				// CreateTopic 可能返回 *sarama.TopicError 或通用 error
				var te *sarama.TopicError
				if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
					logger.Info("[kafka] topic exists (race)", zap.String("topic", t))
					continue
				}
				if errors.Is(err, sarama.ErrTopicAlreadyExists) {
					logger.Info("[kafka] topic exists (race)", zap.String("topic", t))
					continue
				}
				return fmt.Errorf("create topic %s: %w", t, err)
			}
			logger.Info("[kafka] topic created", zap.String("topic", t), zap.Int32("partitions", appCfg.Partitions))
			continue
		}

		// 已存在：必要时扩分区
		curParts := int32(len(descs[0].Partitions))
		if appCfg.Partitions > curParts {
			err := admin.CreatePartitions(t, appCfg.Partitions, nil, false)
			if err != nil {
				return fmt.Errorf("expand partitions %s from %d to %d: %w", t, curParts, appCfg.Partitions, err)
			}
			logger.Info("[kafka] partitions expanded", zap.String("topic", t), zap.Int32("from", curParts), zap.Int32("to", appCfg.Partitions))
		} else {
			logger.Debug("[kafka] topic exists", zap.String("topic", t), zap.Int32("partitions", curParts))
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
