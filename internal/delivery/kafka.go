package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"ats-workflow/internal/config"

	"github.com/IBM/sarama"
)

// KafkaChannel 以候选人 id 为 key 发布通知事件
type KafkaChannel struct {
	producer sarama.SyncProducer
	topic    string
}

var _ Channel = (*KafkaChannel)(nil)

// NewKafkaProducer 按配置创建同步生产者
func NewKafkaProducer(cfg config.KafkaConfig) (sarama.SyncProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers 不能为空")
	}
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	if cfg.MaxRetries > 0 {
		sc.Producer.Retry.Max = cfg.MaxRetries
	}
	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("创建 kafka 生产者失败: %w", err)
	}
	return producer, nil
}

func NewKafkaChannel(producer sarama.SyncProducer, topic string) *KafkaChannel {
	return &KafkaChannel{producer: producer, topic: topic}
}

func (k *KafkaChannel) Name() string { return "kafka" }

func (k *KafkaChannel) Deliver(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("序列化通知事件失败: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(env.CandidateID.String()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(env.Type)},
			{Key: []byte("event_id"), Value: []byte(env.EventID)},
		},
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("发布到 kafka 失败: %w", err)
	}
	return nil
}

func (k *KafkaChannel) Close() error {
	return k.producer.Close()
}
