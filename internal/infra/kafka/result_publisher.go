package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"battle-service/internal/domain"
	"github.com/IBM/sarama"
)

// ResultPublisher writes final results to a Kafka topic, keyed by session id.
type ResultPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducerConfig returns the producer settings the publisher expects.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	return config
}

// Dial connects a sync producer to brokers.
func Dial(brokers []string, topic string) (*ResultPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewResultPublisher(producer, topic), nil
}

func NewResultPublisher(producer sarama.SyncProducer, topic string) *ResultPublisher {
	return &ResultPublisher{producer: producer, topic: topic}
}

func (p *ResultPublisher) Publish(ctx context.Context, results domain.FinalResults) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(results.SessionID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("mode"), Value: []byte(results.Mode)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send results of %s: %w", results.SessionID, err)
	}
	return nil
}

func (p *ResultPublisher) Close() error {
	return p.producer.Close()
}
