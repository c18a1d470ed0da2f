package notify

import (
	"context"

	"github.com/IBM/sarama"
)

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return NewKafkaPublisherWithProducer(p, topic), nil
}

func NewKafkaPublisherWithProducer(p sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

// Publish keys messages by task ID so events for one task stay on one partition.
func (p *KafkaPublisher) Publish(_ context.Context, event TaskEvent) error {
	data, err := event.Marshal()
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.TaskID),
		Value: sarama.ByteEncoder(data),
	}

	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
