package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher writes task events to a durable queue.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel amqpChannel
	queue   string
}

func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	p, err := newAMQPPublisher(ch, queue)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch amqpChannel, queue string) (*AMQPPublisher, error) {
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return &AMQPPublisher{channel: ch, queue: q.Name}, nil
}

func (p *AMQPPublisher) Publish(_ context.Context, event TaskEvent) error {
	body, err := event.Marshal()
	if err != nil {
		return err
	}

	return p.channel.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.TaskID,
		Type:         string(event.State),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	err := p.channel.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
