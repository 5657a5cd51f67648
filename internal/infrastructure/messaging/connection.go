// Package messaging consumes provisioning events from RabbitMQ.
package messaging

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the part of *amqp.Channel the consumer relies on
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Connection is the part of *amqp.Connection the consumer relies on
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Dialer opens a broker connection
type Dialer func(ctx context.Context) (Connection, error)

const heartbeat = 10 * time.Second

// AMQPDialer dials url with the connection name shown in the management UI
func AMQPDialer(url, connectionName string) Dialer {
	return func(ctx context.Context) (Connection, error) {
		props := amqp.NewConnectionProperties()
		props.SetClientConnectionName(connectionName)

		conn, err := amqp.DialConfig(url, amqp.Config{
			Heartbeat:  heartbeat,
			Locale:     "en_US",
			Properties: props,
		})
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		return &amqpConnection{conn: conn}, nil
	}
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *amqpConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *amqpConnection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
