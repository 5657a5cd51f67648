package messaging

import (
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterSuffix is appended to a queue name to name its dead-letter queue
const DeadLetterSuffix = "_dlq"

// Binding ties a routing key to the durable queue consuming it
type Binding struct {
	RoutingKey string
	Queue      string
}

// DeadLetterQueue returns the name of the binding's dead-letter queue
func (b Binding) DeadLetterQueue() string {
	return b.Queue + DeadLetterSuffix
}

// Topology is the set of queues the consumer declares on a topic exchange
type Topology struct {
	Exchange string
	Bindings []Binding
}

// DefaultQueueName derives a queue for a routing key without a configured
// one: "company.created" becomes "company_created_queue"
func DefaultQueueName(routingKey string) string {
	return strings.ReplaceAll(routingKey, ".", "_") + "_queue"
}

// NewTopology builds bindings for routingKeys, taking queue names from
// queues and deriving the rest
func NewTopology(exchange string, routingKeys []string, queues map[string]string) Topology {
	t := Topology{Exchange: exchange, Bindings: make([]Binding, 0, len(routingKeys))}
	for _, key := range routingKeys {
		queue := queues[key]
		if queue == "" {
			queue = DefaultQueueName(key)
		}
		t.Bindings = append(t.Bindings, Binding{RoutingKey: key, Queue: queue})
	}
	return t
}

// Declare creates the exchange (unless it is a predeclared amq.* one), and
// for each binding a durable dead-letter queue and a durable queue that
// dead-letters into it through the default exchange
func (t Topology) Declare(ch Channel) error {
	if !strings.HasPrefix(t.Exchange, "amq.") {
		if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
		}
	}

	for _, b := range t.Bindings {
		if _, err := ch.QueueDeclare(b.DeadLetterQueue(), true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.DeadLetterQueue(), err)
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": b.DeadLetterQueue(),
		}
		if _, err := ch.QueueDeclare(b.Queue, true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.Queue, err)
		}
		if err := ch.QueueBind(b.Queue, b.RoutingKey, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", b.Queue, b.RoutingKey, err)
		}
	}
	return nil
}
