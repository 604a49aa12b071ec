package rabbit

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer reads venue events from a private queue bound to the events
// exchange. The queue disappears with the consumer.
type Consumer struct {
	ch    *amqp.Channel
	queue string
}

func NewConsumer(conn *amqp.Connection, bindingKeys ...string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}
	if len(bindingKeys) == 0 {
		bindingKeys = []string{"#"}
	}
	for _, key := range bindingKeys {
		if err := ch.QueueBind(q.Name, key, Exchange, false, nil); err != nil {
			ch.Close()
			return nil, err
		}
	}
	return &Consumer{ch: ch, queue: q.Name}, nil
}

// Consume delivers messages until ctx is done. Deliveries are auto-acked.
func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", true, true, false, false, nil)
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}

type Event struct {
	ID   string
	Type string
	Data []byte
}

// Feed hands out one private subscription per caller, used by the admin
// event stream.
type Feed struct {
	conn *amqp.Connection
}

func NewFeed(conn *amqp.Connection) *Feed {
	return &Feed{conn: conn}
}

// Subscribe streams events until ctx is done. The queue and channel are
// released when the returned channel closes.
func (f *Feed) Subscribe(ctx context.Context) (<-chan Event, error) {
	c, err := NewConsumer(f.conn)
	if err != nil {
		return nil, err
	}
	deliveries, err := c.Consume(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer c.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				ev := Event{ID: d.MessageId, Type: d.RoutingKey, Data: d.Body}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
