// Package events publishes order-change events to a RabbitMQ fanout
// exchange for kitchen displays and other integrations. The publisher is
// optional: the engine runs fine without a broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/mesa-pos/api/internal/database"
)

const (
	exchangeName   = "orders_fanout"
	publishTimeout = 5 * time.Second
	maxDialRetries = 5
)

// OrderEvent is the wire form of a committed order change.
type OrderEvent struct {
	OrderID      string    `json:"order_id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	Number       int64     `json:"number"`
	ServiceKind  string    `json:"service_kind"`
	Status       string    `json:"status"`
	Total        string    `json:"total"`
	LineCount    int       `json:"line_count"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher fans order changes out to the orders_fanout exchange.
// Implements ledger.Sink.
type Publisher struct {
	url     string
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// Connect dials RabbitMQ with retries and declares the fanout exchange.
func Connect(url string) (*Publisher, error) {
	p := &Publisher{url: url}

	var err error
	for i := 0; i < maxDialRetries; i++ {
		if err = p.connect(); err == nil {
			return p, nil
		}
		wait := time.Duration(i+1) * 2 * time.Second
		log.Printf("ERROR: connect to rabbitmq, retrying in %v: %v", wait, err)
		time.Sleep(wait)
	}
	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", maxDialRetries, err)
}

func (p *Publisher) connect() error {
	conn, err := amqp091.Dial(p.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck
		return err
	}
	if err := channel.ExchangeDeclare(
		exchangeName,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close() //nolint:errcheck
		conn.Close()    //nolint:errcheck
		return fmt.Errorf("declare %s exchange: %w", exchangeName, err)
	}

	p.conn = conn
	p.channel = channel
	return nil
}

// OrderChanged publishes the change event. Failures are logged and
// dropped: event delivery is best-effort and must never block or fail an
// order write.
func (p *Publisher) OrderChanged(order database.Order) {
	event := OrderEvent{
		OrderID:      order.ID,
		RestaurantID: order.RestaurantID,
		Number:       order.Number,
		ServiceKind:  order.ServiceKind,
		Status:       order.Status,
		Total:        order.Total.StringFixed(2),
		LineCount:    len(order.Lines),
		OccurredAt:   time.Now().UTC(),
	}
	if err := p.publish(event); err != nil {
		log.Printf("ERROR: publish order event for %s: %v", order.ID, err)
	}
}

func (p *Publisher) publish(event OrderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() {
		if err := p.connect(); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	return p.channel.PublishWithContext(
		ctx,
		exchangeName,
		"",    // routing key ignored for fanout
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
}

// Close shuts the channel and connection down.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close() //nolint:errcheck
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
