package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/stockopname/internal/notification/domain"
)

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (amqpChannel, func() error, error)

func dialAMQP(url string) (amqpChannel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn.Close, nil
}

// Broker publishes events as persistent JSON messages on a durable queue.
// The connection is opened lazily and dropped after a failed publish so the
// next event reconnects.
type Broker struct {
	url   string
	queue string
	dial  dialFunc

	mu        sync.Mutex
	ch        amqpChannel
	closeConn func() error
}

func NewBroker(url, queue string) *Broker {
	if queue == "" {
		queue = "opname.events"
	}
	return &Broker{url: url, queue: queue, dial: dialAMQP}
}

func (s *Broker) Name() string { return "broker" }

func (s *Broker) Deliver(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connect(); err != nil {
		return err
	}
	err = s.ch.PublishWithContext(ctx, "", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(event.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		s.reset()
		return err
	}
	return nil
}

func (s *Broker) connect() error {
	if s.ch != nil {
		return nil
	}
	ch, closeConn, err := s.dial(s.url)
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		if closeConn != nil {
			_ = closeConn()
		}
		return err
	}
	s.ch, s.closeConn = ch, closeConn
	return nil
}

func (s *Broker) reset() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.closeConn != nil {
		_ = s.closeConn()
	}
	s.ch, s.closeConn = nil, nil
}

func (s *Broker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.ch != nil {
		err = s.ch.Close()
	}
	if s.closeConn != nil {
		err = errors.Join(err, s.closeConn())
	}
	s.ch, s.closeConn = nil, nil
	return err
}
