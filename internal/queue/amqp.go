package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/unclebandit/drip-campaign-backend/internal/logger"
)

var ErrClosed = errors.New("notifier closed")

type wakeMessage struct {
	Queue string `json:"queue"`
}

func encodeWake(queue string) ([]byte, error) {
	if queue == "" {
		return nil, errors.New("empty queue name")
	}
	return json.Marshal(wakeMessage{Queue: queue})
}

func decodeWake(body []byte) (string, error) {
	var msg wakeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", err
	}
	if msg.Queue == "" {
		return "", errors.New("wake message without queue")
	}
	return msg.Queue, nil
}

// AMQPNotifier sends hints through a durable RabbitMQ queue. Each hint is
// delivered to one consumer, which is all a single new job needs.
type AMQPNotifier struct {
	conn      *amqp.Connection
	queueName string
	log       *logger.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel
}

// DialAMQP connects to the broker and declares the wake-up queue.
func DialAMQP(url, queueName string, baseLog *logger.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareWakeQueue(ch, queueName); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &AMQPNotifier{
		conn:      conn,
		queueName: queueName,
		log:       baseLog.With("component", "AMQPNotifier", "amqp_queue", queueName),
		pubCh:     ch,
	}, nil
}

func declareWakeQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

func (n *AMQPNotifier) Notify(queue string) error {
	body, err := encodeWake(queue)
	if err != nil {
		return err
	}
	n.pubMu.Lock()
	defer n.pubMu.Unlock()
	return n.pubCh.Publish(
		"",          // default exchange
		n.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// Subscribe consumes on its own channel so a slow consumer never blocks
// publishing.
func (n *AMQPNotifier) Subscribe(ctx context.Context, fn func(queue string)) error {
	ch, err := n.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	if err := declareWakeQueue(ch, n.queueName); err != nil {
		_ = ch.Close()
		return err
	}
	msgs, err := ch.Consume(
		n.queueName,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("register consumer: %w", err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					n.log.Warn("Wake-up consumer channel closed")
					return
				}
				queue, err := decodeWake(d.Body)
				if err != nil {
					// Ack malformed hints so they are not redelivered forever.
					n.log.Warn("Dropping malformed wake-up", "error", err)
					_ = d.Ack(false)
					continue
				}
				fn(queue)
				_ = d.Ack(false)
			}
		}
	}()
	return nil
}

func (n *AMQPNotifier) Close() error {
	n.pubMu.Lock()
	defer n.pubMu.Unlock()
	var errs []error
	if n.pubCh != nil {
		errs = append(errs, n.pubCh.Close())
	}
	errs = append(errs, n.conn.Close())
	return errors.Join(errs...)
}

var _ Notifier = (*AMQPNotifier)(nil)
